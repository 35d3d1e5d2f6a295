package humanoid

import (
	"context"
	"fmt"
	"time"
	"unicode"

	"github.com/xkilldash9x/herald/internal/resolver"
)

// -- keyboardNeighbors maps characters to their adjacent keys on a QWERTY layout --
var keyboardNeighbors = map[rune]string{
	'1': "2q", '2': "13wq", '3': "24we", '4': "35er", '5': "46rt", '6': "57ty",
	'7': "68yu", '8': "79ui", '9': "80io", '0': "9op",
	'q': "wa1", 'w': "qase2", 'e': "wsdr3", 'r': "edft4", 't': "rfgy5",
	'y': "tghu6", 'u': "yhji7", 'i': "ujko8", 'o': "iklp9", 'p': "ol0",
	'a': "qwsz", 's': "awedxz", 'd': "serfcx", 'f': "drtgvc", 'g': "ftyhbv",
	'h': "gyujnb", 'j': "huikmn", 'k': "jiolm", 'l': "kop",
	'z': "asx", 'x': "zsdc", 'c': "xdfv", 'v': "cfgb", 'b': "vghn", 'n': "bhjm", 'm': "njk",
	// Hungarian accented letters sit on the right-hand side of the layout.
	'á': "éű", 'é': "áö", 'ö': "üó", 'ü': "öó", 'ó': "öü", 'ő': "úp", 'ú': "őű", 'ű': "áú", 'í': "yx",
}

// Type focuses the element with a click, then types text one character at a time.
// Occasionally it hits a neighboring key, notices, and corrects it with Backspace.
// Native inputs receive key events; contenteditable regions receive inserted text.
func (h *Humanoid) Type(ctx context.Context, el *resolver.Element, text string) error {
	if err := h.Click(ctx, el); err != nil {
		return fmt.Errorf("humanoid: failed to click/focus '%s': %w", el.Selector, err)
	}
	// Short pause after focusing, as if reading the field.
	if err := h.Delay(ctx, 150*time.Millisecond, 400*time.Millisecond); err != nil {
		return err
	}

	emit := h.executor.SendKeys
	if el.Editable == resolver.EditableRich {
		emit = h.executor.InsertText
	}

	runes := []rune(text)
	for i, r := range runes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.maybeTypo(ctx, r, len(runes)-i, emit); err != nil {
			return err
		}
		if err := h.typeRune(ctx, r, el.Editable, emit); err != nil {
			return err
		}
		if err := h.Delay(ctx, ms(h.cfg.KeyDelayMinMs), ms(h.cfg.KeyDelayMaxMs)); err != nil {
			return err
		}
	}
	return nil
}

func (h *Humanoid) typeRune(ctx context.Context, r rune, kind resolver.EditableKind, emit func(context.Context, string) error) error {
	// Inserted text does not create paragraphs in rich editors; Enter does.
	if r == '\n' && kind == resolver.EditableRich {
		return h.executor.SendKeys(ctx, string(KeyEnter))
	}
	return emit(ctx, string(r))
}

// maybeTypo types a wrong neighbor, pauses, deletes it and pauses again. It only fires
// while more than TypoMinRemaining characters remain.
func (h *Humanoid) maybeTypo(ctx context.Context, r rune, remaining int, emit func(context.Context, string) error) error {
	if remaining <= h.cfg.TypoMinRemaining || h.float() >= h.cfg.TypoRate {
		return nil
	}
	wrong, ok := h.neighbor(r)
	if !ok {
		return nil
	}
	if err := emit(ctx, string(wrong)); err != nil {
		return err
	}
	if err := h.Delay(ctx, ms(h.cfg.TypoPauseMinMs), ms(h.cfg.TypoPauseMaxMs)); err != nil {
		return err
	}
	if err := h.executor.SendKeys(ctx, string(KeyBackspace)); err != nil {
		return err
	}
	return h.Delay(ctx, ms(h.cfg.TypoPauseMinMs)/2, ms(h.cfg.TypoPauseMaxMs)/2)
}

func (h *Humanoid) neighbor(r rune) (rune, bool) {
	lower := unicode.ToLower(r)
	candidates, ok := keyboardNeighbors[lower]
	if !ok {
		return 0, false
	}
	options := []rune(candidates)
	if len(options) == 0 {
		return 0, false
	}
	wrong := options[h.intn(len(options))]
	if unicode.IsUpper(r) {
		wrong = unicode.ToUpper(wrong)
	}
	return wrong, true
}
