// File: internal/resolver/resolver.go
//
// Package resolver turns an abstract UI target, expressed as an ordered list of fallback
// strategies, into a concrete visible element on the page.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/herald/internal/config"
	"github.com/xkilldash9x/herald/internal/retry"
)

// ErrNotFound is wrapped by every resolution timeout.
var ErrNotFound = errors.New("element not found")

// Kind tags how a strategy locates its element.
type Kind string

const (
	// KindCSS is a structural CSS selector lookup.
	KindCSS Kind = "css"
	// KindXPath is a path expression lookup.
	KindXPath Kind = "xpath"
	// KindLabel matches a substring of the accessible name (aria-label, placeholder, title).
	KindLabel Kind = "label"
	// KindText matches a substring of the rendered text content.
	KindText Kind = "text"
)

// Strategy is one way of finding an element.
type Strategy struct {
	Kind  Kind
	Value string
}

func (s Strategy) String() string { return string(s.Kind) + ":" + s.Value }

// CSS builds a structural selector strategy.
func CSS(selector string) Strategy { return Strategy{Kind: KindCSS, Value: selector} }

// XPath builds a path selector strategy.
func XPath(expr string) Strategy { return Strategy{Kind: KindXPath, Value: expr} }

// Label builds an accessible-name substring strategy.
func Label(name string) Strategy { return Strategy{Kind: KindLabel, Value: name} }

// Text builds a text-content substring strategy.
func Text(text string) Strategy { return Strategy{Kind: KindText, Value: text} }

// Query is one UI target: a priority-ordered fallback chain plus a time budget.
type Query struct {
	Name       string
	Strategies []Strategy
	// Timeout overrides the resolver default when positive.
	Timeout time.Duration
}

// EditableKind describes how text reaches an element.
type EditableKind string

const (
	NotEditable EditableKind = ""
	// EditableInput is a native input or textarea driven by key events.
	EditableInput EditableKind = "input"
	// EditableRich is a contenteditable region driven by text insertion.
	EditableRich EditableKind = "rich"
)

// Element is a stable handle to a resolved DOM element.
type Element struct {
	// Selector addresses exactly this element for follow-up actions.
	Selector string
	Strategy Strategy
	Tag      string
	Editable EditableKind
	Attrs    map[string]string
}

// Attr returns an attribute captured at resolution time.
func (e *Element) Attr(name string) string {
	if e == nil || e.Attrs == nil {
		return ""
	}
	return e.Attrs[name]
}

// Pressed reports whether the element carries an active pressed/checked state.
func (e *Element) Pressed() bool {
	return e.Attr("aria-pressed") == "true" || e.Attr("aria-checked") == "true"
}

// Candidate is the raw result of a single strategy lookup.
type Candidate struct {
	Element Element
	Visible bool
}

// Finder performs one lookup for one strategy. It returns nil when nothing matched.
type Finder interface {
	Find(ctx context.Context, s Strategy) (*Candidate, error)
}

// NotFoundError reports which query timed out.
type NotFoundError struct {
	Query   string
	Timeout time.Duration
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %q not visible within %s", ErrNotFound, e.Query, e.Timeout)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Resolver runs queries against a Finder.
type Resolver struct {
	finder Finder
	cfg    config.ResolverConfig
	logger *zap.Logger
}

// New creates a Resolver.
func New(finder Finder, cfg config.ResolverConfig, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{finder: finder, cfg: cfg, logger: logger.Named("resolver")}
}

// Resolve retries full passes over the strategy chain until a visible element appears
// or the query's timeout elapses.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*Element, error) {
	timeout := q.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}

	var found *Element
	passes := 0
	err := retry.Until(ctx, retry.Policy{Timeout: timeout, MinInterval: r.cfg.PollMin, MaxInterval: r.cfg.PollMax},
		func(ctx context.Context) (bool, error) {
			passes++
			el, err := r.pass(ctx, q)
			if err != nil {
				return false, err
			}
			found = el
			return el != nil, nil
		})

	switch {
	case err == nil:
		r.logger.Debug("Resolved element.",
			zap.String("query", q.Name),
			zap.Stringer("strategy", found.Strategy),
			zap.Int("passes", passes))
		return found, nil
	case errors.Is(err, retry.ErrTimeout):
		r.logger.Debug("Element did not become visible.", zap.String("query", q.Name), zap.Int("passes", passes))
		return nil, &NotFoundError{Query: q.Name, Timeout: timeout}
	default:
		return nil, err
	}
}

// Peek runs exactly one pass, bounded by the peek budget. It is meant for state checks
// where absence is a normal answer.
func (r *Resolver) Peek(ctx context.Context, q Query) (*Element, error) {
	passCtx := ctx
	if r.cfg.PeekBudget > 0 {
		var cancel context.CancelFunc
		passCtx, cancel = context.WithTimeout(ctx, r.cfg.PeekBudget)
		defer cancel()
	}
	el, err := r.pass(passCtx, q)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, &NotFoundError{Query: q.Name, Timeout: r.cfg.PeekBudget}
		}
		return nil, err
	}
	if el == nil {
		return nil, &NotFoundError{Query: q.Name}
	}
	return el, nil
}

// pass walks the chain in priority order. Strategies are a fallback chain, not a union:
// the first visible candidate wins and later strategies are never consulted.
func (r *Resolver) pass(ctx context.Context, q Query) (*Element, error) {
	for _, s := range q.Strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cand, err := r.finder.Find(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// A broken selector or a navigating page only disqualifies this strategy.
			r.logger.Debug("Strategy lookup failed.", zap.String("query", q.Name), zap.Stringer("strategy", s), zap.Error(err))
			continue
		}
		if cand == nil || !cand.Visible {
			continue
		}
		el := cand.Element
		el.Strategy = s
		return &el, nil
	}
	return nil, nil
}
