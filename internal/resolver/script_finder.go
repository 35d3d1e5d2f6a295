// File: internal/resolver/script_finder.go
package resolver

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// RefAttribute tags resolved elements so later actions can address them directly.
const RefAttribute = "data-herald-ref"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Evaluator runs a JavaScript expression in the page and decodes its JSON result.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, out interface{}) error
}

// ScriptFinder implements Finder by evaluating a lookup script inside the page.
type ScriptFinder struct {
	eval  Evaluator
	newID func() string
}

// NewScriptFinder builds a Finder over the given page evaluator.
func NewScriptFinder(eval Evaluator) *ScriptFinder {
	return &ScriptFinder{eval: eval, newID: func() string { return uuid.NewString() }}
}

type lookupResult struct {
	Found    bool              `json:"found"`
	Visible  bool              `json:"visible"`
	Ref      string            `json:"ref"`
	Tag      string            `json:"tag"`
	Editable string            `json:"editable"`
	Attrs    map[string]string `json:"attrs"`
	Error    string            `json:"error"`
}

// Find evaluates one strategy. A matching element is tagged with RefAttribute.
func (f *ScriptFinder) Find(ctx context.Context, s Strategy) (*Candidate, error) {
	expr, err := buildLookup(s, f.newID())
	if err != nil {
		return nil, err
	}
	var res lookupResult
	if err := f.eval.Evaluate(ctx, expr, &res); err != nil {
		return nil, fmt.Errorf("lookup %s: %w", s, err)
	}
	if res.Error != "" {
		return nil, fmt.Errorf("lookup %s: %s", s, res.Error)
	}
	if !res.Found {
		return nil, nil
	}
	return &Candidate{
		Element: Element{
			Selector: RefSelector(res.Ref),
			Tag:      res.Tag,
			Editable: EditableKind(res.Editable),
			Attrs:    res.Attrs,
		},
		Visible: res.Visible,
	}, nil
}

// RefSelector returns the CSS selector addressing a tagged element.
func RefSelector(ref string) string {
	return fmt.Sprintf(`[%s="%s"]`, RefAttribute, ref)
}

func buildLookup(s Strategy, ref string) (string, error) {
	args, err := json.Marshal([]string{string(s.Kind), s.Value, RefAttribute, ref})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s).apply(null, %s)", lookupScript, args), nil
}

// lookupScript prefers the first visible match of a strategy, falling back to the first
// match so the caller can tell "present but hidden" from "absent".
const lookupScript = `function(kind, value, refAttr, ref) {
  const lower = (s) => (s || '').toString().toLowerCase();
  const visible = (el) => {
    const r = el.getBoundingClientRect();
    if (r.width === 0 || r.height === 0) return false;
    const st = window.getComputedStyle(el);
    return st.display !== 'none' && st.visibility !== 'hidden' && st.opacity !== '0';
  };
  let nodes = [];
  try {
    if (kind === 'css') {
      nodes = Array.from(document.querySelectorAll(value));
    } else if (kind === 'xpath') {
      const snap = document.evaluate(value, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
      for (let i = 0; i < snap.snapshotLength; i++) nodes.push(snap.snapshotItem(i));
    } else if (kind === 'label') {
      const needle = lower(value);
      const names = ['aria-label', 'placeholder', 'aria-placeholder', 'title', 'data-placeholder'];
      nodes = Array.from(document.querySelectorAll('[aria-label],[placeholder],[aria-placeholder],[title],[data-placeholder]'))
        .filter((el) => names.some((n) => lower(el.getAttribute(n)).includes(needle)));
    } else if (kind === 'text') {
      const needle = lower(value);
      const pool = Array.from(document.querySelectorAll('button,a,span,label,h1,h2,h3,[role="button"],[role="menuitem"],[role="tab"],[role="link"],div[dir="auto"]'))
        .filter((el) => lower(el.innerText || el.textContent).includes(needle));
      nodes = pool.filter((el) => !pool.some((o) => o !== el && el.contains(o)));
    } else {
      return { found: false, error: 'unknown strategy kind ' + kind };
    }
  } catch (e) {
    return { found: false, error: String(e) };
  }
  nodes = nodes.filter((n) => n && n.nodeType === 1);
  if (nodes.length === 0) return { found: false };
  const el = nodes.find(visible) || nodes[0];
  let tag = el.getAttribute(refAttr);
  if (!tag) { el.setAttribute(refAttr, ref); tag = ref; }
  const name = el.tagName.toLowerCase();
  let editable = '';
  if (el.isContentEditable) editable = 'rich';
  else if (name === 'textarea' || (name === 'input' && !['button','submit','checkbox','radio','file','hidden','image','reset'].includes(lower(el.type)))) editable = 'input';
  const attrs = {};
  for (const n of ['aria-label', 'aria-pressed', 'aria-checked', 'data-testid', 'role', 'type', 'href']) {
    const v = el.getAttribute(n);
    if (v !== null) attrs[n] = v;
  }
  return { found: true, visible: visible(el), ref: tag, tag: name, editable: editable, attrs: attrs };
}`
