// internal/browser/executor.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/herald/api/schemas"
	"github.com/xkilldash9x/herald/internal/humanoid"
)

const (
	inputTimeout  = 10 * time.Second
	scriptTimeout = 20 * time.Second
)

// cdpExecutor implements humanoid.Executor over a Page.
type cdpExecutor struct {
	page   *Page
	logger *zap.Logger
}

var _ humanoid.Executor = (*cdpExecutor)(nil)

func (e *cdpExecutor) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *cdpExecutor) DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	p := input.DispatchMouseEvent(input.MouseType(data.Type), data.X, data.Y).
		WithButton(input.MouseButton(data.Button)).
		WithButtons(data.Buttons).
		WithClickCount(int64(data.ClickCount))

	opCtx, cancel := context.WithTimeout(ctx, inputTimeout)
	defer cancel()
	if err := e.page.Run(opCtx, p); err != nil {
		if opCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return fmt.Errorf("mouse event timed out after %v: %w", inputTimeout, opCtx.Err())
		}
		return err
	}
	return nil
}

// SendKeys dispatches trusted key events. Control characters such as "\b" and "\r"
// become Backspace and Enter.
func (e *cdpExecutor) SendKeys(ctx context.Context, keys string) error {
	opCtx, cancel := context.WithTimeout(ctx, inputTimeout)
	defer cancel()
	if err := e.page.Run(opCtx, chromedp.KeyEvent(keys)); err != nil {
		if opCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return fmt.Errorf("key events timed out after %v: %w", inputTimeout, opCtx.Err())
		}
		return err
	}
	return nil
}

func (e *cdpExecutor) InsertText(ctx context.Context, text string) error {
	opCtx, cancel := context.WithTimeout(ctx, inputTimeout)
	defer cancel()
	return e.page.Run(opCtx, input.InsertText(text))
}

// geometryScript measures the element in viewport coordinates, which is what
// Input.dispatchMouseEvent expects.
const geometryScript = `function(sel) {
  const node = document.querySelector(sel);
  if (!node) return null;
  const rect = node.getBoundingClientRect();
  const style = window.getComputedStyle(node);
  const visible = rect.width > 0 && rect.height > 0 && style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0';
  if (!visible) return null;
  return {
    vertices: [rect.left, rect.top, rect.right, rect.top, rect.right, rect.bottom, rect.left, rect.bottom],
    width: Math.round(rect.width),
    height: Math.round(rect.height),
    tagName: node.tagName || '',
    type: node.type || ''
  };
}`

func (e *cdpExecutor) GetElementGeometry(ctx context.Context, selector string) (*schemas.ElementGeometry, error) {
	res, err := e.ExecuteScript(ctx, geometryScript, []interface{}{selector})
	if err != nil {
		return nil, fmt.Errorf("failed to measure '%s': %w", selector, err)
	}
	if string(res) == "null" || len(res) == 0 {
		return nil, fmt.Errorf("element '%s' not found or not visible", selector)
	}
	var geom schemas.ElementGeometry
	if err := jsoniter.Unmarshal(res, &geom); err != nil {
		return nil, fmt.Errorf("failed to decode geometry for '%s': %w", selector, err)
	}
	if geom.Width <= 0 || geom.Height <= 0 {
		return nil, fmt.Errorf("element '%s' not found or not visible (width=%d, height=%d)", selector, geom.Width, geom.Height)
	}
	return &geom, nil
}

// ExecuteScript calls the function expression script with JSON-encoded args.
func (e *cdpExecutor) ExecuteScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error) {
	expr, err := callExpression(script, args)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()

	var res []byte
	err = e.page.Run(opCtx, chromedp.Evaluate(expr, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	}))
	if err != nil {
		if opCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, fmt.Errorf("script timed out after %v: %w", scriptTimeout, opCtx.Err())
		}
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}
	return json.RawMessage(res), nil
}

// callExpression renders "(fn)(arg1, arg2, ...)".
func callExpression(fn string, args []interface{}) (string, error) {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := jsoniter.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("failed to encode script argument %d: %w", i, err)
		}
		encoded[i] = string(b)
	}
	return fmt.Sprintf("(%s)(%s)", fn, strings.Join(encoded, ", ")), nil
}
