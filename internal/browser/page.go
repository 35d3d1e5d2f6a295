// internal/browser/page.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/herald/internal/humanoid"
	"github.com/xkilldash9x/herald/internal/retry"
)

// Page is one attached browser tab. It implements the dispatcher's Navigator and the
// resolver's Evaluator.
type Page struct {
	id         string
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *zap.Logger
	navTimeout time.Duration

	mu       sync.Mutex
	cleanups []func()
}

func newPage(id string, ctx context.Context, cancel context.CancelFunc, navTimeout time.Duration, logger *zap.Logger) *Page {
	if navTimeout <= 0 {
		navTimeout = 45 * time.Second
	}
	return &Page{
		id:         id,
		ctx:        ctx,
		cancel:     cancel,
		navTimeout: navTimeout,
		logger:     logger.Named("page").With(zap.String("target_id", id)),
	}
}

// ID returns the CDP target id.
func (p *Page) ID() string { return p.id }

// Run executes chromedp actions on the tab, bounded by ctx.
func (p *Page) Run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// CurrentURL returns the tab's location.
func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	var u string
	if err := p.Run(ctx, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return u, nil
}

// Navigate loads url and waits until the document reports complete.
func (p *Page) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, p.navTimeout)
	defer cancel()

	p.logger.Debug("Navigating.", zap.String("url", url))
	if err := p.Run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return p.WaitForLoad(navCtx)
}

// WaitForLoad polls document.readyState until it is "complete".
func (p *Page) WaitForLoad(ctx context.Context) error {
	policy := retry.Policy{Timeout: p.navTimeout, MinInterval: 150 * time.Millisecond, MaxInterval: 250 * time.Millisecond}
	err := retry.Until(ctx, policy, func(ctx context.Context) (bool, error) {
		var state string
		if err := p.Run(ctx, chromedp.Evaluate(`document.readyState`, &state)); err != nil {
			// The execution context is replaced during navigation; try again.
			p.logger.Debug("readyState check failed.", zap.Error(err))
			return false, ctx.Err()
		}
		return state == "complete", nil
	})
	if err != nil {
		return fmt.Errorf("page did not finish loading: %w", err)
	}
	return nil
}

// Evaluate runs a JavaScript expression and decodes its JSON value into out.
func (p *Page) Evaluate(ctx context.Context, expression string, out interface{}) error {
	return p.Run(ctx, chromedp.Evaluate(expression, out, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	}))
}

// Executor returns the humanoid executor bound to this tab.
func (p *Page) Executor() humanoid.Executor {
	return &cdpExecutor{page: p, logger: p.logger}
}

// addCleanup registers fn to run when the page is closed.
func (p *Page) addCleanup(fn func()) {
	p.mu.Lock()
	p.cleanups = append(p.cleanups, fn)
	p.mu.Unlock()
}

// release runs the cleanups and detaches from the tab.
func (p *Page) release() {
	p.mu.Lock()
	cleanups := p.cleanups
	p.cleanups = nil
	p.mu.Unlock()
	for _, fn := range cleanups {
		fn()
	}
	if p.cancel != nil {
		p.cancel()
	}
}
