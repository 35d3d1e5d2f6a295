// internal/humanoid/humanoid.go
package humanoid

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"go.uber.org/zap"

	"github.com/xkilldash9x/herald/api/schemas"
	"github.com/xkilldash9x/herald/internal/config"
	"github.com/xkilldash9x/herald/internal/resolver"
)

// Humanoid synthesizes pointer and keyboard input that looks like a person at the keyboard.
type Humanoid struct {
	// mu protects rng, noise state and the cursor position. Methods that sleep or call the
	// executor must not hold it.
	mu       sync.Mutex
	cfg      config.HumanoidConfig
	logger   *zap.Logger
	executor Executor

	rng       *rand.Rand
	noiseX    *perlin.Perlin
	noiseY    *perlin.Perlin
	noiseTime float64
	cursor    Vector2D
}

// New creates and initializes a new Humanoid instance.
func New(cfg config.HumanoidConfig, logger *zap.Logger, executor Executor) *Humanoid {
	return newWithSeed(cfg, logger, executor, time.Now().UnixNano())
}

// NewTestHumanoid creates a Humanoid with deterministic randomness for tests.
func NewTestHumanoid(executor Executor, seed int64) *Humanoid {
	return newWithSeed(config.DefaultHumanoidConfig(), zap.NewNop(), executor, seed)
}

func newWithSeed(cfg config.HumanoidConfig, logger *zap.Logger, executor Executor, seed int64) *Humanoid {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Standard perlin parameters; two generators keep the axes uncorrelated.
	const alpha, beta, n = 2.0, 2.0, int32(3)
	rng := rand.New(rand.NewSource(seed))
	return &Humanoid{
		cfg:      cfg,
		logger:   logger.Named("humanoid"),
		executor: executor,
		rng:      rng,
		noiseX:   perlin.NewPerlin(alpha, beta, n, seed),
		noiseY:   perlin.NewPerlin(alpha, beta, n, seed+1),
		// Start somewhere plausible rather than the top-left corner.
		cursor: Vector2D{X: 200 + rng.Float64()*600, Y: 150 + rng.Float64()*400},
	}
}

// Delay waits a uniformly random duration in [min, max].
func (h *Humanoid) Delay(ctx context.Context, min, max time.Duration) error {
	return h.executor.Sleep(ctx, h.between(min, max))
}

// Click moves the pointer to a jittered point inside the element along a curved path,
// pauses, then presses and releases the primary button. The browser derives the
// pointer-enter/over signals from the movement and the click from press+release.
func (h *Humanoid) Click(ctx context.Context, el *resolver.Element) error {
	if el == nil {
		return fmt.Errorf("humanoid: click on nil element")
	}
	if err := h.scrollIntoView(ctx, el.Selector); err != nil {
		return fmt.Errorf("humanoid: failed to scroll '%s' into view: %w", el.Selector, err)
	}

	geom, err := h.executor.GetElementGeometry(ctx, el.Selector)
	if err != nil {
		return fmt.Errorf("humanoid: failed to read geometry for '%s': %w", el.Selector, err)
	}
	bounds, ok := boxFromVertices(geom.Vertices)
	if !ok {
		return fmt.Errorf("humanoid: element '%s' has no usable box", el.Selector)
	}

	target := h.pickTarget(bounds)
	if err := h.moveTo(ctx, target, bounds.width()); err != nil {
		return err
	}

	if err := h.Delay(ctx, ms(h.cfg.PrePressMinMs), ms(h.cfg.PrePressMaxMs)); err != nil {
		return err
	}

	press := schemas.MouseEventData{
		Type:       schemas.MousePress,
		X:          target.X,
		Y:          target.Y,
		Button:     schemas.ButtonLeft,
		Buttons:    1,
		ClickCount: 1,
	}
	if err := h.executor.DispatchMouseEvent(ctx, press); err != nil {
		return fmt.Errorf("humanoid: mouse press failed: %w", err)
	}

	holdErr := h.Delay(ctx, ms(h.cfg.ClickHoldMinMs), ms(h.cfg.ClickHoldMaxMs))

	release := press
	release.Type = schemas.MouseRelease
	release.Buttons = 0
	// Always release, even when the hold was interrupted, so the page never sees a stuck button.
	releaseCtx := ctx
	if holdErr != nil {
		var cancel context.CancelFunc
		releaseCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
	}
	if err := h.executor.DispatchMouseEvent(releaseCtx, release); err != nil {
		return fmt.Errorf("humanoid: mouse release failed: %w", err)
	}
	return holdErr
}

// Press sends a single control key, such as Enter to submit a reply.
func (h *Humanoid) Press(ctx context.Context, key ControlKey) error {
	if err := h.Delay(ctx, ms(h.cfg.KeyDelayMinMs), ms(h.cfg.KeyDelayMaxMs)); err != nil {
		return err
	}
	return h.executor.SendKeys(ctx, string(key))
}

const scrollIntoViewScript = `function(sel) {
  const el = document.querySelector(sel);
  if (!el) return false;
  const r = el.getBoundingClientRect();
  const inView = r.top >= 0 && r.left >= 0 && r.bottom <= window.innerHeight && r.right <= window.innerWidth;
  if (!inView) el.scrollIntoView({ block: 'center', inline: 'center', behavior: 'smooth' });
  return !inView;
}`

func (h *Humanoid) scrollIntoView(ctx context.Context, selector string) error {
	res, err := h.executor.ExecuteScript(ctx, scrollIntoViewScript, []interface{}{selector})
	if err != nil {
		return err
	}
	if string(res) == "true" {
		// Smooth scrolling is animated; give it time to settle before measuring.
		return h.Delay(ctx, 250*time.Millisecond, 600*time.Millisecond)
	}
	return nil
}

// pickTarget chooses a point near the center, jittered within ClickJitter of the half-extents.
func (h *Humanoid) pickTarget(b box) Vector2D {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := b.center()
	j := h.cfg.ClickJitter
	halfW := (b.maxX - b.minX) / 2
	halfH := (b.maxY - b.minY) / 2
	p := Vector2D{
		X: c.X + (h.rng.Float64()*2-1)*halfW*j,
		Y: c.Y + (h.rng.Float64()*2-1)*halfH*j,
	}
	if !b.contains(p) {
		return c
	}
	return p
}

func (h *Humanoid) between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return min + time.Duration(h.rng.Int63n(int64(max-min)+1))
}

func (h *Humanoid) float() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rng.Float64()
}

func (h *Humanoid) intn(n int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rng.Intn(n)
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
