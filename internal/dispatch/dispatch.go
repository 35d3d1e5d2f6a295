// internal/dispatch/dispatch.go
//
// Package dispatch holds the per-platform action routines. Every routine is built from
// the resolver and the humanoid simulator and reports through a uniform ActionOutcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/herald/api/schemas"
	"github.com/xkilldash9x/herald/internal/humanoid"
	"github.com/xkilldash9x/herald/internal/media"
	"github.com/xkilldash9x/herald/internal/resolver"
)

var (
	ErrMediaRequired  = errors.New("media required")
	ErrTargetRequired = errors.New("target url required")
	ErrNothingToPost  = errors.New("nothing to publish: text and media are both empty")
	ErrUnsupported    = errors.New("unsupported task type")
	ErrWrongPlatform  = errors.New("task belongs to another platform")
)

// Dispatcher executes tasks for one platform inside one tab.
type Dispatcher interface {
	// ExecuteTask never panics and never returns an error; failures are folded into the outcome.
	ExecuteTask(ctx context.Context, task schemas.Task) schemas.ActionOutcome
	Capabilities() []schemas.TaskType
	Platform() schemas.PlatformID
}

// Navigator drives the location of the bound tab.
type Navigator interface {
	CurrentURL(ctx context.Context) (string, error)
	// Navigate loads url and waits for the document to finish loading.
	Navigate(ctx context.Context, url string) error
}

// Locator finds elements. *resolver.Resolver satisfies it.
type Locator interface {
	Resolve(ctx context.Context, q resolver.Query) (*resolver.Element, error)
	Peek(ctx context.Context, q resolver.Query) (*resolver.Element, error)
}

// Simulator produces human-looking input. *humanoid.Humanoid satisfies it.
type Simulator interface {
	Click(ctx context.Context, el *resolver.Element) error
	Type(ctx context.Context, el *resolver.Element, text string) error
	Press(ctx context.Context, key humanoid.ControlKey) error
	Delay(ctx context.Context, min, max time.Duration) error
}

// MediaFetcher downloads task media.
type MediaFetcher interface {
	Fetch(ctx context.Context, urls []string) ([]media.Blob, error)
}

// MediaAttacher hands blobs to the page: the first usable file input, or a drop onto
// dropTarget when there is none. dropTarget may be nil.
type MediaAttacher interface {
	Attach(ctx context.Context, blobs []media.Blob, dropTarget *resolver.Element) error
}

// Env bundles the collaborators a dispatcher needs.
type Env struct {
	Nav      Navigator
	Resolver Locator
	Sim      Simulator
	Media    MediaAttacher
	Fetcher  MediaFetcher
	// SettleMin and SettleMax bound the pause after every navigation.
	SettleMin time.Duration
	SettleMax time.Duration
	Logger    *zap.Logger
}

type action func(ctx context.Context, t schemas.Task) error

// runner is the shared machinery behind every platform dispatcher.
type runner struct {
	platform schemas.Platform
	env      Env
	logger   *zap.Logger
	actions  map[schemas.TaskType]action
}

func newRunner(id schemas.PlatformID, env Env) *runner {
	info, _ := id.Info()
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if env.SettleMax < env.SettleMin {
		env.SettleMax = env.SettleMin
	}
	return &runner{
		platform: info,
		env:      env,
		logger:   logger.Named("dispatch").With(zap.String("platform", string(id))),
		actions:  make(map[schemas.TaskType]action),
	}
}

func (r *runner) Platform() schemas.PlatformID { return r.platform.ID }

func (r *runner) Capabilities() []schemas.TaskType {
	out := make([]schemas.TaskType, 0, len(r.actions))
	for _, t := range schemas.AllTaskTypes {
		if _, ok := r.actions[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// ExecuteTask routes the task to its action and converts every failure, including
// panics, into a failed outcome.
func (r *runner) ExecuteTask(ctx context.Context, task schemas.Task) (out schemas.ActionOutcome) {
	logger := r.logger.With(zap.String("task_id", task.ID), zap.String("task_type", string(task.Type)))
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			logger.Error("Recovered from panic during task execution.",
				zap.Any("panic_value", p),
				zap.String("stack", string(debug.Stack())))
			out = schemas.Failed(fmt.Errorf("%s %s panicked: %v", task.Platform, task.Type, p))
		}
	}()

	if task.Platform != r.platform.ID {
		return schemas.Failed(fmt.Errorf("%w: %s dispatcher got a %s task", ErrWrongPlatform, r.platform.ID, task.Platform))
	}
	act, ok := r.actions[task.Type]
	if !ok {
		return schemas.Failed(fmt.Errorf("%w: %s does not support %s", ErrUnsupported, r.platform.ID, task.Type))
	}

	logger.Info("Executing task.")
	if err := act(ctx, task); err != nil {
		logger.Warn("Task action failed.", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return schemas.Failed(err)
	}
	logger.Info("Task action completed.", zap.Duration("elapsed", time.Since(start)))
	return schemas.Succeeded()
}

// -- shared building blocks --

func (r *runner) mediaRequired(t schemas.Task) error {
	if !t.Content.HasMedia() {
		return fmt.Errorf("%s %s: %w", r.platform.ID, t.Type, ErrMediaRequired)
	}
	return nil
}

func (r *runner) target(t schemas.Task) (string, error) {
	if strings.TrimSpace(t.TargetURL) == "" {
		return "", fmt.Errorf("%s %s: %w", r.platform.ID, t.Type, ErrTargetRequired)
	}
	return t.TargetURL, nil
}

// goTo navigates only when the tab is somewhere else, then waits for the page to settle.
func (r *runner) goTo(ctx context.Context, dest string) error {
	cur, err := r.env.Nav.CurrentURL(ctx)
	if err == nil && SameLocation(cur, dest) {
		r.logger.Debug("Already at destination, skipping navigation.", zap.String("url", dest))
		return nil
	}
	if err := r.env.Nav.Navigate(ctx, dest); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", dest, err)
	}
	return r.env.Sim.Delay(ctx, r.env.SettleMin, r.env.SettleMax)
}

func (r *runner) resolve(ctx context.Context, q resolver.Query) (*resolver.Element, error) {
	el, err := r.env.Resolver.Resolve(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", q.Name, err)
	}
	return el, nil
}

// peek is a single-pass lookup. A miss is (nil, nil).
func (r *runner) peek(ctx context.Context, q resolver.Query) (*resolver.Element, error) {
	el, err := r.env.Resolver.Peek(ctx, q)
	if errors.Is(err, resolver.ErrNotFound) {
		return nil, nil
	}
	return el, err
}

func (r *runner) click(ctx context.Context, q resolver.Query) error {
	el, err := r.resolve(ctx, q)
	if err != nil {
		return err
	}
	if err := r.env.Sim.Click(ctx, el); err != nil {
		return fmt.Errorf("%s: click failed: %w", q.Name, err)
	}
	return nil
}

func (r *runner) typeInto(ctx context.Context, q resolver.Query, text string) error {
	el, err := r.resolve(ctx, q)
	if err != nil {
		return err
	}
	if err := r.env.Sim.Type(ctx, el, text); err != nil {
		return fmt.Errorf("%s: typing failed: %w", q.Name, err)
	}
	return nil
}

func (r *runner) pause(ctx context.Context, minMs, maxMs int) error {
	return r.env.Sim.Delay(ctx, time.Duration(minMs)*time.Millisecond, time.Duration(maxMs)*time.Millisecond)
}

// fetchMedia downloads the task media. Actions call it before touching the tab, so a
// bad or oversized URL fails the task with no composer left open. No media is (nil, nil).
func (r *runner) fetchMedia(ctx context.Context, c schemas.Content) ([]media.Blob, error) {
	if !c.HasMedia() {
		return nil, nil
	}
	if r.env.Fetcher == nil || r.env.Media == nil {
		return nil, errors.New("media support is not configured")
	}
	blobs, err := r.env.Fetcher.Fetch(ctx, c.MediaURLs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch media: %w", err)
	}
	return blobs, nil
}

// attach hands fetched blobs to the page. drop names the compose surface used when the
// page has no usable file input; it is optional.
func (r *runner) attach(ctx context.Context, blobs []media.Blob, drop resolver.Query) error {
	var (
		target *resolver.Element
		err    error
	)
	if len(drop.Strategies) > 0 {
		if target, err = r.peek(ctx, drop); err != nil {
			return err
		}
	}
	if err := r.env.Media.Attach(ctx, blobs, target); err != nil {
		return fmt.Errorf("failed to attach media: %w", err)
	}
	r.logger.Debug("Attached media.", zap.Int("count", len(blobs)))
	// Uploads start immediately; give them time before anything is submitted.
	return r.pause(ctx, 2500, 5000)
}

// toggleOn sets an idempotent on/off control such as like or repost. When the "on" state
// is already present it returns without clicking, so the state is never toggled off.
func (r *runner) toggleOn(ctx context.Context, dest string, already, control resolver.Query) error {
	if err := r.goTo(ctx, dest); err != nil {
		return err
	}
	on, err := r.peek(ctx, already)
	if err != nil {
		return err
	}
	if on != nil {
		r.logger.Info("Target already in the requested state, not clicking.", zap.String("query", already.Name))
		return nil
	}
	el, err := r.resolve(ctx, control)
	if err != nil {
		return err
	}
	if el.Pressed() {
		r.logger.Info("Control reports pressed state, not clicking.", zap.String("query", control.Name))
		return nil
	}
	if err := r.env.Sim.Click(ctx, el); err != nil {
		return fmt.Errorf("%s: click failed: %w", control.Name, err)
	}
	return r.pause(ctx, 800, 1600)
}

// SameLocation reports whether two URLs address the same page, ignoring scheme, a leading
// "www.", trailing slashes and fragments.
func SameLocation(a, b string) bool {
	ua, errA := url.Parse(strings.TrimSpace(a))
	ub, errB := url.Parse(strings.TrimSpace(b))
	if errA != nil || errB != nil {
		return false
	}
	norm := func(u *url.URL) string {
		host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
		p := strings.TrimRight(u.Path, "/")
		return host + p + "?" + u.RawQuery
	}
	return ua.Host != "" && norm(ua) == norm(ub)
}

// -- registry --

// Builder constructs a dispatcher bound to one tab's environment.
type Builder func(env Env) Dispatcher

// Registry maps platforms to their dispatcher builders.
type Registry struct {
	builders map[schemas.PlatformID]Builder
}

// NewRegistry returns a registry with every supported platform.
func NewRegistry() *Registry {
	r := &Registry{builders: make(map[schemas.PlatformID]Builder)}
	r.Register(schemas.PlatformFacebook, func(env Env) Dispatcher { return NewFacebook(env) })
	r.Register(schemas.PlatformInstagram, func(env Env) Dispatcher { return NewInstagram(env) })
	r.Register(schemas.PlatformTwitter, func(env Env) Dispatcher { return NewTwitter(env) })
	return r
}

// Register adds or replaces a builder.
func (r *Registry) Register(id schemas.PlatformID, b Builder) {
	r.builders[id] = b
}

// For builds the dispatcher for a platform.
func (r *Registry) For(id schemas.PlatformID, env Env) (Dispatcher, error) {
	b, ok := r.builders[id]
	if !ok {
		return nil, fmt.Errorf("no dispatcher registered for platform %q", id)
	}
	return b(env), nil
}

// Capabilities lists "platform:task" pairs for agent registration.
func (r *Registry) Capabilities() []string {
	var out []string
	for id, b := range r.builders {
		for _, t := range b(Env{}).Capabilities() {
			out = append(out, string(id)+":"+string(t))
		}
	}
	sort.Strings(out)
	return out
}
