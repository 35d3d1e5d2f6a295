// internal/orchestrator/orchestrator.go
//
// Package orchestrator drives the agent's poll/fetch/validate/execute/report cycle and
// owns the persisted run state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/herald/api/schemas"
	"github.com/xkilldash9x/herald/internal/api"
	"github.com/xkilldash9x/herald/internal/config"
	"github.com/xkilldash9x/herald/internal/notify"
	"github.com/xkilldash9x/herald/internal/retry"
	"github.com/xkilldash9x/herald/internal/validator"
)

// AlarmName is the scheduler alarm that drives ticks.
const AlarmName = "herald.poll"

// Phase is the externally visible state of the loop.
type Phase string

const (
	PhaseStopped Phase = "stopped"
	PhaseIdle    Phase = "idle"
	PhaseBusy    Phase = "busy"
)

// TickResult says how a tick ended.
type TickResult string

const (
	TickSkipped     TickResult = "skipped"
	TickNotRunning  TickResult = "not_running"
	TickAborted     TickResult = "aborted"
	TickNoPlatforms TickResult = "no_platforms"
	TickNoTask      TickResult = "no_task"
	TickRejected    TickResult = "rejected"
	TickFailed      TickResult = "failed"
	TickCompleted   TickResult = "completed"
)

// ServerAPI is the remote task server. *api.Client satisfies it.
type ServerAPI interface {
	SetCredential(key string)
	Register(ctx context.Context, req schemas.RegisterRequest) (string, error)
	GetTask(ctx context.Context, req schemas.GetTaskRequest) ([]byte, error)
	ReportStatus(ctx context.Context, req schemas.ReportStatusRequest) error
	Heartbeat(ctx context.Context, req schemas.HeartbeatRequest) (schemas.HeartbeatResponse, error)
	AddPlatform(ctx context.Context, req schemas.PlatformRequest) error
}

// TabService locates platform tabs and reads login state. *browser.Manager satisfies it.
type TabService interface {
	AcquireTab(ctx context.Context, platform schemas.PlatformID) (string, error)
	LoggedIn(ctx context.Context, platforms []schemas.PlatformID) ([]schemas.PlatformID, error)
}

// Executor runs a task inside a tab. *bridge.Host satisfies it.
type Executor interface {
	Execute(ctx context.Context, targetID string, task schemas.Task, deadline time.Time) (schemas.ActionOutcome, error)
}

// Alarms arms and disarms the periodic wake-up. *scheduler.Scheduler satisfies it.
type Alarms interface {
	Create(name string, period time.Duration, fn func()) error
	Clear(name string) bool
	Next(name string) (time.Time, bool)
}

// Dependencies are the collaborators of an Orchestrator. Notifier may be nil.
type Dependencies struct {
	API      ServerAPI
	Tabs     TabService
	Executor Executor
	Alarms   Alarms
	State    *StateKeeper
	Notifier notify.Notifier
}

// Orchestrator runs at most one tick at a time.
type Orchestrator struct {
	cfg          config.AgentConfig
	version      string
	capabilities []string

	api      ServerAPI
	tabs     TabService
	exec     Executor
	alarms   Alarms
	state    *StateKeeper
	notifier notify.Notifier
	logger   *zap.Logger

	busy atomic.Bool
	// announced holds the platforms the server has accepted for the current agent id.
	// Only the goroutine holding busy touches it.
	announced   map[schemas.PlatformID]bool
	announcedTo string

	mu      sync.Mutex
	armed   bool
	baseCtx context.Context
	ticks   sync.WaitGroup

	jitter func(max time.Duration) time.Duration
	now    func() time.Time
}

// New wires an Orchestrator. capabilities is announced on registration.
func New(cfg config.AgentConfig, version string, capabilities []string, deps Dependencies, logger *zap.Logger) (*Orchestrator, error) {
	if deps.API == nil || deps.Tabs == nil || deps.Executor == nil || deps.Alarms == nil || deps.State == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	n := deps.Notifier
	if n == nil {
		n = notify.Multi{}
	}
	return &Orchestrator{
		cfg:          cfg,
		version:      version,
		capabilities: capabilities,
		api:          deps.API,
		tabs:         deps.Tabs,
		exec:         deps.Executor,
		alarms:       deps.Alarms,
		state:        deps.State,
		notifier:     n,
		logger:       logger.Named("orchestrator"),
		jitter:       func(max time.Duration) time.Duration { return retry.Jitter(0, max) },
		now:          time.Now,
	}, nil
}

// Start arms the periodic wake-up and fires the first tick right away. Ticks run under
// ctx, which should live as long as the process; Stop does not cancel a running tick.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.armed {
		return nil
	}

	snap := o.state.Snapshot()
	o.api.SetCredential(snap.Credentials)
	if snap.InstanceID == "" {
		o.state.SetInstanceID(ctx, uuid.NewString())
	}

	o.baseCtx = ctx
	if err := o.alarms.Create(AlarmName, o.cfg.PollInterval, o.fire); err != nil {
		return fmt.Errorf("failed to arm poll alarm: %w", err)
	}
	o.armed = true
	o.state.SetRunning(ctx, true)
	o.logger.Info("Agent started.", zap.Duration("poll_interval", o.cfg.PollInterval))
	o.notifier.Notify(ctx, notify.Event{Kind: notify.KindStarted, Title: "Agent started", At: o.now().UTC()})

	o.ticks.Add(1)
	go func() {
		defer o.ticks.Done()
		o.Tick(ctx)
	}()
	return nil
}

// Stop disarms the wake-up. A tick already in its busy phase runs to completion.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	if !o.armed {
		o.mu.Unlock()
		return
	}
	o.armed = false
	o.alarms.Clear(AlarmName)
	o.mu.Unlock()

	o.state.SetRunning(ctx, false)
	o.logger.Info("Agent stopped.")
	o.notifier.Notify(ctx, notify.Event{Kind: notify.KindStopped, Title: "Agent stopped", At: o.now().UTC()})
}

// Wait blocks until the tick fired by Start has returned.
func (o *Orchestrator) Wait() { o.ticks.Wait() }

func (o *Orchestrator) fire() {
	o.mu.Lock()
	ctx, armed := o.baseCtx, o.armed
	o.mu.Unlock()
	if !armed || ctx == nil || ctx.Err() != nil {
		return
	}
	o.Tick(ctx)
}

// State reports the loop phase.
func (o *Orchestrator) State() Phase {
	o.mu.Lock()
	armed := o.armed
	o.mu.Unlock()
	switch {
	case !armed:
		return PhaseStopped
	case o.busy.Load():
		return PhaseBusy
	default:
		return PhaseIdle
	}
}

// NextPoll returns when the wake-up alarm fires next; false while stopped.
func (o *Orchestrator) NextPoll() (time.Time, bool) {
	o.mu.Lock()
	armed := o.armed
	o.mu.Unlock()
	if !armed {
		return time.Time{}, false
	}
	return o.alarms.Next(AlarmName)
}

// Snapshot returns a copy of the run state.
func (o *Orchestrator) Snapshot() schemas.RunState { return o.state.Snapshot() }

// ResetStats zeroes the counters.
func (o *Orchestrator) ResetStats(ctx context.Context) { o.state.ResetStats(ctx) }

// SetCredentials stores a new credential and hands it to the API client. A changed key
// drops the agent id, so the next tick registers under the new key.
func (o *Orchestrator) SetCredentials(ctx context.Context, key string) {
	o.state.SetCredentials(ctx, key)
	o.api.SetCredential(key)
}

// Tick runs one poll cycle. Overlapping calls return TickSkipped immediately.
func (o *Orchestrator) Tick(ctx context.Context) (result TickResult) {
	if !o.busy.CompareAndSwap(false, true) {
		o.logger.Debug("Previous tick still running, skipping.")
		return TickSkipped
	}
	defer o.busy.Store(false)

	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("Recovered from panic during tick.", zap.Any("panic_value", p), zap.Stack("stack"))
			o.state.Errored(ctx, fmt.Sprintf("tick panicked: %v", p))
			result = TickAborted
		}
	}()

	if !o.state.Snapshot().Running {
		return TickNotRunning
	}

	if o.cfg.MaxJitter > 0 {
		if err := retry.Sleep(ctx, o.jitter(o.cfg.MaxJitter)); err != nil {
			return TickAborted
		}
	}
	snap := o.state.Polled(ctx, o.now())

	agentID := snap.AgentID
	if agentID == "" {
		id, err := o.api.Register(ctx, schemas.RegisterRequest{
			Name:         o.cfg.Name,
			InstanceID:   snap.InstanceID,
			Version:      o.version,
			Capabilities: o.capabilities,
		})
		if err != nil {
			return o.abort(ctx, "register", err)
		}
		agentID = id
		o.state.Registered(ctx, id)
		o.logger.Info("Registered with task server.", zap.String("agent_id", id))
	}

	platforms, err := o.tabs.LoggedIn(ctx, o.cfg.PlatformIDs())
	if err != nil {
		return o.abort(ctx, "check logins", err)
	}
	o.state.SetActivePlatforms(ctx, platforms)
	o.announce(ctx, agentID, platforms)
	if len(platforms) == 0 {
		o.logger.Info("No configured platform is logged in, skipping poll.")
		return TickNoPlatforms
	}
	wire := schemas.PlatformStrings(platforms)

	if hb, err := o.api.Heartbeat(ctx, schemas.HeartbeatRequest{AgentID: agentID, Platforms: wire, Version: o.version}); err != nil {
		o.logger.Debug("Heartbeat failed.", zap.Error(err))
	} else if hb.PendingTasks > 0 {
		o.logger.Debug("Server has queued work.", zap.Int("pending_tasks", hb.PendingTasks))
	}

	raw, err := o.api.GetTask(ctx, schemas.GetTaskRequest{AgentID: agentID, Platforms: wire, Version: o.version})
	if err != nil {
		var ne *api.NetworkError
		if errors.As(err, &ne) && ne.StatusCode == http.StatusNotFound {
			// The server no longer knows this agent; register again next tick.
			o.state.Registered(ctx, "")
		}
		return o.abort(ctx, "get task", err)
	}
	if raw == nil {
		return TickNoTask
	}

	verdict, task := validator.Validate(raw)
	if !verdict.Valid {
		return o.reject(ctx, agentID, raw, verdict.Reason)
	}
	return o.execute(ctx, agentID, *task, platforms)
}

// announce tells the server about platforms that became logged in since the last
// successful announcement. Failures are retried on the next tick.
func (o *Orchestrator) announce(ctx context.Context, agentID string, platforms []schemas.PlatformID) {
	if o.announcedTo != agentID {
		o.announced = make(map[schemas.PlatformID]bool)
		o.announcedTo = agentID
	}
	current := make(map[schemas.PlatformID]bool, len(platforms))
	for _, p := range platforms {
		current[p] = true
		if o.announced[p] {
			continue
		}
		err := o.api.AddPlatform(ctx, schemas.PlatformRequest{
			AgentID:     agentID,
			Platform:    string(p),
			AccountName: string(p) + "_user",
		})
		if err != nil {
			o.logger.Warn("Failed to announce platform.", zap.String("platform", string(p)), zap.Error(err))
			continue
		}
		o.announced[p] = true
		o.logger.Info("Announced platform to task server.", zap.String("platform", string(p)))
	}
	// A logout followed by a new login is announced again.
	for p := range o.announced {
		if !current[p] {
			delete(o.announced, p)
		}
	}
}

func (o *Orchestrator) abort(ctx context.Context, op string, err error) TickResult {
	msg := fmt.Sprintf("%s: %v", op, err)
	o.logger.Warn("Tick aborted.", zap.String("op", op), zap.Error(err))
	o.state.Errored(ctx, msg)
	return TickAborted
}

func (o *Orchestrator) reject(ctx context.Context, agentID string, raw []byte, reason string) TickResult {
	id := taskIDOf(raw)
	o.logger.Warn("Rejected task.", zap.String("task_id", id), zap.String("reason", reason))

	summary := schemas.TaskSummary{ID: id, Status: schemas.StatusRejected, Error: reason, FinishedAt: o.now().UTC()}
	if id != "" {
		o.report(ctx, agentID, summary)
	}
	o.state.TaskFinished(ctx, summary)
	o.notifier.Notify(ctx, notify.TaskEvent(summary))
	return TickRejected
}

func (o *Orchestrator) execute(ctx context.Context, agentID string, task schemas.Task, loggedIn []schemas.PlatformID) TickResult {
	log := o.logger.With(zap.String("task_id", task.ID), zap.String("platform", string(task.Platform)), zap.String("task_type", string(task.Type)))
	log.Info("Executing task.")

	outcome := o.run(ctx, task, loggedIn)
	summary := task.Summary(outcome.Status(), outcome.Error, o.now())
	if outcome.Success {
		log.Info("Task completed.")
	} else {
		log.Warn("Task failed.", zap.String("error", outcome.Error))
	}

	o.report(ctx, agentID, summary)
	o.state.TaskFinished(ctx, summary)
	o.notifier.Notify(ctx, notify.TaskEvent(summary))
	if outcome.Success {
		return TickCompleted
	}
	return TickFailed
}

func (o *Orchestrator) run(ctx context.Context, task schemas.Task, loggedIn []schemas.PlatformID) schemas.ActionOutcome {
	if !containsPlatform(loggedIn, task.Platform) {
		return schemas.Failed(fmt.Errorf("not logged in to %s", task.Platform))
	}
	targetID, err := o.tabs.AcquireTab(ctx, task.Platform)
	if err != nil {
		return schemas.Failed(fmt.Errorf("failed to acquire %s tab: %w", task.Platform, err))
	}
	var deadline time.Time
	if o.cfg.ExecutionDeadline > 0 {
		deadline = o.now().Add(o.cfg.ExecutionDeadline)
	}
	outcome, err := o.exec.Execute(ctx, targetID, task, deadline)
	if err != nil {
		return schemas.Failed(err)
	}
	return outcome
}

// report sends the terminal status. Failures only become the last error; the outcome
// is not retried.
func (o *Orchestrator) report(ctx context.Context, agentID string, summary schemas.TaskSummary) {
	err := o.api.ReportStatus(ctx, schemas.ReportStatusRequest{
		AgentID: agentID,
		TaskID:  summary.ID,
		Status:  summary.Status,
		Error:   summary.Error,
	})
	if err != nil {
		o.logger.Warn("Failed to report task status.", zap.String("task_id", summary.ID), zap.Error(err))
		o.state.Errored(ctx, fmt.Sprintf("report status: %v", err))
	}
}

// taskIDOf extracts a string id from a payload the validator refused.
func taskIDOf(raw []byte) string {
	var envelope struct {
		ID interface{} `json:"id"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ""
	}
	id, _ := envelope.ID.(string)
	return id
}

func containsPlatform(list []schemas.PlatformID, p schemas.PlatformID) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}
