// internal/bridge/bridge.go
//
// Package bridge carries one task at a time from the orchestrator to the dispatcher bound
// to a browser tab, and the outcome back, over the message bus.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/herald/api/schemas"
	"github.com/xkilldash9x/herald/internal/bus"
	"github.com/xkilldash9x/herald/internal/dispatch"
)

// ErrNoWorker is returned when no tab worker is listening.
var ErrNoWorker = errors.New("no tab worker is running")

// EnvProvider builds the dispatcher environment bound to one tab.
type EnvProvider interface {
	EnvFor(ctx context.Context, targetID string) (dispatch.Env, error)
}

// Host is the orchestrator side of the round trip.
type Host struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewHost creates a Host.
func NewHost(b *bus.Bus, logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{bus: b, logger: logger.Named("bridge_host")}
}

// Execute posts EXECUTE_TASK and waits for the TASK_RESULT with the same task id.
// deadline, when non-zero, bounds the dispatcher; Execute itself still waits for the
// result so an outcome is never reported while the dispatcher is running.
func (h *Host) Execute(ctx context.Context, targetID string, task schemas.Task, deadline time.Time) (schemas.ActionOutcome, error) {
	if !h.bus.HasSubscribers(bus.TypeExecuteTask) {
		return schemas.ActionOutcome{}, ErrNoWorker
	}
	// Subscribe before posting so the result cannot slip past.
	results, unsubscribe := h.bus.Subscribe(bus.TypeTaskResult)
	defer func() {
		unsubscribe()
		h.bus.Release(results)
	}()

	req := bus.ExecuteTask{TargetID: targetID, Task: task, Deadline: deadline}
	if err := h.bus.Post(ctx, bus.TypeExecuteTask, req); err != nil {
		return schemas.ActionOutcome{}, fmt.Errorf("failed to hand task to tab %s: %w", targetID, err)
	}

	for {
		select {
		case msg, ok := <-results:
			if !ok {
				return schemas.ActionOutcome{}, bus.ErrClosed
			}
			res, isResult := msg.Payload.(bus.TaskResult)
			h.bus.Acknowledge(msg)
			if !isResult || res.TaskID != task.ID {
				h.logger.Debug("Ignoring unrelated task result.", zap.String("want", task.ID))
				continue
			}
			return res.Outcome(), nil
		case <-ctx.Done():
			return schemas.ActionOutcome{}, ctx.Err()
		}
	}
}

// Worker is the tab side: it runs each EXECUTE_TASK through the platform dispatcher.
type Worker struct {
	bus      *bus.Bus
	registry *dispatch.Registry
	envs     EnvProvider
	logger   *zap.Logger
}

// NewWorker creates a Worker.
func NewWorker(b *bus.Bus, registry *dispatch.Registry, envs EnvProvider, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{bus: b, registry: registry, envs: envs, logger: logger.Named("bridge_worker")}
}

// Run processes requests until ctx is done or the bus shuts down. Requests are handled
// strictly one after another.
func (w *Worker) Run(ctx context.Context) error {
	requests, unsubscribe := w.bus.Subscribe(bus.TypeExecuteTask)
	defer func() {
		unsubscribe()
		if n := w.bus.Release(requests); n > 0 {
			w.logger.Warn("Dropped queued tasks on exit.", zap.Int("count", n))
		}
	}()

	w.logger.Debug("Worker listening for tasks.")
	for {
		select {
		case msg, ok := <-requests:
			if !ok {
				return nil
			}
			w.handle(ctx, msg)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg bus.Message) {
	defer w.bus.Acknowledge(msg)

	req, ok := msg.Payload.(bus.ExecuteTask)
	if !ok {
		w.logger.Error("Unexpected payload on EXECUTE_TASK.", zap.String("message_id", msg.ID))
		return
	}

	out := w.execute(ctx, req)
	if err := w.bus.Post(ctx, bus.TypeTaskResult, bus.ResultFor(req.Task.ID, out)); err != nil {
		if errors.Is(err, bus.ErrClosed) || ctx.Err() != nil {
			w.logger.Debug("Dropping task result during shutdown.", zap.String("task_id", req.Task.ID))
			return
		}
		w.logger.Error("Failed to post task result.", zap.String("task_id", req.Task.ID), zap.Error(err))
	}
}

func (w *Worker) execute(ctx context.Context, req bus.ExecuteTask) (out schemas.ActionOutcome) {
	defer func() {
		if p := recover(); p != nil {
			w.logger.Error("Recovered from panic while preparing dispatcher.", zap.Any("panic_value", p))
			out = schemas.Failed(fmt.Errorf("dispatcher setup panicked: %v", p))
		}
	}()

	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	env, err := w.envs.EnvFor(ctx, req.TargetID)
	if err != nil {
		return schemas.Failed(fmt.Errorf("failed to bind tab %s: %w", req.TargetID, err))
	}
	d, err := w.registry.For(req.Task.Platform, env)
	if err != nil {
		return schemas.Failed(err)
	}
	return d.ExecuteTask(ctx, req.Task)
}
