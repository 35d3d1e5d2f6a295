package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/herald/api/schemas"
	"github.com/xkilldash9x/herald/internal/bus"
)

// broadcastTimeout bounds a STATE_CHANGED post so a stalled consumer cannot hold up a tick.
const broadcastTimeout = 2 * time.Second

// Persister writes the run state. *store.StateRepository satisfies it.
type Persister interface {
	Save(ctx context.Context, state schemas.RunState) error
}

// StateKeeper owns the RunState. Every change goes through a named transition that is
// persisted and broadcast before the next one starts; readers only ever get copies.
type StateKeeper struct {
	mu    sync.Mutex
	state schemas.RunState

	// commitMu serializes persist+broadcast so records land in transition order.
	commitMu sync.Mutex

	repo   Persister
	bus    *bus.Bus
	logger *zap.Logger
}

// NewStateKeeper seeds the keeper with the state loaded at startup. repo and b may be nil.
func NewStateKeeper(initial schemas.RunState, repo Persister, b *bus.Bus, logger *zap.Logger) *StateKeeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateKeeper{state: initial.Clone(), repo: repo, bus: b, logger: logger.Named("state")}
}

// Snapshot returns a copy of the current state.
func (k *StateKeeper) Snapshot() schemas.RunState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.Clone()
}

func (k *StateKeeper) apply(ctx context.Context, transition string, fn func(s *schemas.RunState)) schemas.RunState {
	k.commitMu.Lock()
	defer k.commitMu.Unlock()

	k.mu.Lock()
	fn(&k.state)
	next := k.state.Clone()
	k.mu.Unlock()

	// Persist even when the tick's context is already cancelled.
	ctx = context.WithoutCancel(ctx)
	if k.repo != nil {
		if err := k.repo.Save(ctx, next); err != nil {
			k.logger.Warn("Failed to persist run state.", zap.String("transition", transition), zap.Error(err))
		}
	}
	if k.bus != nil {
		postCtx, cancel := context.WithTimeout(ctx, broadcastTimeout)
		defer cancel()
		if err := k.bus.Post(postCtx, bus.TypeStateChanged, next.Redacted()); err != nil {
			k.logger.Debug("State broadcast dropped.", zap.String("transition", transition), zap.Error(err))
		}
	}
	return next
}

// SetRunning flips the running flag.
func (k *StateKeeper) SetRunning(ctx context.Context, running bool) schemas.RunState {
	return k.apply(ctx, "set_running", func(s *schemas.RunState) { s.Running = running })
}

// SetCredentials replaces the stored agent credential. A different key may belong to
// another agent, so the agent id is forgotten with it.
func (k *StateKeeper) SetCredentials(ctx context.Context, credentials string) schemas.RunState {
	return k.apply(ctx, "set_credentials", func(s *schemas.RunState) {
		if s.Credentials != credentials {
			s.AgentID = ""
		}
		s.Credentials = credentials
	})
}

// SetInstanceID records the local installation id.
func (k *StateKeeper) SetInstanceID(ctx context.Context, id string) schemas.RunState {
	return k.apply(ctx, "set_instance_id", func(s *schemas.RunState) { s.InstanceID = id })
}

// Registered stores the server-assigned agent id. An empty id forgets the registration.
func (k *StateKeeper) Registered(ctx context.Context, agentID string) schemas.RunState {
	return k.apply(ctx, "registered", func(s *schemas.RunState) { s.AgentID = agentID })
}

// SetActivePlatforms replaces the set of logged-in platforms.
func (k *StateKeeper) SetActivePlatforms(ctx context.Context, platforms []schemas.PlatformID) schemas.RunState {
	active := append([]schemas.PlatformID{}, platforms...)
	return k.apply(ctx, "set_active_platforms", func(s *schemas.RunState) { s.ActivePlatforms = active })
}

// Polled stamps the start of a poll.
func (k *StateKeeper) Polled(ctx context.Context, at time.Time) schemas.RunState {
	at = at.UTC()
	return k.apply(ctx, "polled", func(s *schemas.RunState) { s.LastPollAt = &at })
}

// TaskFinished records a terminal task and bumps the matching counter. Failed and
// rejected tasks also become the last error.
func (k *StateKeeper) TaskFinished(ctx context.Context, summary schemas.TaskSummary) schemas.RunState {
	return k.apply(ctx, "task_finished", func(s *schemas.RunState) {
		lt := summary
		s.LastTask = &lt
		if summary.Status == schemas.StatusCompleted {
			s.Stats.Completed++
			return
		}
		s.Stats.Failed++
		if summary.Error != "" {
			s.Stats.LastError = summary.Error
		}
	})
}

// Errored records a failure that did not belong to a task.
func (k *StateKeeper) Errored(ctx context.Context, msg string) schemas.RunState {
	return k.apply(ctx, "errored", func(s *schemas.RunState) { s.Stats.LastError = msg })
}

// ResetStats zeroes the counters and the last error.
func (k *StateKeeper) ResetStats(ctx context.Context) schemas.RunState {
	return k.apply(ctx, "reset_stats", func(s *schemas.RunState) { s.Stats = schemas.Stats{} })
}
