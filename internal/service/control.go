package service

import (
	"context"
	"time"

	"github.com/xkilldash9x/herald/internal/orchestrator"
)

// agentControl exposes the orchestrator to the status server's control routes.
type agentControl struct {
	orch *orchestrator.Orchestrator
	// runCtx outlives any request; alarm-fired ticks derive from the context given to Start.
	runCtx context.Context
}

func (a agentControl) Start(context.Context) error { return a.orch.Start(a.runCtx) }

func (a agentControl) Stop(ctx context.Context) { a.orch.Stop(ctx) }

func (a agentControl) ResetStats(ctx context.Context) { a.orch.ResetStats(ctx) }

func (a agentControl) SetCredentials(ctx context.Context, key string) {
	a.orch.SetCredentials(ctx, key)
}

func (a agentControl) Phase() string { return string(a.orch.State()) }

func (a agentControl) NextPoll() (time.Time, bool) { return a.orch.NextPoll() }
