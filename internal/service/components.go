// File: internal/service/components.go
package service

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/herald/internal/browser"
	"github.com/xkilldash9x/herald/internal/bus"
	"github.com/xkilldash9x/herald/internal/notify"
	"github.com/xkilldash9x/herald/internal/orchestrator"
	"github.com/xkilldash9x/herald/internal/scheduler"
	"github.com/xkilldash9x/herald/internal/statusapi"
	"github.com/xkilldash9x/herald/internal/store"
)

// Components holds every long-lived service of a running agent and owns their shutdown.
type Components struct {
	KV           store.KV
	Bus          *bus.Bus
	Browser      *browser.Manager
	Scheduler    *scheduler.Scheduler
	Notifier     notify.Notifier
	Status       *statusapi.Server
	Orchestrator *orchestrator.Orchestrator

	nats   *notify.NATS
	logger *zap.Logger

	// cancel stops the tab worker and the status goroutines.
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *Components) goRun(name string, fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("Background service exited.", zap.String("service", name), zap.Error(err))
		}
	}()
}

// Shutdown releases everything in reverse dependency order. The persisted running flag
// is left untouched so the agent resumes on the next start. Safe on partial components.
func (c *Components) Shutdown() {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	// 1. No new ticks; waits for a running one.
	if c.Scheduler != nil {
		c.Scheduler.Close()
		logger.Debug("Scheduler stopped.")
	}
	if c.Orchestrator != nil {
		c.Orchestrator.Wait()
	}

	// 2. Tab worker and status endpoint.
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	// 3. Transport and outputs.
	if c.Bus != nil {
		c.Bus.Shutdown()
	}
	if c.Browser != nil {
		if err := c.Browser.Close(); err != nil {
			logger.Warn("Error during browser shutdown.", zap.Error(err))
		}
	}
	if c.nats != nil {
		if err := c.nats.Close(); err != nil {
			logger.Warn("Error closing NATS connection.", zap.Error(err))
		}
	}

	// 4. Storage last; the final state transitions above still need it.
	if c.KV != nil {
		if err := c.KV.Close(); err != nil {
			logger.Warn("Error closing state store.", zap.Error(err))
		}
	}
	logger.Info("All agent components shut down.")
}
