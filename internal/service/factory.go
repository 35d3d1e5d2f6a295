// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/herald/internal/api"
	"github.com/xkilldash9x/herald/internal/bridge"
	"github.com/xkilldash9x/herald/internal/browser"
	"github.com/xkilldash9x/herald/internal/bus"
	"github.com/xkilldash9x/herald/internal/config"
	"github.com/xkilldash9x/herald/internal/dispatch"
	"github.com/xkilldash9x/herald/internal/media"
	"github.com/xkilldash9x/herald/internal/network"
	"github.com/xkilldash9x/herald/internal/notify"
	"github.com/xkilldash9x/herald/internal/orchestrator"
	"github.com/xkilldash9x/herald/internal/scheduler"
	"github.com/xkilldash9x/herald/internal/statusapi"
	"github.com/xkilldash9x/herald/internal/store"
)

// busBuffer gives each subscriber a little slack so state broadcasts do not stall ticks.
const busBuffer = 8

// ComponentFactory creates the set of components a running agent needs.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, version string, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory creates the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create wires every component. Background goroutines (tab worker, status endpoint) are
// started here; the orchestrator itself is left stopped for the caller to Start.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, version string, logger *zap.Logger) (_ *Components, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Components{logger: logger}
	defer func() {
		if err != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(err))
			c.Shutdown()
		}
	}()

	// 1. State store.
	kv, err := store.Open(ctx, cfg.State(), logger)
	if err != nil {
		return nil, err
	}
	c.KV = kv
	repo := store.NewStateRepository(kv, cfg.State().Key, logger)
	initial, err := repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	if key := cfg.Server().APIKey; key != "" {
		initial.Credentials = key
	}
	logger.Debug("State store initialized.", zap.String("backend", cfg.State().Backend))

	// 2. Bus and shared HTTP client.
	c.Bus = bus.New(logger, busBuffer)
	clientCfg, err := network.ClientConfigFrom(cfg.Network(), cfg.Server().Timeout, logger)
	if err != nil {
		return nil, err
	}
	httpClient := network.NewClient(clientCfg)

	// 3. Browser; connects lazily on first use.
	c.Browser = browser.NewManager(cfg.Browser(), logger)

	// 4. Tab worker.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	registry := dispatch.NewRegistry()
	envs := &tabEnvs{
		browser: c.Browser,
		fetcher: media.NewFetcher(httpClient, cfg.Media(), logger),
		cfg:     cfg,
		logger:  logger,
	}
	worker := bridge.NewWorker(c.Bus, registry, envs, logger)
	c.goRun("tab_worker", func() error { return worker.Run(runCtx) })

	// 5. Notifications.
	notifiers := notify.Multi{notify.NewLog(logger)}
	if cfg.Notify().NATS.Enabled {
		n, err := notify.NewNATS(cfg.Notify().NATS, logger)
		if err != nil {
			logger.Warn("NATS notifications disabled.", zap.Error(err))
		} else {
			c.nats = n
			notifiers = append(notifiers, n)
		}
	}
	c.Notifier = notifiers

	// 6. Scheduler and orchestrator.
	c.Scheduler = scheduler.New(logger)
	keeper := orchestrator.NewStateKeeper(initial, repo, c.Bus, logger)
	orch, err := orchestrator.New(cfg.Agent(), version, registry.Capabilities(), orchestrator.Dependencies{
		API:      api.NewClient(cfg.Server(), httpClient, version, logger),
		Tabs:     c.Browser,
		Executor: bridge.NewHost(c.Bus, logger),
		Alarms:   c.Scheduler,
		State:    keeper,
		Notifier: c.Notifier,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	c.Orchestrator = orch

	// 7. Status endpoint.
	if st := cfg.Status(); st.Enabled {
		c.Status = statusapi.New(orch, logger).WithControl(agentControl{orch: orch, runCtx: runCtx})
		c.goRun("status_consumer", func() error {
			c.Status.Consume(runCtx, c.Bus)
			return nil
		})
		c.goRun("status_api", func() error { return c.Status.ListenAndServe(runCtx, st.Listen) })
	}

	logger.Info("All agent components initialized.", zap.Strings("capabilities", registry.Capabilities()))
	return c, nil
}
