package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/herald/internal/observability"
	"github.com/xkilldash9x/herald/internal/service"
)

// componentFactory is swapped out in tests.
var componentFactory = service.NewComponentFactory()

func newRunCmd() *cobra.Command {
	var (
		headless     bool
		pollInterval time.Duration
		noStart      bool
	)
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the agent and poll for tasks until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("headless") {
				cfg.SetBrowserHeadless(headless)
			}
			if cmd.Flags().Changed("poll-interval") {
				cfg.SetAgentPollInterval(pollInterval)
				if err := cfg.AgentCfg.Validate(); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			logger := observability.GetLogger()
			logger.Info("Starting herald.", zap.String("version", Version), zap.String("server", cfg.Server().URL))

			components, err := componentFactory.Create(ctx, cfg, Version, logger)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			orch := components.Orchestrator
			if !noStart && (cfg.Agent().AutoStart || orch.Snapshot().Running) {
				if err := orch.Start(ctx); err != nil {
					return err
				}
			} else {
				logger.Info("Agent is stopped; waiting without polling.")
			}

			<-ctx.Done()
			logger.Info("Shutdown signal received.")
			return nil
		},
	}
	runCmd.Flags().BoolVar(&headless, "headless", false, "launch Chrome headless (ignored when attaching)")
	runCmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "override agent.poll_interval")
	runCmd.Flags().BoolVar(&noStart, "no-start", false, "do not start polling even if the agent was running")
	return runCmd
}

// waitCtx is a small helper for commands that only need a bounded store operation.
func waitCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, 30*time.Second)
}
