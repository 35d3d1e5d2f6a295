package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/herald/api/schemas"
	"github.com/xkilldash9x/herald/internal/observability"
	"github.com/xkilldash9x/herald/internal/statusapi"
	"github.com/xkilldash9x/herald/internal/store"
)

// changeState sends a command to the running agent, which owns the state while it
// runs. With no agent listening, fn is applied to the persisted record instead.
// live reports which path was taken.
func changeState(cmd *cobra.Command, path string, body interface{}, fn func(s *schemas.RunState)) (live bool, err error) {
	cfg, err := configFrom(cmd)
	if err != nil {
		return false, err
	}
	logger := observability.GetLogger()
	ctx, cancel := waitCtx(cmd.Context())
	defer cancel()

	if agent := newAgentClient(cfg); agent != nil {
		_, err := agent.Control(ctx, path, body)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, errNoAgent) {
			return false, err
		}
		logger.Debug("No agent listening, updating the store directly.", zap.String("addr", cfg.Status().Listen))
	} else {
		logger.Warn("Status endpoint is disabled; a running agent will not see this change until it restarts.")
	}
	return false, updateState(cmd, fn)
}

// updateState applies fn to the persisted run state. Only safe while no agent runs
// against the same store.
func updateState(cmd *cobra.Command, fn func(s *schemas.RunState)) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := waitCtx(cmd.Context())
	defer cancel()

	kv, err := store.Open(ctx, cfg.State(), observability.GetLogger())
	if err != nil {
		return err
	}
	defer kv.Close()

	repo := store.NewStateRepository(kv, cfg.State().Key, observability.GetLogger())
	state, err := repo.Load(ctx)
	if err != nil {
		return err
	}
	fn(&state)
	return repo.Save(ctx, state)
}

func newSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key [key]",
		Short: "Store the agent credential (reads stdin when no key is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read key from stdin: %w", err)
				}
				key = line
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return errors.New("key must not be empty")
			}
			live, err := changeState(cmd, statusapi.PathCredentials, statusapi.CredentialsRequest{Key: key}, func(s *schemas.RunState) {
				if s.Credentials != key {
					// A new credential may belong to another agent.
					s.AgentID = ""
				}
				s.Credentials = key
			})
			if err != nil {
				return err
			}
			observability.GetLogger().Info("Stored agent credential.", observability.Secret("key", key), zap.Bool("live", live))
			fmt.Fprintln(cmd.OutOrStdout(), "Credential stored.")
			return nil
		},
	}
}

func newResetStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-stats",
		Short: "Zero the completed/failed counters and the last error",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := changeState(cmd, statusapi.PathResetStats, nil, func(s *schemas.RunState) { s.Stats = schemas.Stats{} }); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Stats reset.")
			return nil
		},
	}
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start polling in the running agent, or on its next run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			live, err := changeState(cmd, statusapi.PathStart, nil, func(s *schemas.RunState) { s.Running = true })
			if err != nil {
				return err
			}
			if live {
				fmt.Fprintln(cmd.OutOrStdout(), "Agent started.")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Agent will start on its next run.")
			}
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop polling; the agent process keeps running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			live, err := changeState(cmd, statusapi.PathStop, nil, func(s *schemas.RunState) { s.Running = false })
			if err != nil {
				return err
			}
			if live {
				fmt.Fprintln(cmd.OutOrStdout(), "Agent stopped.")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Agent will stay stopped on its next run.")
			}
			return nil
		},
	}
}
