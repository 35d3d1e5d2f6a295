package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/herald/api/schemas"
	"github.com/xkilldash9x/herald/internal/config"
	"github.com/xkilldash9x/herald/internal/observability"
	"github.com/xkilldash9x/herald/internal/statusapi"
	"github.com/xkilldash9x/herald/internal/store"
)

type statusStyles struct {
	title   lipgloss.Style
	key     lipgloss.Style
	value   lipgloss.Style
	ok      lipgloss.Style
	bad     lipgloss.Style
	empty   lipgloss.Style
	section lipgloss.Style
}

func newStatusStyles() statusStyles {
	return statusStyles{
		title:   lipgloss.NewStyle().Bold(true),
		key:     lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(18),
		value:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		ok:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		bad:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		empty:   lipgloss.NewStyle().Faint(true),
		section: lipgloss.NewStyle().MarginTop(1),
	}
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the agent state, live when an agent is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			view, err := readStatus(cmd, cfg)
			if err != nil {
				return err
			}
			view.State = view.State.Redacted()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), renderStatus(view, time.Now(), newStatusStyles())+"\n")
			return err
		},
	}
	statusCmd.Flags().BoolVar(&asJSON, "json", false, "print the state as JSON")
	return statusCmd
}

// readStatus asks the running agent first and falls back to the persisted record.
func readStatus(cmd *cobra.Command, cfg *config.Config) (statusapi.Status, error) {
	if agent := newAgentClient(cfg); agent != nil {
		ctx, cancel := waitCtx(cmd.Context())
		view, err := agent.Status(ctx)
		cancel()
		if err == nil {
			return view, nil
		}
		if !errors.Is(err, errNoAgent) {
			observability.GetLogger().Warn("Agent status unavailable, showing stored state.", zap.Error(err))
		}
	}
	state, err := loadState(cmd, cfg)
	if err != nil {
		return statusapi.Status{}, err
	}
	return statusapi.Status{State: state}, nil
}

func loadState(cmd *cobra.Command, cfg *config.Config) (schemas.RunState, error) {
	ctx, cancel := waitCtx(cmd.Context())
	defer cancel()
	kv, err := store.Open(ctx, cfg.State(), nil)
	if err != nil {
		return schemas.RunState{}, err
	}
	defer kv.Close()
	return store.NewStateRepository(kv, cfg.State().Key, nil).Load(ctx)
}

func renderStatus(view statusapi.Status, now time.Time, st statusStyles) string {
	s := view.State
	row := func(k, v string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, st.key.Render(k), st.value.Render(v))
	}

	running := st.bad.Render("stopped")
	if s.Running {
		running = st.ok.Render("running")
	}
	lines := []string{
		st.title.Render("herald agent"),
		lipgloss.JoinHorizontal(lipgloss.Top, st.key.Render("state"), running),
		row("agent id", orNone(s.AgentID)),
		row("instance", orNone(s.InstanceID)),
		row("credential", orNone(s.Credentials)),
		row("platforms", orNone(strings.Join(schemas.PlatformStrings(s.ActivePlatforms), ", "))),
		row("last poll", ago(s.LastPollAt, now)),
	}
	if view.Phase != "" {
		lines = append(lines, row("loop", view.Phase), row("next poll", until(view.NextPollAt, now)))
	} else {
		lines = append(lines, st.empty.Render("No agent is listening; showing stored state."))
	}

	stats := []string{
		st.title.Render("stats"),
		row("completed", fmt.Sprint(s.Stats.Completed)),
		row("failed", fmt.Sprint(s.Stats.Failed)),
	}
	if s.Stats.LastError != "" {
		stats = append(stats, lipgloss.JoinHorizontal(lipgloss.Top, st.key.Render("last error"), st.bad.Render(s.Stats.LastError)))
	}
	lines = append(lines, st.section.Render(lipgloss.JoinVertical(lipgloss.Left, stats...)))

	if lt := s.LastTask; lt != nil {
		status := st.ok.Render(string(lt.Status))
		if lt.Status != schemas.StatusCompleted {
			status = st.bad.Render(string(lt.Status))
		}
		task := []string{
			st.title.Render("last task"),
			row("id", lt.ID),
			row("platform", orNone(string(lt.Platform))),
			row("type", orNone(string(lt.Type))),
			lipgloss.JoinHorizontal(lipgloss.Top, st.key.Render("status"), status),
			row("finished", ago(&lt.FinishedAt, now)),
		}
		if lt.Error != "" {
			task = append(task, row("error", lt.Error))
		}
		lines = append(lines, st.section.Render(lipgloss.JoinVertical(lipgloss.Left, task...)))
	} else {
		lines = append(lines, st.section.Render(st.empty.Render("No task has run yet.")))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func until(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return "not scheduled"
	}
	d := t.Sub(now).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%s (in %s)", t.Local().Format("2006-01-02 15:04:05"), d)
}

func ago(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	d := now.Sub(*t).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%s (%s ago)", t.Local().Format("2006-01-02 15:04:05"), d)
}
