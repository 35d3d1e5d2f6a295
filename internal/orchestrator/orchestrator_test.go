// internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/herald/api/schemas"
	"github.com/xkilldash9x/herald/internal/api"
	"github.com/xkilldash9x/herald/internal/config"
	"github.com/xkilldash9x/herald/internal/notify"
	"github.com/xkilldash9x/herald/internal/store"
)

const likeTask = `{"id":"t1","platform":"twitter","task_type":"like","target_url":"https://x.com/a/status/1"}`

type harness struct {
	api      *fakeAPI
	tabs     *fakeTabs
	exec     *fakeExec
	alarms   *fakeAlarms
	notifier *recordingNotifier
	repo     *store.StateRepository
	orch     *Orchestrator
}

func newHarness(t *testing.T, initial schemas.RunState) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	h := &harness{
		api:      &fakeAPI{agentID: "agent-1", task: []byte(likeTask)},
		tabs:     &fakeTabs{loggedIn: []schemas.PlatformID{schemas.PlatformTwitter}},
		exec:     &fakeExec{outcome: schemas.Succeeded()},
		alarms:   &fakeAlarms{},
		notifier: &recordingNotifier{},
		repo:     store.NewStateRepository(store.NewMemory(), "", logger),
	}
	cfg := config.AgentConfig{
		Name:         "test-agent",
		PollInterval: time.Minute,
		Platforms:    []string{"twitter", "facebook"},
	}
	orch, err := New(cfg, "1.2.3", []string{"twitter:like"}, Dependencies{
		API:      h.api,
		Tabs:     h.tabs,
		Executor: h.exec,
		Alarms:   h.alarms,
		State:    NewStateKeeper(initial, h.repo, nil, logger),
		Notifier: h.notifier,
	}, logger)
	require.NoError(t, err)
	orch.now = func() time.Time { return time.Date(2025, 11, 2, 10, 0, 0, 0, time.UTC) }
	h.orch = orch
	return h
}

func running() schemas.RunState { return schemas.RunState{Running: true} }

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(config.AgentConfig{}, "v", nil, Dependencies{}, nil)
	assert.Error(t, err)
}

func TestTickSuccess(t *testing.T) {
	h := newHarness(t, running())
	ctx := context.Background()

	assert.Equal(t, TickCompleted, h.orch.Tick(ctx))

	assert.Equal(t, []schemas.ReportStatusRequest{{AgentID: "agent-1", TaskID: "t1", Status: schemas.StatusCompleted}}, h.api.reportList())
	assert.Equal(t, []string{"tab-twitter"}, h.exec.targets)
	assert.True(t, h.exec.deadlines[0].IsZero(), "no deadline unless configured")
	assert.Equal(t, []notify.Kind{notify.KindCompleted}, h.notifier.kinds())

	snap := h.orch.Snapshot()
	assert.Equal(t, "agent-1", snap.AgentID)
	assert.Equal(t, uint64(1), snap.Stats.Completed)
	assert.Zero(t, snap.Stats.Failed)
	require.NotNil(t, snap.LastTask)
	assert.Equal(t, schemas.StatusCompleted, snap.LastTask.Status)
	assert.Equal(t, []schemas.PlatformID{schemas.PlatformTwitter}, snap.ActivePlatforms)
	require.NotNil(t, snap.LastPollAt)

	persisted, err := h.repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, persisted)

	// Registered agents do not register again.
	assert.Equal(t, TickCompleted, h.orch.Tick(ctx))
	assert.Equal(t, 1, h.api.registers)
	assert.Equal(t, uint64(2), h.orch.Snapshot().Stats.Completed)
}

func TestTickSingleFlight(t *testing.T) {
	h := newHarness(t, running())
	h.exec.entered = make(chan struct{})
	h.exec.release = make(chan struct{})

	first := make(chan TickResult, 1)
	go func() { first <- h.orch.Tick(context.Background()) }()

	select {
	case <-h.exec.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first tick never reached execution")
	}
	assert.Equal(t, PhaseStopped, h.orch.State(), "ticks may run without the alarm armed")
	assert.Equal(t, TickSkipped, h.orch.Tick(context.Background()))
	assert.Equal(t, TickSkipped, h.orch.Tick(context.Background()))
	close(h.exec.release)

	assert.Equal(t, TickCompleted, <-first)
	assert.Len(t, h.api.reportList(), 1)
	assert.Equal(t, 1, h.api.getTaskCount())
}

func TestTickRegisterFailureAborts(t *testing.T) {
	h := newHarness(t, running())
	h.api.registerErr = &api.NetworkError{Op: "register", StatusCode: http.StatusBadGateway, Message: "bad gateway"}

	assert.Equal(t, TickAborted, h.orch.Tick(context.Background()))
	assert.Zero(t, h.api.getTaskCount())
	assert.Empty(t, h.api.reportList())

	snap := h.orch.Snapshot()
	assert.Contains(t, snap.Stats.LastError, "register")
	assert.Zero(t, snap.Stats.Failed)
	assert.Empty(t, snap.AgentID)
}

func TestTickMissingCredentialAborts(t *testing.T) {
	h := newHarness(t, schemas.RunState{Running: true, AgentID: "agent-1"})
	h.api.getTaskErr = api.ErrMissingCredential

	assert.Equal(t, TickAborted, h.orch.Tick(context.Background()))
	assert.Contains(t, h.orch.Snapshot().Stats.LastError, api.ErrMissingCredential.Error())
	assert.Empty(t, h.api.reportList())
}

func TestTickUnknownAgentRegistersAgain(t *testing.T) {
	h := newHarness(t, schemas.RunState{Running: true, AgentID: "stale"})
	h.api.getTaskErr = &api.NetworkError{Op: "get task", StatusCode: http.StatusNotFound, Message: "unknown agent"}

	assert.Equal(t, TickAborted, h.orch.Tick(context.Background()))
	assert.Empty(t, h.orch.Snapshot().AgentID)

	h.api.getTaskErr = nil
	assert.Equal(t, TickCompleted, h.orch.Tick(context.Background()))
	assert.Equal(t, 1, h.api.registers)
	assert.Equal(t, "agent-1", h.orch.Snapshot().AgentID)
}

func TestTickRejectsInvalidTask(t *testing.T) {
	h := newHarness(t, running())
	h.api.task = []byte(`{"id":"t9","platform":"myspace","task_type":"like"}`)

	assert.Equal(t, TickRejected, h.orch.Tick(context.Background()))
	assert.Zero(t, h.tabs.acquiredCount(), "a rejected task never touches the browser")

	reports := h.api.reportList()
	require.Len(t, reports, 1)
	assert.Equal(t, "t9", reports[0].TaskID)
	assert.Equal(t, schemas.StatusRejected, reports[0].Status)
	assert.Contains(t, reports[0].Error, "unsupported platform")

	snap := h.orch.Snapshot()
	assert.Equal(t, uint64(1), snap.Stats.Failed)
	assert.Contains(t, snap.Stats.LastError, "unsupported platform")
	assert.Equal(t, []notify.Kind{notify.KindRejected}, h.notifier.kinds())
}

func TestTickRejectedWithoutIDIsNotReported(t *testing.T) {
	h := newHarness(t, running())
	h.api.task = []byte(`{"id":42,"platform":"twitter","task_type":"like"}`)

	assert.Equal(t, TickRejected, h.orch.Tick(context.Background()))
	assert.Empty(t, h.api.reportList())
	assert.Equal(t, uint64(1), h.orch.Snapshot().Stats.Failed)
}

func TestTickNoTask(t *testing.T) {
	h := newHarness(t, running())
	h.api.task = nil

	assert.Equal(t, TickNoTask, h.orch.Tick(context.Background()))
	assert.Empty(t, h.api.reportList())
	assert.Equal(t, 1, h.api.heartbeats)
}

func TestTickWithoutLoginsSkipsPoll(t *testing.T) {
	h := newHarness(t, running())
	h.tabs.loggedIn = nil

	assert.Equal(t, TickNoPlatforms, h.orch.Tick(context.Background()))
	assert.Zero(t, h.api.getTaskCount())
	assert.Empty(t, h.orch.Snapshot().ActivePlatforms)
}

func TestTickAnnouncesNewPlatforms(t *testing.T) {
	h := newHarness(t, running())
	ctx := context.Background()

	assert.Equal(t, TickCompleted, h.orch.Tick(ctx))
	require.Len(t, h.api.platforms, 1)
	assert.Equal(t, schemas.PlatformRequest{AgentID: "agent-1", Platform: "twitter", AccountName: "twitter_user"}, h.api.platforms[0])

	// Already announced platforms are not sent again.
	assert.Equal(t, TickCompleted, h.orch.Tick(ctx))
	assert.Equal(t, []string{"twitter"}, h.api.announcedPlatforms())

	h.tabs.loggedIn = []schemas.PlatformID{schemas.PlatformTwitter, schemas.PlatformFacebook}
	assert.Equal(t, TickCompleted, h.orch.Tick(ctx))
	assert.Equal(t, []string{"twitter", "facebook"}, h.api.announcedPlatforms())

	// Logging out and back in announces the platform again.
	h.tabs.loggedIn = []schemas.PlatformID{schemas.PlatformTwitter}
	assert.Equal(t, TickCompleted, h.orch.Tick(ctx))
	h.tabs.loggedIn = []schemas.PlatformID{schemas.PlatformTwitter, schemas.PlatformFacebook}
	assert.Equal(t, TickCompleted, h.orch.Tick(ctx))
	assert.Equal(t, []string{"twitter", "facebook", "facebook"}, h.api.announcedPlatforms())
}

func TestTickAnnounceFailureRetries(t *testing.T) {
	h := newHarness(t, running())
	ctx := context.Background()
	h.api.platformErr = errors.New("server busy")

	// Announcing is best effort and does not block the poll.
	assert.Equal(t, TickCompleted, h.orch.Tick(ctx))
	h.api.platformErr = nil
	assert.Equal(t, TickCompleted, h.orch.Tick(ctx))
	assert.Equal(t, TickCompleted, h.orch.Tick(ctx))
	assert.Equal(t, []string{"twitter", "twitter"}, h.api.announcedPlatforms())
}

func TestTickNewAgentAnnouncesAgain(t *testing.T) {
	h := newHarness(t, running())
	ctx := context.Background()

	assert.Equal(t, TickCompleted, h.orch.Tick(ctx))
	h.orch.SetCredentials(ctx, "other-key")
	h.api.agentID = "agent-2"
	assert.Equal(t, TickCompleted, h.orch.Tick(ctx))

	require.Len(t, h.api.platforms, 2)
	assert.Equal(t, "agent-2", h.api.platforms[1].AgentID)
}

func TestTickExecutionFailure(t *testing.T) {
	h := newHarness(t, running())
	h.exec.outcome = schemas.Failed(errors.New(`element "like button" not found`))

	assert.Equal(t, TickFailed, h.orch.Tick(context.Background()))
	reports := h.api.reportList()
	require.Len(t, reports, 1)
	assert.Equal(t, schemas.StatusFailed, reports[0].Status)
	assert.Equal(t, `element "like button" not found`, reports[0].Error)

	snap := h.orch.Snapshot()
	assert.Equal(t, uint64(1), snap.Stats.Failed)
	assert.Equal(t, `element "like button" not found`, snap.Stats.LastError)
	assert.Equal(t, []notify.Kind{notify.KindFailed}, h.notifier.kinds())
}

func TestTickTaskForLoggedOutPlatformFails(t *testing.T) {
	h := newHarness(t, running())
	h.api.task = []byte(`{"id":"t2","platform":"facebook","task_type":"like","target_url":"https://www.facebook.com/p/1"}`)

	assert.Equal(t, TickFailed, h.orch.Tick(context.Background()))
	assert.Zero(t, h.tabs.acquiredCount())
	assert.Contains(t, h.api.reportList()[0].Error, "not logged in to facebook")
}

func TestTickTabFailure(t *testing.T) {
	h := newHarness(t, running())
	h.tabs.acquireErr = errors.New("browser disconnected")

	assert.Equal(t, TickFailed, h.orch.Tick(context.Background()))
	assert.Contains(t, h.api.reportList()[0].Error, "browser disconnected")
	assert.Empty(t, h.exec.targets)
}

func TestTickReportFailureKeepsStats(t *testing.T) {
	h := newHarness(t, running())
	h.api.reportErr = &api.NetworkError{Op: "task status", Err: errors.New("connection reset")}

	assert.Equal(t, TickCompleted, h.orch.Tick(context.Background()))
	snap := h.orch.Snapshot()
	assert.Equal(t, uint64(1), snap.Stats.Completed)
	assert.Contains(t, snap.Stats.LastError, "report status")
}

func TestTickExecutionDeadline(t *testing.T) {
	h := newHarness(t, running())
	h.orch.cfg.ExecutionDeadline = 90 * time.Second

	assert.Equal(t, TickCompleted, h.orch.Tick(context.Background()))
	assert.Equal(t, h.orch.now().Add(90*time.Second), h.exec.deadlines[0])
}

func TestTickRecoversPanic(t *testing.T) {
	h := newHarness(t, running())
	h.exec.panicWith = "boom"

	assert.Equal(t, TickAborted, h.orch.Tick(context.Background()))
	assert.Contains(t, h.orch.Snapshot().Stats.LastError, "boom")
	// The guard is released.
	h.exec.panicWith = nil
	assert.Equal(t, TickCompleted, h.orch.Tick(context.Background()))
}

func TestTickJitter(t *testing.T) {
	h := newHarness(t, running())
	h.orch.cfg.MaxJitter = 5 * time.Second
	var asked time.Duration
	h.orch.jitter = func(max time.Duration) time.Duration {
		asked = max
		return time.Millisecond
	}
	assert.Equal(t, TickCompleted, h.orch.Tick(context.Background()))
	assert.Equal(t, 5*time.Second, asked)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, TickAborted, h.orch.Tick(ctx))
}

func TestTickWhenStopped(t *testing.T) {
	h := newHarness(t, schemas.RunState{})
	assert.Equal(t, TickNotRunning, h.orch.Tick(context.Background()))
	assert.Zero(t, h.api.registers)
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, schemas.RunState{Credentials: "secret"})
	h.api.task = nil
	ctx := context.Background()

	assert.Equal(t, PhaseStopped, h.orch.State())
	require.NoError(t, h.orch.Start(ctx))
	h.orch.Wait()

	assert.Equal(t, PhaseIdle, h.orch.State())
	assert.Equal(t, map[string]time.Duration{AlarmName: time.Minute}, h.alarms.created)
	assert.Equal(t, "secret", h.api.credential)
	assert.Equal(t, 1, h.api.getTaskCount(), "start polls immediately")

	next, ok := h.orch.NextPoll()
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 11, 2, 10, 1, 0, 0, time.UTC), next)

	snap := h.orch.Snapshot()
	assert.True(t, snap.Running)
	assert.NotEmpty(t, snap.InstanceID)

	// Starting twice is a no-op.
	require.NoError(t, h.orch.Start(ctx))
	h.orch.Wait()
	assert.Equal(t, 1, h.api.getTaskCount())

	h.orch.Stop(ctx)
	assert.Equal(t, PhaseStopped, h.orch.State())
	_, ok = h.orch.NextPoll()
	assert.False(t, ok)
	assert.Empty(t, h.alarms.created)
	assert.Equal(t, []string{AlarmName}, h.alarms.cleared)
	assert.False(t, h.orch.Snapshot().Running)
	assert.Equal(t, TickNotRunning, h.orch.Tick(ctx))

	persisted, err := h.repo.Load(ctx)
	require.NoError(t, err)
	assert.False(t, persisted.Running)
	assert.Equal(t, snap.InstanceID, persisted.InstanceID)
	assert.Equal(t, []notify.Kind{notify.KindStarted, notify.KindStopped}, h.notifier.kinds())
}

func TestStartAlarmFailure(t *testing.T) {
	h := newHarness(t, schemas.RunState{})
	h.alarms.err = errors.New("scheduler closed")

	assert.Error(t, h.orch.Start(context.Background()))
	assert.Equal(t, PhaseStopped, h.orch.State())
	assert.False(t, h.orch.Snapshot().Running)
}

func TestSetCredentialsAndResetStats(t *testing.T) {
	h := newHarness(t, schemas.RunState{
		Credentials: "old-key",
		AgentID:     "agent-1",
		Stats:       schemas.Stats{Completed: 4, Failed: 2, LastError: "x"},
	})
	ctx := context.Background()

	h.orch.SetCredentials(ctx, "old-key")
	assert.Equal(t, "agent-1", h.orch.Snapshot().AgentID, "same key keeps the registration")

	h.orch.SetCredentials(ctx, "new-key")
	assert.Equal(t, "new-key", h.api.credential)
	snap := h.orch.Snapshot()
	assert.Equal(t, "new-key", snap.Credentials)
	assert.Empty(t, snap.AgentID)

	h.orch.ResetStats(ctx)
	assert.Equal(t, schemas.Stats{}, h.orch.Snapshot().Stats)

	persisted, err := h.repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new-key", persisted.Credentials)
	assert.Empty(t, persisted.AgentID)
	assert.Equal(t, schemas.Stats{}, persisted.Stats)
}
