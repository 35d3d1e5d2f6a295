package statusapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/herald/api/schemas"
	"github.com/xkilldash9x/herald/internal/bus"
)

type fixedSource struct{ state schemas.RunState }

func (f fixedSource) Snapshot() schemas.RunState { return f.state }

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, Status) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body Status
	if rec.Code == http.StatusOK && path == "/status" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestStatusFromSourceIsRedacted(t *testing.T) {
	s := New(fixedSource{schemas.RunState{Running: true, Credentials: "secret", AgentID: "a1"}}, zaptest.NewLogger(t))
	rec, body := get(t, s.Handler(), "/status")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.True(t, body.State.Running)
	assert.Equal(t, "a1", body.State.AgentID)
	assert.Equal(t, "********", body.State.Credentials)
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.Nil(t, body.UpdatedAt)
}

func TestStatusWithoutState(t *testing.T) {
	rec, _ := get(t, New(nil, nil).Handler(), "/status")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	New(nil, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	rec, _ := get(t, New(nil, nil).Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestConsumeStateBroadcasts(t *testing.T) {
	logger := zaptest.NewLogger(t)
	b := bus.New(logger, 4)
	s := New(fixedSource{schemas.RunState{AgentID: "stale"}}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Consume(ctx, b)
	}()
	require.Eventually(t, func() bool { return b.HasSubscribers(bus.TypeStateChanged) }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Post(ctx, bus.TypeStateChanged, schemas.RunState{AgentID: "fresh", Credentials: "k", Stats: schemas.Stats{Completed: 3}}))

	assert.Eventually(t, func() bool {
		_, body := get(t, s.Handler(), "/status")
		return body.State.AgentID == "fresh"
	}, time.Second, 5*time.Millisecond)

	_, body := get(t, s.Handler(), "/status")
	assert.Equal(t, uint64(3), body.State.Stats.Completed)
	assert.Equal(t, "********", body.State.Credentials)
	assert.NotNil(t, body.UpdatedAt)

	cancel()
	<-done
	b.Shutdown()
}

func TestListenAndServe(t *testing.T) {
	s := New(fixedSource{schemas.RunState{AgentID: "a1"}}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

type fakeController struct {
	mu       sync.Mutex
	state    schemas.RunState
	armed    bool
	startErr error
	calls    []string
}

func (f *fakeController) Snapshot() schemas.RunState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Clone()
}

func (f *fakeController) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "start")
	if f.startErr != nil {
		return f.startErr
	}
	f.armed = true
	f.state.Running = true
	return nil
}

func (f *fakeController) Stop(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stop")
	f.armed = false
	f.state.Running = false
}

func (f *fakeController) ResetStats(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "reset")
	f.state.Stats = schemas.Stats{}
}

func (f *fakeController) SetCredentials(ctx context.Context, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "credentials")
	f.state.Credentials = key
}

func (f *fakeController) Phase() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.armed {
		return "idle"
	}
	return "stopped"
}

func (f *fakeController) NextPoll() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.armed {
		return time.Time{}, false
	}
	return time.Date(2025, 11, 2, 10, 1, 0, 0, time.UTC), true
}

func post(t *testing.T, h http.Handler, path, remote, contentType, body string) (*httptest.ResponseRecorder, Status) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.RemoteAddr = remote
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out Status
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func newControlled(t *testing.T) (*fakeController, http.Handler) {
	t.Helper()
	c := &fakeController{state: schemas.RunState{Credentials: "old", Stats: schemas.Stats{Completed: 7, Failed: 3}}}
	return c, New(c, zaptest.NewLogger(t)).WithControl(c).Handler()
}

func TestControlRoutes(t *testing.T) {
	const local = "127.0.0.1:50123"
	c, h := newControlled(t)

	rec, body := post(t, h, PathStart, local, "application/json", "{}")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.State.Running)
	assert.Equal(t, "idle", body.Phase)
	require.NotNil(t, body.NextPollAt)
	assert.Equal(t, time.Date(2025, 11, 2, 10, 1, 0, 0, time.UTC), *body.NextPollAt)

	rec, body = post(t, h, PathResetStats, local, "application/json", "{}")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, body.State.Stats.Completed)
	assert.Zero(t, body.State.Stats.Failed)

	rec, body = post(t, h, PathCredentials, "[::1]:40000", "application/json; charset=utf-8", `{"key":"new-key"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "********", body.State.Credentials)
	assert.NotContains(t, rec.Body.String(), "new-key")
	assert.Equal(t, "new-key", c.Snapshot().Credentials)

	rec, body = post(t, h, PathStop, local, "application/json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, body.State.Running)
	assert.Equal(t, "stopped", body.Phase)
	assert.Nil(t, body.NextPollAt)

	assert.Equal(t, []string{"start", "reset", "credentials", "stop"}, c.calls)
}

func TestControlRefusesRemotePeers(t *testing.T) {
	c, h := newControlled(t)
	rec, _ := post(t, h, PathResetStats, "192.168.1.20:5000", "application/json", "{}")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, c.calls)
	assert.Equal(t, uint64(7), c.Snapshot().Stats.Completed)
}

func TestControlRequiresJSON(t *testing.T) {
	c, h := newControlled(t)
	rec, _ := post(t, h, PathCredentials, "127.0.0.1:1", "text/plain", `{"key":"k"}`)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	rec, _ = post(t, h, PathStop, "127.0.0.1:1", "", "")
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Empty(t, c.calls)
}

func TestControlCredentialsValidation(t *testing.T) {
	c, h := newControlled(t)
	for name, body := range map[string]string{
		"empty key": `{"key":""}`,
		"bad json":  `{"key":`,
	} {
		t.Run(name, func(t *testing.T) {
			rec, _ := post(t, h, PathCredentials, "127.0.0.1:1", "application/json", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Equal(t, "old", c.Snapshot().Credentials)
}

func TestControlStartFailure(t *testing.T) {
	c, h := newControlled(t)
	c.startErr = errors.New("alarm refused")
	rec, _ := post(t, h, PathStart, "127.0.0.1:1", "application/json", "{}")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "alarm refused")
}

func TestControlRoutesAbsentWithoutController(t *testing.T) {
	rec, _ := post(t, New(nil, nil).Handler(), PathStart, "127.0.0.1:1", "application/json", "{}")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusIncludesLoop(t *testing.T) {
	c, h := newControlled(t)
	require.NoError(t, c.Start(context.Background()))
	rec, body := get(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", body.Phase)
	require.NotNil(t, body.NextPollAt)
}
