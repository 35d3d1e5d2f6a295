package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/herald/api/schemas"
	"github.com/xkilldash9x/herald/internal/config"
	"github.com/xkilldash9x/herald/internal/orchestrator"
	"github.com/xkilldash9x/herald/internal/statusapi"
	"github.com/xkilldash9x/herald/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.ServerCfg.URL = "https://tasks.example.test"
	cfg.ServerCfg.APIKey = "k-123"
	cfg.BrowserCfg.RemoteURL = "ws://127.0.0.1:1/devtools/browser/none"
	cfg.StateCfg.Backend = "memory"
	cfg.StatusCfg.Enabled = false
	return cfg
}

func TestCreateAndShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	c, err := NewComponentFactory().Create(context.Background(), cfg, "1.0.0", zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, c.Orchestrator)

	assert.Equal(t, orchestrator.PhaseStopped, c.Orchestrator.State())
	snap := c.Orchestrator.Snapshot()
	assert.Equal(t, "k-123", snap.Credentials, "configured key seeds the credential")
	assert.False(t, snap.Running)
	assert.True(t, c.Browser.Attached())
	assert.Nil(t, c.Status)

	c.Shutdown()
}

func TestCreateServesStatus(t *testing.T) {
	cfg := testConfig(t)
	cfg.StatusCfg.Enabled = true
	cfg.StatusCfg.Listen = "127.0.0.1:0"

	c, err := NewComponentFactory().Create(context.Background(), cfg, "1.0.0", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Shutdown()
	require.NotNil(t, c.Status)

	rec := httptest.NewRecorder()
	c.Status.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		State schemas.RunState `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "********", body.State.Credentials)
}

func TestCreateRestoresPersistedState(t *testing.T) {
	cfg := testConfig(t)
	cfg.StateCfg.Backend = "sqlite"
	cfg.StateCfg.SQLitePath = filepath.Join(t.TempDir(), "state.db")
	cfg.ServerCfg.APIKey = ""
	ctx := context.Background()

	kv, err := store.Open(ctx, cfg.StateCfg, nil)
	require.NoError(t, err)
	seed := schemas.RunState{Credentials: "persisted", AgentID: "agent-7", Stats: schemas.Stats{Completed: 3}}
	require.NoError(t, store.NewStateRepository(kv, cfg.StateCfg.Key, nil).Save(ctx, seed))
	require.NoError(t, kv.Close())

	c, err := NewComponentFactory().Create(ctx, cfg, "1.0.0", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Shutdown()

	snap := c.Orchestrator.Snapshot()
	assert.Equal(t, "persisted", snap.Credentials)
	assert.Equal(t, "agent-7", snap.AgentID)
	assert.Equal(t, uint64(3), snap.Stats.Completed)
}

func TestCreateControlRoutesReachOrchestrator(t *testing.T) {
	cfg := testConfig(t)
	cfg.StatusCfg.Enabled = true
	cfg.StatusCfg.Listen = "127.0.0.1:0"
	cfg.StateCfg.Backend = "sqlite"
	cfg.StateCfg.SQLitePath = filepath.Join(t.TempDir(), "state.db")
	cfg.ServerCfg.APIKey = ""
	ctx := context.Background()

	kv, err := store.Open(ctx, cfg.StateCfg, nil)
	require.NoError(t, err)
	seed := schemas.RunState{Credentials: "old", AgentID: "agent-7", Stats: schemas.Stats{Completed: 7, Failed: 3}}
	require.NoError(t, store.NewStateRepository(kv, cfg.StateCfg.Key, nil).Save(ctx, seed))
	require.NoError(t, kv.Close())

	c, err := NewComponentFactory().Create(ctx, cfg, "1.0.0", zaptest.NewLogger(t))
	require.NoError(t, err)

	send := func(path, body string) {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.RemoteAddr = "127.0.0.1:40000"
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		c.Status.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	send(statusapi.PathResetStats, "{}")
	send(statusapi.PathCredentials, `{"key":"new-key"}`)

	snap := c.Orchestrator.Snapshot()
	assert.Equal(t, "new-key", snap.Credentials)
	assert.Empty(t, snap.AgentID, "a new key registers again")
	assert.Zero(t, snap.Stats.Completed)
	c.Shutdown()

	kv, err = store.Open(ctx, cfg.StateCfg, nil)
	require.NoError(t, err)
	defer kv.Close()
	persisted, err := store.NewStateRepository(kv, cfg.StateCfg.Key, nil).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new-key", persisted.Credentials)
	assert.Zero(t, persisted.Stats.Completed)
	assert.Zero(t, persisted.Stats.Failed)
}

func TestCreateFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
		want   string
	}{
		{"UnknownBackend", func(cfg *config.Config) { cfg.StateCfg.Backend = "etcd" }, "unknown state backend"},
		{"BadProxy", func(cfg *config.Config) { cfg.NetworkCfg.ProxyURL = "::not a url" }, "proxy_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			c, err := NewComponentFactory().Create(context.Background(), cfg, "1.0.0", zaptest.NewLogger(t))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Nil(t, c)
		})
	}
}

func TestShutdownOnEmptyComponents(t *testing.T) {
	assert.NotPanics(t, func() { (&Components{}).Shutdown() })
}
