// internal/api/client.go
//
// Package api speaks the task server's JSON protocol: registration, task polling,
// status reports, platform announcements and heartbeats.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/herald/api/schemas"
	"github.com/xkilldash9x/herald/internal/config"
)

const (
	PathRegister   = "/api/agent/register"
	PathGetTask    = "/api/agent/get-task"
	PathTaskStatus = "/api/agent/task-status"
	PathHeartbeat  = "/api/agent/heartbeat"
	PathPlatform   = "/api/agent/platform"

	maxResponseBytes = 1 << 20
)

var (
	// ErrMissingCredential is returned before any request when no API key is set.
	ErrMissingCredential = errors.New("missing api credential")
	// ErrNoServer is returned before any request when server.url is empty.
	ErrNoServer = errors.New("server url is not configured")
)

// NetworkError covers transport failures, non-2xx responses and responses the server
// marked as unsuccessful.
type NetworkError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: server returned %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	version    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	mu     sync.RWMutex
	apiKey string
}

// NewClient builds a client for cfg. httpClient is usually network.NewClient's result.
func NewClient(cfg config.ServerConfig, httpClient *http.Client, version string, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		version:    version,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger.Named("api_client"),
		apiKey:     cfg.APIKey,
	}
}

// SetCredential replaces the API key sent with every request.
func (c *Client) SetCredential(key string) {
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
}

func (c *Client) credential() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// Register announces the agent and returns the server-assigned agent id.
func (c *Client) Register(ctx context.Context, req schemas.RegisterRequest) (string, error) {
	var resp schemas.RegisterResponse
	if err := c.post(ctx, "register", PathRegister, req, &resp); err != nil {
		return "", err
	}
	if !resp.Success || resp.AgentID == "" {
		return "", &NetworkError{Op: "register", Message: orDefault(resp.Error, "server did not assign an agent id")}
	}
	return resp.AgentID, nil
}

// GetTask asks for at most one task. A nil payload with a nil error means no work.
func (c *Client) GetTask(ctx context.Context, req schemas.GetTaskRequest) ([]byte, error) {
	var resp schemas.GetTaskResponse
	if err := c.post(ctx, "get-task", PathGetTask, req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &NetworkError{Op: "get-task", Message: orDefault(resp.Error, "request was not successful")}
	}
	if !resp.HasTask || len(resp.Task) == 0 || string(resp.Task) == "null" {
		return nil, nil
	}
	return []byte(resp.Task), nil
}

// ReportStatus reports a terminal task status.
func (c *Client) ReportStatus(ctx context.Context, req schemas.ReportStatusRequest) error {
	var ack schemas.Ack
	if err := c.post(ctx, "task-status", PathTaskStatus, req, &ack); err != nil {
		return err
	}
	if !ack.Success {
		return &NetworkError{Op: "task-status", Message: orDefault(ack.Error, "report was not acknowledged")}
	}
	return nil
}

// AddPlatform announces a logged-in platform account.
func (c *Client) AddPlatform(ctx context.Context, req schemas.PlatformRequest) error {
	var ack schemas.Ack
	if err := c.post(ctx, "platform", PathPlatform, req, &ack); err != nil {
		return err
	}
	if !ack.Success {
		return &NetworkError{Op: "platform", Message: orDefault(ack.Error, "platform was not accepted")}
	}
	return nil
}

// Heartbeat tells the server the agent is alive.
func (c *Client) Heartbeat(ctx context.Context, req schemas.HeartbeatRequest) (schemas.HeartbeatResponse, error) {
	var resp schemas.HeartbeatResponse
	err := c.post(ctx, "heartbeat", PathHeartbeat, req, &resp)
	return resp, err
}

func (c *Client) post(ctx context.Context, op, path string, in, out interface{}) error {
	key := c.credential()
	if key == "" {
		return ErrMissingCredential
	}
	if c.baseURL == "" {
		return ErrNoServer
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return &NetworkError{Op: op, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-API-Key", key)
	httpReq.Header.Set("X-Agent-Version", c.version)
	httpReq.Header.Set("User-Agent", "herald-agent/"+c.version)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("Request to task server failed.", zap.String("op", op), zap.Error(err))
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &NetworkError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	c.logger.Debug("Task server responded.",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &NetworkError{Op: op, StatusCode: resp.StatusCode, Message: truncate(strings.TrimSpace(string(respBody)), 256)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &NetworkError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
