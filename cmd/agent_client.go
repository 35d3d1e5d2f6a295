package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/herald/internal/config"
	"github.com/xkilldash9x/herald/internal/network"
	"github.com/xkilldash9x/herald/internal/observability"
	"github.com/xkilldash9x/herald/internal/statusapi"
)

// errNoAgent means nothing is listening on the status endpoint.
var errNoAgent = errors.New("no running agent is listening")

const agentRequestTimeout = 10 * time.Second

// agentClient talks to a running agent's status endpoint.
type agentClient struct {
	base string
	http *http.Client
}

// newAgentClient returns nil when the status endpoint is disabled.
func newAgentClient(cfg *config.Config) *agentClient {
	st := cfg.Status()
	if !st.Enabled {
		return nil
	}
	cc := network.NewDefaultClientConfig()
	cc.RequestTimeout = agentRequestTimeout
	cc.ForceHTTP2 = false
	cc.Logger = observability.GetLogger()
	return &agentClient{base: "http://" + dialAddr(st.Listen), http: network.NewClient(cc)}
}

// dialAddr turns a listen address into one a local client can dial.
func dialAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// Status reads the live state.
func (a *agentClient) Status(ctx context.Context) (statusapi.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+"/status", nil)
	if err != nil {
		return statusapi.Status{}, err
	}
	return a.do(req)
}

// Control posts a command and returns the state it produced.
func (a *agentClient) Control(ctx context.Context, path string, body interface{}) (statusapi.Status, error) {
	if body == nil {
		body = struct{}{}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return statusapi.Status{}, fmt.Errorf("failed to encode control request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+path, bytes.NewReader(raw))
	if err != nil {
		return statusapi.Status{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req)
}

func (a *agentClient) do(req *http.Request) (statusapi.Status, error) {
	resp, err := a.http.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return statusapi.Status{}, errNoAgent
		}
		return statusapi.Status{}, fmt.Errorf("agent request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return statusapi.Status{}, fmt.Errorf("failed to read agent response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return statusapi.Status{}, fmt.Errorf("agent refused %s %s: %s", req.Method, req.URL.Path, e.Error)
	}
	var out statusapi.Status
	if err := json.Unmarshal(raw, &out); err != nil {
		return statusapi.Status{}, fmt.Errorf("failed to decode agent response: %w", err)
	}
	return out, nil
}
