// Package statusapi serves the agent's run state on a local HTTP endpoint. It consumes
// STATE_CHANGED broadcasts from the bus and keeps the latest one. With a Controller
// attached it also accepts start, stop, reset-stats and credential commands from
// local callers, so the CLI changes a running agent through its owner instead of
// racing it on the store.
package statusapi

import (
	"context"
	"errors"
	"mime"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/herald/api/schemas"
	"github.com/xkilldash9x/herald/internal/bus"
)

// Snapshotter supplies the current state before any broadcast has arrived.
type Snapshotter interface {
	Snapshot() schemas.RunState
}

// Controller is the running agent's command surface.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	ResetStats(ctx context.Context)
	SetCredentials(ctx context.Context, key string)
	Phase() string
	NextPoll() (time.Time, bool)
}

// Control route paths.
const (
	PathStart       = "/control/start"
	PathStop        = "/control/stop"
	PathResetStats  = "/control/reset-stats"
	PathCredentials = "/control/credentials"
)

const maxControlBody = 4 << 10

// Status is the body of GET /status and of every control response.
type Status struct {
	State      schemas.RunState `json:"state"`
	UpdatedAt  *time.Time       `json:"updated_at,omitempty"`
	Phase      string           `json:"phase,omitempty"`
	NextPollAt *time.Time       `json:"next_poll_at,omitempty"`
}

// CredentialsRequest is the body of POST /control/credentials.
type CredentialsRequest struct {
	Key string `json:"key"`
}

// Server is the status endpoint.
type Server struct {
	source  Snapshotter
	control Controller
	logger  *zap.Logger
	router  *mux.Router

	mu     sync.RWMutex
	latest *schemas.RunState
	seenAt time.Time
}

// New builds the router. source may be nil.
func New(source Snapshotter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{source: source, logger: logger.Named("statusapi"), router: mux.NewRouter()}
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return s
}

// WithControl registers the control routes. They accept JSON posts from loopback
// peers only.
func (s *Server) WithControl(c Controller) *Server {
	s.control = c
	sub := s.router.PathPrefix("/control").Methods(http.MethodPost).Subrouter()
	sub.Use(s.localJSONOnly)
	sub.HandleFunc("/start", s.handleStart)
	sub.HandleFunc("/stop", s.handleStop)
	sub.HandleFunc("/reset-stats", s.handleResetStats)
	sub.HandleFunc("/credentials", s.handleCredentials)
	return s
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler { return s.router }

// Consume records STATE_CHANGED broadcasts until ctx ends or the bus shuts down.
func (s *Server) Consume(ctx context.Context, b *bus.Bus) {
	msgs, unsubscribe := b.Subscribe(bus.TypeStateChanged)
	defer func() {
		unsubscribe()
		b.Release(msgs)
	}()
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if state, isState := msg.Payload.(schemas.RunState); isState {
				redacted := state.Redacted()
				s.mu.Lock()
				s.latest = &redacted
				s.seenAt = msg.Timestamp
				s.mu.Unlock()
			}
			b.Acknowledge(msg)
		case <-ctx.Done():
			return
		}
	}
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("Status endpoint listening.", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) current() (schemas.RunState, *time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest != nil {
		at := s.seenAt
		return s.latest.Clone(), &at, true
	}
	if s.source != nil {
		return s.source.Snapshot().Redacted(), nil, true
	}
	return schemas.RunState{}, nil, false
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, at, ok := s.current()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "state not available yet"})
		return
	}
	writeJSON(w, http.StatusOK, s.withLoop(Status{State: state, UpdatedAt: at}))
}

// withLoop adds the controller's phase and next poll time.
func (s *Server) withLoop(st Status) Status {
	if s.control == nil {
		return st
	}
	st.Phase = s.control.Phase()
	if next, ok := s.control.NextPoll(); ok {
		next = next.UTC()
		st.NextPollAt = &next
	}
	return st
}

// localJSONOnly refuses remote peers and non-JSON bodies. Browsers cannot send a
// cross-origin JSON post without a preflight, which this server never answers.
func (s *Server) localJSONOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if ip := net.ParseIP(host); err != nil || ip == nil || !ip.IsLoopback() {
			s.logger.Warn("Refused control request from non-local peer.", zap.String("remote", r.RemoteAddr), zap.String("path", r.URL.Path))
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "control is only available from this machine"})
			return
		}
		if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
			writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "content type must be application/json"})
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxControlBody)
		next.ServeHTTP(w, r)
	})
}

// controlled answers with the state the command produced, read from the owner rather
// than the last broadcast.
func (s *Server) controlled(w http.ResponseWriter) {
	var state schemas.RunState
	if s.source != nil {
		state = s.source.Snapshot().Redacted()
	}
	writeJSON(w, http.StatusOK, s.withLoop(Status{State: state}))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.control.Start(r.Context()); err != nil {
		s.logger.Error("Control start failed.", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Info("Agent started by control request.")
	s.controlled(w)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.control.Stop(r.Context())
	s.logger.Info("Agent stopped by control request.")
	s.controlled(w)
}

func (s *Server) handleResetStats(w http.ResponseWriter, r *http.Request) {
	s.control.ResetStats(r.Context())
	s.logger.Info("Stats reset by control request.")
	s.controlled(w)
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "key must not be empty"})
		return
	}
	s.control.SetCredentials(r.Context(), req.Key)
	s.logger.Info("Credential replaced by control request.")
	s.controlled(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
