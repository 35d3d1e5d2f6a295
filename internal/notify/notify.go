// Package notify delivers fire-and-forget notifications about task outcomes. Delivery
// failures are logged and never reach the caller.
package notify

import (
	"context"
	"fmt"
	"time"

	json "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/herald/api/schemas"
	"github.com/xkilldash9x/herald/internal/config"
)

// Kind classifies an Event.
type Kind string

const (
	KindCompleted Kind = "task_completed"
	KindFailed    Kind = "task_failed"
	KindRejected  Kind = "task_rejected"
	KindStarted   Kind = "agent_started"
	KindStopped   Kind = "agent_stopped"
)

// Event is one notification.
type Event struct {
	Kind     Kind               `json:"kind"`
	Title    string             `json:"title"`
	Message  string             `json:"message,omitempty"`
	TaskID   string             `json:"task_id,omitempty"`
	Platform schemas.PlatformID `json:"platform,omitempty"`
	At       time.Time          `json:"at"`
}

// TaskEvent builds the notification for a finished task.
func TaskEvent(summary schemas.TaskSummary) Event {
	ev := Event{TaskID: summary.ID, Platform: summary.Platform, Message: summary.Error, At: summary.FinishedAt}
	switch summary.Status {
	case schemas.StatusCompleted:
		ev.Kind = KindCompleted
		ev.Title = fmt.Sprintf("%s %s completed", summary.Platform, summary.Type)
	case schemas.StatusRejected:
		ev.Kind = KindRejected
		ev.Title = "Task rejected"
	default:
		ev.Kind = KindFailed
		ev.Title = fmt.Sprintf("%s %s failed", summary.Platform, summary.Type)
	}
	return ev
}

// Notifier never blocks the caller for long and never fails it.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Log writes notifications to the structured log.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("notify")}
}

func (l *Log) Notify(_ context.Context, ev Event) {
	fields := []zap.Field{zap.String("kind", string(ev.Kind))}
	if ev.TaskID != "" {
		fields = append(fields, zap.String("task_id", ev.TaskID))
	}
	if ev.Platform != "" {
		fields = append(fields, zap.String("platform", string(ev.Platform)))
	}
	if ev.Message != "" {
		fields = append(fields, zap.String("detail", ev.Message))
	}
	if ev.Kind == KindFailed || ev.Kind == KindRejected {
		l.logger.Warn(ev.Title, fields...)
		return
	}
	l.logger.Info(ev.Title, fields...)
}

// publisher is the slice of *nats.Conn the NATS notifier uses.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes notifications as JSON on one subject.
type NATS struct {
	conn    publisher
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATS connects to cfg.URL. The connection reconnects forever in the background.
func NewNATS(cfg config.NATSConfig, logger *zap.Logger) (*NATS, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("notify_nats")
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("herald-agent"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Disconnected from NATS.", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	n := newNATS(nc, cfg.Subject, logger)
	n.nc = nc
	return n, nil
}

func newNATS(conn publisher, subject string, logger *zap.Logger) *NATS {
	if subject == "" {
		subject = "herald.events"
	}
	return &NATS{conn: conn, subject: subject, logger: logger}
}

func (n *NATS) Notify(_ context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("Failed to encode notification.", zap.Error(err))
		return
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		n.logger.Warn("Failed to publish notification.", zap.String("subject", n.subject), zap.Error(err))
	}
}

// Close drains the connection.
func (n *NATS) Close() error {
	if n.nc == nil {
		return nil
	}
	return n.nc.Drain()
}

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}
