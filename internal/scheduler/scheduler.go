// Package scheduler wakes the agent periodically through named alarms.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// MinPeriod is the shortest alarm period. Shorter requests are raised to it.
const MinPeriod = 30 * time.Second

// ErrClosed is returned by Create after Close.
var ErrClosed = errors.New("scheduler is closed")

// Scheduler owns a cron runner and a set of named "@every" alarms.
type Scheduler struct {
	cron      *cron.Cron
	logger    *zap.Logger
	minPeriod time.Duration

	mu     sync.Mutex
	alarms map[string]cron.EntryID
	closed bool
}

// New creates and starts a Scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	cl := cronLogger{logger.Sugar()}
	s := &Scheduler{
		cron:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		logger:    logger,
		minPeriod: MinPeriod,
		alarms:    make(map[string]cron.EntryID),
	}
	s.cron.Start()
	return s
}

// Create registers fn under name, replacing any alarm with the same name.
func (s *Scheduler) Create(name string, period time.Duration, fn func()) error {
	if fn == nil {
		return fmt.Errorf("alarm %q has no callback", name)
	}
	if period < s.minPeriod {
		s.logger.Debug("Raising alarm period to the minimum.",
			zap.String("alarm", name), zap.Duration("requested", period), zap.Duration("min", s.minPeriod))
		period = s.minPeriod
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if id, exists := s.alarms[name]; exists {
		s.cron.Remove(id)
		delete(s.alarms, name)
	}

	id, err := s.cron.AddFunc("@every "+period.String(), fn)
	if err != nil {
		return fmt.Errorf("failed to schedule alarm %q: %w", name, err)
	}
	s.alarms[name] = id
	s.logger.Info("Alarm armed.", zap.String("alarm", name), zap.Duration("period", period))
	return nil
}

// Clear removes the named alarm and reports whether it existed.
func (s *Scheduler) Clear(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, exists := s.alarms[name]
	if !exists {
		return false
	}
	s.cron.Remove(id)
	delete(s.alarms, name)
	s.logger.Info("Alarm cleared.", zap.String("alarm", name))
	return true
}

// Next returns the next fire time of the named alarm; false when it is not armed.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, exists := s.alarms[name]
	s.mu.Unlock()
	if !exists {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Close stops the runner and waits for running callbacks to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.alarms = make(map[string]cron.EntryID)
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Debug("Scheduler stopped.")
}

// cronLogger routes cron's internal logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
