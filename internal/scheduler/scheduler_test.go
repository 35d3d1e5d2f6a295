package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCreateClampsToMinimum(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	defer s.Close()

	require.NoError(t, s.Create("poll", time.Second, func() {}))

	s.mu.Lock()
	id := s.alarms["poll"]
	s.mu.Unlock()
	sched, ok := s.cron.Entry(id).Schedule.(cron.ConstantDelaySchedule)
	require.True(t, ok)
	assert.Equal(t, MinPeriod, sched.Delay)

	next, ok := s.Next("poll")
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(MinPeriod), next, 2*time.Second)
}

func TestCreateReplacesByName(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	defer s.Close()

	require.NoError(t, s.Create("poll", time.Minute, func() {}))
	require.NoError(t, s.Create("poll", 2*time.Minute, func() {}))
	assert.Len(t, s.cron.Entries(), 1)
}

func TestClear(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	defer s.Close()

	require.NoError(t, s.Create("poll", time.Minute, func() {}))
	assert.True(t, s.Clear("poll"))
	assert.False(t, s.Clear("poll"))
	assert.Empty(t, s.cron.Entries())
	_, ok := s.Next("poll")
	assert.False(t, ok)
}

func TestAlarmFires(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	defer s.Close()
	s.minPeriod = time.Second

	var fired atomic.Int32
	require.NoError(t, s.Create("poll", time.Second, func() { fired.Add(1) }))
	assert.Eventually(t, func() bool { return fired.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestPanickingAlarmKeepsRunning(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	defer s.Close()
	s.minPeriod = time.Second

	var calls atomic.Int32
	require.NoError(t, s.Create("poll", time.Second, func() {
		calls.Add(1)
		panic("tick exploded")
	}))
	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, 4*time.Second, 20*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	require.NoError(t, s.Create("poll", time.Minute, func() {}))
	s.Close()
	s.Close()
	assert.ErrorIs(t, s.Create("poll", time.Minute, func() {}), ErrClosed)
	_, ok := s.Next("poll")
	assert.False(t, ok)
}

func TestCreateRejectsNilCallback(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	defer s.Close()
	assert.Error(t, s.Create("poll", time.Minute, nil))
}
