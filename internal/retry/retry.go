// File: internal/retry/retry.go

// Package retry polls a condition at randomized intervals until it holds or the time
// budget runs out.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrTimeout is returned by Until when the condition never held before the deadline.
var ErrTimeout = errors.New("retry: timed out")

// Policy parameterizes a fixed-interval retry loop with a randomized interval.
type Policy struct {
	// Timeout is the total budget. Zero means a single attempt.
	Timeout time.Duration
	// MinInterval and MaxInterval bound the randomized pause between attempts.
	MinInterval time.Duration
	MaxInterval time.Duration
}

// Condition is one attempt. It reports done=true when the wait is over. A non-nil
// error aborts the loop immediately.
type Condition func(ctx context.Context) (done bool, err error)

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Jitter returns a uniformly random duration in [min, max].
func Jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	rngMu.Lock()
	defer rngMu.Unlock()
	return min + time.Duration(rng.Int63n(int64(max-min)+1))
}

// Until runs cond until it reports done, returns an error, the context ends, or the
// policy's timeout elapses. The last attempt always runs at or after the deadline, so
// ErrTimeout is never returned early and at most one interval late.
func Until(ctx context.Context, p Policy, cond Condition) error {
	deadline := time.Now().Add(p.Timeout)
	for {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}

		wait := Jitter(p.MinInterval, p.MaxInterval)
		if wait > remaining {
			wait = remaining
		}
		if err := Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
