// Package poll provides the cancellable wait-for-condition loop used for every
// telemetry wait, and the clocks it runs on.
package poll

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrDeadline is returned by Until when the condition is still false after the timeout.
var ErrDeadline = errors.New("poll: deadline exceeded")

// Clock is the time source for polling loops.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type wallClock struct{}

// Wall is the real-time clock.
var Wall Clock = wallClock{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) Sleep(ctx context.Context, d time.Duration) error {
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

// ManualClock advances instantly when slept on. Use it for deterministic tests
// and for simulations that should run faster than real time.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a ManualClock starting at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Until evaluates cond immediately and then once per interval until it reports
// true. No evaluation happens later than timeout after the start: when the next
// one would, Until returns ErrDeadline instead of sleeping. A timeout <= 0 waits
// forever (bounded only by ctx). Errors from cond are returned unmodified.
func Until(ctx context.Context, clk Clock, interval, timeout time.Duration, cond func() (bool, error)) error {
	if clk == nil {
		clk = Wall
	}
	start := clk.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if timeout > 0 && clk.Now().Sub(start)+interval > timeout {
			return ErrDeadline
		}
		if err := clk.Sleep(ctx, interval); err != nil {
			return err
		}
	}
}
