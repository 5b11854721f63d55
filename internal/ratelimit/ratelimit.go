package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/glacioclim/snowobs/internal/clock"
)

// slack keeps a freed slot from being reclaimed a hair too early after
// the computed wait.
const slack = 10 * time.Millisecond

// Limiter enforces a maximum number of calls over a rolling window.
// Slots free as recorded calls age out of the window, not on fixed
// bucket boundaries. It is the single gate for every outbound request,
// retries included, and is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	maxCalls int
	period   time.Duration
	clk      clock.Clock

	// timestamps of calls still inside the window, oldest first
	calls []time.Time
}

// New creates a Limiter allowing maxCalls per period.
func New(maxCalls int, period time.Duration) *Limiter {
	return NewWithClock(maxCalls, period, clock.System())
}

// NewWithClock is New with an injected clock.
func NewWithClock(maxCalls int, period time.Duration, clk clock.Clock) *Limiter {
	return &Limiter{
		maxCalls: maxCalls,
		period:   period,
		clk:      clk,
	}
}

// Acquire blocks until a slot is available, records the call, and
// returns. It returns early with the context error on cancellation.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		l.mu.Lock()
		now := l.clk.Now()

		// Drop calls that have aged out of the window.
		for len(l.calls) > 0 && now.Sub(l.calls[0]) > l.period {
			l.calls = l.calls[1:]
		}

		if len(l.calls) < l.maxCalls {
			l.calls = append(l.calls, now)
			l.mu.Unlock()
			return nil
		}

		wait := l.period - now.Sub(l.calls[0]) + slack
		l.mu.Unlock()

		if err := l.clk.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}
