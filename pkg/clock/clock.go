// Package clock centralizes deadline handling. Every bounded stage derives
// its context here so per-stage budgets can never exceed the remaining
// pipeline budget.
package clock

import (
	"context"
	"time"
)

// Now returns the current time. time.Time carries a monotonic reading, so
// durations computed from two Now values are immune to wall-clock jumps.
func Now() time.Time { return time.Now() }

// WithBudget returns a child context whose deadline is the earlier of
// parent's deadline and now+d. A non-positive d leaves the parent deadline
// in place.
func WithBudget(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	if pd, ok := parent.Deadline(); ok {
		if remaining := time.Until(pd); remaining < d {
			return context.WithCancel(parent)
		}
	}
	return context.WithTimeout(parent, d)
}

// Elapsed reports whether ctx's deadline has passed or it was cancelled.
func Elapsed(ctx context.Context) bool {
	return ctx.Err() != nil
}

// Remaining returns the time left before ctx's deadline, or 0 when there is
// no deadline or it has passed.
func Remaining(ctx context.Context) time.Duration {
	d, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	if r := time.Until(d); r > 0 {
		return r
	}
	return 0
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter
// case. The retry backoff sleeps through here so cancellation is honored.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
