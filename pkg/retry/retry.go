// Package retry implements the bounded-backoff retry policy and the
// process-wide per-platform circuit breakers.
package retry

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/garagehq/advisor/pkg/clock"
	"github.com/garagehq/advisor/pkg/faults"
)

// Policy bounds a retried operation.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultPolicy matches the pipeline defaults: two retries, 500ms base.
var DefaultPolicy = Policy{MaxRetries: 2, BaseDelay: 500 * time.Millisecond}

// WithRetry runs op, retrying retryable failures with exponential backoff and
// small jitter. Terminal failures are re-thrown immediately. DEADLINE_EXCEEDED
// is retried at most once regardless of MaxRetries. On exhaustion the last
// error is returned.
func WithRetry(ctx context.Context, log *slog.Logger, name string, p Policy, op func(context.Context) error) error {
	var lastErr error
	deadlineRetries := 0
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return faults.Wrap(faults.CodeDeadlineExceeded, "", err)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		code := faults.CodeOf(lastErr)
		if !faults.Retryable(code) {
			return lastErr
		}
		if code == faults.CodeDeadlineExceeded {
			deadlineRetries++
			if deadlineRetries > 1 {
				return lastErr
			}
		}
		if attempt >= p.MaxRetries {
			return lastErr
		}

		delay := backoff(p.BaseDelay, attempt)
		if log != nil {
			log.Warn("retrying after failure",
				"op", name, "attempt", attempt+1, "code", string(code), "delay", delay)
		}
		if err := clock.Sleep(ctx, delay); err != nil {
			return lastErr
		}
	}
}

// backoff is base × 2^attempt plus up to 10% jitter.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base << uint(attempt)
	jitter := time.Duration(rand.Int64N(int64(d)/10 + 1))
	return d + jitter
}
