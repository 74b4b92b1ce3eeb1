package retry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/garagehq/advisor/pkg/faults"
	"github.com/garagehq/advisor/pkg/metrics"
)

// BreakerConfig tunes the per-platform circuit breakers.
type BreakerConfig struct {
	FailThreshold uint32
	Cooldown      time.Duration
}

// DefaultBreakerConfig: three consecutive failures open the breaker for 90s.
var DefaultBreakerConfig = BreakerConfig{FailThreshold: 3, Cooldown: 90 * time.Second}

// Breakers is the process-wide registry of per-platform circuit breakers.
// It outlives any run.
type Breakers struct {
	mu  sync.Mutex
	cfg BreakerConfig
	m   map[string]*gobreaker.CircuitBreaker
}

// NewBreakers creates the registry.
func NewBreakers(cfg BreakerConfig) *Breakers {
	if cfg.FailThreshold == 0 {
		cfg = DefaultBreakerConfig
	}
	return &Breakers{cfg: cfg, m: make(map[string]*gobreaker.CircuitBreaker)}
}

func (b *Breakers) breaker(name string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.m[name]; ok {
		return cb
	}
	threshold := b.cfg.FailThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     b.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// Data-shaped outcomes (NOT_FOUND, PARSE_ERROR) do not
			// count against the platform.
			return err == nil || !faults.CountsForBreaker(faults.CodeOf(err))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerTransitions.WithLabelValues(name, to.String()).Inc()
			slog.Info("circuit breaker state change",
				"platform", name, "from", from.String(), "to", to.String())
		},
	})
	b.m[name] = cb
	return cb
}

// Do runs op through the named breaker. When the breaker is open, op is not
// invoked and a CIRCUIT_OPEN fault is returned immediately.
func (b *Breakers) Do(ctx context.Context, name string, op func(context.Context) error) error {
	cb := b.breaker(name)
	_, err := cb.Execute(func() (any, error) {
		return nil, op(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return faults.Wrap(faults.CodeCircuitOpen, name, err)
	}
	return err
}

// State returns the named breaker's state string for health reporting.
func (b *Breakers) State(name string) string {
	return b.breaker(name).State().String()
}
