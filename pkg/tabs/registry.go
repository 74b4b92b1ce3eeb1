// Package tabs tracks which logical run owns which shared remote-browser
// tab. A single shared browser is assumed; the registry is the cross-run
// arbiter preventing two concurrent runs from fighting over one page.
package tabs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/garagehq/advisor/pkg/faults"
	"github.com/garagehq/advisor/pkg/metrics"
	"github.com/garagehq/advisor/pkg/models"
)

// DefaultStaleThreshold is how old an untouched lease may get before
// cleanup force-releases it.
const DefaultStaleThreshold = time.Minute

// ErrLeaseHeld is wrapped into TAB_CONTENDED faults when a tab is owned by
// another live run.
var errLeaseHeld = faults.New(faults.CodeTabContended, "", "tab lease held by another run")

// Registry is the process-wide lease table. All mutation is locked.
type Registry struct {
	mu        sync.Mutex
	leases    map[string]models.TabLease // tab_id -> lease
	threshold time.Duration
	now       func() time.Time
}

// Option tunes a Registry.
type Option func(*Registry)

// WithStaleThreshold overrides the staleness threshold.
func WithStaleThreshold(d time.Duration) Option {
	return func(r *Registry) { r.threshold = d }
}

// WithNowFunc injects the time source (tests).
func WithNowFunc(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		leases:    make(map[string]models.TabLease),
		threshold: DefaultStaleThreshold,
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register records run ownership of a tab. Registering a tab already held by
// another run fails with TAB_CONTENDED unless that lease is stale, in which
// case it is reclaimed. Re-registering by the owner refreshes the lease.
func (r *Registry) Register(tabID, platform, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if cur, ok := r.leases[tabID]; ok && cur.RunID != runID {
		if now.Sub(cur.TouchedAt) < r.threshold {
			return faults.New(faults.CodeTabContended, platform,
				"tab %s held by run %s", tabID, cur.RunID)
		}
		metrics.TabLeasesReclaimed.Inc()
		slog.Warn("reclaiming stale tab lease",
			"tab_id", tabID, "stale_run_id", cur.RunID, "new_run_id", runID)
	}
	r.leases[tabID] = models.TabLease{
		TabID:      tabID,
		Platform:   platform,
		RunID:      runID,
		AcquiredAt: now,
		TouchedAt:  now,
	}
	return nil
}

// Acquire waits until the tab is free (or its holder's lease goes stale)
// and registers it to runID. Fails with TAB_CONTENDED when ctx expires
// first.
func (r *Registry) Acquire(ctx context.Context, tabID, platform, runID string) error {
	for {
		err := r.Register(tabID, platform, runID)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return faults.New(faults.CodeTabContended, platform,
				"gave up waiting for tab %s: %v", tabID, ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Touch refreshes a lease's staleness clock. Unknown tabs are ignored.
func (r *Registry) Touch(tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.leases[tabID]; ok {
		l.TouchedAt = r.now()
		r.leases[tabID] = l
	}
}

// Release drops one lease.
func (r *Registry) Release(tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.leases, tabID)
}

// ReleaseRun drops every lease owned by runID and returns how many were held.
func (r *Registry) ReleaseRun(runID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, l := range r.leases {
		if l.RunID == runID {
			delete(r.leases, id)
			n++
		}
	}
	return n
}

// StaleTabs returns copies of leases older than the threshold.
func (r *Registry) StaleTabs() []models.TabLease {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var out []models.TabLease
	for _, l := range r.leases {
		if now.Sub(l.TouchedAt) >= r.threshold {
			out = append(out, l)
		}
	}
	return out
}

// CleanupStale force-releases stale leases and returns the count.
func (r *Registry) CleanupStale() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	n := 0
	for id, l := range r.leases {
		if now.Sub(l.TouchedAt) >= r.threshold {
			delete(r.leases, id)
			metrics.TabLeasesReclaimed.Inc()
			n++
		}
	}
	return n
}

// Leases returns a snapshot of all current leases (health reporting).
func (r *Registry) Leases() []models.TabLease {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.TabLease, 0, len(r.leases))
	for _, l := range r.leases {
		out = append(out, l)
	}
	return out
}

// LeasesForRun returns the leases owned by runID.
func (r *Registry) LeasesForRun(runID string) []models.TabLease {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.TabLease
	for _, l := range r.leases {
		if l.RunID == runID {
			out = append(out, l)
		}
	}
	return out
}
