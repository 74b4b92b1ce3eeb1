// Package runs is the run manager: it bounds concurrent pipeline runs,
// tracks a cancel handle per run so the API can abort in-flight work, and
// runs the watchdog that force-releases stale tab leases.
package runs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/garagehq/advisor/pkg/models"
	"github.com/garagehq/advisor/pkg/pipeline"
	"github.com/garagehq/advisor/pkg/tabs"
)

// ErrBusy is returned when the concurrent-run cap is reached.
var ErrBusy = errors.New("run manager at capacity")

// DefaultWatchdogInterval bounds how long a cancelled run's tab leases may
// linger before cleanup.
const DefaultWatchdogInterval = 2 * time.Second

type activeRun struct {
	runID  string
	chatID string
	cancel context.CancelFunc
}

// Manager owns run lifecycle.
type Manager struct {
	orch     *pipeline.Orchestrator
	registry *tabs.Registry
	log      *slog.Logger

	slots chan struct{}

	mu     sync.Mutex
	active map[string]*activeRun // run_id -> handle

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager creates a manager with the given concurrency cap.
func NewManager(orch *pipeline.Orchestrator, registry *tabs.Registry, maxConcurrent int, log *slog.Logger) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		orch:     orch,
		registry: registry,
		log:      log,
		slots:    make(chan struct{}, maxConcurrent),
		active:   make(map[string]*activeRun),
		stopCh:   make(chan struct{}),
	}
	go m.watchdog(DefaultWatchdogInterval)
	return m
}

// Submit starts a run asynchronously and returns its run id. The request's
// RunID is assigned here when empty. Fails fast with ErrBusy at capacity.
func (m *Manager) Submit(req models.Request) (string, error) {
	select {
	case m.slots <- struct{}{}:
	default:
		return "", ErrBusy
	}

	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.active[req.RunID] = &activeRun{runID: req.RunID, chatID: req.ChatID, cancel: cancel}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() { <-m.slots }()
		defer cancel()
		defer func() {
			m.mu.Lock()
			delete(m.active, req.RunID)
			m.mu.Unlock()
		}()

		if _, err := m.orch.Run(runCtx, req); err != nil {
			m.log.Warn("run ended with failure", "run_id", req.RunID, "error", err)
		}
	}()
	return req.RunID, nil
}

// Run executes a pipeline synchronously, still subject to the concurrency
// cap and cancel registry.
func (m *Manager) Run(ctx context.Context, req models.Request) (*models.EstimateResult, error) {
	select {
	case m.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-m.slots }()

	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	m.active[req.RunID] = &activeRun{runID: req.RunID, chatID: req.ChatID, cancel: cancel}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.active, req.RunID)
		m.mu.Unlock()
	}()

	return m.orch.Run(runCtx, req)
}

// Cancel aborts one run. Its tab leases are released by the pipeline's
// finalizer, with the watchdog as the backstop.
func (m *Manager) Cancel(runID string) bool {
	m.mu.Lock()
	r, ok := m.active[runID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.log.Info("cancelling run", "run_id", runID)
	r.cancel()
	return true
}

// CancelChat aborts every active run for a chat and returns the count.
func (m *Manager) CancelChat(chatID string) int {
	m.mu.Lock()
	var targets []*activeRun
	for _, r := range m.active {
		if r.chatID == chatID {
			targets = append(targets, r)
		}
	}
	m.mu.Unlock()
	for _, r := range targets {
		r.cancel()
	}
	return len(targets)
}

// Active reports how many runs are in flight.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// watchdog periodically force-releases stale tab leases, covering adapters
// whose browser commands outlive their cancelled run.
func (m *Manager) watchdog(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			if n := m.registry.CleanupStale(); n > 0 {
				m.log.Warn("watchdog reclaimed stale tab leases", "count", n)
			}
		}
	}
}

// Shutdown cancels every active run and waits for them to drain, bounded by
// ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopCh) })

	m.mu.Lock()
	for _, r := range m.active {
		r.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() { m.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
