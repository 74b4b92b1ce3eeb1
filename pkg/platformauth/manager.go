// Package platformauth is the session manager for vendor platform
// authentication. It owns one AuthState per integrated platform and is the
// only component allowed to mutate them.
//
// State machine per platform:
//
//	UNKNOWN -> CHECKING -> {AUTHENTICATED, DEGRADED, DISABLED}
//	DEGRADED -> HEALING -> AUTHENTICATED | DEGRADED
package platformauth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/garagehq/advisor/pkg/faults"
	"github.com/garagehq/advisor/pkg/models"
)

// Checker knows how to verify and restore one platform's authentication.
// HTTP platforms check a token cache; browser platforms re-login through the
// shared browser.
type Checker interface {
	// Check returns the current state without side effects beyond reading
	// caches. Reports NEEDS_BROWSER_CHECK as a reason code when only a
	// browser round-trip can tell.
	Check(ctx context.Context) (models.AuthState, error)
	// Heal attempts to restore authentication, e.g. re-login with stored
	// credentials on the shared browser.
	Heal(ctx context.Context) (models.AuthState, error)
}

// Manager tracks per-platform auth state. Platforms without configured
// credentials are registered as disabled and skipped by stages requiring
// them.
type Manager struct {
	mu       sync.Mutex
	states   map[string]models.AuthState
	checkers map[string]Checker
	log      *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		states:   make(map[string]models.AuthState),
		checkers: make(map[string]Checker),
		log:      log,
	}
}

// RegisterPlatform adds a platform with its checker. A nil checker marks the
// platform disabled (credentials not configured).
func (m *Manager) RegisterPlatform(platform string, c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c == nil {
		m.states[platform] = models.AuthState{
			Platform:   platform,
			State:      models.AuthStateDisabled,
			ReasonCode: "PLATFORM_DISABLED",
		}
		return
	}
	m.checkers[platform] = c
	m.states[platform] = models.AuthState{Platform: platform, State: models.AuthStateUnknown}
}

// State returns the last known state for a platform.
func (m *Manager) State(platform string) models.AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[platform]; ok {
		return s
	}
	return models.AuthState{
		Platform:   platform,
		State:      models.AuthStateDisabled,
		ReasonCode: "PLATFORM_DISABLED",
	}
}

// Enabled reports whether the platform has a registered checker.
func (m *Manager) Enabled(platform string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.checkers[platform]
	return ok
}

// Platforms lists registered platforms, enabled or not.
func (m *Manager) Platforms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.states))
	for p := range m.states {
		out = append(out, p)
	}
	return out
}

func (m *Manager) setState(s models.AuthState) {
	m.mu.Lock()
	m.states[s.Platform] = s
	m.mu.Unlock()
}

func (m *Manager) transition(platform string, to models.AuthPlatformState) {
	m.mu.Lock()
	s := m.states[platform]
	s.Platform = platform
	s.State = to
	m.states[platform] = s
	m.mu.Unlock()
}

// Check queries the platform's current auth state.
func (m *Manager) Check(ctx context.Context, platform string) models.AuthState {
	m.mu.Lock()
	c, ok := m.checkers[platform]
	m.mu.Unlock()
	if !ok {
		return m.State(platform)
	}

	m.transition(platform, models.AuthStateChecking)
	state, err := c.Check(ctx)
	state.Platform = platform
	if err != nil {
		state.State = models.AuthStateDegraded
		state.Authenticated = false
		if state.ReasonCode == "" {
			state.ReasonCode = string(faults.CodeOf(err))
		}
		m.log.Warn("auth check failed", "platform", platform, "error", err)
	} else if state.State == "" {
		if state.Authenticated {
			state.State = models.AuthStateAuthenticated
		} else {
			state.State = models.AuthStateDegraded
		}
	}
	m.setState(state)
	return state
}

// Heal attempts to restore a degraded platform. Disabled platforms are left
// alone.
func (m *Manager) Heal(ctx context.Context, platform string) models.AuthState {
	m.mu.Lock()
	c, ok := m.checkers[platform]
	m.mu.Unlock()
	if !ok {
		return m.State(platform)
	}

	m.transition(platform, models.AuthStateHealing)
	state, err := c.Heal(ctx)
	state.Platform = platform
	if err != nil {
		state.State = models.AuthStateDegraded
		state.Authenticated = false
		if state.ReasonCode == "" {
			state.ReasonCode = string(faults.CodeOf(err))
		}
		m.log.Warn("auth heal failed", "platform", platform, "error", err)
	} else if state.State == "" {
		if state.Authenticated {
			state.State = models.AuthStateAuthenticated
		} else {
			state.State = models.AuthStateDegraded
		}
	}
	m.setState(state)
	return state
}

// Preflight runs check-then-heal for every enabled platform in parallel and
// returns the outcome map. Disabled platforms appear with their disabled
// state so callers can report them.
func (m *Manager) Preflight(ctx context.Context) map[string]models.AuthState {
	m.mu.Lock()
	enabled := make([]string, 0, len(m.checkers))
	for p := range m.checkers {
		enabled = append(enabled, p)
	}
	disabled := make([]models.AuthState, 0)
	for p, s := range m.states {
		if _, ok := m.checkers[p]; !ok {
			disabled = append(disabled, s)
		}
	}
	m.mu.Unlock()

	results := make(map[string]models.AuthState, len(enabled)+len(disabled))
	var resMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, platform := range enabled {
		g.Go(func() error {
			state := m.Check(gctx, platform)
			if !state.Authenticated && state.State != models.AuthStateDisabled {
				state = m.Heal(gctx, platform)
			}
			resMu.Lock()
			results[platform] = state
			resMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, s := range disabled {
		results[s.Platform] = s
	}
	return results
}

// Usable reports whether the platform may be called right now.
func (m *Manager) Usable(platform string) bool {
	return m.State(platform).State == models.AuthStateAuthenticated
}

// MarkDegraded records an auth failure observed mid-run (e.g. a 401); the
// platform will be healed on next use.
func (m *Manager) MarkDegraded(platform, reason string) {
	m.setState(models.AuthState{
		Platform:   platform,
		State:      models.AuthStateDegraded,
		ReasonCode: reason,
	})
}

// ExpiryHorizon is the default lifetime granted to healed sessions when the
// platform does not report one.
const ExpiryHorizon = 4 * time.Hour
