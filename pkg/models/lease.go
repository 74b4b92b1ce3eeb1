package models

import "time"

// TabLease records exclusive ownership of one logical page within the shared
// remote-controlled browser. The tab registry is the sole owner of lease
// records; everything else sees copies.
type TabLease struct {
	TabID      string    `json:"tab_id"`
	Platform   string    `json:"platform"`
	RunID      string    `json:"run_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	TouchedAt  time.Time `json:"touched_at"`
}

// AuthPlatformState is one platform's position in the session manager's
// state machine.
type AuthPlatformState string

const (
	AuthStateUnknown       AuthPlatformState = "UNKNOWN"
	AuthStateChecking      AuthPlatformState = "CHECKING"
	AuthStateAuthenticated AuthPlatformState = "AUTHENTICATED"
	AuthStateDegraded      AuthPlatformState = "DEGRADED"
	AuthStateDisabled      AuthPlatformState = "DISABLED"
	AuthStateHealing       AuthPlatformState = "HEALING"
)

// AuthState is a platform's current authentication status. Mutated only by
// the session manager.
type AuthState struct {
	Platform      string            `json:"platform"`
	State         AuthPlatformState `json:"state"`
	Authenticated bool              `json:"authenticated"`
	ReasonCode    string            `json:"reason_code,omitempty"`
	TokenSource   string            `json:"token_source,omitempty"` // cache, login, env
	ExpiresAt     time.Time         `json:"expires_at,omitempty"`
}
