package platformauth

import (
	"context"
	"time"

	"github.com/garagehq/advisor/pkg/browser"
	"github.com/garagehq/advisor/pkg/models"
	"github.com/garagehq/advisor/pkg/tabs"
)

// APIChecker verifies API-class platforms: a static API key is always
// authenticated; a cached bearer token is authenticated until it expires.
type APIChecker struct {
	Platform string
	Cache    *TokenCache
	// APIKey, when set, makes the platform permanently authenticated.
	APIKey string
	// Login exchanges stored credentials for a fresh token. Nil when the
	// platform only supports static keys.
	Login func(ctx context.Context) (token string, err error)
}

// Check reads the cache; it never talks to the platform.
func (c *APIChecker) Check(_ context.Context) (models.AuthState, error) {
	if c.APIKey != "" {
		return models.AuthState{Authenticated: true, TokenSource: "env"}, nil
	}
	if token, exp, ok := c.Cache.Get(c.Platform); ok && token != "" {
		return models.AuthState{Authenticated: true, TokenSource: "cache", ExpiresAt: exp}, nil
	}
	return models.AuthState{Authenticated: false, ReasonCode: "TOKEN_EXPIRED"}, nil
}

// Heal re-logins and refreshes the cache.
func (c *APIChecker) Heal(ctx context.Context) (models.AuthState, error) {
	if c.APIKey != "" {
		return models.AuthState{Authenticated: true, TokenSource: "env"}, nil
	}
	if c.Login == nil {
		return models.AuthState{Authenticated: false, ReasonCode: "NO_LOGIN_PATH"}, nil
	}
	token, err := c.Login(ctx)
	if err != nil {
		return models.AuthState{}, err
	}
	exp := nowPlusHorizon()
	if err := c.Cache.Put(c.Platform, token, exp); err != nil {
		return models.AuthState{}, err
	}
	return models.AuthState{Authenticated: true, TokenSource: "login", ExpiresAt: exp}, nil
}

// Token returns the current bearer token for request signing.
func (c *APIChecker) Token() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if token, _, ok := c.Cache.Get(c.Platform); ok {
		return token
	}
	return ""
}

// BrowserChecker verifies browser-class platforms. Only a browser
// round-trip can tell whether the site session is alive, so Check reports
// NEEDS_BROWSER_CHECK and Heal performs the actual login.
type BrowserChecker struct {
	Platform string
	Driver   *browser.Driver
	Tabs     *tabs.Registry
	Username string
	Password string
	LoginURL string
}

// Check is cheap and conservative: the session may be alive, but only Heal
// can prove it.
func (c *BrowserChecker) Check(_ context.Context) (models.AuthState, error) {
	return models.AuthState{Authenticated: false, ReasonCode: "NEEDS_BROWSER_CHECK"}, nil
}

// Heal re-logins on the platform's tab with the stored credentials. The tab
// is leased for the duration of the heal so a concurrent run's browser stage
// cannot interleave commands on the same page, and closed afterwards.
func (c *BrowserChecker) Heal(ctx context.Context) (models.AuthState, error) {
	tabID, err := c.Driver.OpenTab(ctx, c.Platform)
	if err != nil {
		return models.AuthState{}, err
	}
	if err := c.Tabs.Acquire(ctx, tabID, c.Platform, "heal:"+c.Platform); err != nil {
		return models.AuthState{}, err
	}
	defer c.Tabs.Release(tabID)
	defer func() { _ = c.Driver.CloseTab(context.WithoutCancel(ctx), tabID) }()

	if err := c.Driver.Navigate(ctx, tabID, c.LoginURL); err != nil {
		return models.AuthState{}, err
	}
	// An already-live session lands past the login form; the fill/click
	// sequence is then a no-op on the vendor side.
	if err := c.Driver.Fill(ctx, tabID, "input[name=username]", c.Username); err == nil {
		_ = c.Driver.Fill(ctx, tabID, "input[name=password]", c.Password)
		_ = c.Driver.Click(ctx, tabID, "button[type=submit]")
	}

	marker, err := c.Driver.Text(ctx, tabID, "[data-session-user]")
	if err != nil || marker == "" {
		return models.AuthState{Authenticated: false, ReasonCode: "LOGIN_FAILED"}, nil
	}
	return models.AuthState{
		Authenticated: true,
		TokenSource:   "login",
		ExpiresAt:     nowPlusHorizon(),
	}, nil
}

func nowPlusHorizon() time.Time { return time.Now().Add(ExpiryHorizon) }
