package platformauth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// cachedToken is the on-disk record, one file per platform. Expiry is stored
// as seconds on the process monotonic-ish epoch (unix seconds); a record is
// self-describing so stale formats fail closed.
type cachedToken struct {
	Platform               string `json:"platform"`
	Token                  string `json:"token"`
	ExpiresAtMonotonicSecs int64  `json:"expires_at_monotonic_seconds"`
}

// TokenCache persists bearer tokens per platform in the OS temp dir. Reads
// are taken under lock; writes are atomic (write-then-rename) so a crash
// never leaves a torn file.
type TokenCache struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

// NewTokenCache creates a cache rooted at dir, defaulting to
// $TMPDIR/advisor-tokens.
func NewTokenCache(dir string) *TokenCache {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "advisor-tokens")
	}
	return &TokenCache{dir: dir, now: time.Now}
}

func (c *TokenCache) path(platform string) string {
	name := strings.ToLower(strings.ReplaceAll(platform, string(os.PathSeparator), "_"))
	return filepath.Join(c.dir, name+".json")
}

// Get returns the cached token and its expiry. ok is false when the file is
// missing, unreadable, or the token has expired.
func (c *TokenCache) Get(platform string) (token string, expiresAt time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := os.ReadFile(c.path(platform))
	if err != nil {
		return "", time.Time{}, false
	}
	var rec cachedToken
	if err := json.Unmarshal(data, &rec); err != nil || rec.Token == "" {
		return "", time.Time{}, false
	}
	exp := time.Unix(rec.ExpiresAtMonotonicSecs, 0)
	if !exp.After(c.now()) {
		return "", time.Time{}, false
	}
	return rec.Token, exp, true
}

// Put stores a token atomically.
func (c *TokenCache) Put(platform, token string, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return fmt.Errorf("creating token cache dir: %w", err)
	}
	rec := cachedToken{
		Platform:               platform,
		Token:                  token,
		ExpiresAtMonotonicSecs: expiresAt.Unix(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding token record: %w", err)
	}
	if err := renameio.WriteFile(c.path(platform), data, 0o600); err != nil {
		return fmt.Errorf("writing token cache for %s: %w", platform, err)
	}
	return nil
}

// Invalidate removes a platform's cached token.
func (c *TokenCache) Invalidate(platform string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = os.Remove(c.path(platform))
}
