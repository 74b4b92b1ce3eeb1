package platformauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCache_RoundTrip(t *testing.T) {
	c := NewTokenCache(t.TempDir())
	exp := time.Now().Add(time.Hour)

	require.NoError(t, c.Put("alldata", "tok-123", exp))

	token, got, ok := c.Get("alldata")
	require.True(t, ok)
	assert.Equal(t, "tok-123", token)
	assert.WithinDuration(t, exp, got, time.Second)
}

func TestTokenCache_Miss(t *testing.T) {
	c := NewTokenCache(t.TempDir())
	_, _, ok := c.Get("never-stored")
	assert.False(t, ok)
}

func TestTokenCache_ExpiredTokenRejected(t *testing.T) {
	c := NewTokenCache(t.TempDir())
	require.NoError(t, c.Put("alldata", "tok-123", time.Now().Add(-time.Minute)))

	_, _, ok := c.Get("alldata")
	assert.False(t, ok)
}

func TestTokenCache_Invalidate(t *testing.T) {
	c := NewTokenCache(t.TempDir())
	require.NoError(t, c.Put("alldata", "tok-123", time.Now().Add(time.Hour)))

	c.Invalidate("alldata")

	_, _, ok := c.Get("alldata")
	assert.False(t, ok)
}

func TestTokenCache_PlatformsAreIsolated(t *testing.T) {
	c := NewTokenCache(t.TempDir())
	require.NoError(t, c.Put("alldata", "tok-a", time.Now().Add(time.Hour)))
	require.NoError(t, c.Put("motor", "tok-m", time.Now().Add(time.Hour)))

	token, _, ok := c.Get("motor")
	require.True(t, ok)
	assert.Equal(t, "tok-m", token)
}

func TestAPIChecker_StaticKeyAlwaysAuthenticated(t *testing.T) {
	c := &APIChecker{Platform: "partstech", Cache: NewTokenCache(t.TempDir()), APIKey: "key-1"}

	s, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Authenticated)
	assert.Equal(t, "env", s.TokenSource)
	assert.Equal(t, "key-1", c.Token())
}

func TestAPIChecker_CacheHit(t *testing.T) {
	cache := NewTokenCache(t.TempDir())
	require.NoError(t, cache.Put("alldata", "tok-9", time.Now().Add(time.Hour)))
	c := &APIChecker{Platform: "alldata", Cache: cache}

	s, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Authenticated)
	assert.Equal(t, "cache", s.TokenSource)
	assert.Equal(t, "tok-9", c.Token())
}

func TestAPIChecker_ExpiredCacheNeedsHeal(t *testing.T) {
	cache := NewTokenCache(t.TempDir())
	c := &APIChecker{Platform: "alldata", Cache: cache}

	s, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, s.Authenticated)
	assert.Equal(t, "TOKEN_EXPIRED", s.ReasonCode)
}

func TestAPIChecker_HealRefreshesCache(t *testing.T) {
	cache := NewTokenCache(t.TempDir())
	c := &APIChecker{
		Platform: "alldata",
		Cache:    cache,
		Login:    func(context.Context) (string, error) { return "fresh-token", nil },
	}

	s, err := c.Heal(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Authenticated)
	assert.Equal(t, "login", s.TokenSource)

	token, _, ok := cache.Get("alldata")
	require.True(t, ok)
	assert.Equal(t, "fresh-token", token)
}
