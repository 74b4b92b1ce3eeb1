package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_DefaultsOnly(t *testing.T) {
	cfg, err := Initialize("")

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "http://127.0.0.1:18800", cfg.Browser.Endpoint)
	assert.Equal(t, uint32(3), cfg.Breaker.FailThreshold)
	assert.Equal(t, 90*time.Second, cfg.Breaker.Cooldown)
	assert.Equal(t, 180*time.Second, cfg.Timeouts.Pipeline)
	assert.Equal(t, 8, cfg.Runner.APIParallelism)
	assert.InDelta(t, 40, cfg.Pricing.ShopMarkupPercent, 0.001)
	assert.InDelta(t, 0.65, cfg.KB.Threshold, 0.001)
}

func TestInitialize_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "advisor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
pricing:
  shop_markup_percent: 35
browser:
  endpoint: http://10.0.0.5:18800
`), 0o644))

	cfg, err := Initialize(path)

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 35, cfg.Pricing.ShopMarkupPercent, 0.001)
	assert.Equal(t, "http://10.0.0.5:18800", cfg.Browser.Endpoint)
	// Untouched fields keep defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.VINDecode)
}

func TestInitialize_MissingFileFails(t *testing.T) {
	_, err := Initialize(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestInitialize_ResolvesCredentialsFromEnv(t *testing.T) {
	t.Setenv("SHOP_ID", "shop-77")
	t.Setenv("ALLDATA_API_KEY", "ad-key")
	t.Setenv("IDENTIFIX_USERNAME", "tech")
	t.Setenv("IDENTIFIX_PASSWORD", "hunter2")

	cfg, err := Initialize("")

	require.NoError(t, err)
	assert.Equal(t, "shop-77", cfg.ShopID)
	assert.True(t, cfg.Platforms.AllData.Enabled())
	assert.True(t, cfg.Platforms.Identifix.Enabled())
	assert.False(t, cfg.Platforms.Motor.Enabled())
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("KB_URL", "http://kb.internal:9000")

	out := ExpandEnv([]byte("knowledge_base:\n  base_url: {{.KB_URL}}\n"))

	assert.Contains(t, string(out), "http://kb.internal:9000")
}

func TestExpandEnv_MissingVarExpandsEmpty(t *testing.T) {
	out := ExpandEnv([]byte("base_url: {{.DEFINITELY_NOT_SET_ANYWHERE}}\n"))
	assert.Equal(t, "base_url: \n", string(out))
}

func TestExpandEnv_LiteralDollarUntouched(t *testing.T) {
	in := []byte("password: pa$$word\n")
	assert.Equal(t, in, ExpandEnv(in))
}

func TestValidate_ClampsOutOfRangeValues(t *testing.T) {
	cfg := defaults()
	cfg.Runner.MaxConcurrent = 0
	cfg.Pricing.ShopMarkupPercent = 900
	cfg.KB.Threshold = 2

	Validate(cfg)

	assert.Equal(t, 1, cfg.Runner.MaxConcurrent)
	assert.InDelta(t, 40, cfg.Pricing.ShopMarkupPercent, 0.001)
	assert.InDelta(t, 0.65, cfg.KB.Threshold, 0.001)
}

func TestPlatformConfig_Enabled(t *testing.T) {
	assert.False(t, PlatformConfig{}.Enabled())
	assert.True(t, PlatformConfig{APIKey: "k"}.Enabled())
	assert.False(t, PlatformConfig{Username: "u"}.Enabled())
	assert.True(t, PlatformConfig{Username: "u", Password: "p"}.Enabled())
}
