// Package config loads, merges, and validates the advisor configuration:
// YAML file with environment expansion, merged over built-in defaults,
// validated at startup. Missing vendor credentials disable the platform
// rather than failing the process.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Browser   BrowserConfig   `yaml:"browser"`
	Runner    RunnerConfig    `yaml:"runner"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Retry     RetryConfig     `yaml:"retry"`
	Tabs      TabsConfig      `yaml:"tabs"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Pricing   PricingConfig   `yaml:"pricing"`
	KB        KBConfig        `yaml:"knowledge_base"`
	LLM       LLMConfig       `yaml:"llm"`
	History   HistoryConfig   `yaml:"history"`
	Retention RetentionConfig `yaml:"retention"`
	Platforms PlatformsConfig `yaml:"platforms"`

	// ShopID comes from the SHOP_ID environment variable.
	ShopID string `yaml:"-"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Format string `yaml:"format"` // text | json
	Level  string `yaml:"level"`
}

type BrowserConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ArtifactDir string `yaml:"artifact_dir"`
}

type RunnerConfig struct {
	MaxConcurrent  int `yaml:"max_concurrent"`
	APIParallelism int `yaml:"api_parallelism"`
}

type BreakerConfig struct {
	FailThreshold uint32        `yaml:"fail_threshold"`
	Cooldown      time.Duration `yaml:"cooldown"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
}

type TabsConfig struct {
	StaleThreshold time.Duration `yaml:"stale_threshold"`
}

type TimeoutsConfig struct {
	Pipeline        time.Duration `yaml:"pipeline"`
	VINDecode       time.Duration `yaml:"vin_decode"`
	APIResearch     time.Duration `yaml:"api_research"`
	BrowserResearch time.Duration `yaml:"browser_research"`
	Pricing         time.Duration `yaml:"pricing"`
	Estimate        time.Duration `yaml:"estimate"`
	PDF             time.Duration `yaml:"pdf"`
}

type PricingConfig struct {
	ShopMarkupPercent float64 `yaml:"shop_markup_percent"`
	LaborRate         float64 `yaml:"labor_rate"`
	SuppliesPercent   float64 `yaml:"supplies_percent"`
	TaxPercent        float64 `yaml:"tax_percent"`
}

type KBConfig struct {
	BaseURL   string  `yaml:"base_url"`
	Threshold float64 `yaml:"threshold"`
}

type LLMConfig struct {
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens"`
	// APIKey comes from ANTHROPIC_API_KEY.
	APIKey string `yaml:"-"`
}

type HistoryConfig struct {
	// DSN comes from HISTORY_DATABASE_URL; empty disables the store.
	DSN string `yaml:"-"`
}

type RetentionConfig struct {
	ArtifactTTL    time.Duration `yaml:"artifact_ttl"`
	MaxScreenshots int           `yaml:"max_screenshots"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	Interval       time.Duration `yaml:"interval"`
}

// PlatformConfig is one vendor integration. Credentials are resolved from
// <VENDOR>_API_KEY or <VENDOR>_USERNAME / <VENDOR>_PASSWORD.
type PlatformConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`

	APIKey   string `yaml:"-"`
	Username string `yaml:"-"`
	Password string `yaml:"-"`
}

// Enabled reports whether credentials were resolved.
func (p PlatformConfig) Enabled() bool {
	return p.APIKey != "" || (p.Username != "" && p.Password != "")
}

type PlatformsConfig struct {
	AllData   PlatformConfig `yaml:"alldata"`
	Identifix PlatformConfig `yaml:"identifix"`
	Motor     PlatformConfig `yaml:"motor"`
	PartsTech PlatformConfig `yaml:"partstech"`
	Nexpart   PlatformConfig `yaml:"nexpart"`
	AutoLeap  PlatformConfig `yaml:"autoleap"`
}

// Initialize loads, merges, and validates configuration. configPath empty
// means defaults plus environment only.
func Initialize(configPath string) (*Config, error) {
	cfg := defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(ExpandEnv(data), &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging config: %w", err)
		}
	}

	resolveEnv(cfg)
	Validate(cfg)
	slog.Info("Configuration initialized",
		"config_path", configPath,
		"shop_id", cfg.ShopID)
	return cfg, nil
}

// resolveEnv pulls credentials and connection strings from the environment.
func resolveEnv(cfg *Config) {
	cfg.ShopID = os.Getenv("SHOP_ID")
	cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.History.DSN = os.Getenv("HISTORY_DATABASE_URL")

	resolve := func(p *PlatformConfig, vendor string) {
		p.APIKey = os.Getenv(vendor + "_API_KEY")
		p.Username = os.Getenv(vendor + "_USERNAME")
		p.Password = os.Getenv(vendor + "_PASSWORD")
	}
	resolve(&cfg.Platforms.AllData, "ALLDATA")
	resolve(&cfg.Platforms.Identifix, "IDENTIFIX")
	resolve(&cfg.Platforms.Motor, "MOTOR")
	resolve(&cfg.Platforms.PartsTech, "PARTSTECH")
	resolve(&cfg.Platforms.Nexpart, "NEXPART")
	resolve(&cfg.Platforms.AutoLeap, "AUTOLEAP")
}
