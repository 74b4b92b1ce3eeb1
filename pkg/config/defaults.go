package config

import "time"

// defaults returns the built-in configuration. Every field the validator
// treats as required has a workable default; credentials never do.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
		Browser: BrowserConfig{
			Endpoint: "http://127.0.0.1:18800",
		},
		Runner: RunnerConfig{
			MaxConcurrent:  4,
			APIParallelism: 8,
		},
		Breaker: BreakerConfig{
			FailThreshold: 3,
			Cooldown:      90 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries: 2,
			BaseDelay:  500 * time.Millisecond,
		},
		Tabs: TabsConfig{
			StaleThreshold: time.Minute,
		},
		Timeouts: TimeoutsConfig{
			Pipeline:        180 * time.Second,
			VINDecode:       10 * time.Second,
			APIResearch:     25 * time.Second,
			BrowserResearch: 75 * time.Second,
			Pricing:         60 * time.Second,
			Estimate:        45 * time.Second,
			PDF:             20 * time.Second,
		},
		Pricing: PricingConfig{
			ShopMarkupPercent: 40,
			LaborRate:         150,
		},
		KB: KBConfig{
			Threshold: 0.65,
		},
		LLM: LLMConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 2048,
		},
		Retention: RetentionConfig{
			ArtifactTTL:    24 * time.Hour,
			MaxScreenshots: 100,
			SessionTTL:     24 * time.Hour,
			Interval:       15 * time.Minute,
		},
		Platforms: PlatformsConfig{
			AllData:   PlatformConfig{BaseURL: "https://api.alldata.com", Timeout: 25 * time.Second},
			Identifix: PlatformConfig{Timeout: 75 * time.Second},
			Motor:     PlatformConfig{BaseURL: "https://api.motor.com", Timeout: 25 * time.Second},
			PartsTech: PlatformConfig{BaseURL: "https://api.partstech.com", Timeout: 25 * time.Second},
			Nexpart:   PlatformConfig{Timeout: 60 * time.Second},
			AutoLeap:  PlatformConfig{BaseURL: "https://api.autoleap.com", Timeout: 45 * time.Second},
		},
	}
}
