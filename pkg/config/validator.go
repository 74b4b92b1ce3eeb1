package config

import "log/slog"

// Validate reports configuration problems. Missing credentials disable the
// corresponding platform (logged, not fatal); structural problems are
// corrected to defaults with a warning so the process always starts.
func Validate(cfg *Config) {
	if cfg.ShopID == "" {
		slog.Warn("SHOP_ID is not set; estimates will be created without a shop identity")
	}
	if cfg.LLM.APIKey == "" {
		slog.Warn("ANTHROPIC_API_KEY is not set; model-supplemented diagnosis disabled")
	}
	if cfg.History.DSN == "" {
		slog.Info("HISTORY_DATABASE_URL is not set; prior-repair lookups disabled")
	}

	check := func(name string, p PlatformConfig) {
		if !p.Enabled() {
			slog.Warn("platform credentials missing; platform disabled",
				"platform", name,
				"expected", name+"_API_KEY or "+name+"_USERNAME/"+name+"_PASSWORD")
		}
	}
	check("ALLDATA", cfg.Platforms.AllData)
	check("IDENTIFIX", cfg.Platforms.Identifix)
	check("MOTOR", cfg.Platforms.Motor)
	check("PARTSTECH", cfg.Platforms.PartsTech)
	check("NEXPART", cfg.Platforms.Nexpart)
	check("AUTOLEAP", cfg.Platforms.AutoLeap)

	clampInt := func(field string, v *int, min int) {
		if *v < min {
			slog.Warn("invalid config value, using minimum", "field", field, "value", *v, "min", min)
			*v = min
		}
	}
	clampInt("runner.max_concurrent", &cfg.Runner.MaxConcurrent, 1)
	clampInt("runner.api_parallelism", &cfg.Runner.APIParallelism, 1)

	if cfg.Pricing.ShopMarkupPercent < 0 || cfg.Pricing.ShopMarkupPercent > 200 {
		slog.Warn("pricing.shop_markup_percent out of range, using default",
			"value", cfg.Pricing.ShopMarkupPercent)
		cfg.Pricing.ShopMarkupPercent = 40
	}
	if cfg.KB.Threshold <= 0 || cfg.KB.Threshold > 1 {
		slog.Warn("knowledge_base.threshold out of range, using default",
			"value", cfg.KB.Threshold)
		cfg.KB.Threshold = 0.65
	}
}
