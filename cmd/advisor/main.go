// Advisor estimate server: provides the chat gateway HTTP API, runs the
// estimate pipeline, and manages the shared browser's tab leases.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/garagehq/advisor/pkg/adapters"
	"github.com/garagehq/advisor/pkg/adapters/alldata"
	"github.com/garagehq/advisor/pkg/adapters/autoleap"
	"github.com/garagehq/advisor/pkg/adapters/estpdf"
	"github.com/garagehq/advisor/pkg/adapters/identifix"
	"github.com/garagehq/advisor/pkg/adapters/motor"
	"github.com/garagehq/advisor/pkg/adapters/nexpart"
	"github.com/garagehq/advisor/pkg/adapters/partstech"
	"github.com/garagehq/advisor/pkg/adapters/vindecode"
	"github.com/garagehq/advisor/pkg/api"
	"github.com/garagehq/advisor/pkg/browser"
	"github.com/garagehq/advisor/pkg/cleanup"
	"github.com/garagehq/advisor/pkg/config"
	"github.com/garagehq/advisor/pkg/dispatch"
	"github.com/garagehq/advisor/pkg/history"
	"github.com/garagehq/advisor/pkg/kb"
	"github.com/garagehq/advisor/pkg/llm"
	"github.com/garagehq/advisor/pkg/logging"
	"github.com/garagehq/advisor/pkg/pipeline"
	"github.com/garagehq/advisor/pkg/platformauth"
	"github.com/garagehq/advisor/pkg/retry"
	"github.com/garagehq/advisor/pkg/runs"
	"github.com/garagehq/advisor/pkg/sched"
	"github.com/garagehq/advisor/pkg/store"
	"github.com/garagehq/advisor/pkg/tabs"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	// Parse command-line flags
	configPath := flag.String("config",
		getEnv("ADVISOR_CONFIG", ""),
		"Path to configuration file (empty means defaults plus environment)")
	flag.Parse()

	// Load .env so local runs pick up credentials the same way deploys do
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment", "path", ".env")
	}

	// 1. Initialize configuration
	cfg, err := config.Initialize(*configPath)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	shutdownLogging := logging.Setup(logging.Options{
		Format: cfg.Logging.Format,
		Level:  parseLevel(cfg.Logging.Level),
	})
	defer shutdownLogging()

	slog.Info("Starting advisor",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"shop_id", cfg.ShopID)

	ctx := context.Background()

	// 2. Shared browser, tab registry, breakers, auth
	driver := browser.NewDriver(cfg.Browser.Endpoint, cfg.Browser.ArtifactDir)
	if st := driver.Health(ctx); !st.Reachable {
		// Non-fatal; browser-driven stages are skipped or fail per-run
		slog.Warn("Browser bridge unreachable at startup", "endpoint", cfg.Browser.Endpoint)
	}

	registry := tabs.NewRegistry(tabs.WithStaleThreshold(cfg.Tabs.StaleThreshold))
	breakers := retry.NewBreakers(retry.BreakerConfig{
		FailThreshold: cfg.Breaker.FailThreshold,
		Cooldown:      cfg.Breaker.Cooldown,
	})
	tokenCache := platformauth.NewTokenCache("")
	auth := platformauth.NewManager(nil)

	// 3. Platform checkers and adapters. A platform with unresolved
	// credentials registers a nil checker and stays disabled.
	deps := pipeline.Deps{
		Scheduler: sched.New(slog.Default(), cfg.Runner.APIParallelism),
		Breakers:  breakers,
		Tabs:      registry,
		Auth:      auth,
		Store:     store.New(),
	}

	deps.VINDecoder = vindecode.New("", cfg.Timeouts.VINDecode)
	deps.KB = kb.New(cfg.KB.BaseURL, cfg.Timeouts.APIResearch)

	degrade := func(platform string) func() {
		return func() { auth.MarkDegraded(platform, "TOKEN_REJECTED") }
	}

	if p := cfg.Platforms.AllData; p.Enabled() {
		checker := &platformauth.APIChecker{Platform: "alldata", Cache: tokenCache, APIKey: p.APIKey}
		auth.RegisterPlatform("alldata", checker)
		deps.Research = append(deps.Research,
			alldata.New(p.BaseURL, p.Timeout, checker.Token, degrade("alldata")))
	} else {
		auth.RegisterPlatform("alldata", nil)
	}

	if p := cfg.Platforms.Identifix; p.Enabled() {
		auth.RegisterPlatform("identifix", &platformauth.BrowserChecker{
			Platform: "identifix",
			Driver:   driver,
			Tabs:     registry,
			Username: p.Username,
			Password: p.Password,
			LoginURL: p.BaseURL,
		})
		deps.Research = append(deps.Research, identifix.New(driver, registry))
	} else {
		auth.RegisterPlatform("identifix", nil)
	}

	if p := cfg.Platforms.Motor; p.Enabled() {
		checker := &platformauth.APIChecker{Platform: "motor", Cache: tokenCache, APIKey: p.APIKey}
		auth.RegisterPlatform("motor", checker)
		deps.Labor = motor.New(p.BaseURL, p.Timeout, checker.Token, degrade("motor"))
	} else {
		auth.RegisterPlatform("motor", nil)
	}

	var orderer adapters.PartsOrderer
	if p := cfg.Platforms.Nexpart; p.Enabled() {
		auth.RegisterPlatform("nexpart", &platformauth.BrowserChecker{
			Platform: "nexpart",
			Driver:   driver,
			Tabs:     registry,
			Username: p.Username,
			Password: p.Password,
			LoginURL: p.BaseURL,
		})
		nx := nexpart.New(driver, registry)
		deps.Pricer = nx
		deps.Cart = nx
		orderer = nx
	} else {
		auth.RegisterPlatform("nexpart", nil)
	}

	if p := cfg.Platforms.PartsTech; p.Enabled() {
		checker := &platformauth.APIChecker{Platform: "partstech", Cache: tokenCache, APIKey: p.APIKey}
		auth.RegisterPlatform("partstech", checker)
		pt := partstech.New(p.BaseURL, p.Timeout, checker.Token, degrade("partstech"))
		if deps.Pricer == nil {
			deps.Pricer = pt
		} else {
			deps.PricerFallback = pt
		}
	} else {
		auth.RegisterPlatform("partstech", nil)
	}

	if p := cfg.Platforms.AutoLeap; p.Enabled() {
		checker := &platformauth.APIChecker{Platform: "autoleap", Cache: tokenCache, APIKey: p.APIKey}
		auth.RegisterPlatform("autoleap", checker)
		deps.Sink = autoleap.New(p.BaseURL, cfg.ShopID, p.Timeout, checker.Token, degrade("autoleap"))
	} else {
		auth.RegisterPlatform("autoleap", nil)
	}

	deps.PDF = estpdf.New(driver, registry)

	// 4. Model supplement (optional)
	if cfg.LLM.APIKey != "" {
		diagnoser, err := llm.NewFromAPIKey(cfg.LLM.APIKey, llm.Options{
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
		})
		if err != nil {
			slog.Error("Failed to initialize model client", "error", err)
			os.Exit(1)
		}
		deps.Diagnoser = diagnoser
		slog.Info("Model supplement enabled", "model", cfg.LLM.Model)
	}

	// 5. Repair history store (optional)
	if cfg.History.DSN != "" {
		hs, err := history.Open(ctx, cfg.History.DSN)
		if err != nil {
			slog.Error("Failed to connect to history database", "error", err)
			os.Exit(1)
		}
		defer hs.Close()
		deps.History = hs
		slog.Info("Connected to repair history database")
	}

	// 6. Orchestrator, run manager, dispatcher
	orch := pipeline.New(pipeline.Config{
		Timeouts: pipeline.Timeouts{
			Pipeline:        cfg.Timeouts.Pipeline,
			VINDecode:       cfg.Timeouts.VINDecode,
			APIResearch:     cfg.Timeouts.APIResearch,
			BrowserResearch: cfg.Timeouts.BrowserResearch,
			Pricing:         cfg.Timeouts.Pricing,
			Estimate:        cfg.Timeouts.Estimate,
			PDF:             cfg.Timeouts.PDF,
		},
		KBThreshold:     cfg.KB.Threshold,
		MarkupPercent:   cfg.Pricing.ShopMarkupPercent,
		LaborRate:       cfg.Pricing.LaborRate,
		SuppliesPercent: cfg.Pricing.SuppliesPercent,
		TaxPercent:      cfg.Pricing.TaxPercent,
		Retry: retry.Policy{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay,
		},
	}, deps)

	manager := runs.NewManager(orch, registry, cfg.Runner.MaxConcurrent, slog.Default())
	dispatcher := dispatch.New(deps.Store, manager, orderer, slog.Default())

	// 7. Retention loop
	retention := cleanup.NewService(cleanup.Config{
		ArtifactDir:    driver.ArtifactDir(),
		ArtifactTTL:    cfg.Retention.ArtifactTTL,
		MaxScreenshots: cfg.Retention.MaxScreenshots,
		SessionTTL:     cfg.Retention.SessionTTL,
		Interval:       cfg.Retention.Interval,
	}, deps.Store)
	retention.Start(ctx)

	// 8. Start HTTP server (non-blocking)
	server := api.NewServer(manager, deps.Store, dispatcher, driver, registry)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Host, cfg.Server.Port); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Advisor started successfully",
		"platforms", auth.Platforms(),
		"max_concurrent_runs", cfg.Runner.MaxConcurrent)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: drain runs first so their finalizers can
	// release tab leases, then stop retention and the HTTP listener.
	runShutdownCtx, runCancel := context.WithTimeout(ctx, 30*time.Second)
	defer runCancel()
	if err := manager.Shutdown(runShutdownCtx); err != nil {
		slog.Warn("Run manager shutdown timeout exceeded", "error", err)
	} else {
		slog.Info("Run manager stopped gracefully")
	}

	retention.Stop()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
