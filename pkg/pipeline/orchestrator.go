// Package pipeline is the estimate orchestrator. It owns the Request and the
// evolving EstimateResult, drives the stage graph through the scheduler, and
// deposits the finished result in the session store.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/garagehq/advisor/pkg/adapters"
	"github.com/garagehq/advisor/pkg/clock"
	"github.com/garagehq/advisor/pkg/faults"
	"github.com/garagehq/advisor/pkg/history"
	"github.com/garagehq/advisor/pkg/kb"
	"github.com/garagehq/advisor/pkg/llm"
	"github.com/garagehq/advisor/pkg/logging"
	"github.com/garagehq/advisor/pkg/metrics"
	"github.com/garagehq/advisor/pkg/models"
	"github.com/garagehq/advisor/pkg/platformauth"
	"github.com/garagehq/advisor/pkg/pricing"
	"github.com/garagehq/advisor/pkg/retry"
	"github.com/garagehq/advisor/pkg/sched"
	"github.com/garagehq/advisor/pkg/store"
	"github.com/garagehq/advisor/pkg/tabs"
)

// Timeouts carries the per-stage budgets. Zero fields fall back to defaults.
type Timeouts struct {
	Pipeline        time.Duration
	VINDecode       time.Duration
	APIResearch     time.Duration
	BrowserResearch time.Duration
	Pricing         time.Duration
	Estimate        time.Duration
	PDF             time.Duration
}

func (t *Timeouts) applyDefaults() {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&t.Pipeline, 180*time.Second)
	def(&t.VINDecode, 10*time.Second)
	def(&t.APIResearch, 25*time.Second)
	def(&t.BrowserResearch, 75*time.Second)
	def(&t.Pricing, 60*time.Second)
	def(&t.Estimate, 45*time.Second)
	def(&t.PDF, 20*time.Second)
}

// Config tunes pipeline behavior.
type Config struct {
	Timeouts Timeouts
	// KBThreshold is the knowledge-base confidence above which no model
	// supplement is requested.
	KBThreshold float64
	// MarkupPercent is the shop markup applied to wholesale parts cost for
	// matrix-fallback retail pricing.
	MarkupPercent float64
	// LaborRate is the shop's hourly labor rate in dollars.
	LaborRate float64
	// SuppliesPercent and TaxPercent are applied to the pre-tax subtotal.
	SuppliesPercent float64
	TaxPercent      float64
	Retry           retry.Policy
}

func (c *Config) applyDefaults() {
	c.Timeouts.applyDefaults()
	if c.KBThreshold <= 0 {
		c.KBThreshold = 0.65
	}
	if c.MarkupPercent <= 0 {
		c.MarkupPercent = 40
	}
	if c.LaborRate <= 0 {
		c.LaborRate = 150
	}
	if c.Retry.MaxRetries == 0 && c.Retry.BaseDelay == 0 {
		c.Retry = retry.DefaultPolicy
	}
}

// Deps are the collaborators the orchestrator consumes. Nil optional deps
// disable the corresponding stage.
type Deps struct {
	Scheduler *sched.Scheduler
	Breakers  *retry.Breakers
	Tabs      *tabs.Registry
	Auth      *platformauth.Manager
	Store     *store.Store

	VINDecoder     adapters.VINDecoder
	KB             *kb.Client
	Diagnoser      llm.Diagnoser // optional
	History        history.Store // optional
	Research       []adapters.Research
	Labor          adapters.LaborLookup  // optional
	Pricer         adapters.PartsPricer  // primary
	PricerFallback adapters.PartsPricer  // optional
	Cart           adapters.CartStager   // optional
	Sink           adapters.EstimateSink // optional
	PDF            adapters.PDFRenderer  // optional
}

// Orchestrator runs estimate pipelines. One orchestrator serves many
// concurrent runs.
type Orchestrator struct {
	cfg  Config
	deps Deps
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{cfg: cfg, deps: deps}
}

// runState is the mutable per-run working set. Stages write through the
// mutex; the orchestrator publishes the result only after the graph settles.
type runState struct {
	mu sync.Mutex

	req        models.Request
	log        *slog.Logger
	stageNames []string
	required   map[string]bool
	kind       models.RequestKind
	dtcs       []string
	vehicle    models.Vehicle
	plan       models.RepairPlan

	fragments    []*models.ResearchFragment
	historyDelta float64
	historyHit   bool

	outcomes []*models.PricingOutcome
	bundle   *models.PartsBundle
	labor    *models.LaborResult

	result *models.EstimateResult
}

func (s *runState) addFragment(f *models.ResearchFragment) {
	if f == nil || f.Empty() {
		return
	}
	s.mu.Lock()
	s.fragments = append(s.fragments, f)
	s.mu.Unlock()
}

func (s *runState) progress(p models.Phase) {
	if s.req.Progress != nil {
		s.req.Progress(p)
	}
}

// Run executes the full pipeline for one request and returns the result.
// The returned result is complete even on failure: the failure code, stage
// statuses, and warnings are populated, and every tab lease owned by the run
// has been released.
func (o *Orchestrator) Run(ctx context.Context, req models.Request) (*models.EstimateResult, error) {
	start := clock.Now()
	metrics.RunsStarted.Inc()

	st := &runState{
		req: req,
		log: logging.ForRun("estimate", req.RunID),
		result: &models.EstimateResult{
			RunID:         req.RunID,
			ChatID:        req.ChatID,
			PricingSource: models.PricingSourceNone,
		},
	}
	st.log.Info("run started", "chat_id", req.ChatID, "query", req.Query)

	runCtx, cancel := clock.WithBudget(ctx, o.cfg.Timeouts.Pipeline)
	defer cancel()

	results, abort := o.deps.Scheduler.Run(runCtx, o.stages(st))

	// Finalize: release leases, stamp timing, record stage statuses, apply
	// the gate if the graph never reached it, publish, signal done. This
	// runs on every exit path including aborts.
	o.finalize(st, results, abort, start)

	if abort != nil {
		st.log.Warn("run failed", "code", st.result.FailureCode, "elapsed", st.result.Elapsed)
		metrics.RunsCompleted.WithLabelValues("failed").Inc()
		return st.result, abort
	}
	st.log.Info("run completed",
		"customer_ready", st.result.CustomerReady,
		"pricing_gate", string(st.result.PricingGate),
		"elapsed", st.result.Elapsed)
	metrics.RunsCompleted.WithLabelValues("completed").Inc()
	return st.result, nil
}

func (o *Orchestrator) finalize(st *runState, results map[string]*sched.Result, abort error, start time.Time) {
	released := o.deps.Tabs.ReleaseRun(st.req.RunID)
	if released > 0 {
		st.log.Info("released tab leases", "count", released)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	res := st.result
	res.Vehicle = st.vehicle
	res.Plan = st.plan
	res.Bundle = st.bundle
	res.Labor = st.labor
	res.Elapsed = time.Since(start)
	res.CompletedAt = clock.Now()

	for _, name := range st.stageNames {
		if r, ok := results[name]; ok {
			res.Stages = append(res.Stages, models.StageStatus{
				Stage:    r.Stage,
				Outcome:  r.Outcome,
				Code:     string(r.Code),
				Duration: r.Duration,
			})
		}
	}
	res.Stages = append(res.Stages, models.StageStatus{Stage: stageFinalize, Outcome: sched.OutcomeCompleted})

	// Optional-stage failures become warnings on the result.
	for _, r := range results {
		if r.Outcome == sched.OutcomeFailed && r.Err != nil && !st.required[r.Stage] {
			res.Warn(string(r.Code), r.Stage+": "+r.Err.Error())
		}
	}

	if abort != nil {
		res.FailureCode = string(rootFailureCode(st, results, abort))
		res.CustomerReady = false
		if res.PricingGate == "" {
			res.PricingGate = models.GateBlocked
		}
	} else if res.PricingGate == "" {
		// The gate stage was skipped (e.g. degenerate graph); apply it now
		// so no result escapes ungated.
		pricing.ApplyGate(res)
	}

	o.deps.Store.Put(st.req.ChatID, res)
	st.progress(models.PhaseDone)
}

// rootFailureCode prefers the classified code of the required stage that
// failed over the generic pipeline wrapper.
func rootFailureCode(st *runState, results map[string]*sched.Result, abort error) faults.Code {
	for _, r := range results {
		if r.Outcome == sched.OutcomeFailed && st.required[r.Stage] {
			return r.Code
		}
	}
	return faults.CodeOf(abort)
}
