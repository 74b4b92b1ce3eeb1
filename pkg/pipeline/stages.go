package pipeline

import (
	"context"
	"math"
	"strings"

	"github.com/garagehq/advisor/pkg/adapters"
	"github.com/garagehq/advisor/pkg/faults"
	"github.com/garagehq/advisor/pkg/history"
	"github.com/garagehq/advisor/pkg/kb"
	"github.com/garagehq/advisor/pkg/llm"
	"github.com/garagehq/advisor/pkg/models"
	"github.com/garagehq/advisor/pkg/plan"
	"github.com/garagehq/advisor/pkg/pricing"
	"github.com/garagehq/advisor/pkg/sched"
)

const (
	stageIdentifyVehicle = "identify_vehicle"
	stageClassify        = "classify_request"
	stageSeedDiagnosis   = "seed_diagnosis"
	stageHistoryCheck    = "history_check"
	stagePreflightAuth   = "preflight_auth"
	stageMechanicRef     = "mechanic_reference"
	stageExtractParts    = "extract_parts"
	stageLookupLabor     = "lookup_labor"
	stagePriceParts      = "price_parts"
	stagePreStageCart    = "pre_stage_cart"
	stageCreateEstimate  = "create_estimate"
	stageApplyGate       = "apply_pricing_gate"
	stageEmitPDF         = "emit_pdf"
	stageFinalize        = "finalize"

	researchPrefix = "research_"
)

// stages builds the run's stage graph. Stage membership is static per run;
// dynamic skips (no customer, gate blocked) are declared as SkipReason or
// resolved inside the stage body.
func (o *Orchestrator) stages(st *runState) []sched.Stage {
	t := o.cfg.Timeouts
	retryPolicy := o.cfg.Retry

	var out []sched.Stage
	add := func(s sched.Stage) {
		out = append(out, s)
		st.stageNames = append(st.stageNames, s.Name)
		if st.required == nil {
			st.required = make(map[string]bool)
		}
		st.required[s.Name] = s.Policy == sched.Required
	}

	add(sched.Stage{
		Name:    stageIdentifyVehicle,
		Timeout: t.VINDecode,
		Policy:  sched.Required,
		Retry:   &retryPolicy,
		Run:     func(ctx context.Context) error { return o.identifyVehicle(ctx, st) },
	})
	add(sched.Stage{
		Name:    stageClassify,
		Needs:   []string{stageIdentifyVehicle},
		Timeout: t.VINDecode,
		Policy:  sched.Required,
		Run:     func(ctx context.Context) error { return o.classifyRequest(ctx, st) },
	})
	add(sched.Stage{
		Name:    stageSeedDiagnosis,
		Needs:   []string{stageClassify},
		Timeout: t.APIResearch,
		Policy:  sched.Required,
		Run:     func(ctx context.Context) error { return o.seedDiagnosis(ctx, st) },
	})

	historySkip := ""
	if o.deps.History == nil {
		historySkip = "HISTORY_DISABLED"
	}
	add(sched.Stage{
		Name:       stageHistoryCheck,
		Needs:      []string{stageSeedDiagnosis},
		Timeout:    t.APIResearch,
		Policy:     sched.Optional,
		SkipReason: historySkip,
		Run:        func(ctx context.Context) error { return o.historyCheck(ctx, st) },
	})
	add(sched.Stage{
		Name:    stagePreflightAuth,
		Needs:   []string{stageClassify},
		Timeout: t.APIResearch,
		Policy:  sched.Optional,
		Run:     func(ctx context.Context) error { return o.preflightAuth(ctx, st) },
	})

	refNeeds := []string{stageSeedDiagnosis, stageHistoryCheck}
	for _, r := range o.deps.Research {
		r := r
		name := researchPrefix + r.Name()
		refNeeds = append(refNeeds, name)
		stage := sched.Stage{
			Name:    name,
			Needs:   []string{stageSeedDiagnosis, stagePreflightAuth},
			Timeout: t.APIResearch,
			Policy:  sched.Optional,
			Retry:   &retryPolicy,
			Run:     func(ctx context.Context) error { return o.research(ctx, st, r) },
		}
		if r.BrowserDriven() {
			stage.Resource = sched.ResourceSharedBrowser
			stage.Timeout = t.BrowserResearch
		}
		if o.deps.Auth.State(r.Name()).State == models.AuthStateDisabled {
			stage.SkipReason = "PLATFORM_DISABLED"
		}
		add(stage)
	}

	add(sched.Stage{
		Name:    stageMechanicRef,
		Needs:   refNeeds,
		Timeout: t.APIResearch,
		Policy:  sched.Required,
		Run:     func(ctx context.Context) error { return o.mechanicReference(ctx, st) },
	})
	add(sched.Stage{
		Name:    stageExtractParts,
		Needs:   []string{stageMechanicRef},
		Timeout: t.APIResearch,
		Policy:  sched.Required,
		Run:     func(ctx context.Context) error { return o.extractParts(ctx, st) },
	})

	laborSkip := ""
	if o.deps.Labor == nil {
		laborSkip = "PLATFORM_DISABLED"
	}
	add(sched.Stage{
		Name:       stageLookupLabor,
		Needs:      []string{stageMechanicRef},
		Timeout:    t.APIResearch,
		Policy:     sched.Optional,
		Retry:      &retryPolicy,
		SkipReason: laborSkip,
		Run:        func(ctx context.Context) error { return o.lookupLabor(ctx, st) },
	})

	priceStage := sched.Stage{
		Name:    stagePriceParts,
		Needs:   []string{stageExtractParts},
		Timeout: t.Pricing,
		Policy:  sched.Optional,
		Retry:   &retryPolicy,
		Run:     func(ctx context.Context) error { return o.priceParts(ctx, st) },
	}
	if o.deps.Pricer == nil {
		priceStage.SkipReason = "PLATFORM_DISABLED"
	} else if o.deps.Pricer.BrowserDriven() {
		priceStage.Resource = sched.ResourceSharedBrowser
	}
	add(priceStage)

	cartSkip := ""
	if o.deps.Cart == nil {
		cartSkip = "PLATFORM_DISABLED"
	}
	add(sched.Stage{
		Name:       stagePreStageCart,
		Needs:      []string{stagePriceParts},
		Timeout:    t.Pricing,
		Policy:     sched.Optional,
		Resource:   sched.ResourceSharedBrowser,
		SkipReason: cartSkip,
		Run:        func(ctx context.Context) error { return o.preStageCart(ctx, st) },
	})

	estimateSkip := ""
	if o.deps.Sink == nil {
		estimateSkip = "PLATFORM_DISABLED"
	} else if st.req.Customer == nil {
		estimateSkip = "NO_CUSTOMER"
	}
	add(sched.Stage{
		Name:       stageCreateEstimate,
		Needs:      []string{stagePriceParts, stageLookupLabor},
		Timeout:    t.Estimate,
		Policy:     sched.Optional,
		Retry:      &retryPolicy,
		SkipReason: estimateSkip,
		Run:        func(ctx context.Context) error { return o.createEstimate(ctx, st) },
	})
	add(sched.Stage{
		Name:    stageApplyGate,
		Needs:   []string{stageCreateEstimate, stagePreStageCart},
		Timeout: t.VINDecode,
		Policy:  sched.Required,
		Run:     func(ctx context.Context) error { return o.applyGate(ctx, st) },
	})
	add(sched.Stage{
		Name:    stageEmitPDF,
		Needs:   []string{stageApplyGate},
		Timeout: t.PDF,
		Policy:  sched.Optional,
		Run:     func(ctx context.Context) error { return o.emitPDF(ctx, st) },
	})
	return out
}

// identifyVehicle resolves the vehicle from VIN or hints. Terminal failures
// surface as VEHICLE_UNRESOLVED.
func (o *Orchestrator) identifyVehicle(ctx context.Context, st *runState) error {
	hints := st.req.VehicleHints
	var v models.Vehicle
	if hints.VIN != "" {
		if !models.ValidVIN(hints.VIN) {
			return faults.New(faults.CodeVehicleUnresolved, "", "malformed VIN %q", hints.VIN)
		}
		if o.deps.VINDecoder == nil {
			return faults.New(faults.CodeVehicleUnresolved, "", "no VIN decoder configured")
		}
		decoded, err := o.deps.VINDecoder.Decode(ctx, hints.VIN)
		if err != nil {
			return faults.Wrap(faults.CodeVehicleUnresolved, "", err)
		}
		v = decoded
	} else {
		v = models.Vehicle{
			Year:   hints.Year,
			Make:   hints.Make,
			Model:  hints.Model,
			Engine: hints.Engine,
		}
	}
	v.Mileage = hints.Mileage
	if !v.Resolved() {
		return faults.New(faults.CodeVehicleUnresolved, "", "insufficient vehicle identity")
	}

	st.mu.Lock()
	st.vehicle = v
	st.mu.Unlock()
	st.log.Info("vehicle identified", "vehicle", v.Display())
	return nil
}

func (o *Orchestrator) classifyRequest(_ context.Context, st *runState) error {
	kind, dtcs := Classify(st.req.Query, st.req.DTCs)
	st.mu.Lock()
	st.kind = kind
	st.dtcs = dtcs
	st.mu.Unlock()
	st.log.Info("request classified", "kind", string(kind), "dtcs", dtcs)
	return nil
}

// seedDiagnosis seeds the repair plan. Diagnostic requests consult the
// knowledge base and, below the confidence threshold, the model. Maintenance
// requests seed from the canned-jobs table and skip diagnosis.
func (o *Orchestrator) seedDiagnosis(ctx context.Context, st *runState) error {
	st.mu.Lock()
	kind, dtcs, vehicle := st.kind, st.dtcs, st.vehicle
	st.mu.Unlock()

	switch kind {
	case models.RequestKindMaintenance:
		p := seedFromCannedJob(st.req.Query)
		if p == nil {
			kbSeed, err := o.seedFromKB(ctx, st, vehicle, dtcs)
			if err != nil {
				return err
			}
			p = kbSeed
		}
		st.mu.Lock()
		st.plan = *p
		st.mu.Unlock()
		return nil

	case models.RequestKindGeneral:
		st.mu.Lock()
		st.plan = models.RepairPlan{PrimaryCause: st.req.Query}
		st.mu.Unlock()
		return nil
	}

	p, err := o.seedFromKB(ctx, st, vehicle, dtcs)
	if err != nil {
		return err
	}
	st.mu.Lock()
	st.plan = *p
	st.mu.Unlock()
	st.log.Info("diagnosis seeded",
		"path", string(p.DiagnosticPath),
		"primary_cause", p.PrimaryCause,
		"confidence", p.Confidence)
	return nil
}

func (o *Orchestrator) seedFromKB(ctx context.Context, st *runState, vehicle models.Vehicle, dtcs []string) (*models.RepairPlan, error) {
	var answer *kb.Answer
	if o.deps.KB != nil {
		a, err := o.deps.KB.Lookup(ctx, vehicle, st.req.Query, dtcs)
		if err != nil && !faults.Is(err, faults.CodeNotFound) {
			return nil, err
		}
		answer = a
	}

	p := &models.RepairPlan{}
	if answer != nil {
		seedPlanFromAnswer(p, answer)
		if answer.Confidence() >= o.cfg.KBThreshold {
			p.DiagnosticPath = models.PathKBDirect
			return p, nil
		}
	}

	if o.deps.Diagnoser == nil {
		if answer == nil {
			return nil, faults.New(faults.CodeNotFound, "knowledge-base", "no diagnosis available")
		}
		p.DiagnosticPath = models.PathKBDirect
		return p, nil
	}

	var seed []models.Diagnosis
	if answer != nil {
		seed = answer.Diagnoses
	}
	sup, err := o.deps.Diagnoser.Diagnose(ctx, llm.DiagnoseRequest{
		Vehicle: vehicle,
		Query:   st.req.Query,
		DTCs:    dtcs,
		Seed:    seed,
	})
	if err != nil {
		if answer != nil {
			// The model is a supplement; a failed call keeps the KB answer.
			st.log.Warn("model supplement failed, keeping kb answer", "error", err)
			p.DiagnosticPath = models.PathKBDirect
			return p, nil
		}
		return nil, err
	}

	if answer != nil {
		mergeModelSupplement(p, sup)
		p.DiagnosticPath = models.PathKBWithClaude
	} else {
		seedPlanFromModel(p, sup)
		p.DiagnosticPath = models.PathClaudeOnly
	}
	if len(p.Diagnoses) == 0 {
		return nil, faults.New(faults.CodeNotFound, "", "no diagnosis available")
	}
	return p, nil
}

func seedPlanFromAnswer(p *models.RepairPlan, a *kb.Answer) {
	p.Diagnoses = append([]models.Diagnosis(nil), a.Diagnoses...)
	if top := p.TopDiagnosis(); top != nil {
		p.PrimaryCause = top.Cause
		p.Confidence = top.Confidence
	}
	p.Parts = append([]models.PartRequest(nil), a.Parts...)
	if a.LaborHint != nil {
		p.Labor = *a.LaborHint
	}
	p.Verification = a.Verification
}

// seedPlanFromModel builds the claude_only plan.
func seedPlanFromModel(p *models.RepairPlan, r *llm.DiagnoseResult) {
	p.Diagnoses = append([]models.Diagnosis(nil), r.Diagnoses...)
	if len(p.Diagnoses) > 0 {
		p.Diagnoses[0].Primary = true
		p.PrimaryCause = p.Diagnoses[0].Cause
		p.Confidence = p.Diagnoses[0].Confidence
	}
	p.Parts = append([]models.PartRequest(nil), r.Parts...)
	if r.LaborOp != "" {
		p.Labor = models.Labor{Source: "AI_fallback", Notes: r.LaborOp}
	}
}

// mergeModelSupplement folds model output into a KB-seeded plan: new causes
// append after the KB-ranked ones, parts fill only when the KB had none.
func mergeModelSupplement(p *models.RepairPlan, r *llm.DiagnoseResult) {
	for _, d := range r.Diagnoses {
		dup := false
		for _, have := range p.Diagnoses {
			if strings.EqualFold(have.Cause, d.Cause) {
				dup = true
				break
			}
		}
		if !dup {
			d.Primary = false
			p.Diagnoses = append(p.Diagnoses, d)
		}
	}
	if len(p.Parts) == 0 {
		p.Parts = append(p.Parts, r.Parts...)
	}
}

func (o *Orchestrator) historyCheck(ctx context.Context, st *runState) error {
	st.mu.Lock()
	vehicle, cause := st.vehicle, st.plan.PrimaryCause
	st.mu.Unlock()
	if cause == "" {
		return nil
	}

	repairs, err := o.deps.History.PriorRepairs(ctx, vehicle, st.req.ShopID)
	if err != nil {
		return err
	}
	if len(repairs) == 0 {
		return nil
	}
	delta := history.ConfidenceDelta(repairs, cause)
	st.mu.Lock()
	st.historyDelta = delta
	st.historyHit = delta != 0
	st.mu.Unlock()
	st.log.Info("history consulted", "prior_repairs", len(repairs), "delta", delta)
	return nil
}

func (o *Orchestrator) preflightAuth(ctx context.Context, st *runState) error {
	st.progress(models.PhaseLoggingIn)
	states := o.deps.Auth.Preflight(ctx)
	for platform, s := range states {
		if s.State == models.AuthStateDegraded {
			st.mu.Lock()
			st.result.Warn(string(faults.CodeAuthFailed), "platform "+platform+" degraded: "+s.ReasonCode)
			st.mu.Unlock()
		}
	}
	return nil
}

func (o *Orchestrator) research(ctx context.Context, st *runState, r adapters.Research) error {
	st.mu.Lock()
	vehicle, dtcs := st.vehicle, st.dtcs
	st.mu.Unlock()

	ctx = adapters.WithRunID(ctx, st.req.RunID)
	var frag *models.ResearchFragment
	err := o.deps.Breakers.Do(ctx, r.Name(), func(ctx context.Context) error {
		f, err := r.Search(ctx, vehicle, st.req.Query, dtcs)
		frag = f
		return err
	})
	if err != nil {
		if faults.Is(err, faults.CodeAuthFailed) {
			o.deps.Auth.MarkDegraded(r.Name(), string(faults.CodeAuthFailed))
		}
		return err
	}
	st.addFragment(frag)
	return nil
}

// mechanicReference merges every research fragment into the plan in a
// deterministic order, applies the history adjustment once, and synthesizes
// the technician reference sheet.
func (o *Orchestrator) mechanicReference(_ context.Context, st *runState) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	merged := plan.MergeAll(st.plan, st.fragments)
	if st.historyHit {
		merged = plan.ApplyHistoryDelta(merged, st.historyDelta)
	}
	if st.kind == models.RequestKindDiagnostic && merged.Confidence < o.cfg.KBThreshold {
		merged.LowConfidenceWarning = true
	}
	st.plan = merged

	for _, f := range st.fragments {
		st.result.Artifacts.ScreenshotPaths = append(st.result.Artifacts.ScreenshotPaths, f.Screenshots...)
	}
	st.result.Reference = BuildReference(st.vehicle, &st.plan)
	return nil
}

// extractParts guarantees the plan carries part requests: from the seeded
// parts list, else from the top diagnoses' associated parts, else from query
// keyword fallbacks.
func (o *Orchestrator) extractParts(_ context.Context, st *runState) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(st.plan.Parts) > 0 {
		return nil
	}
	for _, d := range st.plan.Diagnoses {
		for _, name := range d.Parts {
			st.plan.Parts = append(st.plan.Parts, models.PartRequest{
				Name: name, Qty: 1, SearchTerms: []string{name},
			})
		}
		if len(st.plan.Parts) > 0 {
			return nil
		}
	}
	st.plan.Parts = keywordParts(st.req.Query)
	return nil
}

func (o *Orchestrator) lookupLabor(ctx context.Context, st *runState) error {
	st.progress(models.PhaseAddingLabor)
	st.mu.Lock()
	vehicle := st.vehicle
	procedure := st.plan.PrimaryCause
	st.mu.Unlock()
	if procedure == "" {
		procedure = st.req.Query
	}

	var res *models.LaborResult
	err := o.deps.Breakers.Do(ctx, o.deps.Labor.Name(), func(ctx context.Context) error {
		r, err := o.deps.Labor.Hours(ctx, vehicle, procedure)
		res = r
		return err
	})
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.labor = res
	if res.Hours > 0 {
		st.plan = plan.Merge(st.plan, &models.ResearchFragment{
			Source: res.Source,
			Labor:  &models.Labor{Hours: res.Hours, Source: res.Source, Notes: res.Operation},
		})
	}
	st.mu.Unlock()
	return nil
}

// priceParts runs the primary pricer and falls back on failure. The selected
// bundle is best-value across every outcome gathered.
func (o *Orchestrator) priceParts(ctx context.Context, st *runState) error {
	st.progress(models.PhaseAddingParts)
	st.mu.Lock()
	vehicle := st.vehicle
	parts := append([]models.PartRequest(nil), st.plan.Parts...)
	st.mu.Unlock()
	if len(parts) == 0 {
		return nil
	}

	ctx = adapters.WithRunID(ctx, st.req.RunID)
	outcome, err := o.priceWith(ctx, o.deps.Pricer, vehicle, parts)
	if err != nil && o.deps.PricerFallback != nil {
		st.mu.Lock()
		st.result.Warn(string(faults.CodeOf(err)),
			"primary pricing source "+o.deps.Pricer.Name()+" failed, using fallback")
		st.mu.Unlock()
		outcome, err = o.priceWith(ctx, o.deps.PricerFallback, vehicle, parts)
	}
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.outcomes = append(st.outcomes, outcome)
	st.bundle = pricing.SelectBundle(parts, st.outcomes)
	st.mu.Unlock()
	return nil
}

func (o *Orchestrator) priceWith(ctx context.Context, p adapters.PartsPricer, v models.Vehicle, parts []models.PartRequest) (*models.PricingOutcome, error) {
	var out *models.PricingOutcome
	err := o.deps.Breakers.Do(ctx, p.Name(), func(ctx context.Context) error {
		r, err := p.Price(ctx, v, parts)
		out = r
		return err
	})
	return out, err
}

func (o *Orchestrator) preStageCart(ctx context.Context, st *runState) error {
	st.progress(models.PhaseLinkingParts)
	st.mu.Lock()
	bundle := st.bundle
	st.mu.Unlock()
	if !pricing.Priced(bundle) {
		return nil
	}
	ctx = adapters.WithRunID(ctx, st.req.RunID)
	return o.deps.Cart.StageCart(ctx, st.req.RunID, bundle.Selections)
}

func (o *Orchestrator) createEstimate(ctx context.Context, st *runState) error {
	st.progress(models.PhaseCreatingCustomer)
	st.mu.Lock()
	draft := adapters.EstimateDraft{
		ChatID:    st.req.ChatID,
		RunID:     st.req.RunID,
		Customer:  *st.req.Customer,
		Vehicle:   st.vehicle,
		Bundle:    st.bundle,
		Labor:     st.labor,
		Diagnosis: st.plan.PrimaryCause,
		Totals:    o.computeTotals(st),
	}
	st.mu.Unlock()

	rec, err := o.deps.Sink.Create(ctx, draft)
	if err != nil {
		if faults.Is(err, faults.CodeAuthFailed) {
			o.deps.Auth.MarkDegraded(o.deps.Sink.Name(), string(faults.CodeAuthFailed))
		}
		return err
	}
	st.mu.Lock()
	st.result.Estimate = rec
	st.mu.Unlock()
	st.log.Info("estimate created", "estimate_id", rec.EstimateID, "total", rec.Total)
	return nil
}

// applyGate resolves the pricing source, computes totals, and applies the
// gate exactly once.
func (o *Orchestrator) applyGate(_ context.Context, st *runState) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	res := st.result
	res.Plan = st.plan
	res.Bundle = st.bundle
	res.Labor = st.labor
	res.Totals = o.computeTotals(st)

	switch {
	case res.Estimate != nil:
		res.PricingSource = models.PricingSourceAutoLeapNative
	case pricing.Priced(st.bundle):
		res.PricingSource = models.PricingSourceMatrixFallback
	case len(st.plan.Parts) == 0:
		res.PricingSource = models.PricingSourceNone
	default:
		res.PricingSource = models.PricingSourceFailed
	}

	pricing.ApplyGate(res)
	return nil
}

// computeTotals derives the money columns. Matrix-fallback retail is shop
// markup over wholesale; labor is hours times the shop rate. Callers hold
// st.mu.
func (o *Orchestrator) computeTotals(st *runState) models.Totals {
	var t models.Totals
	hours := st.plan.Labor.Hours
	if st.labor != nil && st.labor.Hours > 0 && st.labor.ReasonCode == "" {
		hours = st.labor.Hours
	}
	t.LaborTotal = roundCents(hours * o.cfg.LaborRate)
	if pricing.Priced(st.bundle) {
		t.PartsRetailTotal = pricing.Retail(st.bundle.PartsCost, o.cfg.MarkupPercent)
	}
	subtotal := t.LaborTotal + t.PartsRetailTotal
	t.Supplies = roundCents(subtotal * o.cfg.SuppliesPercent / 100)
	t.Tax = roundCents((subtotal + t.Supplies) * o.cfg.TaxPercent / 100)
	t.GrandTotal = roundCents(subtotal + t.Supplies + t.Tax)
	return t
}

func (o *Orchestrator) emitPDF(ctx context.Context, st *runState) error {
	st.mu.Lock()
	blocked := st.result.PricingGate == models.GateBlocked
	st.mu.Unlock()
	if o.deps.PDF == nil || !st.req.WantPDF || blocked {
		return nil
	}
	st.progress(models.PhaseGeneratingPDF)

	st.mu.Lock()
	snapshot := *st.result
	st.mu.Unlock()
	path, err := o.deps.PDF.Render(ctx, &snapshot)
	if err != nil {
		return err
	}
	st.mu.Lock()
	st.result.Artifacts.PDFPath = path
	st.mu.Unlock()
	return nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
