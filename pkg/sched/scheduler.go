// Package sched runs a pipeline's stages: it fans out independent stages,
// serializes stages contending for a shared resource (browser tabs), applies
// per-stage deadlines bounded by the remaining pipeline budget, and retries
// retryable failures per the configured policy.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/garagehq/advisor/pkg/clock"
	"github.com/garagehq/advisor/pkg/faults"
	"github.com/garagehq/advisor/pkg/logging"
	"github.com/garagehq/advisor/pkg/metrics"
	"github.com/garagehq/advisor/pkg/retry"
)

// Policy classifies a stage's failure impact.
type Policy string

const (
	// Required stages abort the pipeline on terminal failure.
	Required Policy = "REQUIRED"
	// Optional stages record a warning and the pipeline proceeds.
	Optional Policy = "OPTIONAL"
)

// ResourceSharedBrowser serializes all browser-driven vendor stages; they
// run one at a time across the whole pipeline.
const ResourceSharedBrowser = "tab:shared-browser"

// Stage is one unit of pipeline work. Stages sharing a Resource run
// serially; stages with an empty Resource are API-class and run in parallel
// up to the scheduler's cap.
type Stage struct {
	Name     string
	Needs    []string
	Resource string
	Timeout  time.Duration
	Policy   Policy
	// Retry, when non-nil, wraps Run with the bounded-backoff policy.
	Retry *retry.Policy
	// SkipReason, when non-empty, records the stage as skipped without
	// running it (e.g. breaker open observed up front, platform disabled).
	SkipReason string
	Run        func(ctx context.Context) error
}

// Outcome values recorded per stage.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Result records how one stage ended.
type Result struct {
	Stage    string
	Outcome  string
	Code     faults.Code
	Err      error
	Duration time.Duration
}

// Scheduler executes stage graphs. One scheduler serves many runs.
type Scheduler struct {
	maxParallel int64
	log         *slog.Logger
}

// New creates a scheduler with the given API-stage parallelism cap.
func New(log *slog.Logger, maxParallel int) *Scheduler {
	if maxParallel <= 0 {
		maxParallel = 8
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{maxParallel: int64(maxParallel), log: log}
}

// Run executes the stage graph and returns per-stage results. A terminal
// failure of a Required stage cancels all in-flight stages and returns a
// PIPELINE_FAILED fault wrapping the classified reason; results for stages
// that never ran are recorded as skipped.
func (s *Scheduler) Run(ctx context.Context, stages []Stage) (map[string]*Result, error) {
	byName := make(map[string]*Stage, len(stages))
	for i := range stages {
		st := &stages[i]
		if _, dup := byName[st.Name]; dup {
			return nil, fmt.Errorf("duplicate stage %q", st.Name)
		}
		byName[st.Name] = st
	}
	for _, st := range stages {
		for _, need := range st.Needs {
			if _, ok := byName[need]; !ok {
				return nil, fmt.Errorf("stage %q needs unknown stage %q", st.Name, need)
			}
		}
	}
	if err := checkAcyclic(stages); err != nil {
		return nil, err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var (
		mu        sync.Mutex
		results   = make(map[string]*Result, len(stages))
		inFlight  = make(map[string]bool)
		doneCh    = make(chan *Result, len(stages))
		resources = make(map[string]chan struct{})
		apiSem    = semaphore.NewWeighted(s.maxParallel)
		abort     error
		wg        sync.WaitGroup
	)
	for _, st := range stages {
		if st.Resource != "" {
			if _, ok := resources[st.Resource]; !ok {
				tok := make(chan struct{}, 1)
				tok <- struct{}{}
				resources[st.Resource] = tok
			}
		}
	}

	ready := func() []*Stage {
		mu.Lock()
		defer mu.Unlock()
		var out []*Stage
		for _, st := range stages {
			name := st.Name
			if results[name] != nil || inFlight[name] {
				continue
			}
			ok := true
			for _, need := range byName[name].Needs {
				if results[need] == nil {
					ok = false
					break
				}
			}
			if ok {
				out = append(out, byName[name])
				inFlight[name] = true
			}
		}
		return out
	}

	launch := func(st *Stage) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doneCh <- s.runStage(runCtx, st, resources, apiSem)
		}()
	}

	for _, st := range ready() {
		launch(st)
	}
	for {
		mu.Lock()
		done := len(results)
		launched := len(inFlight)
		mu.Unlock()
		if done == len(stages) || launched == 0 {
			break
		}

		res := <-doneCh
		mu.Lock()
		results[res.Stage] = res
		delete(inFlight, res.Stage)
		mu.Unlock()

		if res.Outcome == OutcomeFailed {
			metrics.StageFailures.WithLabelValues(res.Stage, string(res.Code)).Inc()
		}
		if res.Outcome == OutcomeFailed && byName[res.Stage].Policy == Required {
			abort = faults.Wrap(faults.CodePipelineFailed, "", res.Err)
			cancelRun()
			break
		}
		if runCtx.Err() != nil && abort == nil {
			abort = faults.Wrap(faults.CodeDeadlineExceeded, "", runCtx.Err())
			break
		}

		for _, st := range ready() {
			launch(st)
		}
	}

	// Drain in-flight stages; cancellation bounds how long they may take.
	go func() { wg.Wait(); close(doneCh) }()
	for res := range doneCh {
		mu.Lock()
		if results[res.Stage] == nil {
			results[res.Stage] = res
		}
		mu.Unlock()
	}

	// Stages that never ran are recorded as skipped.
	for _, st := range stages {
		mu.Lock()
		if results[st.Name] == nil {
			results[st.Name] = &Result{Stage: st.Name, Outcome: OutcomeSkipped, Code: faults.CodePipelineFailed}
		}
		mu.Unlock()
	}
	return results, abort
}

// runStage acquires the stage's resource (or an API slot), applies its
// deadline, and runs it with retry.
func (s *Scheduler) runStage(runCtx context.Context, st *Stage, resources map[string]chan struct{}, apiSem *semaphore.Weighted) *Result {
	res := &Result{Stage: st.Name}
	start := time.Now()
	end := logging.Step(s.log, st.Name)
	defer func() {
		res.Duration = time.Since(start)
		metrics.StageDuration.WithLabelValues(st.Name).Observe(res.Duration.Seconds())
		end(res.Outcome, "code", string(res.Code))
	}()

	if st.SkipReason != "" {
		res.Outcome = OutcomeSkipped
		res.Code = faults.Code(st.SkipReason)
		return res
	}

	if st.Resource != "" {
		tok := resources[st.Resource]
		select {
		case <-tok:
			defer func() { tok <- struct{}{} }()
		case <-runCtx.Done():
			return failResult(res, faults.Wrap(faults.CodeDeadlineExceeded, "", runCtx.Err()))
		}
	} else {
		if err := apiSem.Acquire(runCtx, 1); err != nil {
			return failResult(res, faults.Wrap(faults.CodeDeadlineExceeded, "", err))
		}
		defer apiSem.Release(1)
	}

	stageCtx, cancel := clock.WithBudget(runCtx, st.Timeout)
	defer cancel()

	var err error
	if st.Retry != nil {
		err = retry.WithRetry(stageCtx, s.log, st.Name, *st.Retry, st.Run)
	} else {
		err = st.Run(stageCtx)
	}
	if err != nil {
		// A stage that blew its own budget while the pipeline is still
		// alive reports TIMEOUT, not the pipeline-level deadline code.
		if stageCtx.Err() != nil && runCtx.Err() == nil && faults.CodeOf(err) == faults.CodeDeadlineExceeded {
			err = faults.Wrap(faults.CodeTimeout, "", err)
		}
		return failResult(res, err)
	}
	res.Outcome = OutcomeCompleted
	return res
}

func failResult(res *Result, err error) *Result {
	res.Outcome = OutcomeFailed
	res.Err = err
	res.Code = faults.CodeOf(err)
	return res
}

// checkAcyclic rejects dependency cycles.
func checkAcyclic(stages []Stage) error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(stages))
	adj := make(map[string][]string, len(stages))
	for _, st := range stages {
		adj[st.Name] = st.Needs
	}
	var visit func(string) error
	visit = func(n string) error {
		switch color[n] {
		case grey:
			return fmt.Errorf("stage dependency cycle through %q", n)
		case black:
			return nil
		}
		color[n] = grey
		for _, m := range adj[n] {
			if err := visit(m); err != nil {
				return err
			}
		}
		color[n] = black
		return nil
	}
	for _, st := range stages {
		if err := visit(st.Name); err != nil {
			return err
		}
	}
	return nil
}
