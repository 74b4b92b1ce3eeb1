// Package metrics exposes the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsStarted counts pipeline runs accepted by the run manager.
	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "advisor_runs_started_total",
		Help: "Pipeline runs started.",
	})

	// RunsCompleted counts terminal runs by outcome.
	RunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "advisor_runs_completed_total",
		Help: "Pipeline runs completed, by outcome.",
	}, []string{"outcome"})

	// StageFailures counts stage failures by stage and failure code.
	StageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "advisor_stage_failures_total",
		Help: "Stage failures, by stage and failure code.",
	}, []string{"stage", "code"})

	// StageDuration observes stage wall time.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "advisor_stage_duration_seconds",
		Help:    "Stage duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stage"})

	// BreakerTransitions counts circuit breaker state changes.
	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "advisor_breaker_transitions_total",
		Help: "Circuit breaker state transitions, by platform and new state.",
	}, []string{"platform", "state"})

	// LogRecordsDropped counts log records dropped by the async handler.
	LogRecordsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "advisor_log_records_dropped_total",
		Help: "Log records dropped on async handler overflow.",
	})

	// TabLeasesReclaimed counts stale tab leases force-released.
	TabLeasesReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "advisor_tab_leases_reclaimed_total",
		Help: "Stale tab leases force-released by cleanup.",
	})
)
