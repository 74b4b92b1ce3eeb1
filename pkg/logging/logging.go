// Package logging configures the process-wide slog backend and provides
// run-correlated loggers with step timing and metric events.
//
// Two backends exist: "text" (human-readable, prefixed) and "json" (one
// self-describing record per line). The backend is selected process-wide at
// startup. Records pass through a bounded async queue so backend I/O never
// blocks the pipeline; overflow is dropped with a counter bump.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/garagehq/advisor/pkg/metrics"
)

// Options configures Setup.
type Options struct {
	Format    string // "text" or "json"
	Level     slog.Level
	Writer    io.Writer // defaults to os.Stderr
	QueueSize int       // defaults to 1024
	// Sync disables the async queue (used by tests).
	Sync bool
}

// Setup installs the process-wide default logger and returns a shutdown
// function that drains the queue.
func Setup(opts Options) func() {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	var inner slog.Handler
	hopts := &slog.HandlerOptions{Level: opts.Level}
	if strings.EqualFold(opts.Format, "json") {
		inner = slog.NewJSONHandler(w, hopts)
	} else {
		inner = slog.NewTextHandler(w, hopts)
	}
	if opts.Sync {
		slog.SetDefault(slog.New(inner))
		return func() {}
	}
	ah := newAsyncHandler(inner, opts.QueueSize)
	slog.SetDefault(slog.New(ah))
	return ah.Close
}

// ForRun returns a logger correlated to one pipeline run.
func ForRun(skill, runID string) *slog.Logger {
	return slog.With("skill", skill, "run_id", runID)
}

// StepEnd finishes a timed step. Call with the outcome ("completed",
// "failed", "skipped") and any extra attrs; it emits a duration-annotated
// record.
type StepEnd func(outcome string, attrs ...any)

// Step starts a timed step and returns its end handle.
func Step(log *slog.Logger, name string) StepEnd {
	start := time.Now()
	log.Debug("step started", "step", name)
	return func(outcome string, attrs ...any) {
		base := []any{"step", name, "outcome", outcome, "duration_ms", time.Since(start).Milliseconds()}
		if outcome == "failed" {
			log.Warn("step finished", append(base, attrs...)...)
			return
		}
		log.Info("step finished", append(base, attrs...)...)
	}
}

// Metric emits a machine-readable counter/rate event through the logger.
func Metric(log *slog.Logger, name string, value float64, attrs ...any) {
	log.Info("metric", append([]any{"metric", name, "value", value}, attrs...)...)
}

// asyncHandler decouples record emission from backend I/O. The queue is
// bounded; a full queue drops the record and bumps the drop counter.
type asyncHandler struct {
	inner   slog.Handler
	ch      chan asyncRecord
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

type asyncRecord struct {
	ctx context.Context
	rec slog.Record
	// h is the backend handler carrying this record's accumulated attrs.
	h slog.Handler
}

func newAsyncHandler(inner slog.Handler, queueSize int) *asyncHandler {
	if queueSize <= 0 {
		queueSize = 1024
	}
	h := &asyncHandler{
		inner: inner,
		ch:    make(chan asyncRecord, queueSize),
		done:  make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *asyncHandler) run() {
	defer close(h.done)
	for ar := range h.ch {
		_ = ar.h.Handle(ar.ctx, ar.rec)
	}
}

func (h *asyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *asyncHandler) Handle(ctx context.Context, rec slog.Record) error {
	select {
	case h.ch <- asyncRecord{ctx: context.WithoutCancel(ctx), rec: rec.Clone(), h: h.inner}:
	default:
		h.dropped.Add(1)
		metrics.LogRecordsDropped.Inc()
	}
	return nil
}

func (h *asyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &attrHandler{parent: h, inner: h.inner.WithAttrs(attrs)}
}

func (h *asyncHandler) WithGroup(name string) slog.Handler {
	return &attrHandler{parent: h, inner: h.inner.WithGroup(name)}
}

// Dropped returns the number of records dropped so far.
func (h *asyncHandler) Dropped() int64 { return h.dropped.Load() }

// Close stops accepting records and waits for the queue to drain.
func (h *asyncHandler) Close() {
	h.once.Do(func() { close(h.ch) })
	<-h.done
}

// attrHandler routes derived handlers (WithAttrs/WithGroup) back through the
// parent's queue so attribute-scoped loggers share the same drop policy.
type attrHandler struct {
	parent *asyncHandler
	inner  slog.Handler
}

func (h *attrHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *attrHandler) Handle(ctx context.Context, rec slog.Record) error {
	select {
	case h.parent.ch <- asyncRecord{ctx: context.WithoutCancel(ctx), rec: rec.Clone(), h: h.inner}:
	default:
		h.parent.dropped.Add(1)
		metrics.LogRecordsDropped.Inc()
	}
	return nil
}

func (h *attrHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &attrHandler{parent: h.parent, inner: h.inner.WithAttrs(attrs)}
}

func (h *attrHandler) WithGroup(name string) slog.Handler {
	return &attrHandler{parent: h.parent, inner: h.inner.WithGroup(name)}
}
