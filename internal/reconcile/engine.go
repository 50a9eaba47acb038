// Package reconcile refreshes cached display names against the live
// directory, one key at a time with pacing, and reports what drifted.
package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/rostersync/internal/clock"
	"github.com/zjrosen/rostersync/internal/directory"
	"github.com/zjrosen/rostersync/internal/log"
	"github.com/zjrosen/rostersync/internal/metrics"
	"github.com/zjrosen/rostersync/internal/pubsub"
	"github.com/zjrosen/rostersync/internal/registry"
	"github.com/zjrosen/rostersync/internal/tracing"
)

const (
	DefaultBatchSize = 10
	DefaultPacing    = 2 * time.Second
)

// ErrPassInProgress is returned when Run is called while a pass is active.
var ErrPassInProgress = errors.New("reconciliation pass already in progress")

// Registry is the subset of the registry the engine needs.
type Registry interface {
	Keys() []string
	Get(key string) (registry.Record, bool)
	UpdateDisplayName(key, name string) bool
	Persist(ctx context.Context)
}

// Config configures an Engine.
type Config struct {
	Registry Registry
	Resolver directory.Resolver

	// BatchSize bounds how many keys are grouped per batch. Default 10.
	BatchSize int
	// Pacing is waited after every key. Default 2s; negative disables.
	Pacing time.Duration

	Clock     clock.Clock
	Tracer    trace.Tracer
	Metrics   *metrics.Metrics
	Publisher pubsub.Publisher[Report]
}

// Engine runs reconciliation passes. At most one pass runs at a time.
type Engine struct {
	registry  Registry
	resolver  directory.Resolver
	batchSize int
	pacing    time.Duration
	clock     clock.Clock
	tracer    trace.Tracer
	metrics   *metrics.Metrics
	publisher pubsub.Publisher[Report]

	running atomic.Bool
}

func NewEngine(cfg Config) *Engine {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	pacing := cfg.Pacing
	if pacing == 0 {
		pacing = DefaultPacing
	}
	if pacing < 0 {
		pacing = 0
	}
	return &Engine{
		registry:  cfg.Registry,
		resolver:  cfg.Resolver,
		batchSize: batch,
		pacing:    pacing,
		clock:     clock.OrReal(cfg.Clock),
		tracer:    tracing.OrNoop(cfg.Tracer),
		metrics:   cfg.Metrics,
		publisher: cfg.Publisher,
	}
}

// Running reports whether a pass is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Run performs one reconciliation pass over every key in registry order.
//
// Keys are resolved strictly one at a time with the pacing delay after each.
// A key that cannot be resolved is recorded as a failure and skipped. The
// registry is persisted once at the end, including when ctx is cancelled
// part way, in which case the partial report is returned with ctx's error.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Report{}, ErrPassInProgress
	}
	defer e.running.Store(false)

	report := Report{Started: e.clock.Now()}
	keys := e.registry.Keys()
	if len(keys) == 0 {
		report.Finished = e.clock.Now()
		log.Info(log.CatReconcile, "registry empty, nothing to reconcile")
		return report, nil
	}

	ctx, span := e.tracer.Start(ctx, tracing.SpanReconcilePass)
	log.Info(log.CatReconcile, "reconciliation started", "keys", len(keys), "batch_size", e.batchSize)

	runErr := e.runBatches(ctx, Batches(keys, e.batchSize), &report)

	e.registry.Persist(ctx)

	report.Finished = e.clock.Now()
	span.SetAttributes(
		attribute.Int(tracing.AttrChecked, report.Checked),
		attribute.Int(tracing.AttrChanges, len(report.Changes)),
		attribute.Int(tracing.AttrFailures, len(report.Failures)),
	)
	tracing.EndSpan(span, runErr)

	e.metrics.ObserveReconcile(report.Result(runErr), len(report.Changes), report.Duration())
	log.Info(log.CatReconcile, "reconciliation finished",
		"checked", report.Checked,
		"changes", len(report.Changes),
		"failures", len(report.Failures),
		"duration", report.Duration())

	if e.publisher != nil && runErr == nil {
		e.publisher.Publish(pubsub.ReconciledEvent, report)
	}
	return report, runErr
}

func (e *Engine) runBatches(ctx context.Context, batches [][]string, report *Report) error {
	for i, batch := range batches {
		bctx, span := e.tracer.Start(ctx, tracing.SpanReconcileBatch, trace.WithAttributes(
			attribute.Int(tracing.AttrBatchIndex, i),
			attribute.Int(tracing.AttrBatchSize, len(batch)),
		))
		for _, key := range batch {
			if err := bctx.Err(); err != nil {
				tracing.EndSpan(span, err)
				return err
			}
			e.reconcileKey(bctx, span, key, report)
			if err := e.clock.Sleep(bctx, e.pacing); err != nil {
				tracing.EndSpan(span, err)
				return err
			}
		}
		tracing.EndSpan(span, nil)
	}
	return nil
}

func (e *Engine) reconcileKey(ctx context.Context, span trace.Span, key string, report *Report) {
	prev, ok := e.registry.Get(key)
	if !ok {
		log.Debug(log.CatReconcile, "key removed during pass, skipping", "key", key)
		return
	}

	id, err := e.resolver.Resolve(ctx, key)
	if err != nil {
		log.Warn(log.CatReconcile, "could not resolve key", "key", key, "error", err)
		span.AddEvent(tracing.EventMemberFailed, trace.WithAttributes(attribute.String(tracing.AttrMemberKey, key)))
		report.Failures = append(report.Failures, Failure{Key: key, Reason: err.Error(), Err: err})
		return
	}
	report.Checked++

	if id.DisplayName == prev.DisplayName {
		return
	}
	// The key may have been deleted while Resolve was in flight.
	if !e.registry.UpdateDisplayName(key, id.DisplayName) {
		return
	}
	report.Changes = append(report.Changes, Change{Key: key, Previous: prev.DisplayName, Current: id.DisplayName})
	span.AddEvent(tracing.EventMemberChanged, trace.WithAttributes(attribute.String(tracing.AttrMemberKey, key)))
	log.Info(log.CatReconcile, "display name changed", "key", key, "from", prev.DisplayName, "to", id.DisplayName)
}

// Batches splits keys into consecutive groups of at most size.
func Batches(keys []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	out := make([][]string, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		out = append(out, keys[start:end])
	}
	return out
}
