package tracing

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrMemberKey    = "member.key"
	AttrBatchIndex   = "reconcile.batch"
	AttrBatchSize    = "reconcile.batch_size"
	AttrChanges      = "reconcile.changes"
	AttrFailures     = "reconcile.failures"
	AttrChecked      = "reconcile.checked"
	AttrDirectoryOp  = "directory.operation"
	AttrAttempt      = "directory.attempt"
	AttrPollID       = "poll.id"
	AttrHTTPRoute    = "http.route"
	AttrHTTPMethod   = "http.method"
	AttrHTTPStatus   = "http.status_code"
	AttrCallerID     = "caller.id"
	AttrErrorMessage = "error.message"
)

// Span names.
const (
	SpanReconcilePass  = "reconcile.pass"
	SpanReconcileBatch = "reconcile.batch"
	SpanResolve        = "directory.resolve"
	SpanProfile        = "directory.profile"
	SpanHTTPPrefix     = "http."
)

// Events.
const (
	EventRateLimited   = "directory.rate_limited"
	EventMemberChanged = "member.changed"
	EventMemberFailed  = "member.failed"
)

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
