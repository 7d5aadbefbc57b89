// Package telemetry defines the logging, metrics and tracing seams used by the
// reconciliation engine. Implementations delegate to Clue and OpenTelemetry in
// production; the noop variants keep tests and embedded hosts quiet.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the engine. The
// interface is intentionally small so tests can provide lightweight stubs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter and histogram helpers for engine instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so transport code can remain agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
//
// Example usage:
//
//	ctx, span := tracer.Start(ctx, "runview.transport.connect")
//	defer span.End()
//	span.SetStatus(codes.Ok, "connected")
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Metric names emitted by the engine.
const (
	MetricConnect          = "runview.transport.connect"
	MetricReconnect        = "runview.transport.reconnect"
	MetricFrames           = "runview.transport.frames"
	MetricMalformedFrames  = "runview.transport.malformed_frames"
	MetricBackoff          = "runview.transport.backoff"
	MetricEvents           = "runview.store.events"
	MetricEventsIgnored    = "runview.store.events_ignored"
	MetricPatchRejected    = "runview.store.patch_rejected"
	MetricSubscriberErrors = "runview.store.subscriber_errors"
)
