package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// NoopLogger drops every message.
	NoopLogger struct{}

	// NoopMetrics drops every measurement.
	NoopMetrics struct{}

	// NoopTracer hands out spans that record nothing. The context passed to
	// Start is returned unchanged.
	NoopTracer struct{}

	discardSpan struct{}
)

// NewNoopLogger returns the Logger used when a host configures none.
func NewNoopLogger() Logger { return NoopLogger{} }

// NewNoopMetrics returns the Metrics used when a host configures none.
func NewNoopMetrics() Metrics { return NoopMetrics{} }

// NewNoopTracer returns the Tracer used when a host configures none.
func NewNoopTracer() Tracer { return NoopTracer{} }

func (NoopLogger) Debug(context.Context, string, ...any) {}
func (NoopLogger) Info(context.Context, string, ...any)  {}
func (NoopLogger) Warn(context.Context, string, ...any)  {}
func (NoopLogger) Error(context.Context, string, ...any) {}

func (NoopMetrics) IncCounter(string, float64, ...string)        {}
func (NoopMetrics) RecordTimer(string, time.Duration, ...string) {}
func (NoopMetrics) RecordGauge(string, float64, ...string)       {}

func (NoopTracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, Span) {
	return ctx, discardSpan{}
}

func (NoopTracer) Span(context.Context) Span { return discardSpan{} }

func (discardSpan) End(...trace.SpanEndOption)              {}
func (discardSpan) AddEvent(string, ...any)                 {}
func (discardSpan) SetStatus(codes.Code, string)            {}
func (discardSpan) RecordError(error, ...trace.EventOption) {}
