package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// NoopLogger discards every log message. It is the default Logger when
	// no caller-supplied implementation is configured.
	NoopLogger struct{}

	// NoopMetrics discards every metric. It is the default Metrics when no
	// caller-supplied implementation is configured.
	NoopMetrics struct{}

	// NoopTracer produces spans that record nothing. It is the default
	// Tracer when no caller-supplied implementation is configured.
	NoopTracer struct{}

	noopSpan struct{}
)

// Debug discards the message.
func (NoopLogger) Debug(context.Context, string, ...any) {}

// Info discards the message.
func (NoopLogger) Info(context.Context, string, ...any) {}

// Error discards the message.
func (NoopLogger) Error(context.Context, string, ...any) {}

// IncCounter discards the counter increment.
func (NoopMetrics) IncCounter(string, float64, ...string) {}

// RecordTimer discards the timer reading.
func (NoopMetrics) RecordTimer(string, time.Duration, ...string) {}

// RecordGauge discards the gauge reading.
func (NoopMetrics) RecordGauge(string, float64, ...string) {}

// Start returns ctx unchanged and a span that records nothing.
func (NoopTracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (noopSpan) End(...trace.SpanEndOption)              {}
func (noopSpan) AddEvent(string, ...any)                 {}
func (noopSpan) SetStatus(codes.Code, string)            {}
func (noopSpan) RecordError(error, ...trace.EventOption) {}
