// Package telemetry provides the logging, metrics, and tracing seams used
// throughout the runtime. Every component accepts these interfaces rather
// than a concrete backend so the core stays free of ambient globals; the
// noop implementations make telemetry fully optional.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures the structured logging used across the runtime.
// Implementations typically delegate to goa.design/clue/log, but the
// interface stays small so tests can supply lightweight stubs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter, timer, and gauge helpers for runtime
// instrumentation. Implementations typically delegate to OpenTelemetry
// metric instruments.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, d time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so runtime code stays agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}
