package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agent-desk-sandbox"

// Tracer wraps OpenTelemetry tracing for the execution subsystem.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("desksandbox.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// Common attribute keys for execution tracing.
var (
	AttrExecID     = attribute.Key("desksandbox.execution.id")
	AttrLanguage   = attribute.Key("desksandbox.language")
	AttrExitCode   = attribute.Key("desksandbox.exit_code")
	AttrDurationMS = attribute.Key("desksandbox.duration_ms")
	AttrActionKind = attribute.Key("desksandbox.ui.action")
	AttrDisplay    = attribute.Key("desksandbox.ui.display")
)
