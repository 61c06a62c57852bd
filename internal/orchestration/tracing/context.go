// Package tracing provides OpenTelemetry tracing for the serial executor.
// Spans are started per command; a caller's span context travels with the
// command so executor spans join the caller's trace.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/dyncomp/internal/orchestration/command"
)

// spanCarrier is implemented by commands embedding command.BaseCommand.
type spanCarrier interface {
	SpanContext() trace.SpanContext
	SetSpanContext(trace.SpanContext)
}

// TraceIDFromContext returns the trace ID of the span in ctx, or "".
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// Attach copies the span context of ctx onto cmd. Commands that cannot carry
// a span context, and contexts without one, are left alone.
func Attach(ctx context.Context, cmd command.Command) {
	carrier, ok := cmd.(spanCarrier)
	if !ok || ctx == nil {
		return
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		carrier.SetSpanContext(sc)
	}
}

// restoreSpanContext makes the span context carried by cmd the parent of
// spans started from the returned context.
func restoreSpanContext(ctx context.Context, cmd command.Command) context.Context {
	if carrier, ok := cmd.(spanCarrier); ok {
		if sc := carrier.SpanContext(); sc.IsValid() {
			return trace.ContextWithRemoteSpanContext(ctx, sc)
		}
	}
	return ctx
}
