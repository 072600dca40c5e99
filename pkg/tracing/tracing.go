// Package tracing wraps the invocation lifecycle's phases (fetch,
// pre-invocation setup, setup, tests, teardown, cleanup) in OpenTelemetry
// spans. Like pkg/metrics, this promotes an indirect teacher dependency
// (go.opentelemetry.io/otel, pulled in transitively through
// controller-runtime) to a direct one with an actual home in
// SPEC_FULL.md's ambient stack.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "invocore/internal/invocation"

// Tracer returns the package-scoped tracer every phase span is created
// from.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartPhase starts a span named phase, tagged with the module/shard
// attributes callers commonly want on every phase span.
func StartPhase(ctx context.Context, phase string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, phase, trace.WithAttributes(attrs...))
}

// EndPhase records err (if any) on span and ends it. Centralized here
// so every phase method in internal/invocation ends its span the same
// way instead of re-deriving the status-code mapping.
func EndPhase(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// ModuleAttributes returns the standard set of span attributes for a
// module-scoped phase.
func ModuleAttributes(module, abi string, shardIndex int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("invocore.module", module),
		attribute.String("invocore.abi", abi),
		attribute.Int("invocore.shard_index", shardIndex),
	}
}
