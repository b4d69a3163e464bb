package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/doppelganger"

// Tracer returns the pipeline tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// Logger returns the default logger, with trace_id and span_id attached when
// ctx carries a span. Pipeline logs use it so a run's lines can be joined to
// its trace.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

// StartStageSpan starts a span for one pipeline stage applied to one segment.
// segmentID may be empty for run-level stages such as aggregation.
func StartStageSpan(ctx context.Context, stage, segmentID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("stage", stage)}
	if segmentID != "" {
		attrs = append(attrs, attribute.String("segment", segmentID))
	}
	return Tracer().Start(ctx, "pipeline."+stage, trace.WithAttributes(attrs...))
}
