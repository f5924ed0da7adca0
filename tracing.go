package svctree

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope used when no tracer is configured
const tracerName = "github.com/axondata/go-svctree"

func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// startSpan opens a span for a lifecycle operation on a service
func startSpan(ctx context.Context, tracer trace.Tracer, op Operation, service string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "svctree."+op.String(),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("svctree.service", service),
			attribute.String("svctree.operation", op.String()),
		))
}

// endSpan records err on span and ends it
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
