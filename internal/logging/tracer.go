package logging

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies this service's spans in the global TracerProvider.
// Callers never configure the provider directly here, and main does not
// register one either, so spans go to otel's default no-op provider (every
// span a cheap, harmless stub) unless the process registers another.
const tracerName = "archive-ai/orchestrator"

// StartSpan starts a span named `name` with the given attributes and returns
// the derived context plus an end function the caller defers, passing the
// error (if any) that terminated the traced operation. Grounded on the
// teacher's internal/agent tracer pattern of wrapping otel spans behind a
// small first-class helper instead of spreading otel calls through business
// logic.
func StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(err error)) {
	tr := otel.Tracer(tracerName)
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	spanCtx, span := tr.Start(ctx, name, trace.WithAttributes(kvs...))
	return spanCtx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
