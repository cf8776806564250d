package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aksrustagi/coordinator/activity"
)

// tracerName is the instrumentation scope name for coordinator tracing.
const tracerName = "github.com/aksrustagi/coordinator"

// Tracing returns middleware that wraps each attempt in an OpenTelemetry
// span. With no TracerProvider configured globally the noop tracer is used
// and this middleware becomes a pass-through.
//
// Span attributes: coordinator.run.id, coordinator.workflow,
// coordinator.step, coordinator.attempt, coordinator.idempotency_key.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, inv *activity.Invocation, next Handler) error {
		ctx, span := tracer.Start(ctx, "coordinator.activity.attempt",
			trace.WithAttributes(
				attribute.String("coordinator.run.id", inv.RunID.String()),
				attribute.String("coordinator.workflow", inv.Workflow),
				attribute.String("coordinator.step", inv.Step),
				attribute.Int("coordinator.attempt", inv.Attempt),
				attribute.String("coordinator.idempotency_key", inv.Key),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.String("coordinator.failure_class", string(inv.Policy.ClassOf(err))))
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
