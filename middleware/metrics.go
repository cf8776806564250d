package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aksrustagi/coordinator/activity"
)

// meterName is the instrumentation scope name for coordinator metrics.
const meterName = "github.com/aksrustagi/coordinator"

// Metrics returns middleware that records per-attempt metrics using the
// global OTel MeterProvider.
//
// Instruments:
//   - coordinator.activity.duration (Float64Histogram): attempt time in
//     seconds, with attributes workflow, step, status
//   - coordinator.activity.attempts (Int64Counter): total attempts, with
//     attributes workflow, step, status ("ok", "retryable" or "terminal")
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram( //nolint:errcheck // noop fallback guaranteed by OTel API contract
		"coordinator.activity.duration",
		metric.WithDescription("Duration of activity attempts in seconds"),
		metric.WithUnit("s"),
	)
	attempts, _ := meter.Int64Counter( //nolint:errcheck // noop fallback guaranteed by OTel API contract
		"coordinator.activity.attempts",
		metric.WithDescription("Total number of activity attempts"),
		metric.WithUnit("{attempt}"),
	)

	return func(ctx context.Context, inv *activity.Invocation, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = string(inv.Policy.ClassOf(err))
		}

		attrs := metric.WithAttributes(
			attribute.String("workflow", inv.Workflow),
			attribute.String("step", stepFamily(inv.Step)),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		attempts.Add(ctx, 1, attrs)

		return err
	}
}

// stepFamily strips the per-item suffix from fan-out step names
// ("settle:pos_1" → "settle") to keep metric cardinality bounded.
func stepFamily(step string) string {
	for i := 0; i < len(step); i++ {
		if step[i] == ':' {
			return step[:i]
		}
	}
	return step
}
