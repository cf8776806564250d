package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/aksrustagi/coordinator/activity"
	mw "github.com/aksrustagi/coordinator/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func attrValue(attrs []attribute.KeyValue, key string) string {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value.AsString()
		}
	}
	return ""
}

func TestMetrics_RecordsDuration(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), newTestInvocation(), func(_ context.Context) error { return nil })

	metric := findMetric(collectMetrics(t, reader), "coordinator.activity.duration")
	if metric == nil {
		t.Fatal("coordinator.activity.duration metric not found")
	}
	hist, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("expected Histogram[float64] data type")
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("expected one recorded duration, got %+v", hist.DataPoints)
	}
}

func TestMetrics_StatusByClass(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"ok", nil, "ok"},
		{"retryable", errors.New("downstream timeout"), "retryable"},
		{"terminal", activity.Terminal(errors.New("listing not found")), "terminal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, mp := setupTestMeter()
			m := mw.MetricsWithMeter(mp.Meter("test"))

			_ = m(context.Background(), newTestInvocation(), func(_ context.Context) error { return tt.err })

			metric := findMetric(collectMetrics(t, reader), "coordinator.activity.attempts")
			if metric == nil {
				t.Fatal("coordinator.activity.attempts metric not found")
			}
			sum, ok := metric.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				t.Fatal("expected Sum[int64] with data points")
			}
			attrs := sum.DataPoints[0].Attributes.ToSlice()
			if got := attrValue(attrs, "status"); got != tt.want {
				t.Errorf("status = %q, want %q", got, tt.want)
			}
			if got := attrValue(attrs, "step"); got != "holding_funds" {
				t.Errorf("step = %q, want %q", got, "holding_funds")
			}
		})
	}
}

func TestMetrics_FanOutStepFamily(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	inv := newTestInvocation()
	inv.Step = "settle:pos_123"
	_ = m(context.Background(), inv, func(_ context.Context) error { return nil })

	metric := findMetric(collectMetrics(t, reader), "coordinator.activity.attempts")
	if metric == nil {
		t.Fatal("coordinator.activity.attempts metric not found")
	}
	sum := metric.Data.(metricdata.Sum[int64])
	if got := attrValue(sum.DataPoints[0].Attributes.ToSlice(), "step"); got != "settle" {
		t.Errorf("step = %q, want %q", got, "settle")
	}
}
