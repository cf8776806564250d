package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/id"
	mw "github.com/aksrustagi/coordinator/middleware"
)

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

func newTestInvocation() *activity.Invocation {
	runID := id.NewRunID()
	return &activity.Invocation{
		RunID:    runID,
		Workflow: "purchase-saga",
		Step:     "holding_funds",
		Attempt:  2,
		Key:      activity.Key(runID, "holding_funds"),
		Policy:   activity.DefaultPolicy(),
	}
}

func TestTracing_CreatesSpan(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)

	if err := m(context.Background(), newTestInvocation(), func(_ context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "coordinator.activity.attempt" {
		t.Errorf("span name = %q, want %q", spans[0].Name(), "coordinator.activity.attempt")
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("expected status Ok, got %v", spans[0].Status().Code)
	}
}

func TestTracing_SpanAttributes(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)
	inv := newTestInvocation()

	_ = m(context.Background(), inv, func(_ context.Context) error { return nil })

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	attrMap := make(map[string]any)
	for _, a := range spans[0].Attributes() {
		switch a.Value.Type() {
		case attribute.STRING:
			attrMap[string(a.Key)] = a.Value.AsString()
		case attribute.INT64:
			attrMap[string(a.Key)] = a.Value.AsInt64()
		}
	}

	expected := map[string]any{
		"coordinator.run.id":          inv.RunID.String(),
		"coordinator.workflow":        "purchase-saga",
		"coordinator.step":            "holding_funds",
		"coordinator.attempt":         int64(2),
		"coordinator.idempotency_key": inv.Key,
	}
	for key, want := range expected {
		got, ok := attrMap[key]
		if !ok {
			t.Errorf("missing attribute %q", key)
			continue
		}
		if got != want {
			t.Errorf("attribute %q = %v, want %v", key, got, want)
		}
	}
}

func TestTracing_Error_SetsErrorStatus(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)

	handlerErr := activity.Terminal(errors.New("insufficient funds"))
	err := m(context.Background(), newTestInvocation(), func(_ context.Context) error { return handlerErr })
	if !errors.Is(err, handlerErr) {
		t.Fatalf("expected handler error, got %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected status Error, got %v", spans[0].Status().Code)
	}

	var class string
	for _, a := range spans[0].Attributes() {
		if a.Key == "coordinator.failure_class" {
			class = a.Value.AsString()
		}
	}
	if class != string(activity.ClassTerminal) {
		t.Errorf("failure_class = %q, want %q", class, activity.ClassTerminal)
	}

	found := false
	for _, ev := range spans[0].Events() {
		if ev.Name == "exception" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected 'exception' event to be recorded on span")
	}
}

func TestTracing_PropagatesContext(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)

	var handlerSpanCtx trace.SpanContext
	_ = m(context.Background(), newTestInvocation(), func(ctx context.Context) error {
		handlerSpanCtx = trace.SpanFromContext(ctx).SpanContext()
		return nil
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if !handlerSpanCtx.IsValid() {
		t.Error("expected valid span context in handler, got invalid")
	}
	if handlerSpanCtx.TraceID() != spans[0].SpanContext().TraceID() {
		t.Error("handler span context trace ID does not match middleware span")
	}
}

func TestTracing_DefaultNoopSafe(t *testing.T) {
	m := mw.Tracing()
	called := false
	err := m(context.Background(), newTestInvocation(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}
