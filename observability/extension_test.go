package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/compensation"
	"github.com/aksrustagi/coordinator/ext"
	"github.com/aksrustagi/coordinator/id"
	"github.com/aksrustagi/coordinator/observability"
	"github.com/aksrustagi/coordinator/signal"
	"github.com/aksrustagi/coordinator/workflow"
)

func newTestExtension() *observability.MetricsExtension {
	return observability.NewMetricsExtensionWithRegistry(prometheus.NewRegistry())
}

func newTestRun() *workflow.Run {
	return &workflow.Run{ID: id.NewRunID(), Name: "purchase-saga"}
}

func TestMetricsExtension_Name(t *testing.T) {
	e := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_RunOutcomes(t *testing.T) {
	e := newTestExtension()
	ctx := context.Background()
	run := newTestRun()

	for range 4 {
		if err := e.OnRunStarted(ctx, run); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	_ = e.OnRunCompleted(ctx, run, 2*time.Second)
	_ = e.OnRunFailed(ctx, run, errors.New("boom"))
	_ = e.OnRunRejected(ctx, run, "insufficient inventory")

	if got := testutil.ToFloat64(e.RunsStarted.WithLabelValues("purchase-saga")); got != 4 {
		t.Errorf("started = %v, want 4", got)
	}
	if got := testutil.ToFloat64(e.RunsActive.WithLabelValues("purchase-saga")); got != 1 {
		t.Errorf("active = %v, want 1", got)
	}
	for state, want := range map[string]float64{"completed": 1, "failed": 1, "rejected": 1, "cancelled": 0} {
		if got := testutil.ToFloat64(e.RunsFinished.WithLabelValues("purchase-saga", state)); got != want {
			t.Errorf("finished[%s] = %v, want %v", state, got, want)
		}
	}
	if got := testutil.CollectAndCount(e.RunDuration); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

func TestMetricsExtension_OtherHooks(t *testing.T) {
	e := newTestExtension()
	ctx := context.Background()
	run := newTestRun()

	_ = e.OnPhaseChanged(ctx, run, "validating", "reserving_resource")
	_ = e.OnRunContinued(ctx, run)
	_ = e.OnStepRetrying(ctx, &activity.Invocation{Workflow: run.Name, Step: "hold_funds"}, errors.New("timeout"), time.Second)
	_ = e.OnSignalReceived(ctx, run, &signal.Signal{Type: signal.TypeCancel})
	_ = e.OnCompensationUnresolved(ctx, run, &compensation.Entry{Step: "release_funds"})
	_ = e.OnCronFired(ctx, "waiver:lg_1", run.ID)

	checks := []struct {
		name string
		c    prometheus.Collector
	}{
		{"phase", e.PhaseTransitions.WithLabelValues("purchase-saga", "reserving_resource")},
		{"continued", e.RunsContinued.WithLabelValues("purchase-saga")},
		{"retries", e.StepRetries.WithLabelValues("purchase-saga")},
		{"signals", e.SignalsReceived.WithLabelValues("purchase-saga", signal.TypeCancel)},
		{"unresolved", e.CompensationsUnresolved.WithLabelValues("purchase-saga", "release_funds")},
		{"cron", e.CronFired.WithLabelValues("waiver:lg_1")},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.c); got != 1 {
			t.Errorf("%s = %v, want 1", c.name, got)
		}
	}
}

func TestMetricsExtension_Handler(t *testing.T) {
	e := newTestExtension()
	_ = e.OnRunStarted(context.Background(), newTestRun())

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "coordinator_runs_started_total") {
		t.Fatalf("exposition missing runs_started_total:\n%s", rec.Body.String())
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e := newTestExtension()
	r := ext.NewRegistry(slog.Default())
	r.Register(e)

	ctx := context.Background()
	run := newTestRun()
	r.EmitRunStarted(ctx, run)
	r.EmitRunCancelled(ctx, run, "user requested")

	if got := testutil.ToFloat64(e.RunsFinished.WithLabelValues("purchase-saga", "cancelled")); got != 1 {
		t.Errorf("cancelled = %v, want 1", got)
	}
	if got := testutil.ToFloat64(e.RunsActive.WithLabelValues("purchase-saga")); got != 0 {
		t.Errorf("active = %v, want 0", got)
	}
}
