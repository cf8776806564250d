package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/compensation"
	"github.com/aksrustagi/coordinator/ext"
	"github.com/aksrustagi/coordinator/id"
	"github.com/aksrustagi/coordinator/signal"
	"github.com/aksrustagi/coordinator/workflow"
)

const namespace = "coordinator"

// Compile-time interface checks.
var (
	_ ext.Extension              = (*MetricsExtension)(nil)
	_ ext.RunStarted             = (*MetricsExtension)(nil)
	_ ext.PhaseChanged           = (*MetricsExtension)(nil)
	_ ext.RunContinued           = (*MetricsExtension)(nil)
	_ ext.RunCompleted           = (*MetricsExtension)(nil)
	_ ext.RunFailed              = (*MetricsExtension)(nil)
	_ ext.RunRejected            = (*MetricsExtension)(nil)
	_ ext.RunCancelled           = (*MetricsExtension)(nil)
	_ ext.StepRetrying           = (*MetricsExtension)(nil)
	_ ext.SignalReceived         = (*MetricsExtension)(nil)
	_ ext.CompensationUnresolved = (*MetricsExtension)(nil)
	_ ext.CronFired              = (*MetricsExtension)(nil)
)

// MetricsExtension records run lifecycle metrics as Prometheus collectors.
// Register it as a coordinator extension to track run outcomes per
// workflow, phase transitions, retries, signals, unresolved compensations
// and schedule fires.
type MetricsExtension struct {
	RunsStarted             *prometheus.CounterVec
	RunsFinished            *prometheus.CounterVec
	RunsActive              *prometheus.GaugeVec
	RunDuration             *prometheus.HistogramVec
	RunsContinued           *prometheus.CounterVec
	PhaseTransitions        *prometheus.CounterVec
	StepRetries             *prometheus.CounterVec
	SignalsReceived         *prometheus.CounterVec
	CompensationsUnresolved *prometheus.CounterVec
	CronFired               *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetricsExtension creates a MetricsExtension registered on a fresh
// registry that also carries the Go runtime and process collectors.
func NewMetricsExtension() *MetricsExtension {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewMetricsExtensionWithRegistry(reg)
}

// NewMetricsExtensionWithRegistry creates a MetricsExtension whose
// collectors are registered on reg.
func NewMetricsExtensionWithRegistry(reg *prometheus.Registry) *MetricsExtension {
	m := &MetricsExtension{
		RunsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of runs started",
		}, []string{"workflow"}),
		RunsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Total number of runs that reached a terminal state",
		}, []string{"workflow", "state"}), // state: completed, failed, rejected, cancelled
		RunsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Number of runs started by this process and not yet terminal",
		}, []string{"workflow"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of completed runs in seconds",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 30, 60, 300, 3600},
		}, []string{"workflow"}),
		RunsContinued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_continued_total",
			Help:      "Total number of continue-as-new checkpoints",
		}, []string{"workflow"}),
		PhaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Total number of phase transitions",
		}, []string{"workflow", "phase"}),
		StepRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_retries_total",
			Help:      "Total number of activity retries",
		}, []string{"workflow"}),
		SignalsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_received_total",
			Help:      "Total number of signals consumed by runs",
		}, []string{"workflow", "type"}),
		CompensationsUnresolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_unresolved_total",
			Help:      "Total number of compensations that needed manual resolution",
		}, []string{"workflow", "step"}),
		CronFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cron_fired_total",
			Help:      "Total number of runs started by schedules",
		}, []string{"entry"}),
		registry: reg,
	}
	reg.MustRegister(
		m.RunsStarted, m.RunsFinished, m.RunsActive, m.RunDuration, m.RunsContinued,
		m.PhaseTransitions, m.StepRetries, m.SignalsReceived, m.CompensationsUnresolved, m.CronFired,
	)
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// Registry returns the registry the collectors are registered on.
func (m *MetricsExtension) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *MetricsExtension) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (m *MetricsExtension) OnRunStarted(_ context.Context, run *workflow.Run) error {
	m.RunsStarted.WithLabelValues(run.Name).Inc()
	m.RunsActive.WithLabelValues(run.Name).Inc()
	return nil
}

// OnPhaseChanged implements ext.PhaseChanged.
func (m *MetricsExtension) OnPhaseChanged(_ context.Context, run *workflow.Run, _, to string) error {
	m.PhaseTransitions.WithLabelValues(run.Name, to).Inc()
	return nil
}

// OnRunContinued implements ext.RunContinued.
func (m *MetricsExtension) OnRunContinued(_ context.Context, run *workflow.Run) error {
	m.RunsContinued.WithLabelValues(run.Name).Inc()
	return nil
}

// OnRunCompleted implements ext.RunCompleted.
func (m *MetricsExtension) OnRunCompleted(_ context.Context, run *workflow.Run, elapsed time.Duration) error {
	m.finish(run, workflow.RunStateCompleted)
	m.RunDuration.WithLabelValues(run.Name).Observe(elapsed.Seconds())
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (m *MetricsExtension) OnRunFailed(_ context.Context, run *workflow.Run, _ error) error {
	m.finish(run, workflow.RunStateFailed)
	return nil
}

// OnRunRejected implements ext.RunRejected.
func (m *MetricsExtension) OnRunRejected(_ context.Context, run *workflow.Run, _ string) error {
	m.finish(run, workflow.RunStateRejected)
	return nil
}

// OnRunCancelled implements ext.RunCancelled.
func (m *MetricsExtension) OnRunCancelled(_ context.Context, run *workflow.Run, _ string) error {
	m.finish(run, workflow.RunStateCancelled)
	return nil
}

func (m *MetricsExtension) finish(run *workflow.Run, state workflow.RunState) {
	m.RunsFinished.WithLabelValues(run.Name, string(state)).Inc()
	m.RunsActive.WithLabelValues(run.Name).Dec()
}

// ── Other hooks ─────────────────────────────────────

// OnStepRetrying implements ext.StepRetrying.
func (m *MetricsExtension) OnStepRetrying(_ context.Context, inv *activity.Invocation, _ error, _ time.Duration) error {
	m.StepRetries.WithLabelValues(inv.Workflow).Inc()
	return nil
}

// OnSignalReceived implements ext.SignalReceived.
func (m *MetricsExtension) OnSignalReceived(_ context.Context, run *workflow.Run, sig *signal.Signal) error {
	m.SignalsReceived.WithLabelValues(run.Name, sig.Type).Inc()
	return nil
}

// OnCompensationUnresolved implements ext.CompensationUnresolved.
func (m *MetricsExtension) OnCompensationUnresolved(_ context.Context, run *workflow.Run, e *compensation.Entry) error {
	m.CompensationsUnresolved.WithLabelValues(run.Name, e.Step).Inc()
	return nil
}

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(_ context.Context, entryName string, _ id.RunID) error {
	m.CronFired.WithLabelValues(entryName).Inc()
	return nil
}
