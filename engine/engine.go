// Package engine wires the coordinator subsystems together. It creates the
// extension registry, middleware chain, executor, runner, signal bus,
// compensation service, stream broker and cron scheduler, and provides the
// start/signal/query/cancel API.
//
// This package exists to break the import cycle: the root coordinator
// package defines the sentinel errors and Config imported by every
// subsystem and so cannot import those packages back.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	coordinator "github.com/aksrustagi/coordinator"
	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/backoff"
	"github.com/aksrustagi/coordinator/compensation"
	"github.com/aksrustagi/coordinator/cron"
	"github.com/aksrustagi/coordinator/executor"
	"github.com/aksrustagi/coordinator/ext"
	"github.com/aksrustagi/coordinator/id"
	mw "github.com/aksrustagi/coordinator/middleware"
	"github.com/aksrustagi/coordinator/observability"
	"github.com/aksrustagi/coordinator/signal"
	"github.com/aksrustagi/coordinator/stream"
	"github.com/aksrustagi/coordinator/workflow"
)

// instrumentationName scopes the tracer and meter of the default
// middleware.
const instrumentationName = "github.com/aksrustagi/coordinator"

// Engine wraps a Coordinator with typed subsystem access.
// Use Build() to create one.
type Engine struct {
	c          *coordinator.Coordinator
	extensions *ext.Registry
	mws        []mw.Middleware
	limits     []mw.Limit
	bo         backoff.Strategy
	logger     *slog.Logger

	registry     *workflow.Registry
	runner       *workflow.Runner
	bus          *signal.Bus
	compensation *compensation.Service
	runs         workflow.Store

	metrics   *observability.MetricsExtension
	promReg   *prometheus.Registry
	broker    *stream.Broker
	scheduler *cron.Scheduler
	cronOpts  []cron.SchedulerOption

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the end of the activity chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff used for steps that do not supply
// their own. If not set, the exponential delay derived from Config is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithRateLimits bounds the rate and concurrency of matching steps across
// every run of this engine.
func WithRateLimits(limits ...mw.Limit) Option {
	return func(eng *Engine) {
		eng.limits = append(eng.limits, limits...)
	}
}

// WithPrometheusRegistry registers the run metrics on reg instead of a
// private registry.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(eng *Engine) {
		eng.promReg = reg
	}
}

// WithSchedulerOptions configures the cron scheduler.
func WithSchedulerOptions(opts ...cron.SchedulerOption) Option {
	return func(eng *Engine) {
		eng.cronOpts = append(eng.cronOpts, opts...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware. If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Coordinator. The Coordinator's
// store must implement workflow.Store, signal.Store and compensation.Store.
func Build(c *coordinator.Coordinator, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	store := c.Store()
	if store == nil {
		return nil, coordinator.ErrNoStore
	}

	ws, ok := store.(workflow.Store)
	if !ok {
		return nil, fmt.Errorf("coordinator: store does not implement workflow.Store")
	}
	ss, ok := store.(signal.Store)
	if !ok {
		return nil, fmt.Errorf("coordinator: store does not implement signal.Store")
	}
	cs, ok := store.(compensation.Store)
	if !ok {
		return nil, fmt.Errorf("coordinator: store does not implement compensation.Store")
	}

	eng := &Engine{
		c:          c,
		extensions: ext.NewRegistry(logger),
		logger:     logger,
		registry:   workflow.NewRegistry(),
		runs:       ws,
	}
	for _, opt := range opts {
		opt(eng)
	}

	// Prometheus run metrics and the event stream are always registered.
	if eng.promReg != nil {
		eng.metrics = observability.NewMetricsExtensionWithRegistry(eng.promReg)
	} else {
		eng.metrics = observability.NewMetricsExtension()
	}
	eng.extensions.Register(eng.metrics)
	eng.broker = stream.NewBroker(logger)
	eng.extensions.Register(eng.broker)

	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default stack: recover → tracing → metrics → logging → rate limit → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
	}
	if len(eng.limits) > 0 {
		defaultMws = append(defaultMws, mw.RateLimit(mw.NewLimiter(eng.limits...)))
	}
	defaultMws = append(defaultMws, mw.Timeout(logger))
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	cfg := c.Config()
	policy := activity.Policy{
		MaxAttempts:    cfg.StepMaxAttempts,
		InitialBackoff: cfg.StepInitialBackoff,
		Multiplier:     cfg.StepBackoffMultiplier,
		MaxBackoff:     cfg.StepMaxBackoff,
		Timeout:        cfg.StepTimeout,
		Backoff:        eng.bo,
	}

	eng.bus = signal.NewBus(ss)
	eng.compensation = compensation.NewService(cs)
	exec := executor.New(logger, eng.extensions, allMws...)
	eng.runner = workflow.NewRunner(eng.registry, ws, eng.bus, exec, eng.extensions, logger,
		workflow.WithPollInterval(cfg.SignalPollInterval),
		workflow.WithDefaultPolicy(policy),
		workflow.WithCompensationAttempts(cfg.CompensationMaxAttempts),
		workflow.WithUnresolvedRecorder(eng.compensation),
	)

	schedOpts := make([]cron.SchedulerOption, 0, len(eng.cronOpts)+1)
	if locker, ok := store.(cron.Locker); ok {
		schedOpts = append(schedOpts, cron.WithLocker(locker, nodeName()))
	}
	schedOpts = append(schedOpts, eng.cronOpts...)
	startFunc := func(ctx context.Context, name string, input []byte) (id.RunID, error) {
		run, err := eng.runner.StartRaw(ctx, name, input)
		if err != nil {
			return id.Nil, err
		}
		return run.ID, nil
	}
	eng.scheduler = cron.NewScheduler(startFunc, eng.extensions, logger, schedOpts...)

	// Wire back into the Coordinator.
	c.SetSupervisor(&supervisor{
		runner:    eng.runner,
		scheduler: eng.scheduler,
		logger:    logger,
		timeout:   cfg.ShutdownTimeout,
	})
	c.SetExtensions(eng.extensions)

	return eng, nil
}

// nodeName identifies this process as a lock owner.
func nodeName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + ":" + strconv.Itoa(os.Getpid())
}

// RegisterWorkflow registers a typed workflow definition with the engine.
func RegisterWorkflow[T any](eng *Engine, def *workflow.Definition[T]) {
	workflow.RegisterDefinition(eng.registry, def)
}

// StartWorkflow starts a run with a typed input and returns without
// waiting for it.
func StartWorkflow[T any](ctx context.Context, eng *Engine, name string, input T, opts ...workflow.StartOption) (*workflow.Run, error) {
	return workflow.Start(ctx, eng.runner, name, input, opts...)
}

// ExecuteWorkflow starts a run and blocks until it is terminal.
func ExecuteWorkflow[T any](ctx context.Context, eng *Engine, name string, input T, opts ...workflow.StartOption) (*workflow.Run, error) {
	return workflow.Execute(ctx, eng.runner, name, input, opts...)
}

// RegisterCron adds a schedule that starts def.Workflow with def.Input.
func RegisterCron[T any](eng *Engine, def cron.Definition[T]) error {
	entry, err := def.Entry()
	if err != nil {
		return err
	}
	if err := eng.scheduler.Register(entry); err != nil {
		return fmt.Errorf("register cron %q: %w", def.Name, err)
	}
	eng.logger.Info("cron registered",
		slog.String("name", def.Name),
		slog.String("schedule", def.Schedule),
		slog.String("workflow", def.Workflow),
	)
	return nil
}

// Signal delivers a raw signal payload to a run.
func (eng *Engine) Signal(ctx context.Context, runID id.RunID, signalType string, payload []byte) (*signal.Signal, error) {
	return eng.runner.Signal(ctx, runID, signalType, payload)
}

// SignalTyped JSON-encodes payload and delivers it to a run.
func SignalTyped[T any](ctx context.Context, eng *Engine, runID id.RunID, signalType string, payload T) (*signal.Signal, error) {
	data, err := signal.Encode(payload)
	if err != nil {
		return nil, err
	}
	return eng.runner.Signal(ctx, runID, signalType, data)
}

// Query returns the latest snapshot a run published for queryType.
func (eng *Engine) Query(ctx context.Context, runID id.RunID, queryType string) ([]byte, error) {
	return eng.runner.Query(ctx, runID, queryType)
}

// QueryAs queries a run and decodes the snapshot into T.
func QueryAs[T any](ctx context.Context, eng *Engine, runID id.RunID, queryType string) (T, error) {
	var out T
	data, err := eng.runner.Query(ctx, runID, queryType)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %q snapshot of run %s: %w", queryType, runID, err)
	}
	return out, nil
}

// Cancel asks a run to stop at its next cancellation checkpoint.
func (eng *Engine) Cancel(ctx context.Context, runID id.RunID, reason string) error {
	return eng.runner.Cancel(ctx, runID, reason)
}

// Wait blocks until the run is terminal.
func (eng *Engine) Wait(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	return eng.runner.Wait(ctx, runID)
}

// GetRun returns a run by ID.
func (eng *Engine) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	return eng.runs.GetRun(ctx, runID)
}

// ListRuns lists runs matching opts.
func (eng *Engine) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	return eng.runs.ListRuns(ctx, opts)
}

// Checkpoints returns the recorded steps of a run, oldest first.
func (eng *Engine) Checkpoints(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	return eng.runs.ListCheckpoints(ctx, runID)
}

// Timeline returns the classified history of a run, oldest first.
func (eng *Engine) Timeline(ctx context.Context, runID id.RunID) ([]workflow.TimelineEntry, error) {
	return eng.runner.Timeline(ctx, runID)
}

// StepData returns the recorded result of one step of a run.
func (eng *Engine) StepData(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	return eng.runner.StepData(ctx, runID, stepName)
}

// Unresolved lists compensations that gave up.
func (eng *Engine) Unresolved(ctx context.Context, opts compensation.ListOpts) ([]*compensation.Entry, error) {
	return eng.compensation.Store().ListUnresolved(ctx, opts)
}

// ResolveUnresolved closes an entry after manual follow-up.
func (eng *Engine) ResolveUnresolved(ctx context.Context, entryID id.CompensationID, note string) error {
	return eng.compensation.Resolve(ctx, entryID, note)
}

// Watch subscribes to the lifecycle events of one run. The caller removes
// the subscription with Broker().RemoveSubscriber.
func (eng *Engine) Watch(runID id.RunID) *stream.Subscriber {
	return eng.broker.Watch(runID)
}

// Start resumes non-terminal runs and starts the cron scheduler.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.c.Start(ctx)
}

// Stop interrupts in-flight runs, stops the scheduler, emits the shutdown
// hook and closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.c.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the workflow registry.
func (eng *Engine) Registry() *workflow.Registry { return eng.registry }

// Runner returns the workflow runner.
func (eng *Engine) Runner() *workflow.Runner { return eng.runner }

// Coordinator returns the underlying Coordinator.
func (eng *Engine) Coordinator() *coordinator.Coordinator { return eng.c }

// Compensation returns the compensation service.
func (eng *Engine) Compensation() *compensation.Service { return eng.compensation }

// Broker returns the lifecycle event broker.
func (eng *Engine) Broker() *stream.Broker { return eng.broker }

// Metrics returns the prometheus run metrics extension.
func (eng *Engine) Metrics() *observability.MetricsExtension { return eng.metrics }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }
