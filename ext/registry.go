package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/compensation"
	"github.com/aksrustagi/coordinator/id"
	"github.com/aksrustagi/coordinator/signal"
	"github.com/aksrustagi/coordinator/workflow"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Registry implements workflow.RunEmitter and executor.Emitter.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	runStarted             []entry[RunStarted]
	phaseChanged           []entry[PhaseChanged]
	runContinued           []entry[RunContinued]
	runCompleted           []entry[RunCompleted]
	runFailed              []entry[RunFailed]
	runRejected            []entry[RunRejected]
	runCancelled           []entry[RunCancelled]
	stepCompleted          []entry[StepCompleted]
	stepFailed             []entry[StepFailed]
	stepRetrying           []entry[StepRetrying]
	signalReceived         []entry[SignalReceived]
	compensationUnresolved []entry[CompensationUnresolved]
	cronFired              []entry[CronFired]
	shutdown               []entry[Shutdown]
}

var _ workflow.RunEmitter = (*Registry)(nil)

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// add appends e to list when it implements H.
func add[H any](list []entry[H], name string, e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(list, entry[H]{name: name, hook: h})
	}
	return list
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	r.runStarted = add(r.runStarted, name, e)
	r.phaseChanged = add(r.phaseChanged, name, e)
	r.runContinued = add(r.runContinued, name, e)
	r.runCompleted = add(r.runCompleted, name, e)
	r.runFailed = add(r.runFailed, name, e)
	r.runRejected = add(r.runRejected, name, e)
	r.runCancelled = add(r.runCancelled, name, e)
	r.stepCompleted = add(r.stepCompleted, name, e)
	r.stepFailed = add(r.stepFailed, name, e)
	r.stepRetrying = add(r.stepRetrying, name, e)
	r.signalReceived = add(r.signalReceived, name, e)
	r.compensationUnresolved = add(r.compensationUnresolved, name, e)
	r.cronFired = add(r.cronFired, name, e)
	r.shutdown = add(r.shutdown, name, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// emit calls fn for every entry, logging hook errors.
func emit[H any](r *Registry, hook string, list []entry[H], fn func(H) error) {
	for _, e := range list {
		if err := fn(e.hook); err != nil {
			r.logHookError(hook, e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Run event emitters
// ──────────────────────────────────────────────────

// EmitRunStarted notifies all extensions that implement RunStarted.
func (r *Registry) EmitRunStarted(ctx context.Context, run *workflow.Run) {
	emit(r, "OnRunStarted", r.runStarted, func(h RunStarted) error {
		return h.OnRunStarted(ctx, run)
	})
}

// EmitPhaseChanged notifies all extensions that implement PhaseChanged.
func (r *Registry) EmitPhaseChanged(ctx context.Context, run *workflow.Run, from, to string) {
	emit(r, "OnPhaseChanged", r.phaseChanged, func(h PhaseChanged) error {
		return h.OnPhaseChanged(ctx, run, from, to)
	})
}

// EmitRunContinued notifies all extensions that implement RunContinued.
func (r *Registry) EmitRunContinued(ctx context.Context, run *workflow.Run) {
	emit(r, "OnRunContinued", r.runContinued, func(h RunContinued) error {
		return h.OnRunContinued(ctx, run)
	})
}

// EmitRunCompleted notifies all extensions that implement RunCompleted.
func (r *Registry) EmitRunCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) {
	emit(r, "OnRunCompleted", r.runCompleted, func(h RunCompleted) error {
		return h.OnRunCompleted(ctx, run, elapsed)
	})
}

// EmitRunFailed notifies all extensions that implement RunFailed.
func (r *Registry) EmitRunFailed(ctx context.Context, run *workflow.Run, runErr error) {
	emit(r, "OnRunFailed", r.runFailed, func(h RunFailed) error {
		return h.OnRunFailed(ctx, run, runErr)
	})
}

// EmitRunRejected notifies all extensions that implement RunRejected.
func (r *Registry) EmitRunRejected(ctx context.Context, run *workflow.Run, reason string) {
	emit(r, "OnRunRejected", r.runRejected, func(h RunRejected) error {
		return h.OnRunRejected(ctx, run, reason)
	})
}

// EmitRunCancelled notifies all extensions that implement RunCancelled.
func (r *Registry) EmitRunCancelled(ctx context.Context, run *workflow.Run, reason string) {
	emit(r, "OnRunCancelled", r.runCancelled, func(h RunCancelled) error {
		return h.OnRunCancelled(ctx, run, reason)
	})
}

// ──────────────────────────────────────────────────
// Step event emitters
// ──────────────────────────────────────────────────

// EmitStepCompleted notifies all extensions that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, run *workflow.Run, step string, elapsed time.Duration) {
	emit(r, "OnStepCompleted", r.stepCompleted, func(h StepCompleted) error {
		return h.OnStepCompleted(ctx, run, step, elapsed)
	})
}

// EmitStepFailed notifies all extensions that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, run *workflow.Run, step string, stepErr error) {
	emit(r, "OnStepFailed", r.stepFailed, func(h StepFailed) error {
		return h.OnStepFailed(ctx, run, step, stepErr)
	})
}

// EmitStepRetrying notifies all extensions that implement StepRetrying.
func (r *Registry) EmitStepRetrying(ctx context.Context, inv *activity.Invocation, stepErr error, delay time.Duration) {
	emit(r, "OnStepRetrying", r.stepRetrying, func(h StepRetrying) error {
		return h.OnStepRetrying(ctx, inv, stepErr, delay)
	})
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitSignalReceived notifies all extensions that implement SignalReceived.
func (r *Registry) EmitSignalReceived(ctx context.Context, run *workflow.Run, sig *signal.Signal) {
	emit(r, "OnSignalReceived", r.signalReceived, func(h SignalReceived) error {
		return h.OnSignalReceived(ctx, run, sig)
	})
}

// EmitCompensationUnresolved notifies all extensions that implement
// CompensationUnresolved.
func (r *Registry) EmitCompensationUnresolved(ctx context.Context, run *workflow.Run, e *compensation.Entry) {
	emit(r, "OnCompensationUnresolved", r.compensationUnresolved, func(h CompensationUnresolved) error {
		return h.OnCompensationUnresolved(ctx, run, e)
	})
}

// EmitCronFired notifies all extensions that implement CronFired.
func (r *Registry) EmitCronFired(ctx context.Context, entryName string, runID id.RunID) {
	emit(r, "OnCronFired", r.cronFired, func(h CronFired) error {
		return h.OnCronFired(ctx, entryName, runID)
	})
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, "OnShutdown", r.shutdown, func(h Shutdown) error {
		return h.OnShutdown(ctx)
	})
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
