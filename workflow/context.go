package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/compensation"
	"github.com/aksrustagi/coordinator/executor"
	"github.com/aksrustagi/coordinator/id"
	"github.com/aksrustagi/coordinator/signal"
)

// StepEmitter is called by the Workflow to emit step lifecycle events.
// This interface is satisfied by ext.Registry (via an adapter in the
// engine package) to break the import cycle between workflow and ext.
type StepEmitter interface {
	EmitStepCompleted(ctx context.Context, run *Run, stepName string, elapsed time.Duration)
	EmitStepFailed(ctx context.Context, run *Run, stepName string, err error)
}

// RunEmitter emits run-level lifecycle events.
type RunEmitter interface {
	StepEmitter
	EmitRunStarted(ctx context.Context, run *Run)
	EmitPhaseChanged(ctx context.Context, run *Run, from, to string)
	EmitSignalReceived(ctx context.Context, run *Run, sig *signal.Signal)
	EmitRunContinued(ctx context.Context, run *Run)
	EmitRunCompleted(ctx context.Context, run *Run, elapsed time.Duration)
	EmitRunFailed(ctx context.Context, run *Run, err error)
	EmitRunRejected(ctx context.Context, run *Run, reason string)
	EmitRunCancelled(ctx context.Context, run *Run, reason string)
	EmitCompensationUnresolved(ctx context.Context, run *Run, entry *compensation.Entry)
}

// UnresolvedRecorder persists compensations that gave up.
// compensation.Service satisfies it.
type UnresolvedRecorder interface {
	Push(ctx context.Context, f compensation.Failure) (*compensation.Entry, error)
}

// Workflow is the capability handle passed to workflow handlers. It is the
// only surface a handler sees: durable steps, timers, condition waits,
// signal handlers, snapshot publishing, phase reporting, the compensation
// stack, and continuation. Every method checkpoints its outcome so the
// handler can replay from the top after a restart.
//
// A Workflow belongs to one execution of one run and must not be shared
// across goroutines, except through FanOut.
type Workflow struct {
	ctx    context.Context
	run    *Run
	live   *liveRun
	runner *Runner
	logger *slog.Logger

	handlers map[string]SignalHandler
	seen     map[string]struct{}

	stack  []Compensation
	sealed bool
	report CompensationReport
}

func newWorkflow(ctx context.Context, r *Runner, run *Run, live *liveRun) *Workflow {
	return &Workflow{
		ctx:    ctx,
		run:    run,
		live:   live,
		runner: r,
		logger: r.logger.With(
			slog.String("run_id", run.ID.String()),
			slog.String("workflow", run.Name),
		),
		handlers: make(map[string]SignalHandler),
		seen:     make(map[string]struct{}),
	}
}

// Context returns the run's context. It is cancelled on shutdown.
func (w *Workflow) Context() context.Context { return w.ctx }

// RunID returns the workflow run ID.
func (w *Workflow) RunID() id.RunID { return w.run.ID }

// Name returns the workflow name.
func (w *Workflow) Name() string { return w.run.Name }

// Run returns a copy of the run record.
func (w *Workflow) Run() *Run { return w.run.Clone() }

// Restarts returns how many times the run was restarted from the top.
func (w *Workflow) Restarts() int { return w.run.Restarts }

// Continuations returns how many times the run continued as new.
func (w *Workflow) Continuations() int { return w.run.Continuations }

// Logger returns a logger scoped to the run.
func (w *Workflow) Logger() *slog.Logger { return w.logger }

// Now returns the current UTC time as seen by the run's timers.
func (w *Workflow) Now() time.Time { return time.Now().UTC() }

// SetPhase records the run's current protocol phase and emits a phase
// change. Setting the same phase again is a no-op.
func (w *Workflow) SetPhase(phase string) error {
	from := w.run.Phase
	if from == phase {
		return nil
	}
	w.run.Phase = phase
	if err := w.runner.save(w.ctx, w.run); err != nil {
		return err
	}
	w.runner.emitter.EmitPhaseChanged(w.ctx, w.run, from, phase)
	return nil
}

// Phase returns the run's current phase.
func (w *Workflow) Phase() string { return w.run.Phase }

func (w *Workflow) executor() *executor.Executor { return w.runner.exec }

func (w *Workflow) invocation(step string, policy activity.Policy) activity.Invocation {
	return activity.Invocation{
		RunID:    w.run.ID,
		Workflow: w.run.Name,
		Step:     step,
		Key:      activity.Key(w.run.ID, step),
		Policy:   policy,
	}
}

// nopEmitter is used when a Runner is built without an emitter.
type nopEmitter struct{}

func (nopEmitter) EmitStepCompleted(context.Context, *Run, string, time.Duration) {}
func (nopEmitter) EmitStepFailed(context.Context, *Run, string, error) {}
func (nopEmitter) EmitRunStarted(context.Context, *Run) {}
func (nopEmitter) EmitPhaseChanged(context.Context, *Run, string, string) {}
func (nopEmitter) EmitSignalReceived(context.Context, *Run, *signal.Signal) {}
func (nopEmitter) EmitRunContinued(context.Context, *Run) {}
func (nopEmitter) EmitRunCompleted(context.Context, *Run, time.Duration) {}
func (nopEmitter) EmitRunFailed(context.Context, *Run, error) {}
func (nopEmitter) EmitRunRejected(context.Context, *Run, string) {}
func (nopEmitter) EmitRunCancelled(context.Context, *Run, string) {}
func (nopEmitter) EmitCompensationUnresolved(context.Context, *Run, *compensation.Entry) {}
