package ext

import (
	"context"
	"time"

	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/compensation"
	"github.com/aksrustagi/coordinator/id"
	"github.com/aksrustagi/coordinator/signal"
	"github.com/aksrustagi/coordinator/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// RunStarted is called when a run is created.
type RunStarted interface {
	OnRunStarted(ctx context.Context, run *workflow.Run) error
}

// PhaseChanged is called when a run moves to a new protocol phase.
type PhaseChanged interface {
	OnPhaseChanged(ctx context.Context, run *workflow.Run, from, to string) error
}

// RunContinued is called when a run continues as new.
type RunContinued interface {
	OnRunContinued(ctx context.Context, run *workflow.Run) error
}

// RunCompleted is called after a run finishes successfully.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) error
}

// RunFailed is called when a run fails terminally.
type RunFailed interface {
	OnRunFailed(ctx context.Context, run *workflow.Run, err error) error
}

// RunRejected is called when a business rule rejects a run.
type RunRejected interface {
	OnRunRejected(ctx context.Context, run *workflow.Run, reason string) error
}

// RunCancelled is called when a run honors a cancellation.
type RunCancelled interface {
	OnRunCancelled(ctx context.Context, run *workflow.Run, reason string) error
}

// ──────────────────────────────────────────────────
// Step hooks
// ──────────────────────────────────────────────────

// StepCompleted is called after a step completes.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, run *workflow.Run, step string, elapsed time.Duration) error
}

// StepFailed is called when a step fails for good.
type StepFailed interface {
	OnStepFailed(ctx context.Context, run *workflow.Run, step string, err error) error
}

// StepRetrying is called when an attempt failed and will be retried
// after delay.
type StepRetrying interface {
	OnStepRetrying(ctx context.Context, inv *activity.Invocation, err error, delay time.Duration) error
}

// ──────────────────────────────────────────────────
// Other hooks
// ──────────────────────────────────────────────────

// SignalReceived is called when a run consumes a signal.
type SignalReceived interface {
	OnSignalReceived(ctx context.Context, run *workflow.Run, sig *signal.Signal) error
}

// CompensationUnresolved is called when a compensation gives up.
type CompensationUnresolved interface {
	OnCompensationUnresolved(ctx context.Context, run *workflow.Run, entry *compensation.Entry) error
}

// CronFired is called when a schedule starts a run.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string, runID id.RunID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
