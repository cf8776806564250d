package saga

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aksrustagi/coordinator/executor"
	"github.com/aksrustagi/coordinator/id"
	"github.com/aksrustagi/coordinator/workflow"
)

// Runtime is the slice of the workflow capability handle a saga drives.
// *workflow.Workflow satisfies it.
type Runtime interface {
	Context() context.Context
	RunID() id.RunID
	Logger() *slog.Logger
	Now() time.Time

	Step(name string, fn executor.Func, opts ...workflow.StepOption) error
	StepRaw(name string, fn workflow.RawFunc, opts ...workflow.StepOption) (json.RawMessage, error)
	SideEffect(name string, fn executor.Func, opts ...workflow.StepOption)

	Compensate(step string, fn executor.Func, opts ...workflow.StepOption)
	Remediate(step string, fn executor.Func, opts ...workflow.StepOption)
	SealCompensations()
	RunCompensations() workflow.CompensationReport

	OnSignal(signalType string, h workflow.SignalHandler)
	Drain(name string) error
	Await(name string, timeout time.Duration, cond func() bool) (bool, error)

	SetPhase(phase string) error
	Publish(v any) error
}

var _ Runtime = (*workflow.Workflow)(nil)
