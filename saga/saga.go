package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qmuntal/stateless"

	coordinator "github.com/aksrustagi/coordinator"
	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/executor"
	"github.com/aksrustagi/coordinator/signal"
	"github.com/aksrustagi/coordinator/workflow"
)

const (
	triggerReject = "reject"
	triggerFail   = "fail"
	triggerCancel = "cancel"
)

func enterTrigger(phase string) string { return "enter:" + phase }

// Saga drives one run of a transactional protocol.
type Saga struct {
	rt     Runtime
	def    Definition
	fsm    *stateless.StateMachine
	view   func(Status) any
	logger *slog.Logger

	status          Status
	sealed          bool
	cancelRequested bool
	cancelReason    string
}

// New creates a saga over rt. view builds the query snapshot from the saga
// status; nil publishes the Status alone. New registers the handler of the
// built-in cancel signal; a protocol may replace it through rt.OnSignal and
// forward to RequestCancel.
func New(rt Runtime, def Definition, view func(Status) any) (*Saga, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	s := &Saga{
		rt:     rt,
		def:    def,
		view:   view,
		logger: rt.Logger().With(slog.String("saga", def.Name)),
		status: Status{Outcome: OutcomeRunning},
	}
	s.fsm = stateless.NewStateMachineWithExternalStorage(
		func(context.Context) (stateless.State, error) { return s.status.Phase, nil },
		func(_ context.Context, st stateless.State) error {
			s.status.Phase = st.(string)
			return nil
		},
		stateless.FiringImmediate,
	)
	s.configure()

	rt.OnSignal(signal.TypeCancel, s.onCancel)
	return s, nil
}

func (s *Saga) onCancel(payload []byte) bool {
	c, err := signal.Decode[workflow.CancelSignal](payload)
	if err != nil {
		s.logger.Warn("ignoring malformed cancel signal", slog.String("error", err.Error()))
		return false
	}
	return s.RequestCancel(c.Reason)
}

func (s *Saga) configure() {
	states := append([]string{""}, s.def.Phases...)
	for i, p := range states {
		sc := s.fsm.Configure(p)
		if i+1 < len(states) {
			sc.Permit(enterTrigger(states[i+1]), states[i+1])
		}
		if s.terminal(p) {
			continue
		}
		if s.def.before(p, s.def.Compensable) {
			sc.Permit(triggerReject, PhaseRejected)
		}
		sc.Permit(triggerFail, PhaseFailed)
		if s.def.before(p, s.def.PointOfNoReturn) {
			sc.Permit(triggerCancel, PhaseCancelled)
		}
	}
	for _, e := range s.def.Extra {
		s.fsm.Configure(e.From).Permit(enterTrigger(e.To), e.To)
	}
}

func (s *Saga) terminal(phase string) bool {
	for _, t := range s.def.Terminal {
		if t == phase {
			return true
		}
	}
	return false
}

// Status returns a copy of the saga status.
func (s *Saga) Status() Status {
	st := s.status
	st.UnresolvedCompensations = append([]string(nil), s.status.UnresolvedCompensations...)
	return st
}

// Phase returns the current phase.
func (s *Saga) Phase() string { return s.status.Phase }

// Sealed reports whether the point of no return has been entered.
func (s *Saga) Sealed() bool { return s.sealed }

// CancelRequested reports whether an accepted cancel is pending.
func (s *Saga) CancelRequested() bool { return s.cancelRequested }

// Logger returns the saga's logger.
func (s *Saga) Logger() *slog.Logger { return s.logger }

// Runtime returns the run the saga drives.
func (s *Saga) Runtime() Runtime { return s.rt }

// Enter moves the saga into phase. Before the point of no return it first
// drains pending signals and honors an accepted cancel by returning a
// cancellation. Entering the point of no return seals the compensation
// stack.
func (s *Saga) Enter(phase string) error {
	if !s.sealed {
		if err := s.CheckCancel(phase); err != nil {
			return err
		}
	}
	from := s.status.Phase
	if err := s.fsm.Fire(enterTrigger(phase)); err != nil {
		return fmt.Errorf("%w: saga %s cannot enter %q from %q", coordinator.ErrInvalidState, s.def.Name, phase, from)
	}
	if phase == s.def.PointOfNoReturn {
		s.seal()
	}
	s.logger.Debug("saga phase entered", slog.String("from", from), slog.String("to", phase))
	if err := s.rt.SetPhase(phase); err != nil {
		return err
	}
	return s.Publish()
}

// CheckCancel is a cancellation checkpoint: it drains pending signals and
// returns a cancellation if a cancel was accepted. Past the point of no
// return it does nothing.
func (s *Saga) CheckCancel(name string) error {
	if s.sealed {
		return nil
	}
	if err := s.rt.Drain("cancel-check:" + name); err != nil {
		return err
	}
	if s.cancelRequested {
		return workflow.Cancelled(s.cancelReason)
	}
	return nil
}

// RequestCancel records a cancel request and reports whether it was
// accepted. Requests past the point of no return are refused, and a second
// request changes nothing.
func (s *Saga) RequestCancel(reason string) bool {
	if s.sealed || s.status.Outcome != OutcomeRunning {
		s.status.CancelRefused = true
		s.logger.Warn("cancel refused past the point of no return",
			slog.String("phase", s.status.Phase),
			slog.String("reason", reason),
		)
		return false
	}
	if s.cancelRequested {
		return false
	}
	s.cancelRequested = true
	s.cancelReason = reason
	return true
}

// Step enters phase and runs fn as the phase's durable step.
func (s *Saga) Step(phase string, fn executor.Func, opts ...workflow.StepOption) error {
	if err := s.Enter(phase); err != nil {
		return err
	}
	return s.rt.Step(phase, fn, opts...)
}

// StepWithCompensation runs a phase step and, once it succeeded, registers
// its rollback under the given name.
func (s *Saga) StepWithCompensation(phase string, fn executor.Func, name string, comp executor.Func, opts ...workflow.StepOption) error {
	if err := s.Step(phase, fn, opts...); err != nil {
		return err
	}
	s.rt.Compensate(name, comp)
	return nil
}

// Irreversible runs a phase step that moves value. The compensation stack
// is sealed before fn runs.
func (s *Saga) Irreversible(phase string, fn executor.Func, opts ...workflow.StepOption) error {
	if err := s.Enter(phase); err != nil {
		return err
	}
	s.seal()
	return s.rt.Step(phase, fn, opts...)
}

// Compensate registers a rollback for a completed step.
func (s *Saga) Compensate(name string, fn executor.Func, opts ...workflow.StepOption) {
	s.rt.Compensate(name, fn, opts...)
}

// Remediate registers a forward-only remediation, run on failure past the
// point of no return.
func (s *Saga) Remediate(name string, fn executor.Func, opts ...workflow.StepOption) {
	s.rt.Remediate(name, fn, opts...)
}

// SideEffect runs a fire-and-forget step outside compensation.
func (s *Saga) SideEffect(name string, fn executor.Func, opts ...workflow.StepOption) {
	s.rt.SideEffect(name, fn, opts...)
}

// Await waits on the run's signals. See workflow.Workflow.Await.
func (s *Saga) Await(name string, timeout time.Duration, cond func() bool) (bool, error) {
	return s.rt.Await(name, timeout, cond)
}

// Publish republishes the query snapshot, e.g. after a protocol field
// changed.
func (s *Saga) Publish() error {
	if s.view == nil {
		return s.rt.Publish(s.Status())
	}
	return s.rt.Publish(s.view(s.Status()))
}

// Finish classifies the handler's outcome and returns the error the
// handler should return.
//
//   - nil completes the saga. Late cancel requests are drained and refused.
//   - A cancellation compensates and ends the run cancelled.
//   - A failure before the compensable phase ends the run rejected.
//   - Any other failure runs the compensation stack and ends the run
//     failed, reporting whether every compensation succeeded.
//
// An interrupted run is returned unchanged so it resumes later.
func (s *Saga) Finish(err error) error {
	if s.rt.Context().Err() != nil || s.status.Outcome != OutcomeRunning {
		return err
	}

	if err == nil {
		s.seal()
		if derr := s.rt.Drain("cancel-check:finish"); derr != nil {
			return derr
		}
		s.status.Outcome = OutcomeCompleted
		return s.Publish()
	}

	failedPhase := s.status.Phase
	switch {
	case errors.Is(err, workflow.ErrCancelled):
		report := s.rt.RunCompensations()
		s.fire(triggerCancel)
		s.status.Outcome = OutcomeCancelled
		s.status.Cancelled = true
		s.status.FailureReason = s.cancelReason
		s.recordReport(report)

	case s.def.before(failedPhase, s.def.Compensable):
		reason := reasonOf(err)
		s.fire(triggerReject)
		s.status.Outcome = OutcomeRejected
		s.status.FailedPhase = failedPhase
		s.status.FailureReason = reason
		s.logPublish()
		return workflow.Reject(reason)

	default:
		report := s.rt.RunCompensations()
		s.fire(triggerFail)
		s.status.Outcome = OutcomeFailed
		s.status.FailedPhase = failedPhase
		s.status.FailureReason = reasonOf(err)
		s.status.Error = err.Error()
		s.recordReport(report)
		if !report.Complete() {
			s.logger.Error("saga failed with unresolved compensations",
				slog.String("phase", failedPhase),
				slog.Any("unresolved", report.Steps()),
			)
		}
	}
	s.logPublish()
	return err
}

// Conclude fires the transition into phase, a terminal state reached
// after the saga's forward path (a withdrawn or expired listing), and
// records outcome. A cancelled outcome returns the run's cancellation.
func (s *Saga) Conclude(phase string, outcome Outcome, reason string) error {
	from := s.status.Phase
	if err := s.fsm.Fire(enterTrigger(phase)); err != nil {
		return fmt.Errorf("%w: saga %s cannot enter %q from %q", coordinator.ErrInvalidState, s.def.Name, phase, from)
	}
	if err := s.rt.SetPhase(phase); err != nil {
		return err
	}
	s.status.Outcome = outcome
	if outcome == OutcomeCancelled {
		s.status.Cancelled = true
		s.status.FailureReason = reason
	}
	s.logPublish()
	if outcome == OutcomeCancelled {
		return workflow.Cancelled(reason)
	}
	return nil
}

func (s *Saga) seal() {
	if s.sealed {
		return
	}
	s.rt.SealCompensations()
	s.sealed = true
}

func (s *Saga) fire(trigger string) {
	from := s.status.Phase
	if err := s.fsm.Fire(trigger); err != nil {
		s.logger.Warn("saga transition refused",
			slog.String("phase", from),
			slog.String("trigger", trigger),
		)
		return
	}
	if err := s.rt.SetPhase(s.status.Phase); err != nil {
		s.logger.Warn("failed to record phase",
			slog.String("phase", s.status.Phase),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Saga) recordReport(report workflow.CompensationReport) {
	complete := report.Complete()
	s.status.CompensationComplete = &complete
	if len(report.Unresolved) > 0 {
		s.status.UnresolvedCompensations = report.Steps()
	}
}

func (s *Saga) logPublish() {
	if err := s.Publish(); err != nil {
		s.logger.Warn("failed to publish saga status", slog.String("error", err.Error()))
	}
}

// Activity runs a named step returning a typed value; on replay the
// recorded value is returned. It does not move the saga's phase.
func Activity[T any](s *Saga, name string, fn func(ctx context.Context, key string) (T, error), opts ...workflow.StepOption) (T, error) {
	var zero T
	data, err := s.rt.StepRaw(name, func(ctx context.Context, key string) (json.RawMessage, error) {
		v, err := fn(ctx, key)
		if err != nil {
			return nil, err
		}
		encoded, encErr := json.Marshal(v)
		if encErr != nil {
			return nil, activity.Terminal(fmt.Errorf("encode result: %w", encErr))
		}
		return encoded, nil
	}, opts...)
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, fmt.Errorf("saga %s: decode %q: %w", s.def.Name, name, err)
	}
	return v, nil
}
