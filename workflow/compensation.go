package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/compensation"
	"github.com/aksrustagi/coordinator/executor"
)

// Compensation is a registered rollback or forward-only remediation.
type Compensation struct {
	Step string
	Kind compensation.Kind
	Fn   executor.Func
	Opts []StepOption
}

// UnresolvedCompensation is a compensation that failed after its own
// retries and needs operational follow-up.
type UnresolvedCompensation struct {
	Step  string            `json:"step"`
	Kind  compensation.Kind `json:"kind"`
	Error string            `json:"error"`
	Entry string            `json:"entry,omitempty"`
}

// CompensationReport summarizes the compensations a run attempted.
type CompensationReport struct {
	Attempted  int                      `json:"attempted"`
	Unresolved []UnresolvedCompensation `json:"unresolved,omitempty"`
}

// Complete reports whether every attempted compensation succeeded.
func (r CompensationReport) Complete() bool { return len(r.Unresolved) == 0 }

// Steps returns the names of the unresolved compensations.
func (r CompensationReport) Steps() []string {
	steps := make([]string, len(r.Unresolved))
	for i, u := range r.Unresolved {
		steps[i] = u.Step
	}
	return steps
}

// Compensate pushes a rollback for a step that completed. It is ignored
// once the stack is sealed.
func (w *Workflow) Compensate(step string, fn executor.Func, opts ...StepOption) {
	if w.sealed {
		w.logger.Warn("ignoring compensation registered past the point of no return",
			slog.String("step", step),
		)
		return
	}
	w.stack = append(w.stack, Compensation{Step: step, Kind: compensation.KindCompensation, Fn: fn, Opts: opts})
}

// Remediate pushes a forward-only remediation. Remediations are allowed
// after the stack is sealed.
func (w *Workflow) Remediate(step string, fn executor.Func, opts ...StepOption) {
	w.stack = append(w.stack, Compensation{Step: step, Kind: compensation.KindRemediation, Fn: fn, Opts: opts})
}

// SealCompensations marks the point of no return: registered rollbacks are
// discarded and no further rollbacks are accepted.
func (w *Workflow) SealCompensations() {
	kept := w.stack[:0]
	for _, c := range w.stack {
		if c.Kind == compensation.KindRemediation {
			kept = append(kept, c)
		}
	}
	w.stack = kept
	w.sealed = true
}

// Sealed reports whether the point of no return has been passed.
func (w *Workflow) Sealed() bool { return w.sealed }

// Pending returns the number of registered, not yet run compensations.
func (w *Workflow) Pending() int { return len(w.stack) }

// RunCompensations runs the registered entries in reverse order of
// registration and empties the stack. Each entry is its own retried step.
// An entry that exhausts its retries is recorded as unresolved and the
// remaining entries still run.
func (w *Workflow) RunCompensations() CompensationReport {
	for i := len(w.stack) - 1; i >= 0; i-- {
		w.runCompensation(w.stack[i])
	}
	w.stack = nil
	return w.report
}

// CompensationReport returns the outcome of the compensations run so far.
func (w *Workflow) CompensationReport() CompensationReport { return w.report }

func (w *Workflow) runCompensation(c Compensation) {
	name := string(c.Kind) + ":" + c.Step
	unresolvedKey := "unresolved:" + c.Step
	w.report.Attempted++

	if prior, err := w.loadUnresolved(unresolvedKey); err == nil && prior != nil {
		w.report.Unresolved = append(w.report.Unresolved, *prior)
		return
	}

	opts := append([]StepOption{WithMaxAttempts(w.runner.compensationAttempts)}, c.Opts...)
	err := w.Step(name, c.Fn, opts...)
	if err == nil {
		return
	}
	if w.ctx.Err() != nil {
		return
	}

	w.logger.Error("compensation unresolved",
		slog.String("step", c.Step),
		slog.String("kind", string(c.Kind)),
		slog.String("error", err.Error()),
	)

	u := UnresolvedCompensation{Step: c.Step, Kind: c.Kind, Error: err.Error()}
	if w.runner.unresolved != nil {
		entry, pushErr := w.runner.unresolved.Push(w.ctx, compensation.Failure{
			RunID:    w.run.ID,
			Workflow: w.run.Name,
			Step:     c.Step,
			Kind:     c.Kind,
			Key:      activity.Key(w.run.ID, name),
			Attempts: attemptsOf(err),
			Err:      err,
		})
		if pushErr != nil {
			w.logger.Error("failed to record unresolved compensation",
				slog.String("step", c.Step),
				slog.String("error", pushErr.Error()),
			)
		} else {
			u.Entry = entry.ID.String()
			w.runner.emitter.EmitCompensationUnresolved(w.ctx, w.run, entry)
		}
	}

	if data, encErr := json.Marshal(u); encErr == nil {
		if saveErr := w.runner.store.SaveCheckpoint(w.ctx, w.run.ID, unresolvedKey, data); saveErr != nil {
			w.logger.Warn("failed to checkpoint unresolved compensation",
				slog.String("step", c.Step),
				slog.String("error", saveErr.Error()),
			)
		}
	}
	w.report.Unresolved = append(w.report.Unresolved, u)
}

func (w *Workflow) loadUnresolved(key string) (*UnresolvedCompensation, error) {
	data, err := w.runner.store.GetCheckpoint(w.ctx, w.run.ID, key)
	if err != nil || data == nil {
		return nil, err
	}
	var u UnresolvedCompensation
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode checkpoint %q: %w", key, err)
	}
	return &u, nil
}

func attemptsOf(err error) int {
	var ae *activity.Error
	if errors.As(err, &ae) {
		return ae.Attempts
	}
	return 0
}
