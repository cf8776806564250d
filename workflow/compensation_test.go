package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/compensation"
	"github.com/aksrustagi/coordinator/workflow"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestCompensations_RunInReverseOnFailure(t *testing.T) {
	h := newTestHarness()
	rec := &recorder{}

	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("purchase", func(wf *workflow.Workflow, _ struct{}) error {
		for _, step := range []string{"hold_funds", "reserve_units"} {
			if err := wf.Step(step, func(context.Context, string) error { return nil }); err != nil {
				return err
			}
			wf.Compensate(step, func(context.Context, string) error {
				rec.add("undo:" + step)
				return nil
			})
		}
		return wf.Step("execute", func(context.Context, string) error {
			return activity.Terminalf("venue rejected order")
		})
	}))

	run, err := workflow.Execute(context.Background(), h.runner, "purchase", struct{}{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.State != workflow.RunStateFailed {
		t.Fatalf("state = %q, want failed", run.State)
	}
	got := rec.list()
	if len(got) != 2 || got[0] != "undo:reserve_units" || got[1] != "undo:hold_funds" {
		t.Errorf("compensation order = %v, want reverse registration", got)
	}
	if run.Compensation == nil || run.Compensation.Attempted != 2 || !run.Compensation.Complete() {
		t.Errorf("Compensation = %+v, want 2 attempted and complete", run.Compensation)
	}
}

func TestCompensations_SealDropsRollbacksKeepsRemediations(t *testing.T) {
	h := newTestHarness()
	rec := &recorder{}

	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("sealed", func(wf *workflow.Workflow, _ struct{}) error {
		wf.Compensate("release_hold", func(context.Context, string) error {
			rec.add("release_hold")
			return nil
		})
		wf.SealCompensations()
		wf.Compensate("late_rollback", func(context.Context, string) error {
			rec.add("late_rollback")
			return nil
		})
		wf.Remediate("settle", func(context.Context, string) error {
			rec.add("settle")
			return nil
		})
		if !wf.Sealed() || wf.Pending() != 1 {
			return errors.New("unexpected stack after seal")
		}
		return errors.New("transfer failed")
	}))

	run, err := workflow.Execute(context.Background(), h.runner, "sealed", struct{}{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Error != "transfer failed" {
		t.Fatalf("Error = %q, want the handler failure", run.Error)
	}
	got := rec.list()
	if len(got) != 1 || got[0] != "settle" {
		t.Errorf("ran = %v, want only the remediation", got)
	}
}

func TestCompensations_UnresolvedRecorded(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()
	rec := &recorder{}

	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("stuck", func(wf *workflow.Workflow, _ struct{}) error {
		wf.Compensate("release_hold", func(context.Context, string) error {
			rec.add("release_hold")
			return nil
		})
		wf.Compensate("release_units", func(context.Context, string) error {
			return errors.New("inventory service unavailable")
		})
		report := wf.RunCompensations()
		if report.Complete() {
			return errors.New("expected an unresolved compensation")
		}
		return workflow.Reject("order could not be filled")
	}))

	run, err := workflow.Execute(ctx, h.runner, "stuck", struct{}{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.State != workflow.RunStateRejected {
		t.Fatalf("state = %q (error %q), want rejected", run.State, run.Error)
	}
	if got := rec.list(); len(got) != 1 {
		t.Errorf("remaining compensations ran %v, want release_hold once", got)
	}
	if run.Compensation == nil || len(run.Compensation.Unresolved) != 1 {
		t.Fatalf("Compensation = %+v, want one unresolved", run.Compensation)
	}
	if steps := run.Compensation.Steps(); steps[0] != "release_units" {
		t.Errorf("unresolved steps = %v", steps)
	}

	entries, err := h.comp.ForRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("ForRun: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Step != "release_units" || e.Kind != compensation.KindCompensation || e.Attempts != 2 {
		t.Errorf("entry = %+v", e)
	}
	if e.Key != activity.Key(run.ID, "compensation:release_units") {
		t.Errorf("entry key = %q", e.Key)
	}
}
