package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	coordinator "github.com/aksrustagi/coordinator"
	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/id"
	"github.com/aksrustagi/coordinator/workflow"
)

func TestRunner_ExecuteCompletes(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	var gotInput orderInput
	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("order-wf", func(wf *workflow.Workflow, input orderInput) error {
		gotInput = input
		return wf.Publish(map[string]string{"order": input.OrderID})
	}))

	run, err := workflow.Execute(ctx, h.runner, "order-wf", orderInput{OrderID: "ord_99", Amount: 500})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.State != workflow.RunStateCompleted {
		t.Errorf("run state = %q, want %q", run.State, workflow.RunStateCompleted)
	}
	if run.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if gotInput.OrderID != "ord_99" {
		t.Errorf("OrderID = %q, want %q", gotInput.OrderID, "ord_99")
	}
	if string(run.Output) != `{"order":"ord_99"}` {
		t.Errorf("Output = %s, want final snapshot", run.Output)
	}
}

func TestRunner_ExecuteFails(t *testing.T) {
	h := newTestHarness()

	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("fail-wf", func(_ *workflow.Workflow, _ struct{}) error {
		return errors.New("intentional failure")
	}))

	run, err := workflow.Execute(context.Background(), h.runner, "fail-wf", struct{}{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.State != workflow.RunStateFailed {
		t.Errorf("run state = %q, want %q", run.State, workflow.RunStateFailed)
	}
	if run.Error != "intentional failure" {
		t.Errorf("run error = %q, want %q", run.Error, "intentional failure")
	}
}

func TestRunner_PanicFailsRun(t *testing.T) {
	h := newTestHarness()

	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("panic-wf", func(_ *workflow.Workflow, _ struct{}) error {
		panic("boom")
	}))

	run, err := workflow.Execute(context.Background(), h.runner, "panic-wf", struct{}{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.State != workflow.RunStateFailed || !strings.Contains(run.Error, "boom") {
		t.Errorf("run = (%q, %q), want failed with panic value", run.State, run.Error)
	}
}

func TestRunner_UnknownWorkflow(t *testing.T) {
	h := newTestHarness()
	_, err := workflow.Start(context.Background(), h.runner, "nope", struct{}{})
	if !errors.Is(err, coordinator.ErrWorkflowNotFound) {
		t.Errorf("err = %v, want ErrWorkflowNotFound", err)
	}
}

func TestRunner_RunIDNeverReused(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()
	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("noop", func(_ *workflow.Workflow, _ struct{}) error { return nil }))

	runID := id.NewRunID()
	if _, err := workflow.Execute(ctx, h.runner, "noop", struct{}{}, workflow.WithRunID(runID)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	_, err := workflow.Start(ctx, h.runner, "noop", struct{}{}, workflow.WithRunID(runID))
	if !errors.Is(err, coordinator.ErrRunAlreadyExists) {
		t.Errorf("err = %v, want ErrRunAlreadyExists", err)
	}
}

func TestRunner_RejectedAndCancelledOutcomes(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("reject-wf", func(_ *workflow.Workflow, _ struct{}) error {
		return workflow.Reject("insufficient buying power")
	}))
	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("cancel-wf", func(_ *workflow.Workflow, _ struct{}) error {
		return workflow.Cancelled("buyer asked")
	}))

	rejected, err := workflow.Execute(ctx, h.runner, "reject-wf", struct{}{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rejected.State != workflow.RunStateRejected || rejected.FailureReason != "insufficient buying power" {
		t.Errorf("rejected run = (%q, %q)", rejected.State, rejected.FailureReason)
	}

	cancelled, err := workflow.Execute(ctx, h.runner, "cancel-wf", struct{}{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if cancelled.State != workflow.RunStateCancelled || cancelled.FailureReason != "buyer asked" {
		t.Errorf("cancelled run = (%q, %q)", cancelled.State, cancelled.FailureReason)
	}
}

func TestRunner_ResumeSkipsCheckpointedSteps(t *testing.T) {
	s := newTestHarness().store
	ctx := context.Background()

	var firstCalls, secondCalls atomic.Int32
	blocked := make(chan struct{})
	define := func(h *harness, block bool) {
		workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("resumable", func(wf *workflow.Workflow, _ struct{}) error {
			if err := wf.Step("first", func(context.Context, string) error {
				firstCalls.Add(1)
				return nil
			}); err != nil {
				return err
			}
			return wf.Step("second", func(ctx context.Context, _ string) error {
				secondCalls.Add(1)
				if block {
					close(blocked)
					<-ctx.Done()
					return ctx.Err()
				}
				return nil
			})
		}))
	}

	h1 := newHarness(s)
	define(h1, true)
	run, err := workflow.Start(ctx, h1.runner, "resumable", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-blocked
	if err := h1.runner.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	stored, _ := s.GetRun(ctx, run.ID)
	if stored.State.IsTerminal() {
		t.Fatalf("interrupted run state = %q, want non-terminal", stored.State)
	}

	h2 := newHarness(s)
	define(h2, false)
	if err := h2.runner.ResumeAll(ctx); err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}
	final, err := h2.runner.Wait(ctx, run.ID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if final.State != workflow.RunStateCompleted {
		t.Errorf("state = %q, want completed", final.State)
	}
	if firstCalls.Load() != 1 {
		t.Errorf("first step ran %d times, want 1", firstCalls.Load())
	}
	if secondCalls.Load() != 2 {
		t.Errorf("second step ran %d times, want 2", secondCalls.Load())
	}
}

func TestRunner_ActivityReplaysRecordedResult(t *testing.T) {
	s := newTestHarness().store
	ctx := context.Background()

	var calls atomic.Int32
	blocked := make(chan struct{})
	results := make(chan string, 2)
	define := func(h *harness, block bool) {
		workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("replay", func(wf *workflow.Workflow, _ struct{}) error {
			v, err := workflow.Activity(wf, "reserve", func(context.Context, string) (string, error) {
				return fmt.Sprintf("res-%d", calls.Add(1)), nil
			})
			if err != nil {
				return err
			}
			results <- v
			if block {
				close(blocked)
				return wf.Sleep("hold", time.Hour)
			}
			return nil
		}))
	}

	h1 := newHarness(s)
	define(h1, true)
	run, err := workflow.Start(ctx, h1.runner, "replay", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-blocked
	if err := h1.runner.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	h2 := newHarness(s)
	define(h2, false)
	if err := h2.runner.Resume(ctx, run.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, err := h2.runner.Wait(ctx, run.ID); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	first, second := <-results, <-results
	if first != "res-1" || second != "res-1" {
		t.Errorf("results = %q, %q, want the recorded value twice", first, second)
	}
	if calls.Load() != 1 {
		t.Errorf("activity ran %d times, want 1", calls.Load())
	}
}

func TestRunner_RetriesWithSameKey(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	var attempts atomic.Int32
	keys := make(chan string, 3)
	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("flaky", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Step("charge", func(_ context.Context, key string) error {
			keys <- key
			if attempts.Add(1) < 3 {
				return errors.New("downstream timeout")
			}
			return nil
		})
	}))

	run, err := workflow.Execute(ctx, h.runner, "flaky", struct{}{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.State != workflow.RunStateCompleted {
		t.Fatalf("state = %q, want completed (error %q)", run.State, run.Error)
	}
	close(keys)
	want := activity.Key(run.ID, "charge")
	for k := range keys {
		if k != want {
			t.Errorf("key = %q, want %q", k, want)
		}
	}
}

func TestRunner_TerminalStepFailsWithoutRetry(t *testing.T) {
	h := newTestHarness()

	var attempts atomic.Int32
	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("terminal", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Step("validate", func(context.Context, string) error {
			attempts.Add(1)
			return activity.Terminalf("listing not found")
		})
	}))

	run, err := workflow.Execute(context.Background(), h.runner, "terminal", struct{}{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.State != workflow.RunStateFailed {
		t.Errorf("state = %q, want failed", run.State)
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1", attempts.Load())
	}
}

func TestRunner_ContinueAsNew(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	type state struct{ N int }
	var stepRuns atomic.Int32
	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("loop", func(wf *workflow.Workflow, in state) error {
		if err := wf.Step("tick", func(context.Context, string) error {
			stepRuns.Add(1)
			return nil
		}); err != nil {
			return err
		}
		if err := wf.Publish(in); err != nil {
			return err
		}
		if in.N < 3 {
			return wf.ContinueAsNew(state{N: in.N + 1})
		}
		return nil
	}))

	run, err := workflow.Execute(ctx, h.runner, "loop", state{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.State != workflow.RunStateCompleted {
		t.Fatalf("state = %q, want completed", run.State)
	}
	if run.Continuations != 3 {
		t.Errorf("Continuations = %d, want 3", run.Continuations)
	}
	if stepRuns.Load() != 4 {
		t.Errorf("tick ran %d times, want 4 (fresh history per continuation)", stepRuns.Load())
	}
	var final state
	if err := json.Unmarshal(run.Input, &final); err != nil || final.N != 3 {
		t.Errorf("Input = %s, want carried state N=3", run.Input)
	}
}

func TestRunner_RestartFromTop(t *testing.T) {
	h := newTestHarness()

	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("restarting", func(wf *workflow.Workflow, _ struct{}) error {
		if wf.Restarts() < 2 {
			return wf.Restart("data not yet available")
		}
		return nil
	}))

	run, err := workflow.Execute(context.Background(), h.runner, "restarting", struct{}{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.State != workflow.RunStateCompleted || run.Restarts != 2 {
		t.Errorf("run = (%q, restarts %d), want completed after 2 restarts", run.State, run.Restarts)
	}
}

func TestRunner_SideEffectFailureDoesNotFailRun(t *testing.T) {
	h := newTestHarness()

	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("notify", func(wf *workflow.Workflow, _ struct{}) error {
		wf.SideEffect("notify_buyer", func(context.Context, string) error {
			return activity.Terminalf("mail server down")
		})
		return nil
	}))

	run, err := workflow.Execute(context.Background(), h.runner, "notify", struct{}{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.State != workflow.RunStateCompleted {
		t.Errorf("state = %q, want completed", run.State)
	}
}

func TestRunner_FanOutCheckpointsEachTask(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	var settled atomic.Int32
	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("fan", func(wf *workflow.Workflow, _ struct{}) error {
		positions := []string{"p1", "p2", "p3", "p4"}
		tasks := make([]func() error, len(positions))
		for i, p := range positions {
			tasks[i] = func() error {
				return wf.Step("settle:"+p, func(context.Context, string) error {
					settled.Add(1)
					return nil
				})
			}
		}
		return wf.FanOut("settlement", 2, tasks...)
	}))

	run, err := workflow.Execute(ctx, h.runner, "fan", struct{}{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.State != workflow.RunStateCompleted {
		t.Fatalf("state = %q, want completed", run.State)
	}
	if settled.Load() != 4 {
		t.Errorf("settled = %d, want 4", settled.Load())
	}

	timeline, err := h.runner.Timeline(ctx, run.ID)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	if len(timeline) != 5 {
		t.Errorf("timeline entries = %d, want 5 (4 settlements + group)", len(timeline))
	}
	kinds := map[workflow.EntryKind]int{}
	for _, e := range timeline {
		kinds[e.Kind]++
	}
	if kinds[workflow.EntryStep] != 4 || kinds[workflow.EntryFanOut] != 1 {
		t.Errorf("timeline kinds = %v, want 4 steps and 1 fanout", kinds)
	}
	if _, err := h.runner.StepData(ctx, run.ID, "settle:p3"); err != nil {
		t.Errorf("StepData: %v", err)
	}
}

func TestRunner_SignalToTerminalRunDropped(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()
	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("noop", func(_ *workflow.Workflow, _ struct{}) error { return nil }))

	run, err := workflow.Execute(ctx, h.runner, "noop", struct{}{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := h.runner.Signal(ctx, run.ID, "anything", nil); !errors.Is(err, coordinator.ErrRunTerminal) {
		t.Errorf("err = %v, want ErrRunTerminal", err)
	}
}

func TestRunner_StartAfterShutdown(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()
	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("noop", func(_ *workflow.Workflow, _ struct{}) error { return nil }))

	if err := h.runner.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := workflow.Start(ctx, h.runner, "noop", struct{}{}); !errors.Is(err, coordinator.ErrStopped) {
		t.Errorf("err = %v, want ErrStopped", err)
	}

	h.runner.Reopen()
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := workflow.Execute(ctx2, h.runner, "noop", struct{}{}); err != nil {
		t.Errorf("Execute after Reopen: %v", err)
	}
}
