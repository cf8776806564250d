package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	coordinator "github.com/aksrustagi/coordinator"
	"github.com/aksrustagi/coordinator/id"
	"github.com/aksrustagi/coordinator/signal"
	"github.com/aksrustagi/coordinator/workflow"
)

type approval struct {
	Approved bool   `json:"approved"`
	By       string `json:"by"`
}

type tally struct {
	Count    int  `json:"count"`
	TimedOut bool `json:"timed_out"`
}

// waitForState polls the store until the run reaches state.
func waitForState(t *testing.T, h *harness, runID id.RunID, state workflow.RunState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := h.store.GetRun(context.Background(), runID)
		if err == nil && run.State == state {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached state %q", runID, state)
}

// waitForDrained polls until the run has no pending signals.
func waitForDrained(t *testing.T, h *harness, runID id.RunID) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		pending, err := h.bus.Pending(context.Background(), runID)
		if err == nil && len(pending) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("signals for run %s were never consumed", runID)
}

func publish(t *testing.T, h *harness, runID id.RunID, signalType string, v any) {
	t.Helper()
	payload, err := signal.Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := h.runner.Signal(context.Background(), runID, signalType, payload); err != nil {
		t.Fatalf("Signal(%s): %v", signalType, err)
	}
}

func TestAwait_SignalSatisfiesCondition(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("approval", func(wf *workflow.Workflow, _ struct{}) error {
		var got approval
		workflow.HandleSignal(wf, "approve", func(a approval) bool {
			got = a
			return true
		})
		if err := wf.Publish(map[string]string{"phase": "waiting"}); err != nil {
			return err
		}
		timedOut, err := wf.Await("approval", 5*time.Second, func() bool { return got.Approved })
		if err != nil {
			return err
		}
		if timedOut {
			return errors.New("approval timed out")
		}
		return wf.Publish(map[string]string{"phase": "approved", "by": got.By})
	}).WithQueries("status"))

	run, err := workflow.Start(ctx, h.runner, "approval", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, h, run.ID, workflow.RunStateSuspended)

	snap, err := h.runner.Query(ctx, run.ID, "status")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if string(snap) != `{"phase":"waiting"}` {
		t.Errorf("snapshot = %s, want waiting phase", snap)
	}
	if _, err := h.runner.Query(ctx, run.ID, "balance"); !errors.Is(err, coordinator.ErrUnknownQuery) {
		t.Errorf("unknown query err = %v, want ErrUnknownQuery", err)
	}

	publish(t, h, run.ID, "approve", approval{Approved: true, By: "ops"})

	final, err := h.runner.Wait(ctx, run.ID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if final.State != workflow.RunStateCompleted {
		t.Fatalf("state = %q, want completed (error %q)", final.State, final.Error)
	}
	snap, err = h.runner.Query(ctx, run.ID, "status")
	if err != nil {
		t.Fatalf("Query after completion: %v", err)
	}
	if string(snap) != `{"by":"ops","phase":"approved"}` {
		t.Errorf("final snapshot = %s", snap)
	}
}

func TestAwait_TimesOut(t *testing.T) {
	h := newTestHarness()

	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("timeout", func(wf *workflow.Workflow, _ struct{}) error {
		timedOut, err := wf.Await("never", 20*time.Millisecond, func() bool { return false })
		if err != nil {
			return err
		}
		return wf.Publish(tally{TimedOut: timedOut})
	}))

	start := time.Now()
	run, err := workflow.Execute(context.Background(), h.runner, "timeout", struct{}{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("await returned before its deadline")
	}
	if string(run.Output) != `{"count":0,"timed_out":true}` {
		t.Errorf("Output = %s, want timed out", run.Output)
	}
}

func TestAwait_DeadlineWinsOverPendingSignal(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	ready := make(chan struct{})
	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("race", func(wf *workflow.Workflow, _ struct{}) error {
		var n tally
		wf.OnSignal("vote", func([]byte) bool {
			n.Count++
			return true
		})
		<-ready
		timedOut, err := wf.Await("votes", time.Nanosecond, func() bool { return n.Count > 0 })
		if err != nil {
			return err
		}
		n.TimedOut = timedOut
		return wf.Publish(n)
	}))

	run, err := workflow.Start(ctx, h.runner, "race", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	publish(t, h, run.ID, "vote", struct{}{})
	close(ready)

	final, err := h.runner.Wait(ctx, run.ID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if string(final.Output) != `{"count":0,"timed_out":true}` {
		t.Errorf("Output = %s, want timeout without consuming the vote", final.Output)
	}
	pending, err := h.bus.Pending(ctx, run.ID)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending signals = %d, want the vote left pending", len(pending))
	}
}

func TestAwait_ReplaysConsumedSignalsAfterResume(t *testing.T) {
	s := newTestHarness().store
	ctx := context.Background()

	define := func(h *harness) {
		workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("votes", func(wf *workflow.Workflow, _ struct{}) error {
			var n tally
			wf.OnSignal("vote", func([]byte) bool {
				n.Count++
				return true
			})
			if _, err := wf.Await("quorum", 0, func() bool { return n.Count >= 2 }); err != nil {
				return err
			}
			return wf.Publish(n)
		}))
	}

	h1 := newHarness(s)
	define(h1)
	run, err := workflow.Start(ctx, h1.runner, "votes", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	publish(t, h1, run.ID, "vote", struct{}{})
	waitForDrained(t, h1, run.ID)
	waitForState(t, h1, run.ID, workflow.RunStateSuspended)
	if err := h1.runner.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	h2 := newHarness(s)
	define(h2)
	if err := h2.runner.ResumeAll(ctx); err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}
	publish(t, h2, run.ID, "vote", struct{}{})

	final, err := h2.runner.Wait(ctx, run.ID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if string(final.Output) != `{"count":2,"timed_out":false}` {
		t.Errorf("Output = %s, want both votes counted once", final.Output)
	}
}

func TestAwait_SignalsWithoutHandlerAreAcknowledged(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	ready := make(chan struct{})
	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("picky", func(wf *workflow.Workflow, _ struct{}) error {
		var n tally
		wf.OnSignal("vote", func([]byte) bool {
			n.Count++
			return true
		})
		<-ready
		if _, err := wf.Await("one", 5*time.Second, func() bool { return n.Count == 1 }); err != nil {
			return err
		}
		return wf.Publish(n)
	}))

	run, err := workflow.Start(ctx, h.runner, "picky", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	publish(t, h, run.ID, "unknown", struct{}{})
	publish(t, h, run.ID, "vote", struct{}{})
	close(ready)

	final, err := h.runner.Wait(ctx, run.ID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if string(final.Output) != `{"count":1,"timed_out":false}` {
		t.Errorf("Output = %s", final.Output)
	}
	pending, _ := h.bus.Pending(ctx, run.ID)
	if len(pending) != 0 {
		t.Errorf("pending signals = %d, want 0", len(pending))
	}
}

func TestDrain_HonorsCancelAtCheckpoint(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	ready := make(chan struct{})
	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("cancellable", func(wf *workflow.Workflow, _ struct{}) error {
		var reason string
		cancelled := false
		workflow.HandleSignal(wf, signal.TypeCancel, func(c workflow.CancelSignal) bool {
			cancelled, reason = true, c.Reason
			return true
		})
		<-ready
		if err := wf.Drain("before-commit"); err != nil {
			return err
		}
		if cancelled {
			return workflow.Cancelled(reason)
		}
		return nil
	}))

	run, err := workflow.Start(ctx, h.runner, "cancellable", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.runner.Cancel(ctx, run.ID, "changed my mind"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(ready)

	final, err := h.runner.Wait(ctx, run.ID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if final.State != workflow.RunStateCancelled || final.FailureReason != "changed my mind" {
		t.Errorf("run = (%q, %q), want cancelled with reason", final.State, final.FailureReason)
	}
}

func TestSleep_Durable(t *testing.T) {
	h := newTestHarness()

	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("sleepy", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Sleep("cooldown", 30*time.Millisecond)
	}))

	start := time.Now()
	run, err := workflow.Execute(context.Background(), h.runner, "sleepy", struct{}{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.State != workflow.RunStateCompleted {
		t.Errorf("state = %q, want completed", run.State)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("sleep returned early")
	}
	data, err := h.runner.StepData(context.Background(), run.ID, "sleep:cooldown")
	if err != nil {
		t.Fatalf("StepData: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected a sleep checkpoint")
	}
}

func TestQuery_AnswersBeforeFirstPublish(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("quiet", func(wf *workflow.Workflow, _ struct{}) error {
		_, err := wf.Await("forever", 0, nil)
		return err
	}).WithQueries("status"))
	defer func() { _ = h.runner.Shutdown(ctx) }()

	for range 50 {
		run, err := workflow.Start(ctx, h.runner, "quiet", struct{}{})
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		data, err := h.runner.Query(ctx, run.ID, "status")
		if err != nil {
			t.Fatalf("Query right after Start: %v", err)
		}
		var view struct {
			Workflow string            `json:"workflow"`
			State    workflow.RunState `json:"state"`
		}
		if err := json.Unmarshal(data, &view); err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		if view.Workflow != "quiet" || view.State != workflow.RunStateRunning {
			t.Errorf("snapshot = %s, want the quiet run in state running", data)
		}
	}
}

type greeting struct {
	Name string `json:"name"`
}

func TestQuery_InitialSnapshotFromInput(t *testing.T) {
	h := newTestHarness()
	ctx := context.Background()

	release := make(chan struct{})
	workflow.RegisterDefinition(h.reg, workflow.NewWorkflow("greeter", func(wf *workflow.Workflow, in greeting) error {
		<-release
		return wf.Publish(map[string]string{"name": in.Name, "phase": "greeted"})
	}).WithQueries("status").WithInitialSnapshot(func(in greeting) any {
		return map[string]string{"name": in.Name, "phase": "waiting"}
	}))

	run, err := workflow.Start(ctx, h.runner, "greeter", greeting{Name: "ada"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	data, err := h.runner.Query(ctx, run.ID, "status")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if string(data) != `{"name":"ada","phase":"waiting"}` {
		t.Errorf("initial snapshot = %s", data)
	}

	close(release)
	if _, err := h.runner.Wait(ctx, run.ID); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	data, err = h.runner.Query(ctx, run.ID, "status")
	if err != nil {
		t.Fatalf("Query after completion: %v", err)
	}
	if string(data) != `{"name":"ada","phase":"greeted"}` {
		t.Errorf("final snapshot = %s", data)
	}
}
