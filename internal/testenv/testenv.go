// Package testenv builds an isolated workflow runner over the memory store
// for package tests.
package testenv

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/compensation"
	"github.com/aksrustagi/coordinator/executor"
	"github.com/aksrustagi/coordinator/id"
	"github.com/aksrustagi/coordinator/signal"
	"github.com/aksrustagi/coordinator/store/memory"
	"github.com/aksrustagi/coordinator/workflow"
)

// Env is a runner with its store, bus and registry.
type Env struct {
	Store        *memory.Store
	Bus          *signal.Bus
	Registry     *workflow.Registry
	Runner       *workflow.Runner
	Compensation *compensation.Service
}

// Logger returns a silent logger.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// FastPolicy retries up to three times with millisecond backoff.
func FastPolicy() activity.Policy {
	return activity.Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		Multiplier:     2,
		MaxBackoff:     4 * time.Millisecond,
		Timeout:        5 * time.Second,
	}
}

// New creates an Env whose runner is shut down when the test ends.
func New(t testing.TB, opts ...workflow.RunnerOption) *Env {
	t.Helper()
	s := memory.New()
	return build(t, s, signal.NewBus(s), compensation.NewService(s), opts)
}

// Restart shuts the runner down and returns an Env with a fresh runner and
// registry over the same store and bus. Definitions must be registered again
// before ResumeAll.
func (e *Env) Restart(t testing.TB, opts ...workflow.RunnerOption) *Env {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Runner.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	return build(t, e.Store, e.Bus, e.Compensation, opts)
}

func build(t testing.TB, s *memory.Store, bus *signal.Bus, comp *compensation.Service, opts []workflow.RunnerOption) *Env {
	logger := Logger()
	reg := workflow.NewRegistry()
	base := []workflow.RunnerOption{
		workflow.WithPollInterval(10 * time.Millisecond),
		workflow.WithDefaultPolicy(FastPolicy()),
		workflow.WithCompensationAttempts(3),
		workflow.WithUnresolvedRecorder(comp),
	}
	runner := workflow.NewRunner(reg, s, bus, executor.New(logger, nil), nil, logger, append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Shutdown(ctx)
	})
	return &Env{Store: s, Bus: bus, Registry: reg, Runner: runner, Compensation: comp}
}

// Wait waits for the run to end, failing the test after 10 seconds.
func (e *Env) Wait(t testing.TB, runID id.RunID) *workflow.Run {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run, err := e.Runner.Wait(ctx, runID)
	if err != nil {
		t.Fatalf("Wait(%s): %v", runID, err)
	}
	return run
}

// WaitFor polls until cond holds, failing the test after 5 seconds.
func WaitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// WaitForState polls until the run reaches state.
func (e *Env) WaitForState(t testing.TB, runID id.RunID, state workflow.RunState) {
	t.Helper()
	WaitFor(t, "run state "+string(state), func() bool {
		run, err := e.Store.GetRun(context.Background(), runID)
		return err == nil && run.State == state
	})
}

// WaitForDrained polls until the run has no pending signals.
func (e *Env) WaitForDrained(t testing.TB, runID id.RunID) {
	t.Helper()
	WaitFor(t, "signals consumed", func() bool {
		pending, err := e.Bus.Pending(context.Background(), runID)
		return err == nil && len(pending) == 0
	})
}

// Signal sends a raw signal to a run.
func (e *Env) Signal(t testing.TB, runID id.RunID, signalType string, payload []byte) {
	t.Helper()
	if _, err := e.Runner.Signal(context.Background(), runID, signalType, payload); err != nil {
		t.Fatalf("Signal(%s): %v", signalType, err)
	}
}

// Query decodes a run's snapshot into v.
func (e *Env) Query(t testing.TB, runID id.RunID, queryType string, v any) {
	t.Helper()
	data, err := e.Runner.Query(context.Background(), runID, queryType)
	if err != nil {
		t.Fatalf("Query(%s): %v", queryType, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s snapshot %s: %v", queryType, data, err)
	}
}
