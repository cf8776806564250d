package executor_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	coordinator "github.com/aksrustagi/coordinator"
	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/backoff"
	"github.com/aksrustagi/coordinator/executor"
	"github.com/aksrustagi/coordinator/id"
	"github.com/aksrustagi/coordinator/middleware"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type retryRecorder struct {
	delays []time.Duration
}

func (r *retryRecorder) EmitStepRetrying(_ context.Context, _ *activity.Invocation, _ error, delay time.Duration) {
	r.delays = append(r.delays, delay)
}

func newInvocation(policy activity.Policy) activity.Invocation {
	runID := id.NewRunID()
	return activity.Invocation{
		RunID:    runID,
		Workflow: "test",
		Step:     "reserve",
		Key:      activity.Key(runID, "reserve"),
		Policy:   policy,
	}
}

func fastPolicy(attempts int) activity.Policy {
	return activity.Policy{MaxAttempts: attempts, Backoff: backoff.NewConstant(time.Millisecond)}
}

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	ex := executor.New(testLogger(), nil)
	var calls atomic.Int32
	err := ex.Execute(context.Background(), newInvocation(fastPolicy(3)), func(_ context.Context, _ string) error {
		calls.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestExecute_RetriesRetryableThenSucceeds(t *testing.T) {
	rec := &retryRecorder{}
	ex := executor.New(testLogger(), rec)
	var calls atomic.Int32
	err := ex.Execute(context.Background(), newInvocation(fastPolicy(5)), func(_ context.Context, _ string) error {
		if calls.Add(1) < 3 {
			return errors.New("downstream timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if len(rec.delays) != 2 {
		t.Errorf("retry events = %d, want 2", len(rec.delays))
	}
}

func TestExecute_TerminalNeverRetries(t *testing.T) {
	ex := executor.New(testLogger(), nil)
	var calls atomic.Int32
	err := ex.Execute(context.Background(), newInvocation(fastPolicy(5)), func(_ context.Context, _ string) error {
		calls.Add(1)
		return activity.Terminal(errors.New("listing not found"))
	})
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	var ae *activity.Error
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want *activity.Error", err)
	}
	if ae.Exhausted {
		t.Error("terminal failure should not be marked exhausted")
	}
	if !activity.IsTerminal(err) {
		t.Error("expected terminal classification")
	}
}

func TestExecute_ExhaustionBecomesTerminal(t *testing.T) {
	ex := executor.New(testLogger(), nil)
	var calls atomic.Int32
	cause := errors.New("service unavailable")
	err := ex.Execute(context.Background(), newInvocation(fastPolicy(3)), func(_ context.Context, _ string) error {
		calls.Add(1)
		return cause
	})
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if !errors.Is(err, coordinator.ErrMaxRetriesExceeded) {
		t.Errorf("err = %v, want ErrMaxRetriesExceeded", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("err should wrap the last cause")
	}
	if !activity.IsTerminal(err) {
		t.Error("exhausted failure should classify as terminal")
	}
}

func TestExecute_PolicyClassifier(t *testing.T) {
	ex := executor.New(testLogger(), nil)
	errFunds := errors.New("insufficient funds")
	policy := fastPolicy(5)
	policy.Classify = func(err error) activity.Class {
		if errors.Is(err, errFunds) {
			return activity.ClassTerminal
		}
		return activity.ClassRetryable
	}

	var calls atomic.Int32
	_ = ex.Execute(context.Background(), newInvocation(policy), func(_ context.Context, _ string) error {
		calls.Add(1)
		return errFunds
	})
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestExecute_SameKeyEveryAttempt(t *testing.T) {
	ex := executor.New(testLogger(), nil)
	inv := newInvocation(fastPolicy(3))
	var keys []string
	_ = ex.Execute(context.Background(), inv, func(_ context.Context, key string) error {
		keys = append(keys, key)
		return errors.New("flaky")
	})
	if len(keys) != 3 {
		t.Fatalf("attempts = %d, want 3", len(keys))
	}
	for i, k := range keys {
		if k != inv.Key {
			t.Errorf("attempt %d key = %q, want %q", i+1, k, inv.Key)
		}
	}
}

func TestExecute_AttemptNumbersThroughMiddleware(t *testing.T) {
	var seen []int
	record := func(ctx context.Context, inv *activity.Invocation, next middleware.Handler) error {
		seen = append(seen, inv.Attempt)
		return next(ctx)
	}
	ex := executor.New(testLogger(), nil, record)
	_ = ex.Execute(context.Background(), newInvocation(fastPolicy(3)), func(_ context.Context, _ string) error {
		return errors.New("flaky")
	})
	want := []int{1, 2, 3}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %d, want %d", i, seen[i], want[i])
		}
	}
}

func TestExecute_CancelledContextStopsRetrying(t *testing.T) {
	ex := executor.New(testLogger(), nil)
	policy := activity.Policy{MaxAttempts: 5, Backoff: backoff.NewConstant(time.Hour)}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := ex.Execute(ctx, newInvocation(policy), func(_ context.Context, _ string) error {
		return errors.New("flaky")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation did not interrupt the backoff wait")
	}
}
