package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/executor"
)

// emptyResult is the checkpoint body of a step without a result.
var emptyResult = []byte("{}")

// StepOption adjusts the retry policy of a single step.
type StepOption func(*activity.Policy)

// WithPolicy replaces the step's policy. Zero fields fall back to the
// runner's default policy.
func WithPolicy(p activity.Policy) StepOption {
	return func(dst *activity.Policy) { *dst = p }
}

// WithMaxAttempts sets the step's attempt cap.
func WithMaxAttempts(n int) StepOption {
	return func(p *activity.Policy) { p.MaxAttempts = n }
}

// WithTimeout sets the step's per-attempt timeout.
func WithTimeout(d time.Duration) StepOption {
	return func(p *activity.Policy) { p.Timeout = d }
}

// WithClassifier sets the step's failure classifier.
func WithClassifier(fn func(error) activity.Class) StepOption {
	return func(p *activity.Policy) { p.Classify = fn }
}

func (w *Workflow) policy(opts []StepOption) activity.Policy {
	var p activity.Policy
	for _, opt := range opts {
		opt(&p)
	}
	return p.Merge(w.runner.defaultPolicy)
}

// Step executes a named activity with retries. If a checkpoint exists for
// this step name, the step is skipped. Otherwise fn runs through the retry
// controller and a checkpoint is saved on success. fn receives the step's
// idempotency key, identical on every attempt and after restarts.
func (w *Workflow) Step(name string, fn executor.Func, opts ...StepOption) error {
	_, err := w.StepRaw(name, func(ctx context.Context, key string) (json.RawMessage, error) {
		if err := fn(ctx, key); err != nil {
			return nil, err
		}
		return emptyResult, nil
	}, opts...)
	return err
}

// RawFunc is an activity body returning a JSON result.
type RawFunc func(ctx context.Context, key string) (json.RawMessage, error)

// StepRaw executes a named activity whose JSON result is checkpointed.
// On replay the recorded result is returned without invoking fn.
func (w *Workflow) StepRaw(name string, fn RawFunc, opts ...StepOption) (json.RawMessage, error) {
	store := w.runner.store

	data, err := store.GetCheckpoint(w.ctx, w.run.ID, name)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: get checkpoint %q: %w", w.run.Name, name, err)
	}
	if data != nil {
		w.logger.Debug("skipping checkpointed step", slog.String("step", name))
		return data, nil
	}

	var result json.RawMessage
	start := time.Now()
	stepErr := w.executor().Execute(w.ctx, w.invocation(name, w.policy(opts)), func(ctx context.Context, key string) error {
		res, err := fn(ctx, key)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	elapsed := time.Since(start)

	if stepErr != nil {
		if w.ctx.Err() == nil {
			w.runner.emitter.EmitStepFailed(w.ctx, w.run, name, stepErr)
		}
		return nil, fmt.Errorf("workflow %s step %q: %w", w.run.Name, name, stepErr)
	}
	if len(result) == 0 {
		result = emptyResult
	}

	if saveErr := store.SaveCheckpoint(w.ctx, w.run.ID, name, result); saveErr != nil {
		return nil, fmt.Errorf("workflow %s: save checkpoint %q: %w", w.run.Name, name, saveErr)
	}

	w.runner.emitter.EmitStepCompleted(w.ctx, w.run, name, elapsed)
	return result, nil
}

// Activity executes a named activity that returns a typed value.
// The result is JSON-encoded into the step's checkpoint. On replay the
// recorded result is decoded and returned without re-executing fn.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Activity[T any](w *Workflow, name string, fn func(ctx context.Context, key string) (T, error), opts ...StepOption) (T, error) {
	var zero T
	data, err := w.StepRaw(name, func(ctx context.Context, key string) (json.RawMessage, error) {
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

	var result T
	if decErr := json.Unmarshal(data, &result); decErr != nil {
		return zero, fmt.Errorf("workflow %s: decode checkpoint %q: %w", w.run.Name, name, decErr)
	}
	return result, nil
}

// SideEffect runs a fire-and-forget activity such as a notification or an
// audit append. Its failure is logged and never fails the run.
func (w *Workflow) SideEffect(name string, fn executor.Func, opts ...StepOption) {
	if err := w.Step(name, fn, opts...); err != nil {
		if w.ctx.Err() != nil {
			return
		}
		w.logger.Warn("side effect failed",
			slog.String("step", name),
			slog.String("error", err.Error()),
		)
	}
}

// FanOut runs tasks concurrently with at most limit in flight (zero means
// unbounded). Each task is expected to run its own named steps, so a
// failure partway through does not repeat the tasks that already
// checkpointed. Every task runs to completion; the first error is returned.
// A group-level checkpoint marks overall completion for replay.
//
// Tasks must not touch the compensation stack or register signal handlers.
func (w *Workflow) FanOut(group string, limit int, tasks ...func() error) error {
	groupKey := "fanout:" + group
	store := w.runner.store

	data, err := store.GetCheckpoint(w.ctx, w.run.ID, groupKey)
	if err != nil {
		return fmt.Errorf("workflow %s: get fanout checkpoint %q: %w", w.run.Name, group, err)
	}
	if data != nil {
		w.logger.Debug("skipping checkpointed fanout", slog.String("group", group))
		return nil
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, task := range tasks {
		g.Go(task)
	}
	if waitErr := g.Wait(); waitErr != nil {
		return fmt.Errorf("workflow %s fanout %q: %w", w.run.Name, group, waitErr)
	}

	if saveErr := store.SaveCheckpoint(w.ctx, w.run.ID, groupKey, emptyResult); saveErr != nil {
		return fmt.Errorf("workflow %s: save fanout checkpoint %q: %w", w.run.Name, group, saveErr)
	}
	return nil
}
