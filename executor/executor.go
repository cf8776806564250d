// Package executor is the retry controller: it runs an activity attempt
// through the middleware chain, classifies the failure, waits out the
// policy's backoff between retryable failures, and converts an exhausted
// attempt budget into a terminal failure.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/middleware"
)

// Emitter receives retry lifecycle events.
// ext.Registry satisfies this interface.
type Emitter interface {
	EmitStepRetrying(ctx context.Context, inv *activity.Invocation, err error, delay time.Duration)
}

// Func is the activity body. key is the idempotency key for the step; it
// is identical on every attempt.
type Func func(ctx context.Context, key string) error

// Executor runs activities with retries. It is safe for concurrent use.
type Executor struct {
	mw      middleware.Middleware
	emitter Emitter
	logger  *slog.Logger
}

// New creates an Executor applying mws (outermost first) to every attempt.
func New(logger *slog.Logger, emitter Emitter, mws ...middleware.Middleware) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		mw:      middleware.Chain(mws...),
		emitter: emitter,
		logger:  logger,
	}
}

// Execute attempts fn until it succeeds, fails terminally, or the policy's
// attempt cap is reached. Failures come back as *activity.Error; an
// interrupted caller context comes back as the context error.
func (e *Executor) Execute(ctx context.Context, inv activity.Invocation, fn Func) error {
	maxAttempts := inv.Policy.Attempts()
	strategy := inv.Policy.Strategy()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		current := inv
		current.Attempt = attempt

		err := e.mw(ctx, &current, func(ctx context.Context) error {
			return fn(ctx, current.Key)
		})
		if err == nil {
			return nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("step %q interrupted: %w", inv.Step, ctxErr)
		}

		if inv.Policy.ClassOf(err) == activity.ClassTerminal {
			return &activity.Error{
				Step:     inv.Step,
				Class:    activity.ClassTerminal,
				Attempts: attempt,
				Cause:    err,
			}
		}

		if attempt == maxAttempts {
			break
		}

		delay := strategy.Delay(attempt)
		if e.emitter != nil {
			e.emitter.EmitStepRetrying(ctx, &current, err, delay)
		}
		e.logger.Warn("activity scheduled for retry",
			slog.String("run_id", inv.RunID.String()),
			slog.String("step", inv.Step),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		if waitErr := sleep(ctx, delay); waitErr != nil {
			return fmt.Errorf("step %q interrupted: %w", inv.Step, waitErr)
		}
	}

	e.logger.Warn("activity exhausted retries",
		slog.String("run_id", inv.RunID.String()),
		slog.String("step", inv.Step),
		slog.Int("attempts", maxAttempts),
		slog.String("error", lastErr.Error()),
	)

	return &activity.Error{
		Step:      inv.Step,
		Class:     activity.ClassTerminal,
		Attempts:  maxAttempts,
		Exhausted: true,
		Cause:     lastErr,
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
