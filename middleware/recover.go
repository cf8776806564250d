package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/aksrustagi/coordinator/activity"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to terminal errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *activity.Invocation, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("activity panicked",
					slog.String("run_id", inv.RunID.String()),
					slog.String("step", inv.Step),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = activity.Terminal(fmt.Errorf("panic in step %s: %v", inv.Step, r))
			}
		}()
		return next(ctx)
	}
}
