package middleware

import (
	"context"
	"log/slog"

	"github.com/aksrustagi/coordinator/activity"
)

// Timeout returns middleware that enforces the per-attempt deadline from
// the invocation's policy. When the deadline is exceeded the context is
// cancelled and the handler should return context.DeadlineExceeded, which
// classifies as retryable.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *activity.Invocation, next Handler) error {
		if inv.Policy.Timeout > 0 {
			logger.Debug("activity timeout set",
				slog.String("run_id", inv.RunID.String()),
				slog.String("step", inv.Step),
				slog.Duration("timeout", inv.Policy.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, inv.Policy.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
