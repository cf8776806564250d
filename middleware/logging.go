package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/aksrustagi/coordinator/activity"
)

// Logging returns middleware that logs every attempt with the run id and
// step name.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *activity.Invocation, next Handler) error {
		logger.Debug("activity attempt started",
			slog.String("run_id", inv.RunID.String()),
			slog.String("workflow", inv.Workflow),
			slog.String("step", inv.Step),
			slog.Int("attempt", inv.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("activity attempt failed",
				slog.String("run_id", inv.RunID.String()),
				slog.String("workflow", inv.Workflow),
				slog.String("step", inv.Step),
				slog.Int("attempt", inv.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("class", string(inv.Policy.ClassOf(err))),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("activity attempt succeeded",
				slog.String("run_id", inv.RunID.String()),
				slog.String("workflow", inv.Workflow),
				slog.String("step", inv.Step),
				slog.Int("attempt", inv.Attempt),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
