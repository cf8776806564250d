package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aksrustagi/coordinator/cron"
	"github.com/aksrustagi/coordinator/workflow"
)

// supervisor owns the background lifecycle of an engine: crash recovery on
// start, the cron scheduler, and interrupting in-flight runs on stop.
type supervisor struct {
	runner    *workflow.Runner
	scheduler *cron.Scheduler
	logger    *slog.Logger
	timeout   time.Duration
}

func (s *supervisor) Start(ctx context.Context) error {
	s.runner.Reopen()

	// Runs that fail to resume are logged and skipped.
	if err := s.runner.ResumeAll(ctx); err != nil {
		s.logger.Warn("failed to resume runs", slog.String("error", err.Error()))
	}
	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}
	return nil
}

func (s *supervisor) Stop(ctx context.Context) error {
	if err := s.scheduler.Stop(ctx); err != nil {
		s.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := s.runner.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown runner: %w", err)
	}
	return nil
}
