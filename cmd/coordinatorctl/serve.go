package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aksrustagi/coordinator/cron"
	"github.com/aksrustagi/coordinator/engine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Resume runs, fire configured schedules and serve metrics until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sess, err := openSession(ctx, cfg)
		if err != nil {
			return err
		}
		for _, sc := range cfg.Serve.Schedules {
			if err := engine.RegisterCron(sess.engine, cron.Definition[map[string]any]{
				Name:     sc.Name,
				Schedule: sc.Schedule,
				Workflow: sc.Workflow,
				Input:    sc.Input,
			}); err != nil {
				_ = sess.Stop(context.Background())
				return err
			}
		}
		if err := sess.engine.Start(ctx); err != nil {
			_ = sess.Stop(context.Background())
			return err
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", sess.engine.Metrics().Handler())
		srv := &http.Server{
			Addr:              cfg.Serve.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		sess.logger.Info("coordinator serving",
			slog.String("store", cfg.Store),
			slog.String("metrics_addr", cfg.Serve.MetricsAddr),
			slog.Int("schedules", len(cfg.Serve.Schedules)),
		)

		var serveErr error
		select {
		case <-ctx.Done():
		case serveErr = <-errCh:
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if err := sess.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("stop: %w", err)
		}
		return serveErr
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
