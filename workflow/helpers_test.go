package workflow_test

import (
	"io"
	"log/slog"
	"time"

	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/compensation"
	"github.com/aksrustagi/coordinator/executor"
	"github.com/aksrustagi/coordinator/signal"
	"github.com/aksrustagi/coordinator/store/memory"
	"github.com/aksrustagi/coordinator/workflow"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastPolicy keeps retry backoff in the millisecond range.
func fastPolicy() activity.Policy {
	return activity.Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		Multiplier:     2,
		MaxBackoff:     5 * time.Millisecond,
		Timeout:        time.Second,
	}
}

type harness struct {
	store  *memory.Store
	bus    *signal.Bus
	reg    *workflow.Registry
	runner *workflow.Runner
	comp   *compensation.Service
}

// newHarness creates a runner over s with fast timers.
func newHarness(s *memory.Store) *harness {
	logger := testLogger()
	bus := signal.NewBus(s)
	reg := workflow.NewRegistry()
	comp := compensation.NewService(s)
	runner := workflow.NewRunner(reg, s, bus, executor.New(logger, nil), nil, logger,
		workflow.WithPollInterval(10*time.Millisecond),
		workflow.WithDefaultPolicy(fastPolicy()),
		workflow.WithCompensationAttempts(2),
		workflow.WithUnresolvedRecorder(comp),
	)
	return &harness{store: s, bus: bus, reg: reg, runner: runner, comp: comp}
}

func newTestHarness() *harness { return newHarness(memory.New()) }

type orderInput struct {
	OrderID string `json:"order_id"`
	Amount  int    `json:"amount"`
}
