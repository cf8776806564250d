// Package resolution resolves a binary market from an external data feed
// and settles its open positions. While the feed has no value the run
// sleeps and restarts from the top.
package resolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/collab"
	"github.com/aksrustagi/coordinator/workflow"
)

const (
	// WorkflowName is the registered name of the resolution run.
	WorkflowName = "resolution"
	// QueryStatus returns the resolution Status.
	QueryStatus = "getResolutionStatus"

	// StepFetch is the market-data read, rate limited by the engine.
	StepFetch = "fetch_data"
	// SettlePrefix prefixes the per-position settlement steps.
	SettlePrefix = "settle:"
)

// Defaults for Input fields left zero.
const (
	DefaultRetryAfter  = time.Hour
	DefaultMaxRestarts = 48
)

// Phases of a resolution run.
const (
	PhaseFetching     = "fetching_data"
	PhaseAwaitingData = "awaiting_data"
	PhaseEvaluating   = "evaluating"
	PhaseSettling     = "settling"
	PhaseRecording    = "recording_outcome"
	PhaseResolved     = "resolved"
)

// Input starts a resolution.
type Input struct {
	MarketID    string        `json:"market_id"`
	FeedID      string        `json:"feed_id"`
	Operator    Operator      `json:"operator"`
	Target      float64       `json:"target"`
	RetryAfter  time.Duration `json:"retry_after,omitempty"`
	MaxRestarts int           `json:"max_restarts,omitempty"`
}

// Status is the getResolutionStatus snapshot.
type Status struct {
	MarketID    string   `json:"market_id"`
	Phase       string   `json:"phase"`
	Restarts    int      `json:"restarts"`
	Value       *float64 `json:"value,omitempty"`
	Outcome     *bool    `json:"outcome,omitempty"`
	Positions   int      `json:"positions"`
	Winners     int      `json:"winners"`
	TotalPayout int64    `json:"total_payout"`
	Error       string   `json:"error,omitempty"`
}

// Deps are the collaborators of a resolution run.
type Deps struct {
	MarketData collab.MarketData
	Positions  collab.Positions
	Markets    collab.Markets
	Balances   collab.Balances
}

type options struct {
	settleConcurrency int
}

// Option configures the resolution run.
type Option func(*options)

// WithSettleConcurrency bounds the number of positions settled at once.
func WithSettleConcurrency(n int) Option {
	return func(o *options) { o.settleConcurrency = n }
}

// New returns the resolution run's workflow definition.
func New(deps Deps, opts ...Option) *workflow.Definition[Input] {
	o := options{settleConcurrency: 8}
	for _, opt := range opts {
		opt(&o)
	}
	return workflow.NewWorkflow(WorkflowName, func(wf *workflow.Workflow, in Input) error {
		if _, err := ParseOperator(string(in.Operator)); err != nil {
			return workflow.Reject(err.Error())
		}
		if in.RetryAfter <= 0 {
			in.RetryAfter = DefaultRetryAfter
		}
		if in.MaxRestarts <= 0 {
			in.MaxRestarts = DefaultMaxRestarts
		}
		r := &resolver{wf: wf, deps: deps, opts: o, in: in}
		r.status = initialStatus(in)
		r.status.Restarts = wf.Restarts()
		err := r.run()
		if err != nil && wf.Context().Err() == nil && !isRestart(err) {
			r.status.Error = err.Error()
			if perr := r.publish(); perr != nil {
				wf.Logger().Warn("failed to publish resolution status", slog.String("error", perr.Error()))
			}
		}
		return err
	}).WithQueries(QueryStatus).WithInitialSnapshot(func(in Input) any {
		return initialStatus(in)
	})
}

func initialStatus(in Input) Status {
	return Status{MarketID: in.MarketID, Phase: PhaseFetching}
}

func isRestart(err error) bool {
	var re *workflow.RestartError
	return errors.As(err, &re)
}

type resolver struct {
	wf     *workflow.Workflow
	deps   Deps
	opts   options
	in     Input
	status Status
}

type reading struct {
	Value     float64 `json:"value"`
	Available bool    `json:"available"`
}

func (r *resolver) enter(phase string) error {
	r.status.Phase = phase
	if err := r.wf.SetPhase(phase); err != nil {
		return err
	}
	return r.publish()
}

func (r *resolver) publish() error { return r.wf.Publish(r.status) }

func (r *resolver) run() error {
	if err := r.enter(PhaseFetching); err != nil {
		return err
	}
	data, err := workflow.Activity(r.wf, StepFetch, func(ctx context.Context, _ string) (reading, error) {
		v, ok, err := r.deps.MarketData.Fetch(ctx, r.in.FeedID)
		return reading{Value: v, Available: ok}, err
	})
	if err != nil {
		return err
	}

	if !data.Available {
		if r.wf.Restarts() >= r.in.MaxRestarts {
			return activity.Terminalf("market data for %s unavailable after %d restarts", r.in.FeedID, r.wf.Restarts())
		}
		if err := r.enter(PhaseAwaitingData); err != nil {
			return err
		}
		if err := r.wf.Sleep("retry_after", r.in.RetryAfter); err != nil {
			return err
		}
		return r.wf.Restart(fmt.Sprintf("market data for %s not available", r.in.FeedID))
	}
	r.status.Value = &data.Value

	if err := r.enter(PhaseEvaluating); err != nil {
		return err
	}
	outcome, err := Evaluate(r.in.Operator, data.Value, r.in.Target)
	if err != nil {
		return err
	}
	r.status.Outcome = &outcome
	positions, err := workflow.Activity(r.wf, "list_positions", func(ctx context.Context, _ string) ([]collab.Position, error) {
		return r.deps.Positions.Open(ctx, r.in.MarketID)
	})
	if err != nil {
		return err
	}
	r.status.Positions = len(positions)

	if err := r.enter(PhaseSettling); err != nil {
		return err
	}
	tasks := make([]func() error, len(positions))
	for i, p := range positions {
		tasks[i] = func() error {
			return r.wf.Step(SettlePrefix+p.ID, r.settle(p, outcome))
		}
	}
	if err := r.wf.FanOut("settle", r.opts.settleConcurrency, tasks...); err != nil {
		return err
	}
	for _, p := range positions {
		if payout := Payout(p, outcome); payout > 0 {
			r.status.Winners++
			r.status.TotalPayout += payout
		}
	}

	if err := r.enter(PhaseRecording); err != nil {
		return err
	}
	if err := r.wf.Step("resolve_market", func(ctx context.Context, key string) error {
		return r.deps.Markets.Resolve(ctx, key, r.in.MarketID, outcome)
	}); err != nil {
		return err
	}
	return r.enter(PhaseResolved)
}

// settle pays one position and closes it. Credit and Close each take a key
// derived from the position's step, so a retried settlement pays once.
func (r *resolver) settle(p collab.Position, outcome bool) func(ctx context.Context, key string) error {
	payout := Payout(p, outcome)
	step := SettlePrefix + p.ID
	return func(ctx context.Context, _ string) error {
		if payout > 0 {
			if err := r.deps.Balances.Credit(ctx, activity.Key(r.wf.RunID(), step, "credit"), p.OwnerID, payout); err != nil {
				return err
			}
		}
		return r.deps.Positions.Close(ctx, activity.Key(r.wf.RunID(), step, "close"), p.ID, payout)
	}
}
