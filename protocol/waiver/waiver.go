// Package waiver processes a league's waiver claims as one batch. Claims
// are sorted by the league's policy and processed strictly in that order;
// a failing claim fails alone and never fails the batch.
package waiver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/collab"
	"github.com/aksrustagi/coordinator/workflow"
)

const (
	// WorkflowName is the registered name of the waiver batch.
	WorkflowName = "waiver"
	// QueryState returns the batch State.
	QueryState = "getWaiverState"
)

// Phases of a waiver batch.
const (
	PhaseLoadingClaims      = "loading_claims"
	PhaseProcessing         = "processing"
	PhaseUpdatingPriorities = "updating_priorities"
	PhaseNotifying          = "notifying"
	PhaseComplete           = "complete"
)

// Batch statuses.
const (
	StatusProcessing = "processing"
	StatusComplete   = "complete"
	StatusFailed     = "failed"
)

// Claim failure reasons.
const (
	ReasonAlreadyClaimed = "already claimed by higher priority"
	ReasonUnavailable    = "player not available"
	ReasonRosterFull     = "roster full"
)

// Input starts a batch.
type Input struct {
	LeagueID string `json:"league_id"`
	BatchID  string `json:"batch_id"`
	Policy   Policy `json:"policy"`
}

// Result is the outcome of one claim.
type Result struct {
	ClaimID     string `json:"claim_id"`
	TeamID      string `json:"team_id"`
	AddPlayerID string `json:"add_player_id"`
	Succeeded   bool   `json:"succeeded"`
	Reason      string `json:"reason,omitempty"`
}

// State is the getWaiverState snapshot.
type State struct {
	LeagueID   string         `json:"league_id"`
	BatchID    string         `json:"batch_id"`
	Policy     Policy         `json:"policy"`
	Phase      string         `json:"phase"`
	Status     string         `json:"status"`
	Claims     int            `json:"claims"`
	Processed  int            `json:"processed"`
	Succeeded  int            `json:"succeeded"`
	Results    []Result       `json:"results"`
	Priorities map[string]int `json:"priorities,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Deps are the collaborators of a waiver batch.
type Deps struct {
	Rosters  collab.Rosters
	Notifier collab.Notifier
}

// New returns the waiver batch's workflow definition.
func New(deps Deps) *workflow.Definition[Input] {
	return workflow.NewWorkflow(WorkflowName, func(wf *workflow.Workflow, in Input) error {
		b := &batch{wf: wf, deps: deps, in: in, state: initialState(in)}
		if err := b.run(); err != nil {
			if wf.Context().Err() != nil {
				return err
			}
			b.state.Status = StatusFailed
			b.state.Error = err.Error()
			if perr := b.publish(); perr != nil {
				wf.Logger().Warn("failed to publish waiver state", slog.String("error", perr.Error()))
			}
			return err
		}
		return nil
	}).WithQueries(QueryState).WithInitialSnapshot(func(in Input) any {
		return initialState(in)
	})
}

func initialState(in Input) State {
	return State{
		LeagueID: in.LeagueID,
		BatchID:  in.BatchID,
		Policy:   in.Policy,
		Phase:    PhaseLoadingClaims,
		Status:   StatusProcessing,
		Results:  []Result{},
	}
}

type batch struct {
	wf    *workflow.Workflow
	deps  Deps
	in    Input
	state State
}

func (b *batch) enter(phase string) error {
	b.state.Phase = phase
	if err := b.wf.SetPhase(phase); err != nil {
		return err
	}
	return b.publish()
}

func (b *batch) publish() error { return b.wf.Publish(b.state) }

type loaded struct {
	Claims     []collab.Claim `json:"claims"`
	Priorities map[string]int `json:"priorities"`
}

func (b *batch) run() error {
	if _, err := ParsePolicy(string(b.in.Policy)); err != nil {
		return activity.Terminal(err)
	}
	if err := b.enter(PhaseLoadingClaims); err != nil {
		return err
	}
	in, err := workflow.Activity(b.wf, "load_claims", func(ctx context.Context, _ string) (loaded, error) {
		claims, err := b.deps.Rosters.PendingClaims(ctx, b.in.LeagueID, b.in.BatchID)
		if err != nil {
			return loaded{}, err
		}
		prio, err := b.deps.Rosters.Priorities(ctx, b.in.LeagueID)
		if err != nil {
			return loaded{}, err
		}
		return loaded{Claims: claims, Priorities: prio}, nil
	})
	if err != nil {
		return err
	}
	for i, c := range in.Claims {
		if c.Priority == 0 {
			in.Claims[i].Priority = in.Priorities[c.TeamID]
		}
	}
	claims := Sort(b.in.Policy, in.Claims)
	b.state.Claims = len(claims)
	b.state.Priorities = in.Priorities

	if err := b.enter(PhaseProcessing); err != nil {
		return err
	}
	claimed := make(map[string]bool)
	var succeeded []string
	for _, c := range claims {
		res, err := b.process(c, claimed)
		if err != nil {
			return err
		}
		if res.Succeeded {
			claimed[c.AddPlayerID] = true
			succeeded = append(succeeded, c.TeamID)
			b.state.Succeeded++
		}
		b.state.Results = append(b.state.Results, res)
		b.state.Processed++
		if err := b.publish(); err != nil {
			return err
		}
	}

	if b.in.Policy != PolicyFAAB && len(succeeded) > 0 {
		if err := b.enter(PhaseUpdatingPriorities); err != nil {
			return err
		}
		next := NextPriorities(in.Priorities, succeeded)
		if err := b.wf.Step("update_priorities", func(ctx context.Context, key string) error {
			return b.deps.Rosters.SetPriorities(ctx, key, b.in.LeagueID, next)
		}); err != nil {
			return err
		}
		b.state.Priorities = next
	}

	if err := b.enter(PhaseNotifying); err != nil {
		return err
	}
	for _, r := range b.state.Results {
		b.notify(r)
	}

	b.state.Status = StatusComplete
	return b.enter(PhaseComplete)
}

// process runs one claim. Business failures fail the claim; only
// infrastructure failures are returned.
func (b *batch) process(c collab.Claim, claimed map[string]bool) (Result, error) {
	res := Result{ClaimID: c.ID, TeamID: c.TeamID, AddPlayerID: c.AddPlayerID}
	if claimed[c.AddPlayerID] {
		res.Reason = ReasonAlreadyClaimed
		return res, nil
	}
	return workflow.Activity(b.wf, "claim:"+c.ID, func(ctx context.Context, key string) (Result, error) {
		ok, err := b.deps.Rosters.IsAvailable(ctx, c.LeagueID, c.AddPlayerID)
		if err != nil {
			return res, err
		}
		if !ok {
			res.Reason = ReasonUnavailable
			return res, nil
		}
		ok, err = b.deps.Rosters.HasRoomFor(ctx, c.LeagueID, c.TeamID, c.DropPlayerID)
		if err != nil {
			return res, err
		}
		if !ok {
			res.Reason = ReasonRosterFull
			return res, nil
		}
		if err := b.deps.Rosters.CommitClaim(ctx, key, c, b.in.Policy == PolicyFAAB); err != nil {
			if activity.IsTerminal(err) {
				res.Reason = err.Error()
				return res, nil
			}
			return res, err
		}
		res.Succeeded = true
		return res, nil
	})
}

func (b *batch) notify(r Result) {
	template := "waiver_claim_failed"
	if r.Succeeded {
		template = "waiver_claim_succeeded"
	}
	b.wf.SideEffect(fmt.Sprintf("notify:%s", r.ClaimID), func(ctx context.Context, key string) error {
		return b.deps.Notifier.Notify(ctx, key, collab.Notification{
			Recipient: r.TeamID,
			Template:  template,
			Data: map[string]any{
				"claim_id":  r.ClaimID,
				"player_id": r.AddPlayerID,
				"reason":    r.Reason,
			},
		})
	})
}
