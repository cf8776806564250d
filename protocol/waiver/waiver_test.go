package waiver_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aksrustagi/coordinator/collab"
	"github.com/aksrustagi/coordinator/collab/memory"
	"github.com/aksrustagi/coordinator/internal/testenv"
	"github.com/aksrustagi/coordinator/protocol/waiver"
	"github.com/aksrustagi/coordinator/workflow"
)

type fixture struct {
	env    *testenv.Env
	league *memory.League
	sink   *memory.Sink
}

var t0 = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

// newFixture sets up league l1 with three teams, two roster spots each,
// and free agents x, y and z.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{env: testenv.New(t), league: memory.NewLeague(2), sink: memory.NewSink()}
	f.league.AddFreeAgents("l1", "x", "y", "z")
	f.league.SetRoster("l1", "a", "a1")
	f.league.SetRoster("l1", "b", "b1")
	f.league.SetRoster("l1", "c", "c1", "c2")
	f.league.SetPriorityOrder("l1", "a", "b", "c")
	for _, team := range []string{"a", "b", "c"} {
		f.league.SetBudget("l1", team, 100)
	}
	workflow.RegisterDefinition(f.env.Registry, waiver.New(waiver.Deps{Rosters: f.league, Notifier: f.sink}))
	return f
}

func (f *fixture) process(t *testing.T, policy waiver.Policy) (*workflow.Run, waiver.State) {
	t.Helper()
	run, err := workflow.Execute(context.Background(), f.env.Runner, waiver.WorkflowName,
		waiver.Input{LeagueID: "l1", BatchID: "w1", Policy: policy})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var st waiver.State
	if err := json.Unmarshal(run.Output, &st); err != nil {
		t.Fatalf("decode state %s: %v", run.Output, err)
	}
	return run, st
}

func claim(id, team, add string, bid int64, offset time.Duration) collab.Claim {
	return collab.Claim{ID: id, LeagueID: "l1", TeamID: team, AddPlayerID: add, Bid: bid, SubmittedAt: t0.Add(offset)}
}

func results(st waiver.State) map[string]waiver.Result {
	out := make(map[string]waiver.Result, len(st.Results))
	for _, r := range st.Results {
		out[r.ClaimID] = r
	}
	return out
}

func TestWaiver_RollingBatch(t *testing.T) {
	f := newFixture(t)
	f.league.SubmitClaims("w1",
		claim("c1", "b", "x", 0, 0),
		claim("c2", "a", "x", 0, time.Minute),
		claim("c3", "c", "y", 0, 0),
		claim("c4", "b", "z", 0, 2*time.Minute),
	)

	run, st := f.process(t, waiver.PolicyRolling)

	if run.State != workflow.RunStateCompleted || st.Status != waiver.StatusComplete {
		t.Fatalf("state = %s, status = %s (%s)", run.State, st.Status, st.Error)
	}
	res := results(st)
	if !res["c2"].Succeeded {
		t.Errorf("c2 = %+v, want success for the higher priority team", res["c2"])
	}
	if r := res["c1"]; r.Succeeded || r.Reason != waiver.ReasonAlreadyClaimed {
		t.Errorf("c1 = %+v, want %q", r, waiver.ReasonAlreadyClaimed)
	}
	if r := res["c3"]; r.Succeeded || r.Reason != waiver.ReasonRosterFull {
		t.Errorf("c3 = %+v, want %q", r, waiver.ReasonRosterFull)
	}
	if !res["c4"].Succeeded {
		t.Errorf("c4 = %+v, want success", res["c4"])
	}
	if st.Processed != 4 || st.Succeeded != 2 {
		t.Errorf("processed/succeeded = %d/%d, want 4/2", st.Processed, st.Succeeded)
	}

	prio, err := f.league.Priorities(context.Background(), "l1")
	if err != nil {
		t.Fatalf("Priorities: %v", err)
	}
	if prio["c"] != 1 || prio["a"] != 2 || prio["b"] != 3 {
		t.Errorf("priorities = %v, want c=1 a=2 b=3", prio)
	}
	if got := len(f.sink.Notifications()); got != 4 {
		t.Errorf("notifications = %d, want 4", got)
	}
}

func TestWaiver_FAABDeductsBidsAndKeepsPriorities(t *testing.T) {
	f := newFixture(t)
	f.league.SubmitClaims("w1",
		claim("c1", "a", "x", 30, 0),
		claim("c2", "b", "x", 45, time.Minute),
	)

	_, st := f.process(t, waiver.PolicyFAAB)

	res := results(st)
	if !res["c2"].Succeeded || res["c1"].Reason != waiver.ReasonAlreadyClaimed {
		t.Errorf("results = %+v", st.Results)
	}
	if got := f.league.Budget("l1", "b"); got != 55 {
		t.Errorf("budget = %d, want 55", got)
	}
	prio, _ := f.league.Priorities(context.Background(), "l1")
	if prio["a"] != 1 || prio["b"] != 2 {
		t.Errorf("priorities changed under faab: %v", prio)
	}
}

func TestWaiver_UnaffordableBidFailsClaimOnly(t *testing.T) {
	f := newFixture(t)
	f.league.SubmitClaims("w1",
		claim("c1", "a", "x", 500, 0),
		claim("c2", "b", "y", 10, 0),
	)

	run, st := f.process(t, waiver.PolicyFAAB)

	if run.State != workflow.RunStateCompleted {
		t.Fatalf("state = %s, want completed", run.State)
	}
	res := results(st)
	if res["c1"].Succeeded || res["c1"].Reason == "" {
		t.Errorf("c1 = %+v, want a failed claim", res["c1"])
	}
	if !res["c2"].Succeeded {
		t.Errorf("c2 = %+v, want success", res["c2"])
	}
}

func TestWaiver_InfrastructureFailureFailsBatch(t *testing.T) {
	f := newFixture(t)
	f.league.SubmitClaims("w1", claim("c1", "a", "x", 0, 0))
	f.league.Inject("is_available", -1, errors.New("roster service down"))

	run, st := f.process(t, waiver.PolicyRolling)

	if run.State != workflow.RunStateFailed {
		t.Fatalf("state = %s, want failed", run.State)
	}
	if st.Status != waiver.StatusFailed || st.Error == "" {
		t.Errorf("status = %s, error = %q", st.Status, st.Error)
	}
}

func TestWaiver_QueryState(t *testing.T) {
	f := newFixture(t)
	run, _ := f.process(t, waiver.PolicyRolling)

	var st waiver.State
	f.env.Query(t, run.ID, waiver.QueryState, &st)
	if st.Phase != waiver.PhaseComplete || st.Claims != 0 {
		t.Errorf("state = %+v", st)
	}
}
