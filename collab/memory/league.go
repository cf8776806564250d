package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/collab"
)

// League is an in-memory fantasy league backend. It implements
// collab.Rosters and collab.DraftBoard.
type League struct {
	Faults

	mu          sync.Mutex
	rosterLimit int
	freeAgents  map[string]map[string]bool
	rosters     map[string]map[string][]string
	budgets     map[string]map[string]int64
	priorities  map[string]map[string]int
	claims      map[string][]collab.Claim
	pool        map[string][]string
	picks       map[string][]collab.Pick
	finalized   map[string]bool
	applied     ledger
}

var (
	_ collab.Rosters    = (*League)(nil)
	_ collab.DraftBoard = (*League)(nil)
)

// NewLeague creates a league backend with the given roster size limit.
func NewLeague(rosterLimit int) *League {
	return &League{
		rosterLimit: rosterLimit,
		freeAgents:  make(map[string]map[string]bool),
		rosters:     make(map[string]map[string][]string),
		budgets:     make(map[string]map[string]int64),
		priorities:  make(map[string]map[string]int),
		claims:      make(map[string][]collab.Claim),
		pool:        make(map[string][]string),
		picks:       make(map[string][]collab.Pick),
		finalized:   make(map[string]bool),
		applied:     make(ledger),
	}
}

// AddFreeAgents marks players as available in a league.
func (l *League) AddFreeAgents(leagueID string, players ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.freeAgents[leagueID] == nil {
		l.freeAgents[leagueID] = make(map[string]bool)
	}
	for _, p := range players {
		l.freeAgents[leagueID][p] = true
	}
}

// SetRoster replaces a team's roster.
func (l *League) SetRoster(leagueID, teamID string, players ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rosters[leagueID] == nil {
		l.rosters[leagueID] = make(map[string][]string)
	}
	l.rosters[leagueID][teamID] = append([]string(nil), players...)
}

// Roster returns a team's roster.
func (l *League) Roster(leagueID, teamID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.rosters[leagueID][teamID]...)
}

// SetBudget sets a team's FAAB budget.
func (l *League) SetBudget(leagueID, teamID string, budget int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.budgets[leagueID] == nil {
		l.budgets[leagueID] = make(map[string]int64)
	}
	l.budgets[leagueID][teamID] = budget
}

// Budget returns a team's FAAB budget.
func (l *League) Budget(leagueID, teamID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.budgets[leagueID][teamID]
}

// SetPriorityOrder assigns priorities 1..n in the given team order.
func (l *League) SetPriorityOrder(leagueID string, teams ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := make(map[string]int, len(teams))
	for i, t := range teams {
		p[t] = i + 1
	}
	l.priorities[leagueID] = p
}

// SubmitClaims queues claims for a batch.
func (l *League) SubmitClaims(batchID string, claims ...collab.Claim) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range claims {
		k := c.LeagueID + "/" + batchID
		l.claims[k] = append(l.claims[k], c)
	}
}

// SetPool sets a draft's player pool in ranking order.
func (l *League) SetPool(draftID string, players ...string) {
	l.mu.Lock()
	l.pool[draftID] = append([]string(nil), players...)
	l.mu.Unlock()
}

// Picks returns the recorded picks of a draft.
func (l *League) Picks(draftID string) []collab.Pick {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]collab.Pick(nil), l.picks[draftID]...)
}

// Finalized reports whether a draft was finalized.
func (l *League) Finalized(draftID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finalized[draftID]
}

func (l *League) PendingClaims(_ context.Context, leagueID, batchID string) ([]collab.Claim, error) {
	if err := l.check("pending_claims"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]collab.Claim(nil), l.claims[leagueID+"/"+batchID]...), nil
}

func (l *League) IsAvailable(_ context.Context, leagueID, playerID string) (bool, error) {
	if err := l.check("is_available"); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.freeAgents[leagueID][playerID], nil
}

func (l *League) HasRoomFor(_ context.Context, leagueID, teamID, dropPlayerID string) (bool, error) {
	if err := l.check("has_room"); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	size := len(l.rosters[leagueID][teamID])
	if dropPlayerID != "" && contains(l.rosters[leagueID][teamID], dropPlayerID) {
		size--
	}
	return size < l.rosterLimit, nil
}

func (l *League) CommitClaim(_ context.Context, key string, c collab.Claim, faab bool) error {
	if err := l.check("commit_claim"); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := once(l.applied, key, func() (struct{}, error) {
		if !l.freeAgents[c.LeagueID][c.AddPlayerID] {
			return struct{}{}, activity.Terminalf("player %s is not available", c.AddPlayerID)
		}
		if faab && l.budgets[c.LeagueID][c.TeamID] < c.Bid {
			return struct{}{}, activity.Terminalf("team %s cannot afford bid %d", c.TeamID, c.Bid)
		}
		if l.rosters[c.LeagueID] == nil {
			l.rosters[c.LeagueID] = make(map[string][]string)
		}
		roster := l.rosters[c.LeagueID][c.TeamID]
		if c.DropPlayerID != "" && contains(roster, c.DropPlayerID) {
			roster = remove(roster, c.DropPlayerID)
			l.freeAgents[c.LeagueID][c.DropPlayerID] = true
		}
		l.rosters[c.LeagueID][c.TeamID] = append(roster, c.AddPlayerID)
		delete(l.freeAgents[c.LeagueID], c.AddPlayerID)
		if faab {
			if l.budgets[c.LeagueID] == nil {
				l.budgets[c.LeagueID] = make(map[string]int64)
			}
			l.budgets[c.LeagueID][c.TeamID] -= c.Bid
		}
		return struct{}{}, nil
	})
	return err
}

func (l *League) Priorities(_ context.Context, leagueID string) (map[string]int, error) {
	if err := l.check("priorities"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.priorities[leagueID]))
	for t, p := range l.priorities[leagueID] {
		out[t] = p
	}
	return out, nil
}

func (l *League) SetPriorities(_ context.Context, key, leagueID string, priorities map[string]int) error {
	if err := l.check("set_priorities"); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := once(l.applied, key, func() (struct{}, error) {
		p := make(map[string]int, len(priorities))
		for t, v := range priorities {
			p[t] = v
		}
		l.priorities[leagueID] = p
		return struct{}{}, nil
	})
	return err
}

func (l *League) AutoSelect(_ context.Context, draftID, teamID string, drafted []string) (string, error) {
	if err := l.check("auto_select"); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.pool[draftID] {
		if !contains(drafted, p) {
			return p, nil
		}
	}
	return "", activity.Terminalf("draft %s: no player left for team %s", draftID, teamID)
}

func (l *League) RecordPick(_ context.Context, key string, p collab.Pick) error {
	if err := l.check("record_pick"); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := once(l.applied, key, func() (struct{}, error) {
		for _, prev := range l.picks[p.DraftID] {
			if prev.Overall == p.Overall {
				return struct{}{}, activity.Terminal(fmt.Errorf("draft %s: pick %d already recorded", p.DraftID, p.Overall))
			}
		}
		l.picks[p.DraftID] = append(l.picks[p.DraftID], p)
		return struct{}{}, nil
	})
	return err
}

func (l *League) Finalize(_ context.Context, key, draftID string) error {
	if err := l.check("finalize"); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := once(l.applied, key, func() (struct{}, error) {
		l.finalized[draftID] = true
		return struct{}{}, nil
	})
	return err
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	out := list[:0:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
