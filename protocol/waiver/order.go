package waiver

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/aksrustagi/coordinator/collab"
)

// Policy is a league's waiver ordering rule.
type Policy string

const (
	// PolicyFAAB orders claims by bid, highest first, then by submission
	// time.
	PolicyFAAB Policy = "faab"
	// PolicyRolling orders claims by team priority; successful teams move
	// to the back.
	PolicyRolling Policy = "rolling"
	// PolicyReverseStandings orders claims by team priority, which the
	// league seeds from reverse standings.
	PolicyReverseStandings Policy = "reverse_standings"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyFAAB, PolicyRolling, PolicyReverseStandings:
		return p, nil
	default:
		return "", fmt.Errorf("waiver: unknown policy %q", s)
	}
}

// Sort returns claims in processing order. The input is not modified.
func Sort(policy Policy, claims []collab.Claim) []collab.Claim {
	out := slices.Clone(claims)
	slices.SortStableFunc(out, func(a, b collab.Claim) int {
		if policy == PolicyFAAB {
			if c := cmp.Compare(b.Bid, a.Bid); c != 0 {
				return c
			}
		} else if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return a.SubmittedAt.Compare(b.SubmittedAt)
	})
	return out
}

// NextPriorities moves the teams with a successful claim to the back of
// the priority order, in the order their claims were processed, and
// renumbers priorities from 1. Teams with equal priority keep their name
// order.
func NextPriorities(current map[string]int, succeeded []string) map[string]int {
	teams := make([]string, 0, len(current))
	for t := range current {
		teams = append(teams, t)
	}
	slices.SortFunc(teams, func(a, b string) int {
		if c := cmp.Compare(current[a], current[b]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	moved := make(map[string]bool, len(succeeded))
	var back []string
	for _, t := range succeeded {
		if _, known := current[t]; !known || moved[t] {
			continue
		}
		moved[t] = true
		back = append(back, t)
	}

	next := make(map[string]int, len(current))
	n := 0
	for _, t := range teams {
		if !moved[t] {
			n++
			next[t] = n
		}
	}
	for _, t := range back {
		n++
		next[t] = n
	}
	return next
}
