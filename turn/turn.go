// Package turn computes whose turn it is in a multi-party process. Every
// function is a pure function of the number of completed turns and the
// number of parties, so a run can recompute its position after a restart
// without replaying prior turns.
package turn

import "fmt"

// Order is the rotation rule between rounds.
type Order string

const (
	// OrderSnake reverses the rotation on every odd round.
	OrderSnake Order = "snake"
	// OrderLinear repeats the same rotation every round.
	OrderLinear Order = "linear"
)

// ParseOrder validates an order name. An empty name means snake.
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case "", OrderSnake:
		return OrderSnake, nil
	case OrderLinear:
		return OrderLinear, nil
	default:
		return "", fmt.Errorf("turn: unknown order %q", s)
	}
}

// Slot locates one turn. All fields are 0-based except Overall, which is
// the 1-based pick number.
type Slot struct {
	Round       int `json:"round"`
	PickInRound int `json:"pick_in_round"`
	Overall     int `json:"overall"`
	TeamIndex   int `json:"team_index"`
}

// TeamIndex returns the index of the party on the clock after completed
// turns.
func TeamIndex(order Order, completed, teamCount int) int {
	if teamCount <= 0 {
		return 0
	}
	pick := completed % teamCount
	round := completed / teamCount
	if order == OrderLinear || round%2 == 0 {
		return pick
	}
	return teamCount - 1 - pick
}

// SlotFor returns the slot of the turn after completed turns.
func SlotFor(order Order, completed, teamCount int) Slot {
	if teamCount <= 0 {
		return Slot{Overall: completed + 1}
	}
	return Slot{
		Round:       completed / teamCount,
		PickInRound: completed % teamCount,
		Overall:     completed + 1,
		TeamIndex:   TeamIndex(order, completed, teamCount),
	}
}

// RoundOrder returns the party indexes of a round in turn order.
func RoundOrder(order Order, round, teamCount int) []int {
	out := make([]int, teamCount)
	for i := range out {
		out[i] = TeamIndex(order, round*teamCount+i, teamCount)
	}
	return out
}

// Total returns the number of turns in a process of rounds rounds.
func Total(teamCount, rounds int) int {
	if teamCount <= 0 || rounds <= 0 {
		return 0
	}
	return teamCount * rounds
}
