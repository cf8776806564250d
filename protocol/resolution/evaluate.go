package resolution

import (
	"fmt"
	"math"

	"github.com/aksrustagi/coordinator/collab"
)

// Operator compares a market-data value with the market's target.
type Operator string

const (
	OpGT  Operator = "gt"
	OpGTE Operator = "gte"
	OpLT  Operator = "lt"
	OpLTE Operator = "lte"
	OpEQ  Operator = "eq"
)

// EqTolerance is the relative tolerance of OpEQ.
const EqTolerance = 1e-4

// PayoutUnit is the payout of one winning share, in cents.
const PayoutUnit = 100

// ParseOperator validates an operator name.
func ParseOperator(s string) (Operator, error) {
	switch op := Operator(s); op {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ:
		return op, nil
	default:
		return "", fmt.Errorf("resolution: unknown operator %q", s)
	}
}

// Evaluate returns the market outcome for value.
func Evaluate(op Operator, value, target float64) (bool, error) {
	switch op {
	case OpGT:
		return value > target, nil
	case OpGTE:
		return value >= target, nil
	case OpLT:
		return value < target, nil
	case OpLTE:
		return value <= target, nil
	case OpEQ:
		if target == 0 {
			return math.Abs(value) <= EqTolerance, nil
		}
		return math.Abs(value-target) <= EqTolerance*math.Abs(target), nil
	default:
		return false, fmt.Errorf("resolution: unknown operator %q", op)
	}
}

// Payout returns what a position receives for outcome: one unit per share
// on the winning side, nothing otherwise.
func Payout(p collab.Position, outcome bool) int64 {
	if p.Side != outcome {
		return 0
	}
	return p.Quantity * PayoutUnit
}
