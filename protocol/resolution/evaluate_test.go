package resolution_test

import (
	"testing"

	"github.com/aksrustagi/coordinator/collab"
	"github.com/aksrustagi/coordinator/protocol/resolution"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		op            resolution.Operator
		value, target float64
		want          bool
	}{
		{resolution.OpGT, 101, 100, true},
		{resolution.OpGT, 100, 100, false},
		{resolution.OpGTE, 100, 100, true},
		{resolution.OpLT, 99.5, 100, true},
		{resolution.OpLTE, 100.1, 100, false},
		{resolution.OpEQ, 100.005, 100, true},
		{resolution.OpEQ, 100.02, 100, false},
		{resolution.OpEQ, 0.00005, 0, true},
		{resolution.OpEQ, 0.001, 0, false},
	}
	for _, tt := range tests {
		got, err := resolution.Evaluate(tt.op, tt.value, tt.target)
		if err != nil {
			t.Fatalf("Evaluate(%s): %v", tt.op, err)
		}
		if got != tt.want {
			t.Errorf("Evaluate(%s, %v, %v) = %v, want %v", tt.op, tt.value, tt.target, got, tt.want)
		}
	}
	if _, err := resolution.Evaluate("ne", 1, 1); err == nil {
		t.Error("Evaluate accepted an unknown operator")
	}
}

func TestPayout(t *testing.T) {
	yes := collab.Position{Side: true, Quantity: 7}
	if got := resolution.Payout(yes, true); got != 700 {
		t.Errorf("winning payout = %d, want 700", got)
	}
	if got := resolution.Payout(yes, false); got != 0 {
		t.Errorf("losing payout = %d, want 0", got)
	}
}
