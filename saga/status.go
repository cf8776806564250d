package saga

import (
	"errors"
	"fmt"

	"github.com/aksrustagi/coordinator/activity"
)

// Outcome is the saga's overall result as reported to callers.
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeCompleted Outcome = "completed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Status is the saga part of a protocol's query snapshot. Protocols embed
// it next to their own fields.
type Status struct {
	Phase                   string   `json:"phase"`
	Outcome                 Outcome  `json:"outcome"`
	FailedPhase             string   `json:"failed_phase,omitempty"`
	FailureReason           string   `json:"failure_reason,omitempty"`
	Error                   string   `json:"error,omitempty"`
	CompensationComplete    *bool    `json:"compensation_complete,omitempty"`
	UnresolvedCompensations []string `json:"unresolved_compensations,omitempty"`
	Cancelled               bool     `json:"cancelled"`
	CancelRefused           bool     `json:"cancel_refused,omitempty"`
}

// Rejection is a business rule violation detected before anything was
// reserved: not eligible, insufficient inventory, self-trade, deadline
// passed.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return "rejected: " + r.Reason }

// Reject returns a terminal rejection. Activities return it so the retry
// controller does not retry.
func Reject(reason string) error {
	return activity.Terminal(&Rejection{Reason: reason})
}

// Rejectf formats a rejection reason.
func Rejectf(format string, args ...any) error {
	return Reject(fmt.Sprintf(format, args...))
}

// reasonOf returns the rejection reason carried by err. Other failures are
// reported by the cause the retry controller gave up on.
func reasonOf(err error) string {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason
	}
	var ae *activity.Error
	if errors.As(err, &ae) && ae.Cause != nil {
		return ae.Cause.Error()
	}
	return err.Error()
}
