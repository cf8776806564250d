// Package compensation records compensating and remediating actions that
// failed after exhausting their own retries. Such entries leave external
// state inconsistent and are flagged for operational follow-up instead of
// being swallowed.
package compensation

import (
	"time"

	"github.com/aksrustagi/coordinator/id"
)

// Kind distinguishes rollback from forward-only remediation.
type Kind string

const (
	// KindCompensation is a rollback of a completed forward step.
	KindCompensation Kind = "compensation"
	// KindRemediation is a forward-only repair past a point of no return.
	KindRemediation Kind = "remediation"
)

// Entry is one unresolved compensation.
type Entry struct {
	ID         id.CompensationID `json:"id"`
	RunID      id.RunID          `json:"run_id"`
	Workflow   string            `json:"workflow"`
	Step       string            `json:"step"`
	Kind       Kind              `json:"kind"`
	Key        string            `json:"key"`
	Error      string            `json:"error"`
	Attempts   int               `json:"attempts"`
	FailedAt   time.Time         `json:"failed_at"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
	Note       string            `json:"note,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Resolved reports whether an operator has closed the entry.
func (e *Entry) Resolved() bool { return e.ResolvedAt != nil }
