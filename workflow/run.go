package workflow

import (
	"time"

	"github.com/aksrustagi/coordinator/id"
)

// RunState represents the lifecycle status of a workflow run.
type RunState string

const (
	// RunStateRunning means the run is advancing through its steps.
	RunStateRunning RunState = "running"
	// RunStateSuspended means the run is parked on a timer or condition.
	RunStateSuspended RunState = "suspended"
	// RunStateCompleted means the run finished successfully.
	RunStateCompleted RunState = "completed"
	// RunStateFailed means the run failed terminally. Compensation may
	// still have restored external state.
	RunStateFailed RunState = "failed"
	// RunStateRejected means a business rule refused the request before
	// any side effect was made.
	RunStateRejected RunState = "rejected"
	// RunStateCancelled means the run honored a cancellation.
	RunStateCancelled RunState = "cancelled"
)

// IsTerminal reports whether the state is final.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateCompleted, RunStateFailed, RunStateRejected, RunStateCancelled:
		return true
	default:
		return false
	}
}

// Run is one durable workflow instance.
type Run struct {
	ID            id.RunID            `json:"id"`
	Name          string              `json:"name"`
	Version       int                 `json:"version"`
	State         RunState            `json:"state"`
	Phase         string              `json:"phase,omitempty"`
	Input         []byte              `json:"input,omitempty"`
	Output        []byte              `json:"output,omitempty"`
	Snapshot      []byte              `json:"snapshot,omitempty"`
	Error         string              `json:"error,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
	Compensation  *CompensationReport `json:"compensation,omitempty"`
	Continuations int                 `json:"continuations"`
	Restarts      int                 `json:"restarts"`
	StartedAt     time.Time           `json:"started_at"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	cp := *r
	cp.Input = cloneBytes(r.Input)
	cp.Output = cloneBytes(r.Output)
	cp.Snapshot = cloneBytes(r.Snapshot)
	if r.Compensation != nil {
		rep := *r.Compensation
		rep.Unresolved = append([]UnresolvedCompensation(nil), r.Compensation.Unresolved...)
		cp.Compensation = &rep
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
