package workflow

import (
	"context"

	"github.com/aksrustagi/coordinator/id"
)

// ListOpts controls pagination and filtering for run list queries.
type ListOpts struct {
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
	// State filters by run state. Empty means all states.
	State RunState
	// Name filters by workflow name. Empty means all workflows.
	Name string
}

// Store defines the persistence contract for runs and checkpoints.
type Store interface {
	// CreateRun persists a new run. A run ID that was already used is
	// refused with coordinator.ErrRunAlreadyExists.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)

	// UpdateRun persists changes to an existing run.
	UpdateRun(ctx context.Context, run *Run) error

	// ListRuns returns runs matching the options, oldest first.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	// SaveCheckpoint persists checkpoint data for a step.
	// If a checkpoint already exists for the same run/step, it is replaced.
	SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error

	// GetCheckpoint retrieves checkpoint data for a step.
	// Returns nil data if no checkpoint exists.
	GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error)

	// ListCheckpoints returns all checkpoints of a run.
	ListCheckpoints(ctx context.Context, runID id.RunID) ([]*Checkpoint, error)

	// DeleteCheckpoints removes every checkpoint of a run. Used when a run
	// continues as new or restarts from the top.
	DeleteCheckpoints(ctx context.Context, runID id.RunID) error
}
