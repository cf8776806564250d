package compensation

import (
	"context"

	"github.com/aksrustagi/coordinator/id"
)

// ListOpts controls pagination and filtering for unresolved entries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// RunID filters by run. Nil means all runs.
	RunID id.RunID
	// IncludeResolved also returns entries an operator has closed.
	IncludeResolved bool
}

// Store defines the persistence contract for unresolved compensations.
type Store interface {
	// PushUnresolved records a failed compensation or remediation.
	PushUnresolved(ctx context.Context, entry *Entry) error

	// ListUnresolved returns entries matching the options, oldest first.
	ListUnresolved(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetUnresolved retrieves an entry by ID.
	GetUnresolved(ctx context.Context, entryID id.CompensationID) (*Entry, error)

	// ResolveUnresolved marks an entry as handled with an operator note.
	ResolveUnresolved(ctx context.Context, entryID id.CompensationID, note string) error

	// CountUnresolved returns the number of open entries.
	CountUnresolved(ctx context.Context) (int64, error)
}
