package compensation

import (
	"context"
	"time"

	"github.com/aksrustagi/coordinator/id"
)

// Failure describes a compensation that gave up.
type Failure struct {
	RunID    id.RunID
	Workflow string
	Step     string
	Kind     Kind
	Key      string
	Attempts int
	Err      error
}

// Service provides high-level operations over a Store.
type Service struct {
	store Store
}

// NewService creates a compensation service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Push builds an Entry from a failure and persists it.
func (s *Service) Push(ctx context.Context, f Failure) (*Entry, error) {
	now := time.Now().UTC()
	entry := &Entry{
		ID:        id.NewCompensationID(),
		RunID:     f.RunID,
		Workflow:  f.Workflow,
		Step:      f.Step,
		Kind:      f.Kind,
		Key:       f.Key,
		Attempts:  f.Attempts,
		FailedAt:  now,
		CreatedAt: now,
	}
	if f.Err != nil {
		entry.Error = f.Err.Error()
	}
	if err := s.store.PushUnresolved(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// ForRun returns the open entries of a run.
func (s *Service) ForRun(ctx context.Context, runID id.RunID) ([]*Entry, error) {
	return s.store.ListUnresolved(ctx, ListOpts{RunID: runID})
}

// Resolve closes an entry after manual follow-up.
func (s *Service) Resolve(ctx context.Context, entryID id.CompensationID, note string) error {
	return s.store.ResolveUnresolved(ctx, entryID, note)
}

// Store returns the underlying store for direct List, Get and Count access.
func (s *Service) Store() Store { return s.store }
