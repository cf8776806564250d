// Package memory provides an in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	coordinator "github.com/aksrustagi/coordinator"
	"github.com/aksrustagi/coordinator/compensation"
	"github.com/aksrustagi/coordinator/id"
	"github.com/aksrustagi/coordinator/signal"
	"github.com/aksrustagi/coordinator/workflow"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ workflow.Store     = (*Store)(nil)
	_ signal.Store       = (*Store)(nil)
	_ compensation.Store = (*Store)(nil)
)

// storedSignal pairs a signal with its publish sequence.
type storedSignal struct {
	seq uint64
	sig *signal.Signal
}

// Store is a fully in-memory implementation of store.Store. Every read and
// write copies, so callers never share memory with the store.
type Store struct {
	mu sync.RWMutex

	runs        map[string]*workflow.Run
	checkpoints map[string]*workflow.Checkpoint // key: "runID:stepName"
	signals     map[string]*storedSignal
	unresolved  map[string]*compensation.Entry
	locks       map[string]lock
	seq         uint64
}

type lock struct {
	owner     string
	expiresAt time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		runs:        make(map[string]*workflow.Run),
		checkpoints: make(map[string]*workflow.Checkpoint),
		signals:     make(map[string]*storedSignal),
		unresolved:  make(map[string]*compensation.Entry),
		locks:       make(map[string]lock),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate, Ping, Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Workflow Store
// ──────────────────────────────────────────────────

// CreateRun persists a new workflow run.
func (m *Store) CreateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	if _, exists := m.runs[key]; exists {
		return coordinator.ErrRunAlreadyExists
	}
	m.runs[key] = run.Clone()
	return nil
}

// GetRun retrieves a workflow run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, coordinator.ErrRunNotFound
	}
	return r.Clone(), nil
}

// UpdateRun persists changes to an existing workflow run.
func (m *Store) UpdateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	if _, ok := m.runs[key]; !ok {
		return coordinator.ErrRunNotFound
	}
	m.runs[key] = run.Clone()
	return nil
}

// ListRuns returns workflow runs matching the given options.
func (m *Store) ListRuns(_ context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*workflow.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.State != "" && r.State != opts.State {
			continue
		}
		if opts.Name != "" && r.Name != opts.Name {
			continue
		}
		result = append(result, r.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		if result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].ID.String() < result[k].ID.String()
		}
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// checkpointKey builds a composite map key for a checkpoint.
func checkpointKey(runID id.RunID, stepName string) string {
	return runID.String() + ":" + stepName
}

// SaveCheckpoint persists checkpoint data for a workflow step. Replacing a
// checkpoint keeps its original creation time.
func (m *Store) SaveCheckpoint(_ context.Context, runID id.RunID, stepName string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := checkpointKey(runID, stepName)
	if existing, ok := m.checkpoints[key]; ok {
		existing.Data = append([]byte(nil), data...)
		return nil
	}
	m.checkpoints[key] = &workflow.Checkpoint{
		ID:        id.NewCheckpointID(),
		RunID:     runID,
		StepName:  stepName,
		Data:      append([]byte(nil), data...),
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a specific workflow step.
func (m *Store) GetCheckpoint(_ context.Context, runID id.RunID, stepName string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[checkpointKey(runID, stepName)]
	if !ok {
		return nil, nil // no checkpoint is not an error
	}
	return append([]byte(nil), cp.Data...), nil
}

// ListCheckpoints returns all checkpoints for a workflow run.
func (m *Store) ListCheckpoints(_ context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := runID.String() + ":"
	var result []*workflow.Checkpoint
	for k, cp := range m.checkpoints {
		if strings.HasPrefix(k, prefix) {
			c := *cp
			c.Data = append([]byte(nil), cp.Data...)
			result = append(result, &c)
		}
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return result, nil
}

// DeleteCheckpoints removes every checkpoint of a run.
func (m *Store) DeleteCheckpoints(_ context.Context, runID id.RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := runID.String() + ":"
	for k := range m.checkpoints {
		if strings.HasPrefix(k, prefix) {
			delete(m.checkpoints, k)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Signal Store
// ──────────────────────────────────────────────────

// PublishSignal persists a new signal.
func (m *Store) PublishSignal(_ context.Context, sig *signal.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	cp := *sig
	cp.Payload = append([]byte(nil), sig.Payload...)
	m.signals[sig.ID.String()] = &storedSignal{seq: m.seq, sig: &cp}
	return nil
}

// PendingSignals returns the unacknowledged signals of a run in publish
// order.
func (m *Store) PendingSignals(_ context.Context, runID id.RunID) ([]*signal.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := runID.String()
	var pending []*storedSignal
	for _, s := range m.signals {
		if s.sig.RunID.String() == key && !s.sig.Acked {
			pending = append(pending, s)
		}
	}
	sort.Slice(pending, func(i, k int) bool { return pending[i].seq < pending[k].seq })

	result := make([]*signal.Signal, len(pending))
	for i, s := range pending {
		cp := *s.sig
		cp.Payload = append([]byte(nil), s.sig.Payload...)
		result[i] = &cp
	}
	return result, nil
}

// AckSignal marks a signal as consumed.
func (m *Store) AckSignal(_ context.Context, signalID id.SignalID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.signals[signalID.String()]; ok {
		s.sig.Acked = true
	}
	return nil
}

// ──────────────────────────────────────────────────
// Compensation Store
// ──────────────────────────────────────────────────

// PushUnresolved records a failed compensation.
func (m *Store) PushUnresolved(_ context.Context, entry *compensation.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.unresolved[entry.ID.String()] = &cp
	return nil
}

// ListUnresolved returns entries matching the options, oldest first.
func (m *Store) ListUnresolved(_ context.Context, opts compensation.ListOpts) ([]*compensation.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*compensation.Entry, 0, len(m.unresolved))
	for _, e := range m.unresolved {
		if !opts.IncludeResolved && e.Resolved() {
			continue
		}
		if !opts.RunID.IsNil() && e.RunID.String() != opts.RunID.String() {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		if result[i].FailedAt.Equal(result[k].FailedAt) {
			return result[i].ID.String() < result[k].ID.String()
		}
		return result[i].FailedAt.Before(result[k].FailedAt)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// GetUnresolved retrieves an entry by ID.
func (m *Store) GetUnresolved(_ context.Context, entryID id.CompensationID) (*compensation.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.unresolved[entryID.String()]
	if !ok {
		return nil, coordinator.ErrUnresolvedNotFound
	}
	cp := *e
	return &cp, nil
}

// ResolveUnresolved marks an entry as handled.
func (m *Store) ResolveUnresolved(_ context.Context, entryID id.CompensationID, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.unresolved[entryID.String()]
	if !ok {
		return coordinator.ErrUnresolvedNotFound
	}
	now := time.Now().UTC()
	e.ResolvedAt = &now
	e.Note = note
	return nil
}

// CountUnresolved returns the number of open entries.
func (m *Store) CountUnresolved(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, e := range m.unresolved {
		if !e.Resolved() {
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Locks
// ──────────────────────────────────────────────────

// AcquireLock claims key for owner until ttl passes.
func (m *Store) AcquireLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if l, ok := m.locks[key]; ok && now.Before(l.expiresAt) {
		return false, nil
	}
	m.locks[key] = lock{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
