package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	coordinator "github.com/aksrustagi/coordinator"
	"github.com/aksrustagi/coordinator/id"
	"github.com/aksrustagi/coordinator/workflow"
)

// CreateRun persists a new workflow run. SETNX makes a reused ID fail
// atomically.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("coordinator/redis: marshal run: %w", err)
	}
	rID := run.ID.String()

	ok, err := s.client.SetNX(ctx, s.keys.run(rID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("coordinator/redis: create run: %w", err)
	}
	if !ok {
		return coordinator.ErrRunAlreadyExists
	}
	z := goredis.Z{Score: float64(run.CreatedAt.UnixNano()), Member: rID}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, s.keys.runIndex(), z)
		pipe.ZAdd(ctx, s.keys.runState(string(run.State)), z)
		return nil
	})
	if err != nil {
		return fmt.Errorf("coordinator/redis: index run: %w", err)
	}
	return nil
}

// runStates lists every state with an index set.
var runStates = []workflow.RunState{
	workflow.RunStateRunning,
	workflow.RunStateSuspended,
	workflow.RunStateCompleted,
	workflow.RunStateFailed,
	workflow.RunStateRejected,
	workflow.RunStateCancelled,
}

// GetRun retrieves a workflow run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	data, err := s.client.Get(ctx, s.keys.run(runID.String())).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, coordinator.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("coordinator/redis: get run: %w", err)
	}
	return decodeRun(data)
}

// UpdateRun persists changes to an existing workflow run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("coordinator/redis: marshal run: %w", err)
	}
	ok, err := s.client.SetXX(ctx, s.keys.run(run.ID.String()), data, 0).Result()
	if err != nil {
		return fmt.Errorf("coordinator/redis: update run: %w", err)
	}
	if !ok {
		return coordinator.ErrRunNotFound
	}

	// Move the run into its current state's set and out of every other.
	rID := run.ID.String()
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, st := range runStates {
			if st != run.State {
				pipe.ZRem(ctx, s.keys.runState(string(st)), rID)
			}
		}
		pipe.ZAdd(ctx, s.keys.runState(string(run.State)), goredis.Z{Score: float64(run.CreatedAt.UnixNano()), Member: rID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("coordinator/redis: index run state: %w", err)
	}
	return nil
}

// ListRuns returns workflow runs matching the given options, oldest first.
// A state filter reads only that state's index. The name filter applies
// client side, so offset and limit apply after it.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	index := s.keys.runIndex()
	if opts.State != "" {
		index = s.keys.runState(string(opts.State))
	}
	ids, err := s.client.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("coordinator/redis: list runs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	runKeys := make([]string, len(ids))
	for i, rID := range ids {
		runKeys[i] = s.keys.run(rID)
	}
	vals, err := s.client.MGet(ctx, runKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("coordinator/redis: list runs: %w", err)
	}

	var runs []*workflow.Run
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		r, decErr := decodeRun([]byte(str))
		if decErr != nil {
			s.logger.Warn("skipping undecodable run", "error", decErr)
			continue
		}
		if opts.State != "" && r.State != opts.State {
			continue
		}
		if opts.Name != "" && r.Name != opts.Name {
			continue
		}
		runs = append(runs, r)
	}
	return paginate(runs, opts.Offset, opts.Limit), nil
}

// SaveCheckpoint persists checkpoint data for a workflow step. Replacing a
// checkpoint keeps its ID and creation time.
func (s *Store) SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error {
	key := s.keys.checkpoints(runID.String())

	cp := &workflow.Checkpoint{
		ID:        id.NewCheckpointID(),
		RunID:     runID,
		StepName:  stepName,
		CreatedAt: time.Now().UTC(),
	}
	existing, err := s.client.HGet(ctx, key, stepName).Bytes()
	switch {
	case err == nil:
		if decErr := json.Unmarshal(existing, cp); decErr != nil {
			return fmt.Errorf("coordinator/redis: decode checkpoint: %w", decErr)
		}
	case !errors.Is(err, goredis.Nil):
		return fmt.Errorf("coordinator/redis: save checkpoint: %w", err)
	}
	cp.Data = data

	enc, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("coordinator/redis: marshal checkpoint: %w", err)
	}
	if err := s.client.HSet(ctx, key, stepName, enc).Err(); err != nil {
		return fmt.Errorf("coordinator/redis: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a specific workflow step.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	raw, err := s.client.HGet(ctx, s.keys.checkpoints(runID.String()), stepName).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil // no checkpoint is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("coordinator/redis: get checkpoint: %w", err)
	}
	var cp workflow.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("coordinator/redis: decode checkpoint: %w", err)
	}
	return cp.Data, nil
}

// ListCheckpoints returns all checkpoints for a workflow run, oldest first.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	vals, err := s.client.HGetAll(ctx, s.keys.checkpoints(runID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("coordinator/redis: list checkpoints: %w", err)
	}
	out := make([]*workflow.Checkpoint, 0, len(vals))
	for _, raw := range vals {
		var cp workflow.Checkpoint
		if err := json.Unmarshal([]byte(raw), &cp); err != nil {
			return nil, fmt.Errorf("coordinator/redis: decode checkpoint: %w", err)
		}
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].StepName < out[j].StepName
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteCheckpoints removes every checkpoint of a run.
func (s *Store) DeleteCheckpoints(ctx context.Context, runID id.RunID) error {
	if err := s.client.Del(ctx, s.keys.checkpoints(runID.String())).Err(); err != nil {
		return fmt.Errorf("coordinator/redis: delete checkpoints: %w", err)
	}
	return nil
}

// ── helpers ──

func decodeRun(data []byte) (*workflow.Run, error) {
	var r workflow.Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("coordinator/redis: decode run: %w", err)
	}
	return &r, nil
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
