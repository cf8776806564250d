package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	coordinator "github.com/aksrustagi/coordinator"
	"github.com/aksrustagi/coordinator/compensation"
	"github.com/aksrustagi/coordinator/id"
)

// PushUnresolved records a failed compensation.
func (s *Store) PushUnresolved(ctx context.Context, entry *compensation.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("coordinator/redis: marshal compensation: %w", err)
	}
	eID := entry.ID.String()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keys.compensation(eID), data, 0)
	pipe.ZAdd(ctx, s.keys.compensationIndex(), goredis.Z{Score: float64(entry.FailedAt.UnixNano()), Member: eID})
	if !entry.Resolved() {
		pipe.SAdd(ctx, s.keys.compensationOpen(), eID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("coordinator/redis: push compensation: %w", err)
	}
	return nil
}

// ListUnresolved returns entries matching the options, oldest first.
func (s *Store) ListUnresolved(ctx context.Context, opts compensation.ListOpts) ([]*compensation.Entry, error) {
	ids, err := s.client.ZRange(ctx, s.keys.compensationIndex(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("coordinator/redis: list compensations: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	entryKeys := make([]string, len(ids))
	for i, eID := range ids {
		entryKeys[i] = s.keys.compensation(eID)
	}
	vals, err := s.client.MGet(ctx, entryKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("coordinator/redis: list compensations: %w", err)
	}

	var out []*compensation.Entry
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var e compensation.Entry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			return nil, fmt.Errorf("coordinator/redis: decode compensation: %w", err)
		}
		if !opts.IncludeResolved && e.Resolved() {
			continue
		}
		if !opts.RunID.IsNil() && e.RunID.String() != opts.RunID.String() {
			continue
		}
		out = append(out, &e)
	}
	return paginate(out, opts.Offset, opts.Limit), nil
}

// GetUnresolved retrieves an entry by ID.
func (s *Store) GetUnresolved(ctx context.Context, entryID id.CompensationID) (*compensation.Entry, error) {
	data, err := s.client.Get(ctx, s.keys.compensation(entryID.String())).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, coordinator.ErrUnresolvedNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("coordinator/redis: get compensation: %w", err)
	}
	var e compensation.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("coordinator/redis: decode compensation: %w", err)
	}
	return &e, nil
}

// ResolveUnresolved marks an entry as handled.
func (s *Store) ResolveUnresolved(ctx context.Context, entryID id.CompensationID, note string) error {
	e, err := s.GetUnresolved(ctx, entryID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	e.ResolvedAt = &now
	e.Note = note
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("coordinator/redis: marshal compensation: %w", err)
	}

	eID := entryID.String()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keys.compensation(eID), data, 0)
	pipe.SRem(ctx, s.keys.compensationOpen(), eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("coordinator/redis: resolve compensation: %w", err)
	}
	return nil
}

// CountUnresolved returns the number of open entries.
func (s *Store) CountUnresolved(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, s.keys.compensationOpen()).Result()
	if err != nil {
		return 0, fmt.Errorf("coordinator/redis: count compensations: %w", err)
	}
	return n, nil
}
