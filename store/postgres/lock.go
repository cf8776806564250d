package postgres

import (
	"context"
	"fmt"
	"time"
)

// AcquireLock claims key for owner until ttl passes. An expired row is
// taken over; a live one held by someone else is not.
func (s *Store) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO coordinator_locks (key, owner, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE coordinator_locks.expires_at < $4`,
		key, owner, now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("coordinator/postgres: acquire lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
