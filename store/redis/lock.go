package redis

import (
	"context"
	"fmt"
	"time"
)

// AcquireLock claims key for owner until ttl passes. It reports false when
// someone else holds it.
func (s *Store) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keys.lock(key), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("coordinator/redis: acquire lock: %w", err)
	}
	return ok, nil
}
