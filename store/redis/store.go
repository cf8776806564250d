// Package redis implements store.Store on Redis. Runs, signals and
// unresolved compensations are JSON documents; sorted sets keep them in
// creation order and checkpoints live in one hash per run.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/aksrustagi/coordinator/compensation"
	"github.com/aksrustagi/coordinator/signal"
	"github.com/aksrustagi/coordinator/workflow"
)

// Compile-time interface checks.
var (
	_ workflow.Store     = (*Store)(nil)
	_ signal.Store       = (*Store)(nil)
	_ compensation.Store = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPrefix namespaces every key. The default is "coordinator:".
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.keys = keys{prefix: prefix} }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client redis.UniversalClient
	logger *slog.Logger
	keys   keys
}

// New creates a new Redis-backed store. The caller owns the client
// lifecycle unless Close is called.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default(), keys: keys{prefix: defaultPrefix}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.UniversalClient { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }
