package store

import (
	"context"
	"time"

	"github.com/aksrustagi/coordinator/compensation"
	"github.com/aksrustagi/coordinator/signal"
	"github.com/aksrustagi/coordinator/workflow"
)

// Store is the aggregate persistence interface. A single backend
// implements every subsystem store.
type Store interface {
	workflow.Store
	signal.Store
	compensation.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

// Locker is implemented by backends that can serialise scheduled fires
// across processes.
type Locker interface {
	AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
}
