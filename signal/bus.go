package signal

import (
	"context"
	"sync"
	"time"

	"github.com/aksrustagi/coordinator/id"
)

// Bus provides publish/consume operations over a signal Store and wakes
// local runs waiting for signals. One Bus belongs to one engine; tests
// create isolated instances.
type Bus struct {
	store Store

	mu       sync.Mutex
	watchers map[string]map[chan struct{}]struct{}
}

// NewBus creates a signal bus backed by the given store.
func NewBus(store Store) *Bus {
	return &Bus{
		store:    store,
		watchers: make(map[string]map[chan struct{}]struct{}),
	}
}

// Publish persists a signal for runID and wakes any local waiter.
func (b *Bus) Publish(ctx context.Context, runID id.RunID, signalType string, payload []byte) (*Signal, error) {
	sig := &Signal{
		ID:        id.NewSignalID(),
		RunID:     runID,
		Type:      signalType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.store.PublishSignal(ctx, sig); err != nil {
		return nil, err
	}
	b.Notify(runID)
	return sig, nil
}

// Pending returns the unacknowledged signals of a run in publish order.
func (b *Bus) Pending(ctx context.Context, runID id.RunID) ([]*Signal, error) {
	return b.store.PendingSignals(ctx, runID)
}

// Ack acknowledges a signal, marking it as consumed.
func (b *Bus) Ack(ctx context.Context, signalID id.SignalID) error {
	return b.store.AckSignal(ctx, signalID)
}

// Watch registers a wake-up channel for runID. The channel receives a
// value (coalesced) whenever a signal is published locally for the run.
// Call the returned function to unregister.
func (b *Bus) Watch(runID id.RunID) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	key := runID.String()

	b.mu.Lock()
	set, ok := b.watchers[key]
	if !ok {
		set = make(map[chan struct{}]struct{})
		b.watchers[key] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.watchers[key]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(b.watchers, key)
			}
		}
	}
}

// Notify wakes local waiters of runID without publishing anything.
func (b *Bus) Notify(runID id.RunID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.watchers[runID.String()] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Store returns the underlying signal store.
func (b *Bus) Store() Store { return b.store }
