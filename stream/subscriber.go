package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// Subscriber receives events from the topics it is subscribed to.
// Delivery never blocks the publisher: when the buffer is full the event
// is dropped and counted.
type Subscriber struct {
	id string
	ch chan *Event

	mu     sync.RWMutex
	topics map[string]struct{}
	filter func(*Event) bool

	dropped atomic.Int64
	closed  atomic.Bool
	sendMu  sync.RWMutex
}

// NewSubscriber creates a subscriber with the given buffer size.
func NewSubscriber(id string, bufferSize int) *Subscriber {
	return &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the event channel. It is closed when the subscriber is removed.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// Next blocks until an event arrives, the subscriber is closed, or ctx is
// done. ok is false in the latter two cases.
func (s *Subscriber) Next(ctx context.Context) (evt *Event, ok bool) {
	select {
	case evt, ok = <-s.ch:
		return evt, ok
	case <-ctx.Done():
		return nil, false
	}
}

// Dropped returns how many events were discarded on a full buffer.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// SetFilter sets an optional predicate; only matching events are delivered.
func (s *Subscriber) SetFilter(fn func(*Event) bool) {
	s.mu.Lock()
	s.filter = fn
	s.mu.Unlock()
}

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// Topics returns a copy of the subscribed topic names.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// send delivers evt without blocking. It returns false when the event was
// filtered out, the buffer was full, or the subscriber is closed.
func (s *Subscriber) send(evt *Event) bool {
	s.mu.RLock()
	filter := s.filter
	s.mu.RUnlock()
	if filter != nil && !filter(evt) {
		return false
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed.Load() {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Close closes the event channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
