// Package memory provides in-memory collaborators for tests and demos.
// Every mutating call is deduplicated by idempotency key, and every
// operation can be made to fail through Faults.
package memory

import (
	"fmt"
	"sync"
)

// Faults injects failures into named operations.
type Faults struct {
	mu     sync.Mutex
	faults map[string]*fault
}

type fault struct {
	remaining int
	err       error
}

// Inject makes the next times calls of op fail with err. A negative times
// fails every call.
func (f *Faults) Inject(op string, times int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.faults == nil {
		f.faults = make(map[string]*fault)
	}
	f.faults[op] = &fault{remaining: times, err: err}
}

// Clear removes every injected failure.
func (f *Faults) Clear() {
	f.mu.Lock()
	f.faults = nil
	f.mu.Unlock()
}

func (f *Faults) check(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ft, ok := f.faults[op]
	if !ok || ft.remaining == 0 {
		return nil
	}
	if ft.remaining > 0 {
		ft.remaining--
	}
	return ft.err
}

// ledger remembers the result of every applied key.
type ledger map[string]any

// once applies fn the first time key is seen and replays its result after.
// Failed calls are not remembered. The caller holds the owner's lock.
func once[T any](l ledger, key string, fn func() (T, error)) (T, error) {
	if prev, ok := l[key]; ok {
		return prev.(T), nil
	}
	v, err := fn()
	if err != nil {
		return v, err
	}
	l[key] = v
	return v, nil
}

type seq struct{ n int }

func (s *seq) next(prefix string) string {
	s.n++
	return fmt.Sprintf("%s_%d", prefix, s.n)
}
