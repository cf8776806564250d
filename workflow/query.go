package workflow

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// liveRun is the in-process registry entry of an executing run. Queries
// read its snapshot without touching the run's goroutine.
type liveRun struct {
	name     string
	version  int
	snapshot atomic.Pointer[[]byte]
	cancel   func()
	done     chan struct{}
}

func (l *liveRun) load() []byte {
	if p := l.snapshot.Load(); p != nil {
		return *p
	}
	return nil
}

// Publish replaces the run's query snapshot with the JSON encoding of v.
// Queries observe either the previous or the new snapshot, never a partial
// one. The snapshot is also persisted so it outlives the process.
func (w *Workflow) Publish(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("workflow %s: encode snapshot: %w", w.run.Name, err)
	}
	w.live.snapshot.Store(&data)
	w.run.Snapshot = data
	return w.runner.save(w.ctx, w.run)
}
