package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aksrustagi/coordinator/compensation"
	"github.com/aksrustagi/coordinator/id"
)

// EntryKind classifies a recorded checkpoint by the primitive that wrote it.
type EntryKind string

const (
	EntryStep         EntryKind = "step"
	EntryAwait        EntryKind = "await"
	EntryDrain        EntryKind = "drain"
	EntrySleep        EntryKind = "sleep"
	EntryFanOut       EntryKind = "fanout"
	EntryCompensation EntryKind = "compensation"
	EntryRemediation  EntryKind = "remediation"
	EntryUnresolved   EntryKind = "unresolved"
)

var entryPrefixes = map[string]EntryKind{
	"await":                               EntryAwait,
	"drain":                               EntryDrain,
	"sleep":                               EntrySleep,
	"fanout":                              EntryFanOut,
	string(compensation.KindCompensation): EntryCompensation,
	string(compensation.KindRemediation):  EntryRemediation,
	"unresolved":                          EntryUnresolved,
}

// KindOf classifies a checkpoint name. Names without a reserved prefix are
// plain steps, including fan-out members such as "settle:pos_1".
func KindOf(stepName string) EntryKind {
	prefix, _, ok := strings.Cut(stepName, ":")
	if !ok {
		return EntryStep
	}
	if k, found := entryPrefixes[prefix]; found {
		return k
	}
	return EntryStep
}

// TimelineEntry is one checkpoint of the run's current history. The
// history restarts empty after a continuation.
type TimelineEntry struct {
	StepName  string          `json:"step_name"`
	Kind      EntryKind       `json:"kind"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Timeline returns the run's checkpoints in the order they were recorded.
func (r *Runner) Timeline(ctx context.Context, runID id.RunID) ([]TimelineEntry, error) {
	cps, err := r.store.ListCheckpoints(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("timeline of run %s: %w", runID, err)
	}
	// Ties on CreatedAt fall back to the K-sortable checkpoint id.
	slices.SortStableFunc(cps, func(a, b *Checkpoint) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})

	out := make([]TimelineEntry, 0, len(cps))
	for _, cp := range cps {
		out = append(out, TimelineEntry{
			StepName:  cp.StepName,
			Kind:      KindOf(cp.StepName),
			Data:      cp.Data,
			CreatedAt: cp.CreatedAt,
		})
	}
	return out, nil
}

// StepData returns the recorded result of one checkpoint.
func (r *Runner) StepData(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	data, err := r.store.GetCheckpoint(ctx, runID, stepName)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %q of run %s: %w", stepName, runID, err)
	}
	if data == nil {
		return nil, fmt.Errorf("run %s has no checkpoint %q", runID, stepName)
	}
	return data, nil
}
