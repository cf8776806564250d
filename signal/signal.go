// Package signal carries asynchronous external messages to workflow runs.
//
// Signals are persisted per run, delivered at least once, and consumed in
// publish order by the run's own condition waits. The Bus is an explicit,
// process-scoped registry that persists signals and wakes local waiters;
// runs in other processes pick signals up by polling the store.
package signal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aksrustagi/coordinator/id"
)

// TypeCancel is the built-in cancellation signal understood by every
// workflow. It is honored only at a workflow's cancellation checkpoints.
const TypeCancel = "cancel"

// Signal is an external message addressed to one run.
type Signal struct {
	ID        id.SignalID `json:"id"`
	RunID     id.RunID    `json:"run_id"`
	Type      string      `json:"type"`
	Payload   []byte      `json:"payload,omitempty"`
	Acked     bool        `json:"acked"`
	CreatedAt time.Time   `json:"created_at"`
}

// Encode marshals a typed signal payload.
func Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("signal: encode payload: %w", err)
	}
	return data, nil
}

// Decode unmarshals a typed signal payload. An empty payload decodes to
// the zero value.
func Decode[T any](payload []byte) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("signal: decode payload: %w", err)
	}
	return v, nil
}
