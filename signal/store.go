package signal

import (
	"context"

	"github.com/aksrustagi/coordinator/id"
)

// Store defines the persistence contract for signals.
type Store interface {
	// PublishSignal persists a new signal for its run.
	PublishSignal(ctx context.Context, sig *Signal) error

	// PendingSignals returns the unacknowledged signals of a run in
	// publish order.
	PendingSignals(ctx context.Context, runID id.RunID) ([]*Signal, error)

	// AckSignal marks a signal as consumed. Acking an unknown or already
	// acked signal is not an error.
	AckSignal(ctx context.Context, signalID id.SignalID) error
}
