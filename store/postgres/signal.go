package postgres

import (
	"context"
	"fmt"

	"github.com/aksrustagi/coordinator/id"
	"github.com/aksrustagi/coordinator/signal"
)

// PublishSignal persists a new signal. The BIGSERIAL sequence fixes its
// position among the run's pending signals.
func (s *Store) PublishSignal(ctx context.Context, sig *signal.Signal) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO coordinator_signals (id, run_id, type, payload, acked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sig.ID.String(), sig.RunID.String(), sig.Type, sig.Payload, sig.Acked, sig.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("coordinator/postgres: publish signal: %w", err)
	}
	return nil
}

// PendingSignals returns the unacknowledged signals of a run in publish
// order.
func (s *Store) PendingSignals(ctx context.Context, runID id.RunID) ([]*signal.Signal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, payload, created_at FROM coordinator_signals
		WHERE run_id = $1 AND NOT acked ORDER BY seq ASC`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("coordinator/postgres: pending signals: %w", err)
	}
	defer rows.Close()

	var out []*signal.Signal
	for rows.Next() {
		sig := &signal.Signal{RunID: runID}
		var sID string
		if err := rows.Scan(&sID, &sig.Type, &sig.Payload, &sig.CreatedAt); err != nil {
			return nil, fmt.Errorf("coordinator/postgres: scan signal: %w", err)
		}
		if sig.ID, err = id.ParseSignalID(sID); err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// AckSignal marks a signal as consumed.
func (s *Store) AckSignal(ctx context.Context, signalID id.SignalID) error {
	_, err := s.pool.Exec(ctx, `UPDATE coordinator_signals SET acked = TRUE WHERE id = $1`, signalID.String())
	if err != nil {
		return fmt.Errorf("coordinator/postgres: ack signal: %w", err)
	}
	return nil
}
