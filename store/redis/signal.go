package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/aksrustagi/coordinator/id"
	"github.com/aksrustagi/coordinator/signal"
)

// PublishSignal persists a new signal and queues it on its run in publish
// order.
func (s *Store) PublishSignal(ctx context.Context, sig *signal.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("coordinator/redis: marshal signal: %w", err)
	}
	seq, err := s.client.Incr(ctx, s.keys.signalSeq()).Result()
	if err != nil {
		return fmt.Errorf("coordinator/redis: signal sequence: %w", err)
	}

	sID := sig.ID.String()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keys.signal(sID), data, 0)
	pipe.ZAdd(ctx, s.keys.pending(sig.RunID.String()), goredis.Z{Score: float64(seq), Member: sID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("coordinator/redis: publish signal: %w", err)
	}
	return nil
}

// PendingSignals returns the unacknowledged signals of a run in publish
// order.
func (s *Store) PendingSignals(ctx context.Context, runID id.RunID) ([]*signal.Signal, error) {
	ids, err := s.client.ZRange(ctx, s.keys.pending(runID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("coordinator/redis: pending signals: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sigKeys := make([]string, len(ids))
	for i, sID := range ids {
		sigKeys[i] = s.keys.signal(sID)
	}
	vals, err := s.client.MGet(ctx, sigKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("coordinator/redis: pending signals: %w", err)
	}

	out := make([]*signal.Signal, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var sig signal.Signal
		if err := json.Unmarshal([]byte(str), &sig); err != nil {
			return nil, fmt.Errorf("coordinator/redis: decode signal: %w", err)
		}
		out = append(out, &sig)
	}
	return out, nil
}

// AckSignal marks a signal as consumed and removes it from its run's queue.
func (s *Store) AckSignal(ctx context.Context, signalID id.SignalID) error {
	key := s.keys.signal(signalID.String())
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("coordinator/redis: ack signal: %w", err)
	}
	var sig signal.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return fmt.Errorf("coordinator/redis: decode signal: %w", err)
	}
	if sig.Acked {
		return nil
	}
	sig.Acked = true
	enc, err := json.Marshal(&sig)
	if err != nil {
		return fmt.Errorf("coordinator/redis: marshal signal: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, enc, 0)
	pipe.ZRem(ctx, s.keys.pending(sig.RunID.String()), signalID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("coordinator/redis: ack signal: %w", err)
	}
	return nil
}
