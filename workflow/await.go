package workflow

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aksrustagi/coordinator/signal"
)

// SignalHandler applies a signal payload to the handler's state and reports
// whether it was applied. Handlers must be pure state mutations: they run
// again, in the same order, when the run replays.
type SignalHandler func(payload []byte) bool

// OnSignal registers the handler for a signal type. Handlers should be
// registered before the first wait; signals of a type with no handler are
// acknowledged and ignored.
func (w *Workflow) OnSignal(signalType string, h SignalHandler) {
	w.handlers[signalType] = h
}

// HandleSignal registers a handler that receives the decoded payload.
// Malformed payloads are logged and ignored.
func HandleSignal[T any](w *Workflow, signalType string, h func(T) bool) {
	w.OnSignal(signalType, func(payload []byte) bool {
		v, err := signal.Decode[T](payload)
		if err != nil {
			w.logger.Warn("ignoring malformed signal",
				slog.String("type", signalType),
				slog.String("error", err.Error()),
			)
			return false
		}
		return h(v)
	})
}

// deliveredSignal is a consumed signal as recorded in a wait checkpoint.
type deliveredSignal struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Payload []byte `json:"payload,omitempty"`
}

// waitRecord is the checkpoint body of Await, Drain and Sleep.
type waitRecord struct {
	Deadline *time.Time        `json:"deadline,omitempty"`
	Signals  []deliveredSignal `json:"signals,omitempty"`
	Done     bool              `json:"done"`
	TimedOut bool              `json:"timed_out,omitempty"`
}

// Await suspends the run until cond holds or timeout elapses, consuming
// pending signals oldest first while it waits. It reports whether the wait
// timed out. A zero timeout waits indefinitely.
//
// The deadline is fixed when the wait is first entered, so a restarted run
// waits only the remaining time. The deadline is checked before cond, so a
// deadline that elapses together with a satisfying signal times out.
// Signals consumed here are recorded and re-applied on replay.
func (w *Workflow) Await(name string, timeout time.Duration, cond func() bool) (bool, error) {
	key := "await:" + name
	rec, err := w.loadWait(key)
	if err != nil {
		return false, err
	}
	if rec == nil {
		rec = &waitRecord{}
		if timeout > 0 {
			deadline := w.Now().Add(timeout)
			rec.Deadline = &deadline
		}
		if err := w.saveWait(key, rec); err != nil {
			return false, err
		}
	} else {
		w.replay(rec)
		if rec.Done {
			return rec.TimedOut, nil
		}
	}
	if cond == nil {
		cond = func() bool { return false }
	}

	wake, stop := w.runner.bus.Watch(w.run.ID)
	defer stop()

	suspended := false
	for {
		if rec.Deadline != nil && !w.Now().Before(*rec.Deadline) {
			return true, w.finishWait(key, rec, true, suspended)
		}
		if cond() {
			return false, w.finishWait(key, rec, false, suspended)
		}

		consumed, err := w.consume(key, rec, cond)
		if err != nil {
			return false, err
		}
		if consumed {
			continue
		}

		if !suspended {
			w.setState(RunStateSuspended)
			suspended = true
		}
		if err := w.block(wake, rec.Deadline); err != nil {
			return false, err
		}
	}
}

// Drain consumes the signals pending right now without waiting. Sagas call
// it at cancellation checkpoints.
func (w *Workflow) Drain(name string) error {
	key := "drain:" + name
	rec, err := w.loadWait(key)
	if err != nil {
		return err
	}
	if rec != nil {
		w.replay(rec)
		if rec.Done {
			return nil
		}
	} else {
		rec = &waitRecord{}
	}

	if _, err := w.consume(key, rec, nil); err != nil {
		return err
	}
	return w.finishWait(key, rec, false, false)
}

// Sleep is a durable timer: the run suspends until d has elapsed since the
// sleep was first entered. Signals stay pending while the run sleeps.
func (w *Workflow) Sleep(name string, d time.Duration) error {
	key := "sleep:" + name
	rec, err := w.loadWait(key)
	if err != nil {
		return err
	}
	if rec == nil {
		deadline := w.Now().Add(d)
		rec = &waitRecord{Deadline: &deadline}
		if err := w.saveWait(key, rec); err != nil {
			return err
		}
	} else if rec.Done {
		w.logger.Debug("skipping checkpointed sleep", slog.String("step", name))
		return nil
	}

	suspended := false
	if w.Now().Before(*rec.Deadline) {
		w.setState(RunStateSuspended)
		suspended = true
		if err := w.block(nil, rec.Deadline); err != nil {
			return err
		}
	}
	return w.finishWait(key, rec, true, suspended)
}

// consume applies the run's pending signals in publish order, recording
// each before it is applied and acknowledging it after. It stops early once
// stop reports true.
func (w *Workflow) consume(key string, rec *waitRecord, stop func() bool) (bool, error) {
	bus := w.runner.bus
	pending, err := bus.Pending(w.ctx, w.run.ID)
	if err != nil {
		return false, fmt.Errorf("workflow %s: pending signals: %w", w.run.Name, err)
	}

	consumed := false
	for _, sig := range pending {
		sid := sig.ID.String()
		if _, dup := w.seen[sid]; dup {
			w.ack(sig)
			continue
		}
		if _, ok := w.handlers[sig.Type]; !ok {
			w.logger.Debug("ignoring signal without handler",
				slog.String("signal_id", sid),
				slog.String("type", sig.Type),
			)
			w.seen[sid] = struct{}{}
			w.ack(sig)
			continue
		}

		d := deliveredSignal{ID: sid, Type: sig.Type, Payload: sig.Payload}
		rec.Signals = append(rec.Signals, d)
		if err := w.saveWait(key, rec); err != nil {
			return consumed, err
		}
		applied := w.apply(d)
		w.ack(sig)
		w.runner.emitter.EmitSignalReceived(w.ctx, w.run, sig)
		w.logger.Debug("signal consumed",
			slog.String("signal_id", sid),
			slog.String("type", sig.Type),
			slog.Bool("applied", applied),
		)
		consumed = true

		if stop != nil && stop() {
			break
		}
	}
	return consumed, nil
}

func (w *Workflow) replay(rec *waitRecord) {
	for _, d := range rec.Signals {
		if _, dup := w.seen[d.ID]; dup {
			continue
		}
		w.apply(d)
	}
}

func (w *Workflow) apply(d deliveredSignal) bool {
	w.seen[d.ID] = struct{}{}
	h, ok := w.handlers[d.Type]
	if !ok {
		return false
	}
	return h(d.Payload)
}

func (w *Workflow) ack(sig *signal.Signal) {
	if err := w.runner.bus.Ack(w.ctx, sig.ID); err != nil {
		w.logger.Warn("failed to ack signal",
			slog.String("signal_id", sig.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// block waits for a wake-up, the deadline, the poll interval, or
// cancellation of the run.
func (w *Workflow) block(wake <-chan struct{}, deadline *time.Time) error {
	var fire <-chan time.Time
	if deadline != nil {
		t := time.NewTimer(time.Until(*deadline))
		defer t.Stop()
		fire = t.C
	}
	var poll <-chan time.Time
	if wake != nil {
		p := time.NewTimer(w.runner.pollInterval)
		defer p.Stop()
		poll = p.C
	}

	select {
	case <-wake:
	case <-fire:
	case <-poll:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
	return nil
}

func (w *Workflow) finishWait(key string, rec *waitRecord, timedOut, suspended bool) error {
	rec.Done = true
	rec.TimedOut = timedOut
	if err := w.saveWait(key, rec); err != nil {
		return err
	}
	if suspended {
		w.setState(RunStateRunning)
	}
	return nil
}

func (w *Workflow) loadWait(key string) (*waitRecord, error) {
	data, err := w.runner.store.GetCheckpoint(w.ctx, w.run.ID, key)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: get checkpoint %q: %w", w.run.Name, key, err)
	}
	if data == nil {
		return nil, nil
	}
	var rec waitRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("workflow %s: decode checkpoint %q: %w", w.run.Name, key, err)
	}
	return &rec, nil
}

func (w *Workflow) saveWait(key string, rec *waitRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("workflow %s: encode checkpoint %q: %w", w.run.Name, key, err)
	}
	if err := w.runner.store.SaveCheckpoint(w.ctx, w.run.ID, key, data); err != nil {
		return fmt.Errorf("workflow %s: save checkpoint %q: %w", w.run.Name, key, err)
	}
	return nil
}

func (w *Workflow) setState(state RunState) {
	if w.run.State == state {
		return
	}
	w.run.State = state
	if err := w.runner.save(w.ctx, w.run); err != nil {
		w.logger.Warn("failed to persist run state",
			slog.String("state", string(state)),
			slog.String("error", err.Error()),
		)
	}
}
