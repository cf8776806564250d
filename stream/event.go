// Package stream fans run lifecycle events out to in-process subscribers.
// The Broker is an ext.Extension; watchers subscribe to topics for one run,
// one workflow, or every run.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Run events.
	EventRunStarted    EventType = "run.started"
	EventPhaseChanged  EventType = "run.phase_changed"
	EventStepCompleted EventType = "run.step_completed"
	EventStepFailed    EventType = "run.step_failed"
	EventSignal        EventType = "run.signal"
	EventRunContinued  EventType = "run.continued"
	EventRunCompleted  EventType = "run.completed"
	EventRunFailed     EventType = "run.failed"
	EventRunRejected   EventType = "run.rejected"
	EventRunCancelled  EventType = "run.cancelled"

	// Compensation events.
	EventCompensationUnresolved EventType = "compensation.unresolved"

	// Cron events.
	EventCronFired EventType = "cron.fired"
)

// Terminal reports whether the event ends a run.
func (t EventType) Terminal() bool {
	switch t {
	case EventRunCompleted, EventRunFailed, EventRunRejected, EventRunCancelled:
		return true
	}
	return false
}

// Event is the envelope delivered to subscribers.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"ts"`
	RunID     string          `json:"run_id,omitempty"`
	Workflow  string          `json:"workflow,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// RunEventData is the payload for run events.
type RunEventData struct {
	Phase      string `json:"phase,omitempty"`
	From       string `json:"from,omitempty"`
	Step       string `json:"step,omitempty"`
	SignalType string `json:"signal_type,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CompensationEventData is the payload for unresolved compensations.
type CompensationEventData struct {
	CompensationID string `json:"compensation_id"`
	Step           string `json:"step"`
	Kind           string `json:"kind"`
	Error          string `json:"error"`
	Attempts       int    `json:"attempts"`
}

// CronEventData is the payload for cron events.
type CronEventData struct {
	EntryName string `json:"entry_name"`
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}
