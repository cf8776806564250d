package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCancelled marks a run that honored a cancellation. Handlers return it
// (usually through Cancelled) to end the run in the cancelled state.
var ErrCancelled = errors.New("workflow: run cancelled")

// ContinueAsNewError asks the runner to truncate the run's history: its
// checkpoints are cleared and the handler re-enters with Input as its new
// input under the same run ID.
type ContinueAsNewError struct {
	Input []byte
}

func (e *ContinueAsNewError) Error() string { return "workflow: continue as new" }

// RestartError asks the runner to reschedule the whole run from the top
// with its original input and a fresh history.
type RestartError struct {
	Reason string
}

func (e *RestartError) Error() string { return "workflow: restart: " + e.Reason }

// RejectedError ends a run in the rejected state with a human-readable
// reason. Rejections are business outcomes, not system failures.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "workflow: rejected: " + e.Reason }

// cancelledError carries the reason of a cancellation.
type cancelledError struct {
	reason string
}

func (e *cancelledError) Error() string {
	if e.reason == "" {
		return ErrCancelled.Error()
	}
	return ErrCancelled.Error() + ": " + e.reason
}

func (e *cancelledError) Unwrap() error { return ErrCancelled }

// Reject returns an error that ends the run as rejected.
func Reject(reason string) error { return &RejectedError{Reason: reason} }

// Cancelled returns an error that ends the run as cancelled.
func Cancelled(reason string) error { return &cancelledError{reason: reason} }

// ContinueAsNew returns an error that restarts the run with state as its
// new input and an empty history. The handler must return it unchanged.
func (w *Workflow) ContinueAsNew(state any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("workflow %s: encode continuation: %w", w.run.Name, err)
	}
	return &ContinueAsNewError{Input: data}
}

// Restart returns an error that reschedules the run from the top with its
// original input. The handler must return it unchanged.
func (w *Workflow) Restart(reason string) error {
	return &RestartError{Reason: reason}
}

func cancelReason(err error) string {
	var ce *cancelledError
	if errors.As(err, &ce) {
		return ce.reason
	}
	return ""
}
