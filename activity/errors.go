package activity

import (
	"context"
	"errors"
	"fmt"

	coordinator "github.com/aksrustagi/coordinator"
)

// Class is the retry classification of an activity failure.
type Class string

const (
	// ClassRetryable failures are retried with backoff until the attempt
	// cap is reached.
	ClassRetryable Class = "retryable"
	// ClassTerminal failures are never retried.
	ClassTerminal Class = "terminal"
)

// classified marks an error with an explicit class.
type classified struct {
	class Class
	err   error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Terminal marks err as non-retryable (validation rejections, "not found",
// insufficient funds).
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: ClassTerminal, err: err}
}

// Terminalf formats a terminal failure.
func Terminalf(format string, args ...any) error {
	return Terminal(fmt.Errorf(format, args...))
}

// Retryable marks err as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: ClassRetryable, err: err}
}

// Classify resolves the class of err. A final *Error keeps its class and
// explicit markers come next. Cancellation of the caller is terminal.
// Anything else, including a per-attempt deadline, is assumed transient.
func Classify(err error) Class {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Class
	}
	var c *classified
	if errors.As(err, &c) {
		return c.class
	}
	if errors.Is(err, context.Canceled) {
		return ClassTerminal
	}
	return ClassRetryable
}

// IsTerminal reports whether err classifies as terminal.
func IsTerminal(err error) bool {
	return err != nil && Classify(err) == ClassTerminal
}

// Error is the final failure of an activity after the retry controller
// gave up. Exhausted retryable failures are converted to terminal.
type Error struct {
	Step      string
	Class     Class
	Attempts  int
	Exhausted bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("activity %q failed after %d attempts: %v", e.Step, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("activity %q failed: %v", e.Step, e.Cause)
}

// Unwrap exposes the cause, and ErrMaxRetriesExceeded when exhausted.
func (e *Error) Unwrap() []error {
	if e.Exhausted {
		return []error{e.Cause, coordinator.ErrMaxRetriesExceeded}
	}
	return []error{e.Cause}
}
