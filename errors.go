package coordinator

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("coordinator: no store configured")
	ErrStoreClosed = errors.New("coordinator: store closed")
	ErrStopped     = errors.New("coordinator: runner stopped")

	// Not found errors.
	ErrWorkflowNotFound   = errors.New("coordinator: workflow not found")
	ErrRunNotFound        = errors.New("coordinator: run not found")
	ErrUnresolvedNotFound = errors.New("coordinator: unresolved compensation not found")

	// Conflict errors.
	ErrRunAlreadyExists = errors.New("coordinator: run already exists")

	// State errors.
	ErrInvalidState       = errors.New("coordinator: invalid state transition")
	ErrRunTerminal        = errors.New("coordinator: run is terminal")
	ErrMaxRetriesExceeded = errors.New("coordinator: max retries exceeded")

	// Query errors.
	ErrUnknownQuery = errors.New("coordinator: unknown query type")
)
