package cron

import (
	"encoding/json"
	"fmt"
)

// Definition is a typed schedule. T is the workflow input type (must be
// JSON-serializable).
type Definition[T any] struct {
	// Name is the unique identifier for this schedule.
	Name string

	// Schedule is a cron expression (e.g., "0 3 * * 3" or "@every 1h").
	Schedule string

	// Workflow is the registered workflow started on each fire.
	Workflow string

	// Input is passed to every run this schedule starts.
	Input T
}

// Entry converts the definition to an enabled entry.
func (d Definition[T]) Entry() (*Entry, error) {
	input, err := json.Marshal(d.Input)
	if err != nil {
		return nil, fmt.Errorf("cron: marshal input for %q: %w", d.Name, err)
	}
	return &Entry{
		Name:     d.Name,
		Schedule: d.Schedule,
		Workflow: d.Workflow,
		Input:    input,
		Enabled:  true,
	}, nil
}
