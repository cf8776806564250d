package cron

import (
	"time"

	"github.com/aksrustagi/coordinator/id"
)

// Entry is a recurring workflow start.
type Entry struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Workflow  string     `json:"workflow"`
	Input     []byte     `json:"input,omitempty"`
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastRunID id.RunID   `json:"last_run_id"`
	LastError string     `json:"last_error,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

func (e *Entry) clone() *Entry {
	cp := *e
	cp.Input = append([]byte(nil), e.Input...)
	if e.LastRunAt != nil {
		t := *e.LastRunAt
		cp.LastRunAt = &t
	}
	if e.NextRunAt != nil {
		t := *e.NextRunAt
		cp.NextRunAt = &t
	}
	return &cp
}
