package memory

import (
	"context"
	"sync"

	"github.com/aksrustagi/coordinator/collab"
)

// Sink records notifications and audit entries.
type Sink struct {
	Faults

	mu            sync.Mutex
	notifications []collab.Notification
	audit         []collab.AuditEntry
	applied       ledger
}

var (
	_ collab.Notifier = (*Sink)(nil)
	_ collab.Audit    = (*Sink)(nil)
)

// NewSink creates an empty sink.
func NewSink() *Sink {
	return &Sink{applied: make(ledger)}
}

func (s *Sink) Notify(_ context.Context, key string, n collab.Notification) error {
	if err := s.check("notify"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := once(s.applied, key, func() (struct{}, error) {
		s.notifications = append(s.notifications, n)
		return struct{}{}, nil
	})
	return err
}

func (s *Sink) Append(_ context.Context, key string, e collab.AuditEntry) error {
	if err := s.check("audit"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := once(s.applied, key, func() (struct{}, error) {
		s.audit = append(s.audit, e)
		return struct{}{}, nil
	})
	return err
}

// Notifications returns the notifications sent so far.
func (s *Sink) Notifications() []collab.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]collab.Notification(nil), s.notifications...)
}

// AuditLog returns the audit entries appended so far.
func (s *Sink) AuditLog() []collab.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]collab.AuditEntry(nil), s.audit...)
}
