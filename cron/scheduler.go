package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/aksrustagi/coordinator/id"
)

var (
	// ErrDuplicateEntry is returned when an entry name is already registered.
	ErrDuplicateEntry = errors.New("cron: duplicate entry")
	// ErrEntryNotFound is returned for an unknown entry name.
	ErrEntryNotFound = errors.New("cron: entry not found")
)

// StartFunc starts a workflow run. The engine provides the implementation.
type StartFunc func(ctx context.Context, workflowName string, input []byte) (id.RunID, error)

// Emitter emits cron lifecycle events.
// ext.Registry satisfies this interface via EmitCronFired.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName string, runID id.RunID)
}

// Locker grants a short-lived exclusive claim on key to owner.
type Locker interface {
	AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLocker makes fires exclusive across processes sharing l.
func WithLocker(l Locker, owner string) SchedulerOption {
	return func(s *Scheduler) {
		s.locker = l
		s.owner = owner
	}
}

// WithLockTTL sets how long a fire lock is held.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// WithClock overrides the scheduler's time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler fires registered entries on a tick loop.
type Scheduler struct {
	start   StartFunc
	emitter Emitter
	locker  Locker
	owner   string
	logger  *slog.Logger
	now     func() time.Time

	tickInterval time.Duration
	lockTTL      time.Duration

	mu        sync.Mutex
	entries   map[string]*Entry
	schedules map[string]cronlib.Schedule

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewScheduler creates a Scheduler.
func NewScheduler(start StartFunc, emitter Emitter, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		start:        start,
		emitter:      emitter,
		logger:       logger,
		now:          time.Now,
		tickInterval: time.Second,
		lockTTL:      time.Minute,
		entries:      make(map[string]*Entry),
		schedules:    make(map[string]cronlib.Schedule),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds an entry. A nil NextRunAt is computed from the schedule.
func (s *Scheduler) Register(entry *Entry) error {
	if entry.Name == "" || entry.Workflow == "" {
		return fmt.Errorf("cron: entry needs a name and a workflow")
	}
	sched, err := ParseSchedule(entry.Schedule)
	if err != nil {
		return fmt.Errorf("cron: parse schedule %q: %w", entry.Schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, entry.Name)
	}
	e := entry.clone()
	if e.NextRunAt == nil {
		next := sched.Next(s.now().UTC())
		e.NextRunAt = &next
	}
	s.entries[e.Name] = e
	s.schedules[e.Name] = sched
	return nil
}

// Remove deletes an entry.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	delete(s.entries, name)
	delete(s.schedules, name)
	return nil
}

// SetEnabled enables or disables an entry.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	e.Enabled = enabled
	return nil
}

// Get returns a copy of an entry.
func (s *Scheduler) Get(name string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	return e.clone(), nil
}

// Entries returns copies of all entries ordered by name.
func (s *Scheduler) Entries() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.tickLoop(s.stopCh)
	s.logger.Info("cron scheduler started",
		slog.Int("entries", len(s.entries)),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the tick loop to stop and waits for it.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now().UTC()

	s.mu.Lock()
	var due []*Entry
	for _, e := range s.entries {
		if e.Enabled && e.NextRunAt != nil && !e.NextRunAt.After(now) {
			due = append(due, e.clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].Name < due[j].Name })
	for _, e := range due {
		s.fireEntry(ctx, e, now)
	}
}

// RunNow starts the entry's workflow immediately without moving its
// schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (id.RunID, error) {
	e, err := s.Get(name)
	if err != nil {
		return id.Nil, err
	}
	runID, err := s.start(ctx, e.Workflow, e.Input)
	s.record(name, s.now().UTC(), runID, err, false)
	if err != nil {
		return id.Nil, err
	}
	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, name, runID)
	}
	return runID, nil
}

func (s *Scheduler) fireEntry(ctx context.Context, entry *Entry, now time.Time) {
	if s.locker != nil {
		key := fmt.Sprintf("cron:%s:%d", entry.Name, entry.NextRunAt.Unix())
		acquired, err := s.locker.AcquireLock(ctx, key, s.owner, s.lockTTL)
		if err != nil {
			s.logger.Error("acquire cron lock error",
				slog.String("cron_name", entry.Name),
				slog.String("error", err.Error()),
			)
			return
		}
		if !acquired {
			// Another process fired it; only advance the schedule.
			s.record(entry.Name, now, id.Nil, nil, true)
			return
		}
	}

	runID, err := s.start(ctx, entry.Workflow, entry.Input)
	s.record(entry.Name, now, runID, err, true)
	if err != nil {
		s.logger.Error("cron start error",
			slog.String("cron_name", entry.Name),
			slog.String("workflow", entry.Workflow),
			slog.String("error", err.Error()),
		)
		return
	}

	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, entry.Name, runID)
	}
	s.logger.Info("cron fired",
		slog.String("cron_name", entry.Name),
		slog.String("workflow", entry.Workflow),
		slog.String("run_id", runID.String()),
	)
}

// record updates bookkeeping for an entry that may have been removed
// concurrently.
func (s *Scheduler) record(name string, now time.Time, runID id.RunID, err error, advance bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return
	}
	if advance {
		next := s.schedules[name].Next(now)
		e.NextRunAt = &next
	}
	if runID.IsNil() && err == nil {
		return
	}
	at := now
	e.LastRunAt = &at
	e.LastRunID = runID
	e.LastError = ""
	if err != nil {
		e.LastError = err.Error()
	}
}
