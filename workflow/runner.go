package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	coordinator "github.com/aksrustagi/coordinator"
	"github.com/aksrustagi/coordinator/activity"
	"github.com/aksrustagi/coordinator/executor"
	"github.com/aksrustagi/coordinator/id"
	"github.com/aksrustagi/coordinator/signal"
)

// CancelSignal is the payload of the built-in cancel signal.
type CancelSignal struct {
	Reason string `json:"reason,omitempty"`
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPollInterval sets how often a waiting run re-reads its pending
// signals, which picks up signals published by other processes.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithDefaultPolicy sets the policy used for fields a step leaves zero.
func WithDefaultPolicy(p activity.Policy) RunnerOption {
	return func(r *Runner) { r.defaultPolicy = p.Merge(activity.DefaultPolicy()) }
}

// WithCompensationAttempts sets the attempt cap of each compensation.
func WithCompensationAttempts(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.compensationAttempts = n
		}
	}
}

// WithUnresolvedRecorder sets where compensations that gave up are recorded.
func WithUnresolvedRecorder(rec UnresolvedRecorder) RunnerOption {
	return func(r *Runner) { r.unresolved = rec }
}

// StartOption configures a single run.
type StartOption func(*startConfig)

type startConfig struct {
	runID id.RunID
}

// WithRunID assigns the run ID instead of generating one. A run ID that was
// already used is refused.
func WithRunID(runID id.RunID) StartOption {
	return func(c *startConfig) { c.runID = runID }
}

// Runner orchestrates run execution: it creates runs, executes each on its
// own goroutine, keeps the live-run registry answering queries, restarts
// runs that continue as new, and records terminal outcomes.
//
// A Runner is an explicit, process-scoped object; tests create isolated
// instances.
type Runner struct {
	registry *Registry
	store    Store
	bus      *signal.Bus
	exec     *executor.Executor
	emitter  RunEmitter
	logger   *slog.Logger

	unresolved           UnresolvedRecorder
	pollInterval         time.Duration
	defaultPolicy        activity.Policy
	compensationAttempts int

	mu     sync.Mutex
	live   map[string]*liveRun
	closed bool
	wg     sync.WaitGroup
}

// NewRunner creates a workflow runner.
func NewRunner(
	registry *Registry,
	store Store,
	bus *signal.Bus,
	exec *executor.Executor,
	emitter RunEmitter,
	logger *slog.Logger,
	opts ...RunnerOption,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if exec == nil {
		exec = executor.New(logger, nil)
	}
	r := &Runner{
		registry:             registry,
		store:                store,
		bus:                  bus,
		exec:                 exec,
		emitter:              emitter,
		logger:               logger,
		pollInterval:         time.Second,
		defaultPolicy:        activity.DefaultPolicy(),
		compensationAttempts: 5,
		live:                 make(map[string]*liveRun),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the workflow registry.
func (r *Runner) Registry() *Registry { return r.registry }

// Store returns the run store.
func (r *Runner) Store() Store { return r.store }

// Start starts a new run with a typed input and returns immediately.
// The input is JSON-marshaled and stored on the Run.
func Start[T any](ctx context.Context, runner *Runner, name string, input T, opts ...StartOption) (*Run, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input for workflow %q: %w", name, err)
	}
	return runner.StartRaw(ctx, name, data, opts...)
}

// Execute starts a run and blocks until it reaches a terminal state.
func Execute[T any](ctx context.Context, runner *Runner, name string, input T, opts ...StartOption) (*Run, error) {
	run, err := Start(ctx, runner, name, input, opts...)
	if err != nil {
		return nil, err
	}
	return runner.Wait(ctx, run.ID)
}

// StartRaw starts a run with pre-serialized JSON input. The run is stamped
// with the latest registered version and executes on its own goroutine.
func (r *Runner) StartRaw(ctx context.Context, name string, input []byte, opts ...StartOption) (*Run, error) {
	fn, ok := r.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", coordinator.ErrWorkflowNotFound, name)
	}
	if r.isClosed() {
		return nil, coordinator.ErrStopped
	}

	var cfg startConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	runID := cfg.runID
	if runID.IsNil() {
		runID = id.NewRunID()
	}

	now := time.Now().UTC()
	run := &Run{
		ID:        runID,
		Name:      name,
		Version:   r.registry.LatestVersion(name),
		State:     RunStateRunning,
		Input:     input,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	snap, err := r.registry.InitialSnapshot(name, run.Version, input)
	if err != nil {
		r.logger.Warn("initial snapshot unavailable",
			slog.String("workflow", name),
			slog.String("error", err.Error()),
		)
	}
	if snap == nil {
		snap = baseSnapshot(run)
	}
	run.Snapshot = snap
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run for workflow %q: %w", name, err)
	}

	r.logger.Info("run started",
		slog.String("run_id", run.ID.String()),
		slog.String("workflow", name),
		slog.Int("version", run.Version),
	)
	r.emitter.EmitRunStarted(ctx, run)

	out := run.Clone()
	if !r.launch(ctx, run, fn) {
		return out, coordinator.ErrStopped
	}
	return out, nil
}

// Resume re-executes a non-terminal run (crash recovery). Checkpointed
// steps are skipped and recorded signals re-applied. The run continues on
// its stamped version. Resuming a run that is already executing in this
// process is a no-op.
func (r *Runner) Resume(ctx context.Context, runID id.RunID) error {
	if r.lookup(runID) != nil {
		return nil
	}
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("get run %s: %w", runID, err)
	}
	if run.State.IsTerminal() {
		return fmt.Errorf("%w: run %s is %s", coordinator.ErrRunTerminal, runID, run.State)
	}

	fn, ok := r.registry.GetVersion(run.Name, run.Version)
	if !ok {
		return fmt.Errorf("%w: %q version %d (run %s)", coordinator.ErrWorkflowNotFound, run.Name, run.Version, runID)
	}

	run.State = RunStateRunning
	if err := r.save(ctx, run); err != nil {
		return fmt.Errorf("mark run %s running: %w", runID, err)
	}
	if !r.launch(ctx, run, fn) {
		return coordinator.ErrStopped
	}
	return nil
}

// ResumeAll resumes every running or suspended run. Called at startup.
func (r *Runner) ResumeAll(ctx context.Context) error {
	for _, state := range []RunState{RunStateRunning, RunStateSuspended} {
		runs, err := r.store.ListRuns(ctx, ListOpts{State: state})
		if err != nil {
			return fmt.Errorf("list %s runs: %w", state, err)
		}
		for _, run := range runs {
			r.logger.Info("resuming run",
				slog.String("run_id", run.ID.String()),
				slog.String("workflow", run.Name),
				slog.String("state", string(run.State)),
			)
			if resumeErr := r.Resume(ctx, run.ID); resumeErr != nil {
				r.logger.Error("failed to resume run",
					slog.String("run_id", run.ID.String()),
					slog.String("error", resumeErr.Error()),
				)
			}
		}
	}
	return nil
}

// Wait blocks until the run reaches a terminal state and returns it.
func (r *Runner) Wait(ctx context.Context, runID id.RunID) (*Run, error) {
	for {
		if live := r.lookup(runID); live != nil {
			select {
			case <-live.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		run, err := r.store.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.State.IsTerminal() {
			return run, nil
		}
		if r.lookup(runID) != nil {
			continue
		}

		t := time.NewTimer(r.pollInterval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
}

// Signal delivers a signal to a run. Signals to terminal runs are dropped
// with coordinator.ErrRunTerminal. Whether the run applies the signal is
// decided by the run itself.
func (r *Runner) Signal(ctx context.Context, runID id.RunID, signalType string, payload []byte) (*signal.Signal, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State.IsTerminal() {
		r.logger.Debug("dropping signal for terminal run",
			slog.String("run_id", runID.String()),
			slog.String("type", signalType),
			slog.String("state", string(run.State)),
		)
		return nil, fmt.Errorf("%w: run %s is %s", coordinator.ErrRunTerminal, runID, run.State)
	}
	return r.bus.Publish(ctx, runID, signalType, payload)
}

// Cancel sends the built-in cancel signal. Runs honor it only at their
// cancellation checkpoints.
func (r *Runner) Cancel(ctx context.Context, runID id.RunID, reason string) error {
	payload, err := signal.Encode(CancelSignal{Reason: reason})
	if err != nil {
		return err
	}
	_, err = r.Signal(ctx, runID, signal.TypeCancel, payload)
	return err
}

// Query returns the latest published snapshot of a run. Live runs answer
// from memory, others from the persisted snapshot. It never blocks on the
// run itself.
func (r *Runner) Query(ctx context.Context, runID id.RunID, queryType string) ([]byte, error) {
	var (
		name    string
		version int
		snap    []byte
		stored  *Run
	)
	if live := r.lookup(runID); live != nil {
		name, version, snap = live.name, live.version, live.load()
	}
	if name == "" || snap == nil {
		run, err := r.store.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		stored = run
		name, version = run.Name, run.Version
		if snap == nil {
			snap = run.Snapshot
		}
	}

	if !r.registry.Answers(name, version, queryType) {
		return nil, fmt.Errorf("%w: %q for workflow %q", coordinator.ErrUnknownQuery, queryType, name)
	}
	if len(snap) == 0 {
		return baseSnapshot(stored), nil
	}
	return cloneBytes(snap), nil
}

// runView is the snapshot of a run whose workflow has not published one.
type runView struct {
	Workflow string   `json:"workflow"`
	State    RunState `json:"state"`
	Phase    string   `json:"phase"`
}

func baseSnapshot(run *Run) []byte {
	data, _ := json.Marshal(runView{Workflow: run.Name, State: run.State, Phase: run.Phase})
	return data
}

// Live reports whether the run is executing in this process.
func (r *Runner) Live(runID id.RunID) bool { return r.lookup(runID) != nil }

// Shutdown interrupts every executing run at its next suspension point and
// waits for their goroutines. Interrupted runs stay non-terminal and resume
// on the next ResumeAll.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, l := range r.live {
		l.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reopen allows runs to be launched again after Shutdown.
func (r *Runner) Reopen() {
	r.mu.Lock()
	r.closed = false
	r.mu.Unlock()
}

func (r *Runner) launch(ctx context.Context, run *Run, fn RunnerFunc) bool {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	live := &liveRun{
		name:    run.Name,
		version: run.Version,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if len(run.Snapshot) > 0 {
		snap := cloneBytes(run.Snapshot)
		live.snapshot.Store(&snap)
	}

	key := run.ID.String()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return false
	}
	if _, exists := r.live[key]; exists {
		r.mu.Unlock()
		cancel()
		return true
	}
	r.live[key] = live
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.live, key)
			r.mu.Unlock()
			close(live.done)
		}()
		r.execute(runCtx, run, fn, live)
	}()
	return true
}

// execute runs the handler until it ends, re-entering it after a
// continuation or a restart.
func (r *Runner) execute(ctx context.Context, run *Run, fn RunnerFunc, live *liveRun) {
	start := time.Now()
	for {
		wf := newWorkflow(ctx, r, run, live)
		err := invoke(wf, fn, run.Input)

		if err != nil && ctx.Err() != nil {
			r.logger.Info("run interrupted",
				slog.String("run_id", run.ID.String()),
				slog.String("workflow", run.Name),
			)
			return
		}

		var can *ContinueAsNewError
		if errors.As(err, &can) {
			if cerr := r.reset(ctx, run, func() {
				run.Input = can.Input
				run.Continuations++
			}); cerr != nil {
				r.finish(ctx, run, wf, cerr, time.Since(start))
				return
			}
			r.logger.Info("run continued as new",
				slog.String("run_id", run.ID.String()),
				slog.Int("continuations", run.Continuations),
			)
			r.emitter.EmitRunContinued(ctx, run)
			continue
		}

		var rs *RestartError
		if errors.As(err, &rs) {
			if rerr := r.reset(ctx, run, func() { run.Restarts++ }); rerr != nil {
				r.finish(ctx, run, wf, rerr, time.Since(start))
				return
			}
			r.logger.Warn("run restarted from the top",
				slog.String("run_id", run.ID.String()),
				slog.String("reason", rs.Reason),
				slog.Int("restarts", run.Restarts),
			)
			continue
		}

		if err != nil && wf.Pending() > 0 {
			r.logger.Info("running compensations",
				slog.String("run_id", run.ID.String()),
				slog.Int("count", wf.Pending()),
			)
			wf.RunCompensations()
		}

		r.finish(ctx, run, wf, err, time.Since(start))
		return
	}
}

// reset clears the run's history and applies mutate before re-entry.
func (r *Runner) reset(ctx context.Context, run *Run, mutate func()) error {
	if err := r.store.DeleteCheckpoints(ctx, run.ID); err != nil {
		return fmt.Errorf("clear checkpoints of run %s: %w", run.ID, err)
	}
	mutate()
	run.State = RunStateRunning
	return r.save(ctx, run)
}

func (r *Runner) finish(ctx context.Context, run *Run, wf *Workflow, err error, elapsed time.Duration) {
	now := time.Now().UTC()
	run.CompletedAt = &now
	run.Output = wf.live.load()
	if rep := wf.CompensationReport(); rep.Attempted > 0 {
		run.Compensation = &rep
	}

	var rejected *RejectedError
	switch {
	case err == nil:
		run.State = RunStateCompleted
	case errors.Is(err, ErrCancelled):
		run.State = RunStateCancelled
		run.FailureReason = cancelReason(err)
	case errors.As(err, &rejected):
		run.State = RunStateRejected
		run.FailureReason = rejected.Reason
	default:
		run.State = RunStateFailed
		run.Error = err.Error()
	}

	if saveErr := r.save(ctx, run); saveErr != nil {
		r.logger.Error("failed to record run outcome",
			slog.String("run_id", run.ID.String()),
			slog.String("state", string(run.State)),
			slog.String("error", saveErr.Error()),
		)
	}

	attrs := []any{
		slog.String("run_id", run.ID.String()),
		slog.String("workflow", run.Name),
		slog.String("state", string(run.State)),
		slog.Duration("elapsed", elapsed),
	}
	switch run.State {
	case RunStateCompleted:
		r.logger.Info("run completed", attrs...)
		r.emitter.EmitRunCompleted(ctx, run, elapsed)
	case RunStateCancelled:
		r.logger.Info("run cancelled", append(attrs, slog.String("reason", run.FailureReason))...)
		r.emitter.EmitRunCancelled(ctx, run, run.FailureReason)
	case RunStateRejected:
		r.logger.Info("run rejected", append(attrs, slog.String("reason", run.FailureReason))...)
		r.emitter.EmitRunRejected(ctx, run, run.FailureReason)
	default:
		r.logger.Error("run failed", append(attrs, slog.String("error", run.Error))...)
		r.emitter.EmitRunFailed(ctx, run, err)
	}
}

func (r *Runner) save(ctx context.Context, run *Run) error {
	run.UpdatedAt = time.Now().UTC()
	return r.store.UpdateRun(ctx, run)
}

func (r *Runner) lookup(runID id.RunID) *liveRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live[runID.String()]
}

func (r *Runner) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// invoke calls the handler, converting a panic into a run failure.
func invoke(wf *Workflow, fn RunnerFunc, input []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("workflow %s panicked: %v", wf.run.Name, p)
		}
	}()
	return fn(wf, input)
}
