package coordinator

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Coordinator.
type Option func(*Coordinator) error

// Storer is the minimal store interface held by the Coordinator.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// supervisor is an internal interface for the run supervisor lifecycle.
type supervisor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Coordinator is the process-scoped owner of configuration, logging,
// persistence and the run supervisor.
//
// Create one with New() and functional options, then hand it to
// engine.Build which wires the subsystems together.
type Coordinator struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	supervisor supervisor

	started bool
}

// New creates a new Coordinator with the given options.
func New(opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the coordinator's logger.
func (c *Coordinator) Logger() *slog.Logger { return c.logger }

// Store returns the coordinator's store.
func (c *Coordinator) Store() Storer { return c.store }

// Config returns a copy of the coordinator's configuration.
func (c *Coordinator) Config() Config { return c.config }

// SetSupervisor sets the run supervisor (called by engine.Build).
func (c *Coordinator) SetSupervisor(s supervisor) { c.supervisor = s }

// SetExtensions sets the extension emitter (called by engine.Build).
func (c *Coordinator) SetExtensions(e extensionEmitter) { c.extensions = e }

// Start resumes non-terminal runs and starts background scheduling.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.supervisor == nil {
		return ErrNoStore
	}
	if err := c.supervisor.Start(ctx); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Stop gracefully shuts down the coordinator. In-flight runs are
// interrupted at their next suspension point and resume on the next Start.
func (c *Coordinator) Stop(ctx context.Context) error {
	if c.supervisor != nil && c.started {
		if err := c.supervisor.Stop(ctx); err != nil {
			c.logger.Error("supervisor stop error", slog.String("error", err.Error()))
		}
		c.started = false
	}
	if c.extensions != nil {
		c.extensions.EmitShutdown(ctx)
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithLogger sets the structured logger for the coordinator.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) error {
		c.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. The store must implement Storer
// at minimum; typically it is a store.Store which embeds all subsystem
// store interfaces.
func WithStore(s Storer) Option {
	return func(c *Coordinator) error {
		c.store = s
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) error {
		c.config = cfg
		return nil
	}
}

// WithSignalPollInterval sets how often suspended runs re-read pending
// signals from the store.
func WithSignalPollInterval(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.SignalPollInterval = d
		return nil
	}
}

// WithShutdownTimeout sets the graceful shutdown budget.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.ShutdownTimeout = d
		return nil
	}
}

// WithStepTimeout sets the default per-attempt activity timeout.
func WithStepTimeout(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.StepTimeout = d
		return nil
	}
}

// WithStepRetries sets the default activity attempt cap and backoff bounds.
func WithStepRetries(maxAttempts int, initial, maxBackoff time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.StepMaxAttempts = maxAttempts
		c.config.StepInitialBackoff = initial
		c.config.StepMaxBackoff = maxBackoff
		return nil
	}
}
