package coordinator

import "time"

// Config holds configuration for the Coordinator.
type Config struct {
	// SignalPollInterval is how often a suspended run re-reads its pending
	// signals from the store. Local signals wake runs immediately; polling
	// picks up signals written by other processes.
	SignalPollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight runs to
	// reach a suspension point on Stop.
	ShutdownTimeout time.Duration

	// StepTimeout is the default per-attempt timeout for activities.
	StepTimeout time.Duration

	// StepMaxAttempts is the default attempt cap for activities.
	StepMaxAttempts int

	// StepInitialBackoff is the default delay before the first retry.
	StepInitialBackoff time.Duration

	// StepBackoffMultiplier is the default growth factor between retries.
	StepBackoffMultiplier float64

	// StepMaxBackoff caps the delay between retries.
	StepMaxBackoff time.Duration

	// CompensationMaxAttempts is the attempt cap for compensating actions.
	CompensationMaxAttempts int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SignalPollInterval:      1 * time.Second,
		ShutdownTimeout:         30 * time.Second,
		StepTimeout:             30 * time.Second,
		StepMaxAttempts:         3,
		StepInitialBackoff:      1 * time.Second,
		StepBackoffMultiplier:   2,
		StepMaxBackoff:          1 * time.Minute,
		CompensationMaxAttempts: 5,
	}
}
