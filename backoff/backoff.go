// Package backoff provides retry delay strategies for activity execution.
// All strategies are safe for concurrent use (they are stateless).
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential grows the delay geometrically.
// Delay = min(Initial * Multiplier^(attempt-1), Max). A zero Multiplier
// means 2.
type Exponential struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// NewExponential creates an exponential backoff strategy that doubles
// each attempt.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Multiplier: 2, Max: maxDelay}
}

// Delay returns Initial * Multiplier^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return time.Duration(exponentialBase(e.Initial, e.Multiplier, e.Max, attempt))
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * Multiplier^(attempt-1), Max)].
type ExponentialWithJitter struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// NewExponentialWithJitter creates a doubling exponential backoff with
// full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Multiplier: 2, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * Multiplier^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := exponentialBase(e.Initial, e.Multiplier, e.Max, attempt)
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// exponentialBase computes the capped delay in float nanoseconds so large
// attempt numbers never overflow time.Duration.
func exponentialBase(initial time.Duration, multiplier float64, maxDelay time.Duration, attempt int) float64 {
	if multiplier <= 0 {
		multiplier = 2
	}
	if attempt < 1 {
		attempt = 1
	}
	base := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if maxDelay > 0 && base > float64(maxDelay) {
		return float64(maxDelay)
	}
	if base > math.MaxInt64 {
		return math.MaxInt64
	}
	return base
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the backoff used when a policy does not supply
// one: ExponentialWithJitter with 1s initial and 1m max.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(1*time.Second, 1*time.Minute)
}
