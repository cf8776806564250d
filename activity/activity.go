// Package activity describes a single named external operation invoked by
// a workflow run: its retry policy, the per-attempt invocation record passed
// through middleware, the classification of its failures, and the
// idempotency key collaborators use to dedupe re-deliveries.
package activity

import (
	"time"

	"github.com/google/uuid"

	"github.com/aksrustagi/coordinator/backoff"
	"github.com/aksrustagi/coordinator/id"
)

// Policy controls how an activity is attempted.
type Policy struct {
	// MaxAttempts caps the number of attempts, including the first.
	// Values below 1 mean a single attempt.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// Multiplier grows the delay between consecutive retries.
	Multiplier float64

	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration

	// Timeout bounds a single attempt. Zero means no per-attempt deadline.
	Timeout time.Duration

	// Backoff overrides the exponential delay derived from the fields above.
	Backoff backoff.Strategy

	// Classify decides whether a failure is retryable. Nil uses Classify.
	Classify func(error) Class
}

// DefaultPolicy returns three attempts with 1s→1m doubling backoff and a
// 30s per-attempt timeout.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		Multiplier:     2,
		MaxBackoff:     time.Minute,
		Timeout:        30 * time.Second,
	}
}

// NoRetry returns a policy that makes exactly one attempt.
func NoRetry(timeout time.Duration) Policy {
	return Policy{MaxAttempts: 1, Timeout: timeout}
}

// Merge fills the zero fields of p from def.
func (p Policy) Merge(def Policy) Policy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff == 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.Multiplier == 0 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.Timeout == 0 {
		p.Timeout = def.Timeout
	}
	if p.Backoff == nil {
		p.Backoff = def.Backoff
	}
	if p.Classify == nil {
		p.Classify = def.Classify
	}
	return p
}

// Strategy returns the backoff strategy for this policy.
func (p Policy) Strategy() backoff.Strategy {
	if p.Backoff != nil {
		return p.Backoff
	}
	return &backoff.Exponential{
		Initial:    p.InitialBackoff,
		Multiplier: p.Multiplier,
		Max:        p.MaxBackoff,
	}
}

// ClassOf classifies err using the policy's classifier.
func (p Policy) ClassOf(err error) Class {
	if p.Classify != nil {
		return p.Classify(err)
	}
	return Classify(err)
}

// Attempts returns the effective attempt cap.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Invocation describes one attempt of an activity. Middleware receive it
// alongside the attempt's context.
type Invocation struct {
	RunID    id.RunID
	Workflow string
	Step     string
	Attempt  int
	Key      string
	Policy   Policy
}

// keyNamespace scopes idempotency keys derived by Key.
var keyNamespace = uuid.MustParse("6f1c0d2e-3a7b-5c4d-9e8f-0a1b2c3d4e5f")

// Key derives the idempotency key for a step of a run. The key is stable
// across attempts and restarts; parts discriminate steps that share a name
// prefix, such as one settlement per position.
func Key(runID id.RunID, step string, parts ...string) string {
	name := runID.String() + "/" + step
	for _, p := range parts {
		name += "/" + p
	}
	return uuid.NewSHA1(keyNamespace, []byte(name)).String()
}
