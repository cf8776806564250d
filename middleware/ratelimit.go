package middleware

import (
	"context"
	"strings"

	"golang.org/x/time/rate"

	"github.com/aksrustagi/coordinator/activity"
)

// Limit bounds how often and how concurrently matching steps may run.
type Limit struct {
	// Step is the step name, or a prefix ending in ":" or "*"
	// ("settle:" matches every settlement step).
	Step string

	// RateLimit is the maximum sustained attempts per second. Zero disables
	// rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst. Defaults to 1 when RateLimit is set.
	RateBurst int

	// MaxConcurrency limits simultaneous attempts across all runs in this
	// process. Zero means unlimited.
	MaxConcurrency int
}

type limitState struct {
	limit   Limit
	limiter *rate.Limiter
	slots   chan struct{}
}

// Limiter holds the runtime state for a set of limits. It is safe for
// concurrent use and scoped to one engine instance.
type Limiter struct {
	states []*limitState
}

// NewLimiter creates a Limiter for the given limits.
func NewLimiter(limits ...Limit) *Limiter {
	l := &Limiter{}
	for _, lim := range limits {
		st := &limitState{limit: lim}
		if lim.RateLimit > 0 {
			burst := lim.RateBurst
			if burst <= 0 {
				burst = 1
			}
			st.limiter = rate.NewLimiter(rate.Limit(lim.RateLimit), burst)
		}
		if lim.MaxConcurrency > 0 {
			st.slots = make(chan struct{}, lim.MaxConcurrency)
		}
		l.states = append(l.states, st)
	}
	return l
}

func (l *Limiter) match(step string) *limitState {
	for _, st := range l.states {
		pattern := st.limit.Step
		switch {
		case pattern == step:
			return st
		case strings.HasSuffix(pattern, "*") && strings.HasPrefix(step, strings.TrimSuffix(pattern, "*")):
			return st
		case strings.HasSuffix(pattern, ":") && strings.HasPrefix(step, pattern):
			return st
		}
	}
	return nil
}

// RateLimit returns middleware that waits for the matching limit's token
// bucket and concurrency slot before running the attempt. Waiting honors
// context cancellation.
func RateLimit(l *Limiter) Middleware {
	return func(ctx context.Context, inv *activity.Invocation, next Handler) error {
		st := l.match(inv.Step)
		if st == nil {
			return next(ctx)
		}
		if st.limiter != nil {
			if err := st.limiter.Wait(ctx); err != nil {
				return activity.Retryable(err)
			}
		}
		if st.slots != nil {
			select {
			case st.slots <- struct{}{}:
				defer func() { <-st.slots }()
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return next(ctx)
	}
}
