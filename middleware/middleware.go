package middleware

import (
	"context"

	"github.com/aksrustagi/coordinator/activity"
)

// Handler is the terminal function that performs one activity attempt.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the attempt's context, the invocation being attempted, and
// the next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, inv *activity.Invocation, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// The first middleware in the list is the outermost wrapper.
//
// Example: Chain(recover, logging, timeout) executes as:
//
//	recover → logging → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, inv *activity.Invocation, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, inv, prev)
			}
		}
		return h(ctx)
	}
}
