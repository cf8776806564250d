// Package middleware provides composable middleware for activity attempts.
// Middleware wrap each attempt synchronously and can observe or shape it
// (recover from panics, log, trace, meter, rate-limit, bound with a timeout).
package middleware
