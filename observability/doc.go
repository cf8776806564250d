// Package observability provides a Prometheus metrics extension for the
// coordinator. MetricsExtension implements the run lifecycle hooks and
// records per-workflow counters for starts, terminal outcomes, phase
// transitions, retries, signals, unresolved compensations and schedule
// fires.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
