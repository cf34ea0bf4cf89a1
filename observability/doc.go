// Package observability provides the Prometheus metrics extension. The
// MetricsExtension implements lifecycle hooks to record engine-wide
// counters for job acquisition, completion, failure, incidents and
// cancellation, task claims and completions, and case execution
// transitions.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
