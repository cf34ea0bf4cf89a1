// Package middleware provides composable middleware for job execution.
//
// A [Middleware] is a function that wraps a job handler. Middleware are
// composed into a chain using [Chain] and applied before each job executes.
// They are applied right-to-left: the first middleware in the slice is the
// outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs job name, execution and outcome of each attempt
//   - [Recover] catches panics and converts them to errors
//   - [Timeout] cancels the job context after the job's timeout
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records per-job duration and outcome counters
//   - [JobContext] exposes the running job through job.FromContext
//   - [Exclusive] serializes jobs of the same process or case instance
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., an exclusive token held by another job).
package middleware
