package middleware

import (
	"context"

	"github.com/xraph/bpmcore/job"
)

// JobContext returns middleware that makes the job being executed
// available to handlers through job.FromContext.
func JobContext() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		return next(job.WithJob(ctx, j))
	}
}
