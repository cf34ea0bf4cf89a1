package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/job"
)

// Logging returns middleware that logs job start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Info("job started",
			slog.String("job_name", j.Name),
			slog.String("job_id", j.ID.String()),
			slog.String("execution_id", j.ExecutionID.String()),
			slog.Int("retries", j.Retries),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		switch {
		case errors.Is(err, bpmcore.ErrExecutionBusy):
			logger.Debug("job deferred, execution busy",
				slog.String("job_name", j.Name),
				slog.String("job_id", j.ID.String()),
			)
		case err != nil:
			logger.Error("job failed",
				slog.String("job_name", j.Name),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		default:
			logger.Info("job completed",
				slog.String("job_name", j.Name),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
