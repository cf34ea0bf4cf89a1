package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/exclusive"
	"github.com/xraph/bpmcore/job"
)

// ExclusiveOption configures the Exclusive middleware.
type ExclusiveOption func(*exclusiveConfig)

type exclusiveConfig struct {
	renewInterval time.Duration
}

// WithTokenRenewal re-acquires the token every interval while the job
// runs, keeping it alive past ttl. Use it together with job lock renewal.
func WithTokenRenewal(interval time.Duration) ExclusiveOption {
	return func(c *exclusiveConfig) { c.renewInterval = interval }
}

// Exclusive returns middleware that runs at most one job per process or
// case instance at a time. The token is keyed by the job's instance (or
// its execution when the instance is unset) and held for at most ttl,
// unless WithTokenRenewal extends it. Jobs without an execution are not
// serialized.
//
// A job whose instance is busy returns bpmcore.ErrExecutionBusy without
// running. The executor releases such a job without spending a retry.
func Exclusive(locker exclusive.Locker, ttl time.Duration, logger *slog.Logger, opts ...ExclusiveOption) Middleware {
	var cfg exclusiveConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(ctx context.Context, j *job.Job, next Handler) error {
		key := j.InstanceID
		if key.IsNil() {
			key = j.ExecutionID
		}
		if key.IsNil() {
			return next(ctx)
		}

		owner := j.ID.String()
		ok, err := locker.Acquire(ctx, key.String(), owner, ttl)
		if err != nil {
			return fmt.Errorf("acquire exclusive token: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: instance %s", bpmcore.ErrExecutionBusy, key)
		}

		var (
			stop = make(chan struct{})
			wg   sync.WaitGroup
		)
		if cfg.renewInterval > 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				renewToken(ctx, locker, key.String(), owner, ttl, cfg.renewInterval, stop, logger)
			}()
		}

		defer func() {
			// The renewer must be gone before release or it could
			// re-create the token.
			close(stop)
			wg.Wait()
			if relErr := locker.Release(context.WithoutCancel(ctx), key.String(), owner); relErr != nil {
				logger.Warn("failed to release exclusive token",
					slog.String("job_id", owner),
					slog.String("instance_id", key.String()),
					slog.String("error", relErr.Error()),
				)
			}
		}()

		return next(ctx)
	}
}

func renewToken(
	ctx context.Context,
	locker exclusive.Locker,
	key, owner string,
	ttl, interval time.Duration,
	stop <-chan struct{},
	logger *slog.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	renewCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ok, err := locker.Acquire(renewCtx, key, owner, ttl)
			switch {
			case err != nil:
				logger.Warn("exclusive token renewal failed",
					slog.String("job_id", owner),
					slog.String("instance_id", key),
					slog.String("error", err.Error()),
				)
			case !ok:
				logger.Warn("lost exclusive token of running job",
					slog.String("job_id", owner),
					slog.String("instance_id", key),
				)
			}
		}
	}
}
