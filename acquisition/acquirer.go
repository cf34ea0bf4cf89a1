package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/ext"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/job"
)

// Acquirer locks due jobs on behalf of one node.
type Acquirer struct {
	store      job.Store
	owner      id.NodeID
	extensions *ext.Registry
	logger     *slog.Logger
	now        func() time.Time
}

// NewAcquirer creates an Acquirer that writes owner as lock owner.
func NewAcquirer(store job.Store, owner id.NodeID, extensions *ext.Registry, logger *slog.Logger) *Acquirer {
	return &Acquirer{
		store:      store,
		owner:      owner,
		extensions: extensions,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// AcquireJobs locks up to maxBatch due jobs until now+lockDuration and
// returns the ones it locked. Jobs another node locked first are skipped,
// so the result may be shorter than the number of due jobs. Only a
// failure to read candidates is returned as an error.
func (a *Acquirer) AcquireJobs(ctx context.Context, maxBatch int, lockDuration time.Duration) ([]*job.Job, error) {
	if maxBatch < 1 {
		return nil, fmt.Errorf("%w: batch size must be at least 1", bpmcore.ErrValidation)
	}
	if lockDuration <= 0 {
		return nil, fmt.Errorf("%w: lock duration must be positive", bpmcore.ErrValidation)
	}

	now := a.now()
	candidates, err := a.store.FindAcquirableJobs(ctx, now, maxBatch)
	if err != nil {
		return nil, bpmcore.Fault("find acquirable jobs", err)
	}

	// Stores keep millisecond precision, so the expiry must round-trip
	// for later compare-and-swap operations.
	next := job.Lock{
		Owner:     a.owner,
		ExpiresAt: now.Add(lockDuration).Truncate(time.Millisecond),
	}

	acquired := make([]*job.Job, 0, len(candidates))
	for _, c := range candidates {
		err := a.store.LockJob(ctx, c.ID, c.Lock(), next)
		switch {
		case err == nil:
		case errors.Is(err, bpmcore.ErrLockConflict), errors.Is(err, bpmcore.ErrNotFound):
			a.logger.Debug("job taken concurrently, skipping",
				slog.String("job_id", c.ID.String()),
			)
			continue
		default:
			a.logger.Warn("failed to lock job",
				slog.String("job_id", c.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		c.SetLock(next)
		acquired = append(acquired, c)
		a.extensions.EmitJobAcquired(ctx, c)
	}

	if len(acquired) > 0 {
		a.logger.Debug("jobs acquired",
			slog.String("node_id", a.owner.String()),
			slog.Int("count", len(acquired)),
			slog.Int("candidates", len(candidates)),
		)
	}
	return acquired, nil
}
