package incident

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/job"
)

// ListOpts controls pagination and filtering of incident lists.
type ListOpts struct {
	Limit       int
	Offset      int
	ExecutionID id.ExecutionID
}

// Service provides operator access to failed jobs.
type Service struct {
	store  job.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates an incident service over a job store.
func NewService(store job.Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// List returns incidents ordered by due time, then job ID.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Incident, error) {
	jobs, err := s.store.ListJobs(ctx, job.ListOpts{
		Limit:       opts.Limit,
		Offset:      opts.Offset,
		State:       job.StateFailed,
		ExecutionID: opts.ExecutionID,
	})
	if err != nil {
		return nil, bpmcore.Fault("list incidents", err)
	}
	out := make([]*Incident, len(jobs))
	for i, j := range jobs {
		out[i] = FromJob(j)
	}
	return out, nil
}

// Count returns the number of incidents, optionally for one execution.
func (s *Service) Count(ctx context.Context, execID id.ExecutionID) (int64, error) {
	n, err := s.store.CountJobs(ctx, job.CountOpts{State: job.StateFailed, ExecutionID: execID})
	if err != nil {
		return 0, bpmcore.Fault("count incidents", err)
	}
	return n, nil
}

// Get returns the incident of a job. A job that has not failed
// terminally has no incident and yields ErrNotFound.
func (s *Service) Get(ctx context.Context, jobID id.JobID) (*Incident, error) {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, bpmcore.Fault("get incident", err)
	}
	if j.State != job.StateFailed {
		return nil, fmt.Errorf("%w: no incident for job %s", bpmcore.ErrNotFound, jobID)
	}
	return FromJob(j), nil
}

// Retry sets the retries of a job and makes it acquirable again. It also
// accepts pending jobs that are not running, e.g. to raise their budget.
// A job locked by a running node fails with ErrLockConflict.
func (s *Service) Retry(ctx context.Context, jobID id.JobID, retries int) error {
	if retries < 1 {
		return fmt.Errorf("%w: retries must be at least 1", bpmcore.ErrValidation)
	}

	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return bpmcore.Fault("get job", err)
	}
	if j.State == job.StatePending && !j.Lock().Expired(s.now()) {
		return fmt.Errorf("%w: job %s is locked by %s", bpmcore.ErrLockConflict, jobID, j.LockOwner)
	}

	if err := s.store.SetJobRetries(ctx, jobID, j.State, j.Lock(), retries); err != nil {
		return bpmcore.Fault("set job retries", err)
	}

	s.logger.Info("job retries reset",
		slog.String("job_id", jobID.String()),
		slog.String("job_name", j.Name),
		slog.Int("retries", retries),
		slog.String("previous_state", string(j.State)),
	)
	return nil
}
