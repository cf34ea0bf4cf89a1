package job

import (
	"context"
	"time"

	"github.com/xraph/bpmcore/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// State filters by job state. Empty means all states.
	State State
	// ExecutionID filters by execution. Nil means all executions.
	ExecutionID id.ExecutionID
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// State filters by job state. Empty means all states.
	State State
	// ExecutionID filters by execution. Nil means all executions.
	ExecutionID id.ExecutionID
}

// Store defines the persistence contract for jobs.
//
// The lock fields are the only coordination point between engine
// instances. Every lock mutation is conditional on the lock state the
// caller observed, and every owner-checked operation fails with
// bpmcore.ErrLockConflict when the caller no longer holds an unexpired
// lock, including when the lock expired and another node took it.
type Store interface {
	// EnqueueJob persists a new pending job.
	EnqueueJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// FindAcquirableJobs returns up to limit jobs that are acquirable at
	// now, oldest due first. It does not lock them.
	FindAcquirableJobs(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// LockJob replaces the lock of a pending job with next if its current
	// lock equals expected. It fails with bpmcore.ErrLockConflict otherwise.
	LockJob(ctx context.Context, jobID id.JobID, expected, next Lock) error

	// ExtendJobLock moves the lock expiry of a job owned by owner.
	ExtendJobLock(ctx context.Context, jobID id.JobID, owner id.NodeID, until time.Time) error

	// UnlockJob clears the lock of a job owned by owner without touching
	// its retries.
	UnlockJob(ctx context.Context, jobID id.JobID, owner id.NodeID) error

	// DeleteJob removes a job owned by owner after successful execution.
	DeleteJob(ctx context.Context, jobID id.JobID, owner id.NodeID) error

	// FailJob records a failed attempt of a job owned by owner. See
	// Failure.Apply for the resulting state.
	FailJob(ctx context.Context, jobID id.JobID, owner id.NodeID, f Failure) error

	// CancelJob removes a job that is not locked at now. A pending job
	// with an unexpired lock fails with bpmcore.ErrLockConflict. Failed
	// jobs are inert and can always be cancelled.
	CancelJob(ctx context.Context, jobID id.JobID, now time.Time) error

	// SetJobRetries sets the retries of a job, clears its lock and
	// failure time, and makes it pending again. LastError is kept. The
	// write only applies while the job is still in expectedState with
	// the expected lock, otherwise it fails with bpmcore.ErrLockConflict.
	SetJobRetries(ctx context.Context, jobID id.JobID, expectedState State, expected Lock, retries int) error

	// ListJobs returns jobs matching opts ordered by due time, then ID.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching opts.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
