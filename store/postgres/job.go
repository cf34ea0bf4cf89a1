package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/job"
)

const jobColumns = `
	id, name, execution_id, instance_id, payload, state, due_at,
	lock_owner, lock_expires_at, retries, last_error, failed_at,
	timeout, created_at, updated_at`

// EnqueueJob persists a new job in pending state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	return insertJob(ctx, s.pool, j)
}

func insertJob(ctx context.Context, q querier, j *job.Job) error {
	_, err := q.Exec(ctx, `
		INSERT INTO bpm_jobs (`+jobColumns+`)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15
		)`,
		j.ID.String(), j.Name, j.ExecutionID.String(), j.InstanceID.String(),
		j.Payload, string(j.State), j.DueAt,
		j.LockOwner.String(), j.LockExpiresAt, j.Retries, j.LastError, j.FailedAt,
		j.Timeout.Nanoseconds(), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %s", bpmcore.ErrJobAlreadyExists, j.ID)
		}
		return fmt.Errorf("bpmcore/postgres: enqueue job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM bpm_jobs WHERE id = $1`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, bpmcore.ErrJobNotFound
		}
		return nil, fmt.Errorf("bpmcore/postgres: get job: %w", err)
	}
	return j, nil
}

// FindAcquirableJobs returns up to limit acquirable jobs, oldest due first.
// The result is a candidate list only; a concurrent acquirer may read the
// same rows, and LockJob decides which of them wins.
func (s *Store) FindAcquirableJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	query := `
		SELECT ` + jobColumns + ` FROM bpm_jobs
		WHERE state = 'pending'
		  AND due_at <= $1
		  AND (lock_expires_at IS NULL OR lock_expires_at <= $1)
		ORDER BY due_at ASC, id COLLATE "C" ASC`
	args := []any{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bpmcore/postgres: find acquirable jobs: %w", err)
	}
	return collectJobs(rows)
}

// LockJob swaps the lock of a pending job if it still equals expected.
func (s *Store) LockJob(ctx context.Context, jobID id.JobID, expected, next job.Lock) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bpm_jobs
		SET lock_owner = $2, lock_expires_at = $3, updated_at = $6
		WHERE id = $1
		  AND state = 'pending'
		  AND lock_owner = $4
		  AND lock_expires_at IS NOT DISTINCT FROM $5`,
		jobID.String(),
		next.Owner.String(), nullTime(next.ExpiresAt),
		expected.Owner.String(), nullTime(expected.ExpiresAt),
		s.now(),
	)
	if err != nil {
		return fmt.Errorf("bpmcore/postgres: lock job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOr(ctx, "bpm_jobs", jobID.String(), bpmcore.ErrJobNotFound,
			fmt.Errorf("%w: job %s lock changed", bpmcore.ErrLockConflict, jobID))
	}
	return nil
}

// ExtendJobLock moves the lock expiry of a job owned by owner.
func (s *Store) ExtendJobLock(ctx context.Context, jobID id.JobID, owner id.NodeID, until time.Time) error {
	now := s.now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE bpm_jobs SET lock_expires_at = $4, updated_at = $3
		WHERE id = $1 AND state = 'pending' AND lock_owner = $2 AND lock_expires_at > $3`,
		jobID.String(), owner.String(), now, until,
	)
	if err != nil {
		return fmt.Errorf("bpmcore/postgres: extend job lock: %w", err)
	}
	return s.owned(ctx, tag.RowsAffected(), jobID, owner)
}

// UnlockJob clears the lock of a job owned by owner.
func (s *Store) UnlockJob(ctx context.Context, jobID id.JobID, owner id.NodeID) error {
	now := s.now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE bpm_jobs SET lock_owner = '', lock_expires_at = NULL, updated_at = $3
		WHERE id = $1 AND state = 'pending' AND lock_owner = $2 AND lock_expires_at > $3`,
		jobID.String(), owner.String(), now,
	)
	if err != nil {
		return fmt.Errorf("bpmcore/postgres: unlock job: %w", err)
	}
	return s.owned(ctx, tag.RowsAffected(), jobID, owner)
}

// DeleteJob removes a job owned by owner.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID, owner id.NodeID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM bpm_jobs
		WHERE id = $1 AND state = 'pending' AND lock_owner = $2 AND lock_expires_at > $3`,
		jobID.String(), owner.String(), s.now(),
	)
	if err != nil {
		return fmt.Errorf("bpmcore/postgres: delete job: %w", err)
	}
	return s.owned(ctx, tag.RowsAffected(), jobID, owner)
}

// FailJob records a failed attempt of a job owned by owner.
func (s *Store) FailJob(ctx context.Context, jobID id.JobID, owner id.NodeID, f job.Failure) error {
	var query string
	if f.Terminal {
		query = `
			UPDATE bpm_jobs
			SET retries = $4, last_error = $5, state = 'failed', failed_at = $6, updated_at = $6
			WHERE id = $1 AND state = 'pending' AND lock_owner = $2 AND lock_expires_at > $3`
	} else {
		query = `
			UPDATE bpm_jobs
			SET retries = $4, last_error = $5, lock_owner = '', lock_expires_at = NULL, updated_at = $6
			WHERE id = $1 AND state = 'pending' AND lock_owner = $2 AND lock_expires_at > $3`
	}
	tag, err := s.pool.Exec(ctx, query,
		jobID.String(), owner.String(), s.now(), f.Retries, f.Reason, f.At,
	)
	if err != nil {
		return fmt.Errorf("bpmcore/postgres: fail job: %w", err)
	}
	return s.owned(ctx, tag.RowsAffected(), jobID, owner)
}

// CancelJob removes a job that is not locked at now.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM bpm_jobs
		WHERE id = $1
		  AND (state = 'failed' OR lock_expires_at IS NULL OR lock_expires_at <= $2)`,
		jobID.String(), now,
	)
	if err != nil {
		return fmt.Errorf("bpmcore/postgres: cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOr(ctx, "bpm_jobs", jobID.String(), bpmcore.ErrJobNotFound,
			fmt.Errorf("%w: job %s is locked", bpmcore.ErrLockConflict, jobID))
	}
	return nil
}

// SetJobRetries re-arms a job with the given retries.
func (s *Store) SetJobRetries(ctx context.Context, jobID id.JobID, expectedState job.State, expected job.Lock, retries int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bpm_jobs
		SET retries = $2, state = 'pending', failed_at = NULL,
		    lock_owner = '', lock_expires_at = NULL, updated_at = $3
		WHERE id = $1
		  AND state = $4
		  AND lock_owner = $5
		  AND lock_expires_at IS NOT DISTINCT FROM $6`,
		jobID.String(), retries, s.now(),
		string(expectedState), expected.Owner.String(), nullTime(expected.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("bpmcore/postgres: set job retries: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOr(ctx, "bpm_jobs", jobID.String(), bpmcore.ErrJobNotFound,
			fmt.Errorf("%w: job %s changed since it was read", bpmcore.ErrLockConflict, jobID))
	}
	return nil
}

// ListJobs returns jobs matching opts ordered by due time, then ID.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	where, args := jobFilter(opts.State, opts.ExecutionID)
	query := `SELECT ` + jobColumns + ` FROM bpm_jobs` + where +
		` ORDER BY due_at ASC, id COLLATE "C" ASC`

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bpmcore/postgres: list jobs: %w", err)
	}
	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	where, args := jobFilter(opts.State, opts.ExecutionID)
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bpm_jobs`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("bpmcore/postgres: count jobs: %w", err)
	}
	return count, nil
}

// owned maps an owner-checked write that touched no rows to NotFound or
// LockConflict.
func (s *Store) owned(ctx context.Context, affected int64, jobID id.JobID, owner id.NodeID) error {
	if affected > 0 {
		return nil
	}
	return s.missingOr(ctx, "bpm_jobs", jobID.String(), bpmcore.ErrJobNotFound,
		fmt.Errorf("%w: job %s is not locked by %s", bpmcore.ErrLockConflict, jobID, owner))
}

func jobFilter(state job.State, execID id.ExecutionID) (string, []any) {
	var (
		where string
		args  []any
	)
	if state != "" {
		args = append(args, string(state))
		where = fmt.Sprintf(" WHERE state = $%d", len(args))
	}
	if !execID.IsNil() {
		args = append(args, execID.String())
		if where == "" {
			where = fmt.Sprintf(" WHERE execution_id = $%d", len(args))
		} else {
			where += fmt.Sprintf(" AND execution_id = $%d", len(args))
		}
	}
	return where, args
}

// scanJob scans a single row into a job.Job.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j                                 job.Job
		idStr, execStr, instStr, ownerStr string
		stateStr                          string
		timeoutNs                         int64
	)
	err := row.Scan(
		&idStr, &j.Name, &execStr, &instStr, &j.Payload, &stateStr, &j.DueAt,
		&ownerStr, &j.LockExpiresAt, &j.Retries, &j.LastError, &j.FailedAt,
		&timeoutNs, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)

	if j.ID, err = parseOptionalID(idStr, id.PrefixJob); err != nil {
		return nil, err
	}
	if j.ExecutionID, err = parseOptionalID(execStr, id.PrefixExecution); err != nil {
		return nil, err
	}
	if j.InstanceID, err = parseOptionalID(instStr, id.PrefixExecution); err != nil {
		return nil, err
	}
	if j.LockOwner, err = parseOptionalID(ownerStr, id.PrefixNode); err != nil {
		return nil, err
	}
	return &j, nil
}

// collectJobs reads all rows into a slice of jobs.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("bpmcore/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bpmcore/postgres: iterate job rows: %w", err)
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	return jobs, nil
}
