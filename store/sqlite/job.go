package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/job"
)

const jobColumns = `
	id, name, execution_id, instance_id, payload, state, due_at,
	lock_owner, lock_expires_at, retries, last_error, failed_at,
	timeout, created_at, updated_at`

// ownedClause matches a pending job whose unexpired lock belongs to the
// caller. Its arguments are owner and now.
const ownedClause = `state = 'pending' AND lock_owner = ? AND lock_expires_at > ?`

// EnqueueJob persists a new job in pending state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	return insertJob(ctx, s.db, j)
}

func insertJob(ctx context.Context, q querier, j *job.Job) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO bpm_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID.String(), j.Name, j.ExecutionID.String(), j.InstanceID.String(),
		j.Payload, string(j.State), toNanos(j.DueAt),
		j.LockOwner.String(), toNullNanos(j.LockExpiresAt), j.Retries, j.LastError,
		toNullNanos(j.FailedAt), j.Timeout.Nanoseconds(),
		toNanos(j.CreatedAt), toNanos(j.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %s", bpmcore.ErrJobAlreadyExists, j.ID)
		}
		return fmt.Errorf("bpmcore/sqlite: enqueue job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM bpm_jobs WHERE id = ?`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, bpmcore.ErrJobNotFound
		}
		return nil, fmt.Errorf("bpmcore/sqlite: get job: %w", err)
	}
	return j, nil
}

// FindAcquirableJobs returns up to limit acquirable jobs, oldest due first.
func (s *Store) FindAcquirableJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	n := toNanos(now)
	query := `
		SELECT ` + jobColumns + ` FROM bpm_jobs
		WHERE state = 'pending'
		  AND due_at <= ?
		  AND (lock_expires_at IS NULL OR lock_expires_at <= ?)
		ORDER BY due_at ASC, id ASC`
	args := []any{n, n}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bpmcore/sqlite: find acquirable jobs: %w", err)
	}
	return collectJobs(rows)
}

// LockJob swaps the lock of a pending job if it still equals expected.
func (s *Store) LockJob(ctx context.Context, jobID id.JobID, expected, next job.Lock) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bpm_jobs
		SET lock_owner = ?, lock_expires_at = ?, updated_at = ?
		WHERE id = ?
		  AND state = 'pending'
		  AND lock_owner = ?
		  AND lock_expires_at IS ?`,
		next.Owner.String(), lockNanos(next), toNanos(s.now()),
		jobID.String(),
		expected.Owner.String(), lockNanos(expected),
	)
	if err != nil {
		return fmt.Errorf("bpmcore/sqlite: lock job: %w", err)
	}
	if affected(res) == 0 {
		return rowMissingOr(ctx, s.db, "bpm_jobs", jobID.String(), bpmcore.ErrJobNotFound,
			fmt.Errorf("%w: job %s lock changed", bpmcore.ErrLockConflict, jobID))
	}
	return nil
}

// ExtendJobLock moves the lock expiry of a job owned by owner.
func (s *Store) ExtendJobLock(ctx context.Context, jobID id.JobID, owner id.NodeID, until time.Time) error {
	now := toNanos(s.now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE bpm_jobs SET lock_expires_at = ?, updated_at = ?
		WHERE id = ? AND `+ownedClause,
		toNanos(until), now, jobID.String(), owner.String(), now,
	)
	if err != nil {
		return fmt.Errorf("bpmcore/sqlite: extend job lock: %w", err)
	}
	return s.owned(ctx, res, jobID, owner)
}

// UnlockJob clears the lock of a job owned by owner.
func (s *Store) UnlockJob(ctx context.Context, jobID id.JobID, owner id.NodeID) error {
	now := toNanos(s.now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE bpm_jobs SET lock_owner = '', lock_expires_at = NULL, updated_at = ?
		WHERE id = ? AND `+ownedClause,
		now, jobID.String(), owner.String(), now,
	)
	if err != nil {
		return fmt.Errorf("bpmcore/sqlite: unlock job: %w", err)
	}
	return s.owned(ctx, res, jobID, owner)
}

// DeleteJob removes a job owned by owner.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID, owner id.NodeID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM bpm_jobs WHERE id = ? AND `+ownedClause,
		jobID.String(), owner.String(), toNanos(s.now()),
	)
	if err != nil {
		return fmt.Errorf("bpmcore/sqlite: delete job: %w", err)
	}
	return s.owned(ctx, res, jobID, owner)
}

// FailJob records a failed attempt of a job owned by owner.
func (s *Store) FailJob(ctx context.Context, jobID id.JobID, owner id.NodeID, f job.Failure) error {
	at := toNanos(f.At)
	var (
		res sql.Result
		err error
	)
	if f.Terminal {
		res, err = s.db.ExecContext(ctx, `
			UPDATE bpm_jobs
			SET retries = ?, last_error = ?, state = 'failed', failed_at = ?, updated_at = ?
			WHERE id = ? AND `+ownedClause,
			f.Retries, f.Reason, at, at, jobID.String(), owner.String(), toNanos(s.now()),
		)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE bpm_jobs
			SET retries = ?, last_error = ?, lock_owner = '', lock_expires_at = NULL, updated_at = ?
			WHERE id = ? AND `+ownedClause,
			f.Retries, f.Reason, at, jobID.String(), owner.String(), toNanos(s.now()),
		)
	}
	if err != nil {
		return fmt.Errorf("bpmcore/sqlite: fail job: %w", err)
	}
	return s.owned(ctx, res, jobID, owner)
}

// CancelJob removes a job that is not locked at now.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM bpm_jobs
		WHERE id = ?
		  AND (state = 'failed' OR lock_expires_at IS NULL OR lock_expires_at <= ?)`,
		jobID.String(), toNanos(now),
	)
	if err != nil {
		return fmt.Errorf("bpmcore/sqlite: cancel job: %w", err)
	}
	if affected(res) == 0 {
		return rowMissingOr(ctx, s.db, "bpm_jobs", jobID.String(), bpmcore.ErrJobNotFound,
			fmt.Errorf("%w: job %s is locked", bpmcore.ErrLockConflict, jobID))
	}
	return nil
}

// SetJobRetries re-arms a job with the given retries.
func (s *Store) SetJobRetries(ctx context.Context, jobID id.JobID, expectedState job.State, expected job.Lock, retries int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bpm_jobs
		SET retries = ?, state = 'pending', failed_at = NULL,
		    lock_owner = '', lock_expires_at = NULL, updated_at = ?
		WHERE id = ?
		  AND state = ?
		  AND lock_owner = ?
		  AND lock_expires_at IS ?`,
		retries, toNanos(s.now()), jobID.String(),
		string(expectedState), expected.Owner.String(), lockNanos(expected),
	)
	if err != nil {
		return fmt.Errorf("bpmcore/sqlite: set job retries: %w", err)
	}
	if affected(res) == 0 {
		return rowMissingOr(ctx, s.db, "bpm_jobs", jobID.String(), bpmcore.ErrJobNotFound,
			fmt.Errorf("%w: job %s changed since it was read", bpmcore.ErrLockConflict, jobID))
	}
	return nil
}

// ListJobs returns jobs matching opts ordered by due time, then ID.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	where, args := jobFilter(opts.State, opts.ExecutionID)
	query := `SELECT ` + jobColumns + ` FROM bpm_jobs` + where + ` ORDER BY due_at ASC, id ASC`

	switch {
	case opts.Limit > 0:
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	case opts.Offset > 0:
		query += ` LIMIT -1`
	}
	if opts.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bpmcore/sqlite: list jobs: %w", err)
	}
	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	where, args := jobFilter(opts.State, opts.ExecutionID)
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bpm_jobs`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("bpmcore/sqlite: count jobs: %w", err)
	}
	return count, nil
}

// owned maps an owner-checked write that touched no rows to NotFound or
// LockConflict.
func (s *Store) owned(ctx context.Context, res sql.Result, jobID id.JobID, owner id.NodeID) error {
	if affected(res) > 0 {
		return nil
	}
	return rowMissingOr(ctx, s.db, "bpm_jobs", jobID.String(), bpmcore.ErrJobNotFound,
		fmt.Errorf("%w: job %s is not locked by %s", bpmcore.ErrLockConflict, jobID, owner))
}

// lockNanos is the stored form of a lock expiry.
func lockNanos(l job.Lock) sql.NullInt64 {
	if l.ExpiresAt.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(l.ExpiresAt), Valid: true}
}

func jobFilter(state job.State, execID id.ExecutionID) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if state != "" {
		clauses = append(clauses, "state = ?")
		args = append(args, string(state))
	}
	if !execID.IsNil() {
		clauses = append(clauses, "execution_id = ?")
		args = append(args, execID.String())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j                                 job.Job
		idStr, execStr, instStr, ownerStr string
		stateStr                          string
		dueAt, createdAt, updatedAt       int64
		lockExpiresAt, failedAt           sql.NullInt64
		timeoutNs                         int64
	)
	err := row.Scan(
		&idStr, &j.Name, &execStr, &instStr, &j.Payload, &stateStr, &dueAt,
		&ownerStr, &lockExpiresAt, &j.Retries, &j.LastError, &failedAt,
		&timeoutNs, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.State = job.State(stateStr)
	j.DueAt = fromNanos(dueAt)
	j.LockExpiresAt = fromNullNanos(lockExpiresAt)
	j.FailedAt = fromNullNanos(failedAt)
	j.Timeout = time.Duration(timeoutNs)
	j.CreatedAt = fromNanos(createdAt)
	j.UpdatedAt = fromNanos(updatedAt)

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

func collectJobs(rows *sql.Rows) ([]*job.Job, error) {
	defer rows.Close()

	jobs := []*job.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("bpmcore/sqlite: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bpmcore/sqlite: iterate job rows: %w", err)
	}
	return jobs, nil
}
