package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/task"
)

const taskColumns = `
	id, execution_id, name, assignee, state, completed_at, created_at, updated_at`

// CreateTask persists a new task.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bpm_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.ExecutionID.String(), t.Name, t.Assignee,
		string(t.State), toNullNanos(t.CompletedAt),
		toNanos(t.CreatedAt), toNanos(t.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return bpmcore.ErrTaskAlreadyExists
		}
		return fmt.Errorf("bpmcore/sqlite: create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM bpm_tasks WHERE id = ?`,
		taskID.String(),
	)
	t, err := scanTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, bpmcore.ErrTaskNotFound
		}
		return nil, fmt.Errorf("bpmcore/sqlite: get task: %w", err)
	}
	return t, nil
}

// AssignTask sets assignee and state if the stored state is expected.
func (s *Store) AssignTask(ctx context.Context, taskID id.TaskID, expected task.State, assignee string, next task.State) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bpm_tasks SET assignee = ?, state = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		assignee, string(next), toNanos(s.now()), taskID.String(), string(expected),
	)
	if err != nil {
		return fmt.Errorf("bpmcore/sqlite: assign task: %w", err)
	}
	if affected(res) == 0 {
		return rowMissingOr(ctx, s.db, "bpm_tasks", taskID.String(), bpmcore.ErrTaskNotFound, bpmcore.ErrConcurrentUpdate)
	}
	return nil
}

// CompleteTask applies a completion in one transaction.
func (s *Store) CompleteTask(ctx context.Context, c *task.Completion) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx) error {
		at := toNanos(c.CompletedAt)
		res, err := tx.ExecContext(ctx, `
			UPDATE bpm_tasks SET state = ?, completed_at = ?, updated_at = ?
			WHERE id = ? AND state = ?`,
			string(task.StateCompleted), at, at, c.TaskID.String(), string(c.ExpectedState),
		)
		if err != nil {
			return fmt.Errorf("bpmcore/sqlite: complete task: %w", err)
		}
		if affected(res) == 0 {
			return rowMissingOr(ctx, tx, "bpm_tasks", c.TaskID.String(), bpmcore.ErrTaskNotFound, bpmcore.ErrConcurrentUpdate)
		}

		if err := s.upsertVariables(ctx, tx, c.ExecutionID, c.Variables); err != nil {
			return err
		}
		for _, j := range c.Jobs {
			if err := insertJob(ctx, tx, j); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t                    task.Task
		idStr, execStr       string
		stateStr             string
		completedAt          sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&idStr, &execStr, &t.Name, &t.Assignee, &stateStr,
		&completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.State = task.State(stateStr)
	t.CompletedAt = fromNullNanos(completedAt)
	t.CreatedAt = fromNanos(createdAt)
	t.UpdatedAt = fromNanos(updatedAt)

	if t.ID, err = parseOptionalID(idStr, id.PrefixTask); err != nil {
		return nil, err
	}
	if t.ExecutionID, err = parseOptionalID(execStr, id.PrefixExecution); err != nil {
		return nil, err
	}
	return &t, nil
}
