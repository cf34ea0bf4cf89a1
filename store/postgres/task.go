package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/task"
)

const taskColumns = `
	id, execution_id, name, assignee, state, completed_at, created_at, updated_at`

// CreateTask persists a new task.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bpm_tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID.String(), t.ExecutionID.String(), t.Name, t.Assignee,
		string(t.State), t.CompletedAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return bpmcore.ErrTaskAlreadyExists
		}
		return fmt.Errorf("bpmcore/postgres: create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM bpm_tasks WHERE id = $1`,
		taskID.String(),
	)
	t, err := scanTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, bpmcore.ErrTaskNotFound
		}
		return nil, fmt.Errorf("bpmcore/postgres: get task: %w", err)
	}
	return t, nil
}

// AssignTask sets assignee and state if the stored state is expected.
func (s *Store) AssignTask(ctx context.Context, taskID id.TaskID, expected task.State, assignee string, next task.State) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bpm_tasks SET assignee = $3, state = $4, updated_at = $5
		WHERE id = $1 AND state = $2`,
		taskID.String(), string(expected), assignee, string(next), s.now(),
	)
	if err != nil {
		return fmt.Errorf("bpmcore/postgres: assign task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOr(ctx, "bpm_tasks", taskID.String(), bpmcore.ErrTaskNotFound, bpmcore.ErrConcurrentUpdate)
	}
	return nil
}

// CompleteTask applies a completion in one transaction.
func (s *Store) CompleteTask(ctx context.Context, c *task.Completion) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE bpm_tasks SET state = $3, completed_at = $4, updated_at = $4
			WHERE id = $1 AND state = $2`,
			c.TaskID.String(), string(c.ExpectedState), string(task.StateCompleted), c.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("bpmcore/postgres: complete task: %w", err)
		}
		if tag.RowsAffected() == 0 {
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

func scanTask(row pgx.Row) (*task.Task, error) {
	var (
		t              task.Task
		idStr, execStr string
		stateStr       string
		completedAt    *time.Time
	)
	err := row.Scan(
		&idStr, &execStr, &t.Name, &t.Assignee, &stateStr,
		&completedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.State = task.State(stateStr)
	t.CompletedAt = completedAt

	if t.ID, err = parseOptionalID(idStr, id.PrefixTask); err != nil {
		return nil, err
	}
	if t.ExecutionID, err = parseOptionalID(execStr, id.PrefixExecution); err != nil {
		return nil, err
	}
	return &t, nil
}
