package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/execution"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/variable"
)

const executionColumns = `
	id, instance_id, parent_id, definition_id, definition_key,
	business_key, activity_id, state, created_at, updated_at`

// CreateExecution persists a new execution.
func (s *Store) CreateExecution(ctx context.Context, e *execution.Execution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bpm_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID.String(), e.InstanceScope().String(), e.ParentID.String(),
		e.DefinitionID, e.DefinitionKey, e.BusinessKey, e.ActivityID,
		string(e.State), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return bpmcore.ErrExecutionAlreadyExists
		}
		return fmt.Errorf("bpmcore/postgres: create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM bpm_executions WHERE id = $1`,
		execID.String(),
	)
	e, err := scanExecution(row)
	if err != nil {
		if isNoRows(err) {
			return nil, bpmcore.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("bpmcore/postgres: get execution: %w", err)
	}
	return e, nil
}

// TransitionExecution moves an execution from one state to another.
func (s *Store) TransitionExecution(ctx context.Context, execID id.ExecutionID, from, to execution.State) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bpm_executions SET state = $3, updated_at = $4
		WHERE id = $1 AND state = $2`,
		execID.String(), string(from), string(to), s.now(),
	)
	if err != nil {
		return fmt.Errorf("bpmcore/postgres: transition execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOr(ctx, "bpm_executions", execID.String(), bpmcore.ErrExecutionNotFound, bpmcore.ErrConcurrentUpdate)
	}
	return nil
}

// SnapshotExecutions reads matching executions and their variables in one
// REPEATABLE READ transaction.
func (s *Store) SnapshotExecutions(ctx context.Context, f execution.Filter) ([]execution.Snapshot, error) {
	var snaps []execution.Snapshot
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, func(tx pgx.Tx) error {
		query, args := executionFilter(f)
		rows, err := tx.Query(ctx, `SELECT `+executionColumns+` FROM bpm_executions`+query, args...)
		if err != nil {
			return fmt.Errorf("bpmcore/postgres: snapshot executions: %w", err)
		}
		execs, err := collectExecutions(rows)
		if err != nil {
			return err
		}

		scopeSet := make(map[string]struct{}, len(execs)*2)
		for _, e := range execs {
			scopeSet[e.ID.String()] = struct{}{}
			scopeSet[e.InstanceScope().String()] = struct{}{}
		}
		scopes := make([]string, 0, len(scopeSet))
		for sc := range scopeSet {
			scopes = append(scopes, sc)
		}
		vars, err := loadVariables(ctx, tx, scopes)
		if err != nil {
			return err
		}

		snaps = make([]execution.Snapshot, 0, len(execs))
		for _, e := range execs {
			snaps = append(snaps, execution.Snapshot{
				Execution: e,
				Local:     variable.Clone(vars[e.ID.String()]),
				Instance:  variable.Clone(vars[e.InstanceScope().String()]),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snaps, nil
}

func executionFilter(f execution.Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if !f.ExecutionID.IsNil() {
		add("id", f.ExecutionID.String())
	}
	if !f.InstanceID.IsNil() {
		add("instance_id", f.InstanceID.String())
	}
	if f.DefinitionID != "" {
		add("definition_id", f.DefinitionID)
	}
	if f.DefinitionKey != "" {
		add("definition_key", f.DefinitionKey)
	}
	if f.BusinessKey != "" {
		add("business_key", f.BusinessKey)
	}
	if f.ActivityID != "" {
		add("activity_id", f.ActivityID)
	}
	if f.State != "" {
		add("state", string(f.State))
	}

	query := ""
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
			continue
		}
		query += " AND " + c
	}
	return query, args
}

func scanExecution(row pgx.Row) (*execution.Execution, error) {
	var (
		e                      execution.Execution
		idStr, instStr, parStr string
		stateStr               string
	)
	err := row.Scan(
		&idStr, &instStr, &parStr, &e.DefinitionID, &e.DefinitionKey,
		&e.BusinessKey, &e.ActivityID, &stateStr, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.State = execution.State(stateStr)

	if e.ID, err = parseOptionalID(idStr, id.PrefixExecution); err != nil {
		return nil, err
	}
	if e.InstanceID, err = parseOptionalID(instStr, id.PrefixExecution); err != nil {
		return nil, err
	}
	if e.ParentID, err = parseOptionalID(parStr, id.PrefixExecution); err != nil {
		return nil, err
	}
	return &e, nil
}

func collectExecutions(rows pgx.Rows) ([]*execution.Execution, error) {
	defer rows.Close()
	var execs []*execution.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("bpmcore/postgres: scan execution row: %w", err)
		}
		execs = append(execs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bpmcore/postgres: iterate execution rows: %w", err)
	}
	return execs, nil
}

// missingOr distinguishes a missing row from a failed conditional update.
func (s *Store) missingOr(ctx context.Context, table, rowID string, notFound, conflict error) error {
	return rowMissingOr(ctx, s.pool, table, rowID, notFound, conflict)
}

func rowMissingOr(ctx context.Context, q querier, table, rowID string, notFound, conflict error) error {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id = $1)`, rowID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("bpmcore/postgres: check %s: %w", table, err)
	}
	if !exists {
		return notFound
	}
	return conflict
}
