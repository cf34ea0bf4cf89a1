package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bpm_executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.InstanceScope().String(), e.ParentID.String(),
		e.DefinitionID, e.DefinitionKey, e.BusinessKey, e.ActivityID,
		string(e.State), toNanos(e.CreatedAt), toNanos(e.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return bpmcore.ErrExecutionAlreadyExists
		}
		return fmt.Errorf("bpmcore/sqlite: create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM bpm_executions WHERE id = ?`,
		execID.String(),
	)
	e, err := scanExecution(row)
	if err != nil {
		if isNoRows(err) {
			return nil, bpmcore.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("bpmcore/sqlite: get execution: %w", err)
	}
	return e, nil
}

// TransitionExecution moves an execution from one state to another.
func (s *Store) TransitionExecution(ctx context.Context, execID id.ExecutionID, from, to execution.State) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bpm_executions SET state = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		string(to), toNanos(s.now()), execID.String(), string(from),
	)
	if err != nil {
		return fmt.Errorf("bpmcore/sqlite: transition execution: %w", err)
	}
	if affected(res) == 0 {
		return rowMissingOr(ctx, s.db, "bpm_executions", execID.String(), bpmcore.ErrExecutionNotFound, bpmcore.ErrConcurrentUpdate)
	}
	return nil
}

// SnapshotExecutions reads matching executions and their variables in one
// read transaction.
func (s *Store) SnapshotExecutions(ctx context.Context, f execution.Filter) ([]execution.Snapshot, error) {
	var snaps []execution.Snapshot
	err := s.inTx(ctx, &sql.TxOptions{ReadOnly: true}, func(tx *sql.Tx) error {
		where, args := executionFilter(f)
		rows, err := tx.QueryContext(ctx, `SELECT `+executionColumns+` FROM bpm_executions`+where, args...)
		if err != nil {
			return fmt.Errorf("bpmcore/sqlite: snapshot executions: %w", err)
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
		clauses = append(clauses, column+" = ?")
		args = append(args, value)
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
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*execution.Execution, error) {
	var (
		e                      execution.Execution
		idStr, instStr, parStr string
		stateStr               string
		createdAt, updatedAt   int64
	)
	err := row.Scan(
		&idStr, &instStr, &parStr, &e.DefinitionID, &e.DefinitionKey,
		&e.BusinessKey, &e.ActivityID, &stateStr, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.State = execution.State(stateStr)
	e.CreatedAt = fromNanos(createdAt)
	e.UpdatedAt = fromNanos(updatedAt)

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

func collectExecutions(rows *sql.Rows) ([]*execution.Execution, error) {
	defer rows.Close()
	var execs []*execution.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("bpmcore/sqlite: scan execution row: %w", err)
		}
		execs = append(execs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bpmcore/sqlite: iterate execution rows: %w", err)
	}
	return execs, nil
}
