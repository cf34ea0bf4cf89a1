package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/variable"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetVariables returns all variables of a scope.
func (s *Store) GetVariables(ctx context.Context, scopeID id.ExecutionID) (map[string]variable.Value, error) {
	scopes, err := loadVariables(ctx, s.pool, []string{scopeID.String()})
	if err != nil {
		return nil, err
	}
	vars := scopes[scopeID.String()]
	if vars == nil {
		vars = map[string]variable.Value{}
	}
	return vars, nil
}

// SetVariables upserts variables into a scope in one transaction.
func (s *Store) SetVariables(ctx context.Context, scopeID id.ExecutionID, vars map[string]variable.Value) error {
	if len(vars) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return s.upsertVariables(ctx, tx, scopeID, vars)
	})
}

func (s *Store) upsertVariables(ctx context.Context, q querier, scopeID id.ExecutionID, vars map[string]variable.Value) error {
	now := s.now()
	for name, v := range vars {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("bpmcore/postgres: encode variable %q: %w", name, err)
		}
		_, err = q.Exec(ctx, `
			INSERT INTO bpm_variables (scope_id, name, value, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (scope_id, name) DO UPDATE
			SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
			scopeID.String(), name, string(data), now,
		)
		if err != nil {
			return fmt.Errorf("bpmcore/postgres: set variable %q: %w", name, err)
		}
	}
	return nil
}

// loadVariables reads the variables of every scope in scopeIDs, keyed by
// scope ID.
func loadVariables(ctx context.Context, q querier, scopeIDs []string) (map[string]map[string]variable.Value, error) {
	out := make(map[string]map[string]variable.Value, len(scopeIDs))
	if len(scopeIDs) == 0 {
		return out, nil
	}

	rows, err := q.Query(ctx,
		`SELECT scope_id, name, value FROM bpm_variables WHERE scope_id = ANY($1)`,
		scopeIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("bpmcore/postgres: get variables: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			scope, name string
			raw         []byte
			v           variable.Value
		)
		if err := rows.Scan(&scope, &name, &raw); err != nil {
			return nil, fmt.Errorf("bpmcore/postgres: scan variable: %w", err)
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("bpmcore/postgres: decode variable %q: %w", name, err)
		}
		if out[scope] == nil {
			out[scope] = make(map[string]variable.Value)
		}
		out[scope][name] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bpmcore/postgres: iterate variables: %w", err)
	}
	return out, nil
}
