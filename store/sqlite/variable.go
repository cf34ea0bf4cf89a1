package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/variable"
)

// GetVariables returns all variables of a scope.
func (s *Store) GetVariables(ctx context.Context, scopeID id.ExecutionID) (map[string]variable.Value, error) {
	scopes, err := loadVariables(ctx, s.db, []string{scopeID.String()})
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
	return s.inTx(ctx, nil, func(tx *sql.Tx) error {
		return s.upsertVariables(ctx, tx, scopeID, vars)
	})
}

func (s *Store) upsertVariables(ctx context.Context, q querier, scopeID id.ExecutionID, vars map[string]variable.Value) error {
	now := toNanos(s.now())
	for name, v := range vars {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("bpmcore/sqlite: encode variable %q: %w", name, err)
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO bpm_variables (scope_id, name, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (scope_id, name) DO UPDATE
			SET value = excluded.value, updated_at = excluded.updated_at`,
			scopeID.String(), name, string(data), now,
		)
		if err != nil {
			return fmt.Errorf("bpmcore/sqlite: set variable %q: %w", name, err)
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

	args := make([]any, len(scopeIDs))
	for i, sc := range scopeIDs {
		args[i] = sc
	}
	rows, err := q.QueryContext(ctx,
		`SELECT scope_id, name, value FROM bpm_variables WHERE scope_id IN (`+placeholders(len(args))+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("bpmcore/sqlite: get variables: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			scope, name, raw string
			v                variable.Value
		)
		if err := rows.Scan(&scope, &name, &raw); err != nil {
			return nil, fmt.Errorf("bpmcore/sqlite: scan variable: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("bpmcore/sqlite: decode variable %q: %w", name, err)
		}
		if out[scope] == nil {
			out[scope] = make(map[string]variable.Value)
		}
		out[scope][name] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bpmcore/sqlite: iterate variables: %w", err)
	}
	return out, nil
}
