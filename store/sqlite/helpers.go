package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/bpmcore/id"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a SQLite error is a unique constraint violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func toNullNanos(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

// parseOptionalID parses an ID column where the empty string means Nil.
func parseOptionalID(s string, prefix id.Prefix) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	parsed, err := id.ParseWithPrefix(s, prefix)
	if err != nil {
		return id.Nil, fmt.Errorf("bpmcore/sqlite: parse id %q: %w", s, err)
	}
	return parsed, nil
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// rowMissingOr distinguishes a missing row from a failed conditional
// update.
func rowMissingOr(ctx context.Context, q querier, table, rowID string, notFound, conflict error) error {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE id = ?`, rowID,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("bpmcore/sqlite: check %s: %w", table, err)
	}
	if n == 0 {
		return notFound
	}
	return conflict
}

func affected(res sql.Result) int64 {
	n, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return n
}
