package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/bpmcore/id"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// parseOptionalID parses an ID column where the empty string means Nil.
func parseOptionalID(s string, prefix id.Prefix) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	parsed, err := id.ParseWithPrefix(s, prefix)
	if err != nil {
		return id.Nil, fmt.Errorf("bpmcore/postgres: parse id %q: %w", s, err)
	}
	return parsed, nil
}
