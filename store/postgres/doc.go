// Package postgres implements the store using pgx/v5 with raw SQL.
//
// Job locks are changed with conditional UPDATE statements whose WHERE
// clause carries the lock the caller observed, so concurrent engine
// instances serialize on the row. Candidate scans use FOR UPDATE SKIP
// LOCKED to step over rows another instance is locking at that moment.
// Snapshots for queries run in a read-only REPEATABLE READ transaction and
// task completion runs in a single transaction. Schema migrations are
// embedded SQL files applied in filename order.
package postgres
