// Package sqlite implements store.Store on database/sql with the pure-Go
// modernc.org/sqlite driver. Suitable for embedded and edge deployments,
// CLI tools, and single-node engines.
//
// The database runs in WAL mode behind a single connection, so every
// statement and transaction is serialized. Timestamps are stored as Unix
// nanoseconds.
//
//	s, err := sqlite.New(ctx, "bpm.db")
//	if err != nil { ... }
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil { ... }
package sqlite
