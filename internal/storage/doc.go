// Package storage is the durable progress store: one record per recipient,
// keyed by channel-qualified identity, holding the number of content items
// already delivered.
//
// Drivers:
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//   - "file":   JSON snapshot + append-only journal
//   - "memory": process-local map (tests, dry runs)
//
// Every driver keeps one long-lived handle for its lifetime. Faults are
// reported wrapped in ErrStore so callers can tell them apart from
// business outcomes.
package storage
