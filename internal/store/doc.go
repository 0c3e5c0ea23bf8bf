// Package store provides SQLite-backed durable storage for measurement runs.
//
// The store keeps two append-only tables:
//   - runs: one record per run (kind, column manifest, final state, error)
//   - rows: the run's result rows, keyed by (run_id, seq)
//
// # Ordering
//
// Rows are read back ORDER BY seq ASC, which is append order. seq restarts at
// zero after a Clear, matching the in-memory table.
//
// # Database Configuration
//
//   - WAL mode: a viewer can read a run while it is being written
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: rows cannot outlive their run
package store
