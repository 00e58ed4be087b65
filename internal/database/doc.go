// Package database provides SQLite-based storage for harvest run history.
//
// This package implements the HistoryDB, which stores:
//   - one row per harvest run with its per-kind counts
//   - one row per outcome, so the history of a single document can be
//     traced across runs
//   - the complete run as JSON for later reporting
//
// Design decision: We use SQLite (via modernc.org/sqlite) because:
// 1. No external dependencies - the database is a single file
// 2. CGO-free implementation allows easy cross-compilation
// 3. Cron-driven harvests need nothing more than an append-only log
// 4. WAL mode provides good concurrent read performance
package database
