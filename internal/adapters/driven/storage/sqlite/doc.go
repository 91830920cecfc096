// Package sqlite provides a unified SQLite-based implementation of the
// harvest store ports.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that
// requires no CGO. One database connection backs every store:
//
//   - SnapshotStore: append-only raw page audit trail
//   - EntityStore: normalised entities and their change history
//   - RunStore: pipeline run audit rows
//   - AttemptStore: downstream per-item processing state
//   - RunLocker: per-dataset lease lock with heartbeat
//   - SchedulerStore: cron task state and history
//
// # Schema
//
// The schema is managed through versioned migrations embedded from the
// migrations/ directory. Snapshots and entity change rows are protected by
// triggers that reject UPDATE and DELETE.
//
// # Data Location
//
// By default, the database is stored at ~/.harvest/data/harvest.db
//
// # Thread Safety
//
// All operations are safe for concurrent use. Chunk commits run inside a
// single transaction; SQLite in WAL mode serialises writers.
package sqlite
