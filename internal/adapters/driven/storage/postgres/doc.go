// Package postgres implements the harvest store ports on PostgreSQL using
// pgx connection pools.
//
// Chunk commits are sent as one pgx.Batch inside a transaction, and the
// per-dataset run lock is a session-level advisory lock held on a dedicated
// pooled connection for the lifetime of the run.
//
// The schema is created idempotently on NewStore from the embedded
// schema.sql.
package postgres
