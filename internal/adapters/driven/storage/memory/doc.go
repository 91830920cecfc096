// Package memory provides in-memory implementations of the driven store
// ports. They mirror the SQLite adapter's semantics, including atomic chunk
// commits and the single-writer run lock, and are used by service tests.
package memory
