// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - PageClient: Requests one page of the upstream dataset
//   - PageDecoder: Extracts records and the total-count hint from a page payload
//   - SnapshotStore: Append-only raw page audit trail
//   - EntityStore: Normalised entity persistence with atomic chunk commits
//   - RunStore: Pipeline run audit rows
//   - RunLocker: Single-writer mutual exclusion per dataset
//   - AttemptStore: Downstream per-item processing state
//   - ConfigStore: Application configuration
//
// # Optional Interfaces
//
// These can be nil when the matching stage is not used:
//
//   - DocumentSource: Downloads documents referenced by entities
//   - ParserRegistry: Selects a DocumentParser by MIME type
//   - SchedulerStore: Scheduler task state and history
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter, connector, or parser package
package driven
