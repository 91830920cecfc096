// Package domain defines the core business entities for harvest.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - SourceSnapshot: An immutable audit record of one page fetch
//   - Entity: The normalised, deduplicated state of one upstream record
//   - ChangeSet: The classification of one incoming record against stored state
//   - PipelineRun: One audit row per sync invocation
//   - ProcessingAttempt: The outcome of one downstream per-item task
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
