// Package services implements the driving port interfaces.
//
// The sync path is Fetcher (paginated upstream reads with retry and
// snapshots), ChangeDetector (field-set comparison) and SyncService (chunked
// commits under the dataset run lock, checkpointed through RunTracker).
// ProcessingService handles per-document work and its reprocessing loop, and
// Scheduler runs all of it on cron schedules.
package services
