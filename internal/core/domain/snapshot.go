package domain

import "time"

// SourceSnapshot is an immutable audit record of one page request.
// Snapshots are written for every request, successful or not, and are
// never updated or deleted. They deliberately carry no reference to
// entities so the audit trail survives re-normalisation.
type SourceSnapshot struct {
	// ID is the unique identifier for the snapshot.
	ID string

	// RunID links to the PipelineRun that requested the page.
	// Empty when fetched outside a tracked run.
	RunID string

	// Dataset names the target dataset being synchronised.
	Dataset string

	// Origin is the full request URL (or query description).
	Origin string

	// PageIndex is the page number requested.
	PageIndex int

	// FetchedAt is when the final request attempt completed.
	FetchedAt time.Time

	// StatusCode is the upstream response status, 0 if no response was received.
	StatusCode int

	// Payload is the raw response body.
	Payload []byte

	// Error describes why the page failed, empty on success.
	Error string

	// Attempts is how many requests were made for this page.
	Attempts int
}

// Failed reports whether the snapshot records a failed page.
func (s SourceSnapshot) Failed() bool {
	return s.Error != ""
}

// SnapshotFilter narrows snapshot listings.
type SnapshotFilter struct {
	// Dataset restricts results to one dataset.
	Dataset string

	// RunID restricts results to one run.
	RunID string

	// FailedOnly returns only snapshots with an error.
	FailedOnly bool

	// Limit caps the number of results (0 = no limit).
	Limit int
}
