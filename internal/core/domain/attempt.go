package domain

import "time"

// AttemptStatus is the state of one downstream per-item task.
type AttemptStatus string

const (
	// AttemptPending marks work not yet attempted, or reset for a retry.
	AttemptPending AttemptStatus = "pending"

	// AttemptSuccess marks work that completed.
	AttemptSuccess AttemptStatus = "success"

	// AttemptError marks work that failed with a typed error.
	AttemptError AttemptStatus = "error"
)

// IsValid returns true if the status is recognised.
func (s AttemptStatus) IsValid() bool {
	switch s {
	case AttemptPending, AttemptSuccess, AttemptError:
		return true
	default:
		return false
	}
}

// ProcessingAttempt tracks one per-item downstream task such as parsing
// an entity's document. Rows are created lazily on first attempt, updated on
// every attempt, and never deleted.
type ProcessingAttempt struct {
	// ItemID uniquely identifies the unit of work.
	ItemID string

	// Dataset names the dataset of the owning entity.
	Dataset string

	// EntityKey links to the owning entity.
	EntityKey string

	// Task names the kind of work (e.g. "parse_document").
	Task string

	// DocumentURL is the document the task operates on.
	DocumentURL string

	// Status is the latest outcome.
	Status AttemptStatus

	// ErrorType is the latest failure tag; kept after a reset as history.
	ErrorType ErrorType

	// ErrorMessage is the latest free-text failure description.
	ErrorMessage string

	// Attempts counts completed attempts (success or error).
	Attempts int

	// ResetCount counts how many times the item was reset to pending.
	ResetCount int

	// LastAttemptAt is when the item was last attempted.
	LastAttemptAt *time.Time

	// Output holds the parsed fields of the last successful attempt.
	Output Fields

	// CreatedAt is when the row was created.
	CreatedAt time.Time
}

// AttemptRecord is one outcome reported to the attempt store.
type AttemptRecord struct {
	ItemID       string
	Dataset      string
	EntityKey    string
	Task         string
	DocumentURL  string
	Status       AttemptStatus
	ErrorType    ErrorType
	ErrorMessage string
	Output       Fields
	At           time.Time
}

// Validate checks the record is consistent with the vocabulary.
// Error records need a registered type; other statuses must not carry one.
func (r AttemptRecord) Validate() error {
	if r.ItemID == "" || !r.Status.IsValid() {
		return ErrInvalidInput
	}
	if r.Status == AttemptError {
		if !r.ErrorType.IsValid() {
			return ErrUnknownErrorType
		}
		return nil
	}
	if r.ErrorType != ErrorTypeNone {
		return ErrInvalidInput
	}
	return nil
}

// ErrorTypeCount is one row of a failure aggregation.
type ErrorTypeCount struct {
	ErrorType ErrorType `json:"error_type"`
	Count     int       `json:"count"`
}

// AttemptStats summarises attempts by status.
type AttemptStats struct {
	Pending int `json:"pending"`
	Success int `json:"success"`
	Error   int `json:"error"`
}

// AttemptFilter narrows attempt queries. Zero-value fields match everything.
type AttemptFilter struct {
	Dataset   string
	Task      string
	Status    AttemptStatus
	ErrorType ErrorType
	Limit     int
}
