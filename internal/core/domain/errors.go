package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates no parser is registered for a content type.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrRunInProgress indicates another sync holds the run lock for the dataset.
	ErrRunInProgress = errors.New("run in progress")

	// ErrLockNotHeld indicates a lease was released or renewed by a non-holder.
	ErrLockNotHeld = errors.New("lock not held")

	// Fetch Errors.

	// ErrFetchAborted indicates the paginated fetch stopped before the end of data.
	// The run cannot vouch for completeness and is marked failed.
	ErrFetchAborted = errors.New("fetch aborted")

	// ErrDecodePayload indicates an upstream page had an unexpected shape.
	ErrDecodePayload = errors.New("unexpected payload shape")

	// ErrMissingIdentity indicates an incoming record has no identity key.
	ErrMissingIdentity = errors.New("record has no identity key")

	// Processing Errors.

	// ErrUnknownErrorType indicates an error type outside the registered vocabulary.
	ErrUnknownErrorType = errors.New("unknown error type")

	// ErrNoDocument indicates an entity carries no document reference to process.
	ErrNoDocument = errors.New("entity has no document reference")
)
