package domain

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
)

// ErrorType is a closed vocabulary tag for downstream processing failures.
// Tags are aggregated, so free text belongs in the error message instead.
type ErrorType string

// Built-in error types.
const (
	// ErrorTypeNone is the empty tag carried by pending and successful attempts.
	ErrorTypeNone ErrorType = ""

	// ErrorTypeUpstreamNotFound indicates the document URL returned 404/410.
	ErrorTypeUpstreamNotFound ErrorType = "UPSTREAM_NOT_FOUND"

	// ErrorTypeUpstreamServerError indicates the document host returned 5xx.
	ErrorTypeUpstreamServerError ErrorType = "UPSTREAM_SERVER_ERROR"

	// ErrorTypeUpstreamClientError indicates any other 4xx response.
	ErrorTypeUpstreamClientError ErrorType = "UPSTREAM_CLIENT_ERROR"

	// ErrorTypeStructureMissing indicates the parser could not find expected structure.
	ErrorTypeStructureMissing ErrorType = "EXPECTED_STRUCTURE_MISSING"

	// ErrorTypeUnsupportedContent indicates no parser handles the content type.
	ErrorTypeUnsupportedContent ErrorType = "UNSUPPORTED_CONTENT"

	// ErrorTypeEmptyDocument indicates the document body was empty.
	ErrorTypeEmptyDocument ErrorType = "EMPTY_DOCUMENT"

	// ErrorTypeTimeout indicates the per-item timeout elapsed.
	ErrorTypeTimeout ErrorType = "TIMEOUT"

	// ErrorTypeTransient indicates an unexpected, probably transient, failure.
	ErrorTypeTransient ErrorType = "TRANSIENT_EXCEPTION"
)

var (
	errorTypesMu sync.RWMutex
	errorTypes   = map[ErrorType]struct{}{
		ErrorTypeUpstreamNotFound:    {},
		ErrorTypeUpstreamServerError: {},
		ErrorTypeUpstreamClientError: {},
		ErrorTypeStructureMissing:    {},
		ErrorTypeUnsupportedContent:  {},
		ErrorTypeEmptyDocument:       {},
		ErrorTypeTimeout:             {},
		ErrorTypeTransient:           {},
	}
)

// RegisterErrorType extends the vocabulary with a parser-specific tag.
// Registering an existing tag is a no-op.
func RegisterErrorType(t ErrorType) error {
	if t == ErrorTypeNone {
		return ErrInvalidInput
	}
	errorTypesMu.Lock()
	defer errorTypesMu.Unlock()
	errorTypes[t] = struct{}{}
	return nil
}

// IsValid returns true if the tag is part of the registered vocabulary.
func (t ErrorType) IsValid() bool {
	errorTypesMu.RLock()
	defer errorTypesMu.RUnlock()
	_, ok := errorTypes[t]
	return ok
}

// String returns the tag.
func (t ErrorType) String() string {
	return string(t)
}

// ErrorTypes returns the registered vocabulary in sorted order.
func ErrorTypes() []ErrorType {
	errorTypesMu.RLock()
	defer errorTypesMu.RUnlock()
	out := make([]ErrorType, 0, len(errorTypes))
	for t := range errorTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TypedError is implemented by errors that know their own error type.
type TypedError interface {
	error
	ErrorType() ErrorType
}

// StatusError is implemented by errors carrying an upstream HTTP status.
type StatusError interface {
	error
	HTTPStatus() int
}

// ClassifyError maps an error onto the vocabulary.
// Typed errors win, then HTTP status, then timeouts; anything else is transient.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeNone
	}

	var typed TypedError
	if errors.As(err, &typed) && typed.ErrorType().IsValid() {
		return typed.ErrorType()
	}

	var status StatusError
	if errors.As(err, &status) {
		code := status.HTTPStatus()
		switch {
		case code == 404 || code == 410:
			return ErrorTypeUpstreamNotFound
		case code >= 500:
			return ErrorTypeUpstreamServerError
		case code >= 400:
			return ErrorTypeUpstreamClientError
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeTimeout
	}

	if errors.Is(err, ErrUnsupportedType) {
		return ErrorTypeUnsupportedContent
	}

	return ErrorTypeTransient
}
