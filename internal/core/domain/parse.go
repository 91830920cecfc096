package domain

// RawDocument represents opaque bytes fetched for downstream parsing.
type RawDocument struct {
	// EntityKey links to the entity the document belongs to.
	EntityKey string

	// URI is the original location.
	URI string

	// MIMEType is the content type (e.g. "text/html").
	MIMEType string

	// Content is the raw bytes.
	Content []byte
}

// ParseResult is the outcome of parsing one document. It is either a
// ParseSuccess or a ParseFailure; use a type switch to handle both.
type ParseResult interface {
	isParseResult()
}

// ParseSuccess carries the fields extracted from a document.
type ParseSuccess struct {
	Fields Fields
}

// ParseFailure carries a typed reason the document could not be parsed.
type ParseFailure struct {
	Type    ErrorType
	Message string
}

func (ParseSuccess) isParseResult() {}
func (ParseFailure) isParseResult() {}

// Error implements the error interface so failures can travel as errors.
func (f ParseFailure) Error() string {
	if f.Message == "" {
		return string(f.Type)
	}
	return string(f.Type) + ": " + f.Message
}

// ErrorType implements TypedError.
func (f ParseFailure) ErrorType() ErrorType {
	return f.Type
}

// Failf builds a ParseFailure.
func Failf(t ErrorType, message string) ParseFailure {
	return ParseFailure{Type: t, Message: message}
}
