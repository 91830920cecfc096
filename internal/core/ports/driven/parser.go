package driven

import (
	"context"

	"github.com/custodia-labs/harvest/internal/core/domain"
)

// DocumentParser extracts fields from a downloaded document.
// Each parser handles specific MIME types (e.g. HTML, JSON).
type DocumentParser interface {
	// Name identifies the parser in logs.
	Name() string

	// SupportedMIMETypes returns the MIME types this parser handles.
	// A "*" entry makes the parser a fallback for any type.
	SupportedMIMETypes() []string

	// Priority returns the selection priority (higher = preferred).
	// Specific parsers should return 50-100, fallbacks 1-9.
	Priority() int

	// Parse never panics on bad input; failures are returned as domain.ParseFailure.
	Parse(ctx context.Context, raw *domain.RawDocument) domain.ParseResult
}

// ParserRegistry selects the appropriate parser for a document.
type ParserRegistry interface {
	// Parse dispatches to the highest-priority parser for the MIME type.
	// Unknown types yield an UNSUPPORTED_CONTENT failure.
	Parse(ctx context.Context, raw *domain.RawDocument) domain.ParseResult

	// Register adds a parser to the registry.
	Register(parser DocumentParser)

	// SupportedMIMETypes returns all MIME types that can be parsed.
	SupportedMIMETypes() []string
}
