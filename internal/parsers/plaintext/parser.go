// Package plaintext parses text documents into their trimmed content.
package plaintext

import (
	"context"
	"strings"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

// Ensure Parser implements the interface.
var _ driven.DocumentParser = (*Parser)(nil)

// Parser handles plain text documents.
type Parser struct{}

// New creates a new plain text parser.
func New() *Parser {
	return &Parser{}
}

// Name identifies the parser in logs.
func (p *Parser) Name() string {
	return "plaintext"
}

// SupportedMIMETypes returns the MIME types this parser handles.
func (p *Parser) SupportedMIMETypes() []string {
	return []string{"text/plain", "text/csv", "text/markdown"}
}

// Priority returns the selection priority.
func (p *Parser) Priority() int {
	return 5 // Fallback parser
}

// Parse returns the text and its line count.
func (p *Parser) Parse(_ context.Context, raw *domain.RawDocument) domain.ParseResult {
	text := strings.TrimSpace(strings.ReplaceAll(string(raw.Content), "\r\n", "\n"))
	if text == "" {
		return domain.Failf(domain.ErrorTypeEmptyDocument, "document has no text")
	}
	return domain.ParseSuccess{Fields: domain.Fields{
		"text":  text,
		"lines": strings.Count(text, "\n") + 1,
	}}
}
