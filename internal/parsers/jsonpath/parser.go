// Package jsonpath parses JSON documents by mapping output fields to dotted
// paths into the decoded payload.
package jsonpath

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

// Ensure Parser implements the interface.
var _ driven.DocumentParser = (*Parser)(nil)

// Parser extracts fields from JSON documents.
type Parser struct {
	fields   map[string]string
	required []string
}

// New creates a JSON parser for the configured paths.
func New(cfg domain.ExtractorConfig) *Parser {
	return &Parser{
		fields:   cfg.Fields,
		required: cfg.Required,
	}
}

// Name identifies the parser in logs.
func (p *Parser) Name() string {
	return "json"
}

// SupportedMIMETypes returns the MIME types this parser handles.
func (p *Parser) SupportedMIMETypes() []string {
	return []string{"application/json", "application/ld+json", "text/json"}
}

// Priority returns the selection priority.
func (p *Parser) Priority() int {
	return 60
}

// Parse extracts the configured paths. Without configured fields a
// top-level object is returned as-is.
func (p *Parser) Parse(_ context.Context, raw *domain.RawDocument) domain.ParseResult {
	dec := json.NewDecoder(bytes.NewReader(raw.Content))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return domain.Failf(domain.ErrorTypeStructureMissing, fmt.Sprintf("decode json: %v", err))
	}

	if len(p.fields) == 0 {
		obj, ok := root.(map[string]any)
		if !ok {
			return domain.Failf(domain.ErrorTypeStructureMissing, fmt.Sprintf("top-level value is %T, not an object", root))
		}
		return domain.ParseSuccess{Fields: domain.Fields(obj)}
	}

	out := make(domain.Fields, len(p.fields))
	for name, path := range p.fields {
		if v, ok := domain.LookupPath(root, path); ok && v != nil {
			out[name] = v
		}
	}

	for _, name := range p.required {
		if _, ok := out[name]; !ok {
			return domain.Failf(domain.ErrorTypeStructureMissing,
				fmt.Sprintf("required field %q not found (path %q)", name, p.fields[name]))
		}
	}

	return domain.ParseSuccess{Fields: out}
}
