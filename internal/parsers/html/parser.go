package html

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

// Ensure Parser implements the interface.
var _ driven.DocumentParser = (*Parser)(nil)

var multiSpaces = regexp.MustCompile(`\s+`)

// Parser extracts fields from HTML documents.
type Parser struct {
	fields   map[string]string
	required []string
}

// New creates an HTML parser for the configured selectors.
func New(cfg domain.ExtractorConfig) *Parser {
	return &Parser{
		fields:   cfg.Fields,
		required: cfg.Required,
	}
}

// Name identifies the parser in logs.
func (p *Parser) Name() string {
	return "html"
}

// SupportedMIMETypes returns the MIME types this parser handles.
func (p *Parser) SupportedMIMETypes() []string {
	return []string{"text/html", "application/xhtml+xml"}
}

// Priority returns the selection priority.
func (p *Parser) Priority() int {
	return 50
}

// Parse extracts the configured fields.
func (p *Parser) Parse(_ context.Context, raw *domain.RawDocument) domain.ParseResult {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw.Content))
	if err != nil {
		return domain.Failf(domain.ErrorTypeStructureMissing, fmt.Sprintf("parse html: %v", err))
	}

	if len(p.fields) == 0 {
		return p.defaultFields(doc)
	}

	out := make(domain.Fields, len(p.fields))
	for name, selector := range p.fields {
		if v, ok := extract(doc, name, selector); ok {
			out[strings.TrimSuffix(name, "[]")] = v
		}
	}

	for _, name := range p.required {
		if _, ok := out[strings.TrimSuffix(name, "[]")]; !ok {
			return domain.Failf(domain.ErrorTypeStructureMissing,
				fmt.Sprintf("required field %q not found (selector %q)", name, p.fields[name]))
		}
	}

	return domain.ParseSuccess{Fields: out}
}

// defaultFields returns title and readable body text.
func (p *Parser) defaultFields(doc *goquery.Document) domain.ParseResult {
	doc.Find("script, style, noscript, svg").Remove()

	text := cleanText(doc.Find("body").Text())
	if text == "" {
		return domain.Failf(domain.ErrorTypeStructureMissing, "no body text")
	}

	out := domain.Fields{"text": text}
	if title := cleanText(doc.Find("title").First().Text()); title != "" {
		out["title"] = title
	}
	return domain.ParseSuccess{Fields: out}
}

// extract evaluates one selector. Empty matches count as missing.
func extract(doc *goquery.Document, name, selector string) (any, bool) {
	attr := ""
	if i := strings.LastIndex(selector, "@"); i > 0 {
		selector, attr = strings.TrimSpace(selector[:i]), selector[i+1:]
	}

	value := func(s *goquery.Selection) string {
		if attr != "" {
			v, _ := s.Attr(attr)
			return strings.TrimSpace(v)
		}
		return cleanText(s.Text())
	}

	sel := doc.Find(selector)
	if sel.Length() == 0 {
		return nil, false
	}

	if strings.HasSuffix(name, "[]") {
		var values []any
		sel.Each(func(_ int, s *goquery.Selection) {
			if v := value(s); v != "" {
				values = append(values, v)
			}
		})
		return values, len(values) > 0
	}

	v := value(sel.First())
	return v, v != ""
}

func cleanText(s string) string {
	return strings.TrimSpace(multiSpaces.ReplaceAllString(s, " "))
}
