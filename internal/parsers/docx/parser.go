// Package docx parses Word (OOXML) documents into their title and text.
package docx

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

// Ensure Parser implements the interface.
var _ driven.DocumentParser = (*Parser)(nil)

// MIMEType is the content type of a .docx file.
const MIMEType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

const (
	bodyPart  = "word/document.xml"
	propsPart = "docProps/core.xml"
)

// Parser handles DOCX documents.
type Parser struct{}

// New creates a new DOCX parser.
func New() *Parser {
	return &Parser{}
}

// Name identifies the parser in logs.
func (p *Parser) Name() string {
	return "docx"
}

// SupportedMIMETypes returns the MIME types this parser handles.
func (p *Parser) SupportedMIMETypes() []string {
	return []string{MIMEType}
}

// Priority returns the selection priority.
func (p *Parser) Priority() int {
	return 50
}

// Parse extracts paragraph text from the document body and the title from
// the core properties. An archive without a body part is structurally
// broken; one whose body holds no text is empty.
func (p *Parser) Parse(_ context.Context, raw *domain.RawDocument) domain.ParseResult {
	archive, err := zip.NewReader(bytes.NewReader(raw.Content), int64(len(raw.Content)))
	if err != nil {
		return domain.Failf(domain.ErrorTypeUnsupportedContent, "not a docx archive: "+err.Error())
	}

	body, ok, err := readPart(archive, bodyPart)
	if err != nil {
		return domain.Failf(domain.ErrorTypeUnsupportedContent, err.Error())
	}
	if !ok {
		return domain.Failf(domain.ErrorTypeStructureMissing, "archive has no "+bodyPart)
	}

	paragraphs, err := paragraphText(body)
	if err != nil {
		return domain.Failf(domain.ErrorTypeStructureMissing, err.Error())
	}
	text := strings.TrimSpace(strings.Join(paragraphs, "\n"))
	if text == "" {
		return domain.Failf(domain.ErrorTypeEmptyDocument, "document has no text")
	}

	fields := domain.Fields{
		"text":       text,
		"paragraphs": len(paragraphs),
	}
	if title := coreTitle(archive); title != "" {
		fields["title"] = title
	}
	return domain.ParseSuccess{Fields: fields}
}

// readPart returns the bytes of one archive member.
func readPart(archive *zip.Reader, name string) ([]byte, bool, error) {
	for _, f := range archive.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, true, fmt.Errorf("opening %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, true, fmt.Errorf("reading %s: %w", name, err)
		}
		return data, true, nil
	}
	return nil, false, nil
}

// body mirrors the parts of word/document.xml that carry text.
type body struct {
	Paragraphs []struct {
		Runs []struct {
			Text []string `xml:"t"`
		} `xml:"r"`
	} `xml:"body>p"`
}

// paragraphText returns the non-empty paragraphs in document order.
func paragraphText(data []byte) ([]string, error) {
	var doc body
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed %s: %w", bodyPart, err)
	}
	var out []string
	for _, para := range doc.Paragraphs {
		var b strings.Builder
		for _, r := range para.Runs {
			for _, t := range r.Text {
				b.WriteString(t)
			}
		}
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// coreTitle reads dc:title from the core properties, if present.
func coreTitle(archive *zip.Reader) string {
	data, ok, err := readPart(archive, propsPart)
	if !ok || err != nil {
		return ""
	}
	var props struct {
		Title string `xml:"title"`
	}
	if xml.Unmarshal(data, &props) != nil {
		return ""
	}
	return strings.TrimSpace(props.Title)
}
