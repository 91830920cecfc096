package parsers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

type stubParser struct {
	name     string
	mimes    []string
	priority int
	panics   bool
}

func (s *stubParser) Name() string                 { return s.name }
func (s *stubParser) SupportedMIMETypes() []string { return s.mimes }
func (s *stubParser) Priority() int                { return s.priority }

func (s *stubParser) Parse(_ context.Context, _ *domain.RawDocument) domain.ParseResult {
	if s.panics {
		panic("boom")
	}
	return domain.ParseSuccess{Fields: domain.Fields{"parser": s.name}}
}

var _ driven.DocumentParser = (*stubParser)(nil)

func doc(mime, content string) *domain.RawDocument {
	return &domain.RawDocument{URI: "https://docs.test/1", MIMEType: mime, Content: []byte(content)}
}

func parsedBy(t *testing.T, res domain.ParseResult) string {
	t.Helper()
	ok, isOK := res.(domain.ParseSuccess)
	require.True(t, isOK, "expected success, got %#v", res)
	return ok.Fields["parser"].(string)
}

func TestRegistry_PicksHighestPriority(t *testing.T) {
	r := NewRegistry(
		&stubParser{name: "low", mimes: []string{"text/html"}, priority: 10},
		&stubParser{name: "high", mimes: []string{"text/html"}, priority: 90},
		&stubParser{name: "any", mimes: []string{"*"}, priority: 1},
	)

	assert.Equal(t, "high", parsedBy(t, r.Parse(context.Background(), doc("text/html", "<p>x</p>"))))
	assert.Equal(t, "any", parsedBy(t, r.Parse(context.Background(), doc("application/pdf", "%PDF"))))
	assert.Equal(t, []string{"text/html"}, r.SupportedMIMETypes())
}

func TestRegistry_MIMECaseInsensitive(t *testing.T) {
	r := NewRegistry(&stubParser{name: "html", mimes: []string{"text/html"}, priority: 50})

	assert.Equal(t, "html", parsedBy(t, r.Parse(context.Background(), doc("Text/HTML", "<p>x</p>"))))
}

func TestRegistry_Failures(t *testing.T) {
	r := NewRegistry(
		&stubParser{name: "html", mimes: []string{"text/html"}, priority: 50},
		&stubParser{name: "bad", mimes: []string{"application/json"}, priority: 50, panics: true},
	)

	tests := []struct {
		name string
		raw  *domain.RawDocument
		want domain.ErrorType
	}{
		{"nil document", nil, domain.ErrorTypeEmptyDocument},
		{"blank body", doc("text/html", "  \n"), domain.ErrorTypeEmptyDocument},
		{"unsupported", doc("application/pdf", "%PDF"), domain.ErrorTypeUnsupportedContent},
		{"panic contained", doc("application/json", "{}"), domain.ErrorTypeTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Parse(context.Background(), tt.raw)
			failure, ok := res.(domain.ParseFailure)
			require.True(t, ok)
			assert.Equal(t, tt.want, failure.Type)
		})
	}
}
