package plaintext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/harvest/internal/core/domain"
)

func TestParser_Parse(t *testing.T) {
	p := New()

	res := p.Parse(context.Background(), &domain.RawDocument{Content: []byte("line one\r\nline two\n")})

	success, ok := res.(domain.ParseSuccess)
	require.True(t, ok)
	assert.Equal(t, "line one\nline two", success.Fields["text"])
	assert.Equal(t, 2, success.Fields["lines"])
}

func TestParser_Blank(t *testing.T) {
	res := New().Parse(context.Background(), &domain.RawDocument{Content: []byte(" \n\t")})

	failure, ok := res.(domain.ParseFailure)
	require.True(t, ok)
	assert.Equal(t, domain.ErrorTypeEmptyDocument, failure.Type)
}
