package rest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/harvest/internal/core/domain"
)

func TestJSONDecoder_Decode(t *testing.T) {
	d := NewJSONDecoder(domain.UpstreamConfig{RecordsPath: "data", TotalPath: "meta.total"})

	page, err := d.Decode([]byte(`{"meta":{"total":120},"data":[{"id":42,"status":"approved"},{"id":99}]}`))

	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, json.Number("42"), page.Records[0]["id"])
	assert.Equal(t, "approved", page.Records[0]["status"])
	require.NotNil(t, page.TotalCount)
	assert.Equal(t, 120, *page.TotalCount)
}

func TestJSONDecoder_TopLevelArray(t *testing.T) {
	d := NewJSONDecoder(domain.UpstreamConfig{})

	page, err := d.Decode([]byte(`[{"id":"a"}]`))

	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.Nil(t, page.TotalCount)
}

func TestJSONDecoder_TotalHints(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    *int
	}{
		{"numeric string", `{"data":[],"total":"30"}`, intPtr(30)},
		{"missing", `{"data":[]}`, nil},
		{"negative", `{"data":[],"total":-1}`, nil},
		{"fractional", `{"data":[],"total":2.5}`, nil},
		{"beyond int range", `{"data":[],"total":1e30}`, nil},
		{"infinite string", `{"data":[],"total":"Inf"}`, nil},
		{"not a number string", `{"data":[],"total":"NaN"}`, nil},
		{"largest accepted", `{"data":[],"total":2147483647}`, intPtr(2147483647)},
		{"wrong type", `{"data":[],"total":{"n":1}}`, nil},
	}

	d := NewJSONDecoder(domain.UpstreamConfig{RecordsPath: "data", TotalPath: "total"})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := d.Decode([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, page.TotalCount)
		})
	}
}

func TestJSONDecoder_StructuralErrors(t *testing.T) {
	d := NewJSONDecoder(domain.UpstreamConfig{RecordsPath: "data"})

	payloads := []string{
		`not json`,
		`{"items":[]}`,
		`{"data":{"id":1}}`,
		`{"data":[1,2]}`,
	}
	for _, p := range payloads {
		_, err := d.Decode([]byte(p))
		assert.ErrorIs(t, err, domain.ErrDecodePayload, p)
	}
}

func TestJSONDecoder_NullRecords(t *testing.T) {
	d := NewJSONDecoder(domain.UpstreamConfig{RecordsPath: "data"})

	page, err := d.Decode([]byte(`{"data":null}`))

	require.NoError(t, err)
	assert.Empty(t, page.Records)
}

func intPtr(n int) *int { return &n }
