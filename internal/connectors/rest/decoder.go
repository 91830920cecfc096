package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

// Ensure JSONDecoder implements the interface.
var _ driven.PageDecoder = (*JSONDecoder)(nil)

// JSONDecoder extracts records from JSON page payloads.
type JSONDecoder struct {
	recordsPath string
	totalPath   string
}

// NewJSONDecoder creates a decoder for the configured payload layout.
func NewJSONDecoder(cfg domain.UpstreamConfig) *JSONDecoder {
	return &JSONDecoder{
		recordsPath: cfg.RecordsPath,
		totalPath:   cfg.TotalPath,
	}
}

// Decode parses a payload. Numbers are kept as json.Number so identity keys
// and totals survive without float rounding.
func (d *JSONDecoder) Decode(body []byte) (*driven.DecodedPage, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDecodePayload, err)
	}

	raw, ok := domain.LookupPath(root, d.recordsPath)
	if !ok {
		return nil, fmt.Errorf("%w: records path %q not found", domain.ErrDecodePayload, d.recordsPath)
	}

	page := &driven.DecodedPage{}
	switch items := raw.(type) {
	case nil:
		// An explicit null record list is an empty page.
	case []any:
		page.Records = make([]domain.Fields, 0, len(items))
		for i, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: record %d is %T, not an object", domain.ErrDecodePayload, i, item)
			}
			page.Records = append(page.Records, domain.Fields(obj))
		}
	default:
		return nil, fmt.Errorf("%w: records path %q holds %T, not an array", domain.ErrDecodePayload, d.recordsPath, raw)
	}

	if d.totalPath != "" {
		if v, ok := domain.LookupPath(root, d.totalPath); ok {
			if total, ok := toCount(v); ok {
				page.TotalCount = &total
			}
		}
	}

	return page, nil
}

// toCount accepts non-negative integral numbers or numeric strings that
// fit in an int32.
func toCount(v any) (int, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if f < 0 || f > math.MaxInt32 || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
