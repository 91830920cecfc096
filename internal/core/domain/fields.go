package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Fields holds the semantic values of one upstream record, keyed by field name.
// Values are whatever the payload decoder produced (string, float64, bool,
// json.Number, nested maps and slices, or nil).
type Fields map[string]any

// Clone returns a shallow copy of the fields.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Get returns a field value and whether it was present.
func (f Fields) Get(name string) (any, bool) {
	if f == nil {
		return nil, false
	}
	v, ok := f[name]
	return v, ok
}

// LookupPath walks a decoded JSON value along a dotted path such as
// "meta.pagination.total" or "items.0.url". Numeric segments index arrays.
// An empty path returns v itself.
func LookupPath(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case Fields:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// KeyString renders an identity key value in its canonical string form.
// Numeric keys decoded from JSON as float64 render without a fraction,
// so 42 and "42" identify the same entity.
func KeyString(v any) string {
	switch k := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(k)
	case json.Number:
		return k.String()
	case float64:
		if k == float64(int64(k)) {
			return strconv.FormatInt(int64(k), 10)
		}
		return strconv.FormatFloat(k, 'f', -1, 64)
	case float32:
		return KeyString(float64(k))
	case int:
		return strconv.Itoa(k)
	case int64:
		return strconv.FormatInt(k, 10)
	case int32:
		return strconv.FormatInt(int64(k), 10)
	case uint64:
		return strconv.FormatUint(k, 10)
	default:
		b, err := json.Marshal(k)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Record is one incoming upstream record after extraction from a page.
type Record struct {
	// Key is the upstream identity key in canonical string form.
	Key string

	// Fields are the record's values.
	Fields Fields

	// SnapshotID is the snapshot the record was read from.
	SnapshotID string

	// PageIndex is the page the record was read from.
	PageIndex int

	// Position is the record's index within its page.
	Position int
}
