package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/harvest/internal/core/domain"
)

// ChangeDetector classifies incoming records against stored entities.
// Only the configured comparison fields are inspected; everything else in
// a record is carried along but can never cause an UPDATED.
type ChangeDetector struct {
	fields  []domain.FieldSpec
	nulls   map[string]struct{}
	layouts []dateLayout
}

// dateLayout is a parse layout and whether it carries a clock part.
type dateLayout struct {
	layout   string
	dateOnly bool
}

// NewChangeDetector creates a detector from configuration.
func NewChangeDetector(cfg domain.DetectorConfig) *ChangeDetector {
	nulls := make(map[string]struct{}, len(cfg.NullValues))
	for _, v := range cfg.NullValues {
		nulls[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	layouts := make([]dateLayout, 0, len(cfg.DateLayouts))
	for _, l := range cfg.DateLayouts {
		layouts = append(layouts, dateLayout{layout: l, dateOnly: !hasClock(l)})
	}
	return &ChangeDetector{
		fields:  cfg.Fields,
		nulls:   nulls,
		layouts: layouts,
	}
}

// Fields returns the comparison field-set in configuration order.
func (d *ChangeDetector) Fields() []domain.FieldSpec {
	return d.fields
}

// Classify compares incoming values with the stored ones.
// A nil existing map means the key has never been seen.
func (d *ChangeDetector) Classify(incoming, existing domain.Fields) domain.ChangeSet {
	if existing == nil {
		return domain.ChangeSet{Kind: domain.ChangeNew}
	}

	var changes []domain.FieldChange
	for _, spec := range d.fields {
		oldRaw, _ := existing.Get(spec.Name)
		newRaw, _ := incoming.Get(spec.Name)
		oldNorm, oldOK := d.normalise(spec.Kind, oldRaw)
		newNorm, newOK := d.normalise(spec.Kind, newRaw)
		if oldOK == newOK && oldNorm == newNorm {
			continue
		}
		changes = append(changes, domain.FieldChange{Field: spec.Name, Old: oldRaw, New: newRaw})
	}

	if len(changes) == 0 {
		return domain.ChangeSet{Kind: domain.ChangeUnchanged}
	}
	return domain.ChangeSet{Kind: domain.ChangeUpdated, Changes: changes}
}

// normalise reduces a value to a canonical string. The boolean is false
// when the value is absent or null-like.
func (d *ChangeDetector) normalise(kind domain.FieldKind, v any) (string, bool) {
	if v == nil {
		return "", false
	}

	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if _, null := d.nulls[strings.ToLower(s)]; null {
			return "", false
		}
		v = s
	}

	switch kind {
	case domain.FieldText:
		return "s:" + scalarString(v), true
	case domain.FieldNumber:
		if n, ok := toNumber(v, true); ok {
			return "n:" + n, true
		}
		return "s:" + scalarString(v), true
	case domain.FieldDate:
		if s, ok := v.(string); ok {
			if t, ok := d.parseDate(s); ok {
				return "d:" + t, true
			}
		}
		return "s:" + scalarString(v), true
	case domain.FieldBool:
		if b, ok := toBool(v); ok {
			return "b:" + strconv.FormatBool(b), true
		}
		return "s:" + scalarString(v), true
	}

	// auto
	switch val := v.(type) {
	case string:
		if t, ok := d.parseDate(val); ok {
			return "d:" + t, true
		}
		return "s:" + val, true
	case bool:
		return "b:" + strconv.FormatBool(val), true
	case map[string]any, domain.Fields, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return "s:" + fmt.Sprint(val), true
		}
		return "j:" + string(b), true
	}
	if n, ok := toNumber(v, false); ok {
		return "n:" + n, true
	}
	return "s:" + fmt.Sprint(v), true
}

// parseDate collapses date-only layouts to a calendar date and every
// layout with a clock part to a UTC instant.
func (d *ChangeDetector) parseDate(s string) (string, bool) {
	for _, l := range d.layouts {
		t, err := time.Parse(l.layout, s)
		if err != nil {
			continue
		}
		if l.dateOnly {
			return t.Format("2006-01-02"), true
		}
		return t.UTC().Format(time.RFC3339Nano), true
	}
	return "", false
}

// hasClock reports whether a layout parses an hour or minute.
func hasClock(layout string) bool {
	for _, tok := range []string{"15", "03", "04"} {
		if strings.Contains(layout, tok) {
			return true
		}
	}
	return false
}

// toNumber renders numeric values canonically so 42, 42.0 and json 42 match.
// Strings are only accepted when fromString is set.
func toNumber(v any, fromString bool) (string, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return "", false
		}
		f = parsed
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case string:
		if !fromString {
			return "", false
		}
		parsed, err := strconv.ParseFloat(strings.ReplaceAll(n, ",", ""), 64)
		if err != nil {
			return "", false
		}
		f = parsed
	default:
		return "", false
	}
	return strconv.FormatFloat(f, 'g', -1, 64), true
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(b) {
		case "true", "yes", "y", "1":
			return true, true
		case "false", "no", "n", "0":
			return false, true
		}
	case json.Number:
		return toBool(b.String())
	case float64:
		return b != 0, true
	}
	return false, false
}

func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case map[string]any, domain.Fields, []any:
		b, _ := json.Marshal(val)
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}
