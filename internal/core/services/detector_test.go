package services

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/harvest/internal/core/domain"
)

func newTestDetector() *ChangeDetector {
	return NewChangeDetector(testConfig().Detector)
}

func TestChangeDetector_NewWhenNeverSeen(t *testing.T) {
	cs := newTestDetector().Classify(domain.Fields{"id": 1, "title": "A"}, nil)
	assert.Equal(t, domain.ChangeNew, cs.Kind)
	assert.Empty(t, cs.Changes)
}

func TestChangeDetector_EmptyStoredFieldsAreNotNew(t *testing.T) {
	cs := newTestDetector().Classify(domain.Fields{"title": "A"}, domain.Fields{})
	assert.Equal(t, domain.ChangeUpdated, cs.Kind)
	assert.Equal(t, []domain.FieldChange{{Field: "title", Old: nil, New: "A"}}, cs.Changes)
}

func TestChangeDetector_Classify(t *testing.T) {
	tests := []struct {
		name     string
		incoming domain.Fields
		existing domain.Fields
		want     domain.ChangeKind
	}{
		{"identical", domain.Fields{"title": "A"}, domain.Fields{"title": "A"}, domain.ChangeUnchanged},
		{"whitespace", domain.Fields{"title": "  A "}, domain.Fields{"title": "A"}, domain.ChangeUnchanged},
		{"text differs", domain.Fields{"title": "B"}, domain.Fields{"title": "A"}, domain.ChangeUpdated},
		{"null sentinel equals absent", domain.Fields{"status": "N/A"}, domain.Fields{}, domain.ChangeUnchanged},
		{"null sentinel equals empty", domain.Fields{"status": "-"}, domain.Fields{"status": ""}, domain.ChangeUnchanged},
		{"value appears", domain.Fields{"status": "open"}, domain.Fields{"status": nil}, domain.ChangeUpdated},
		{"number forms", domain.Fields{"amount": json.Number("42.0")}, domain.Fields{"amount": 42}, domain.ChangeUnchanged},
		{"number from string", domain.Fields{"amount": "1,250.5"}, domain.Fields{"amount": 1250.5}, domain.ChangeUnchanged},
		{"number differs", domain.Fields{"amount": json.Number("43")}, domain.Fields{"amount": 42}, domain.ChangeUpdated},
		{"date layouts", domain.Fields{"deadline": "31/12/2024"}, domain.Fields{"deadline": "2024-12-31"}, domain.ChangeUnchanged},
		{"date-only against instant", domain.Fields{"deadline": "2024-12-31T00:00:00Z"}, domain.Fields{"deadline": "2024-12-31"}, domain.ChangeUpdated},
		{"midnight instants in other offsets", domain.Fields{"deadline": "2024-03-01T00:00:00+02:00"}, domain.Fields{"deadline": "2024-03-01T00:00:00Z"}, domain.ChangeUpdated},
		{"same instant in other offsets", domain.Fields{"deadline": "2024-03-01T00:00:00+02:00"}, domain.Fields{"deadline": "2024-02-29T22:00:00Z"}, domain.ChangeUnchanged},
		{"same midnight instant", domain.Fields{"deadline": "2024-12-31T00:00:00Z"}, domain.Fields{"deadline": "2024-12-31 00:00:00"}, domain.ChangeUnchanged},
		{"date differs", domain.Fields{"deadline": "2025-01-01"}, domain.Fields{"deadline": "2024-12-31"}, domain.ChangeUpdated},
		{"unparseable date compared as text", domain.Fields{"deadline": "soon"}, domain.Fields{"deadline": "soon"}, domain.ChangeUnchanged},
		{"outside comparison set", domain.Fields{"title": "A", "views": 9}, domain.Fields{"title": "A", "views": 1}, domain.ChangeUnchanged},
	}

	d := newTestDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := d.Classify(tt.incoming, tt.existing)
			assert.Equal(t, tt.want, cs.Kind)
			if tt.want == domain.ChangeUpdated {
				assert.NotEmpty(t, cs.Changes)
			} else {
				assert.Empty(t, cs.Changes)
			}
		})
	}
}

func TestChangeDetector_ChangesFollowFieldOrder(t *testing.T) {
	cs := newTestDetector().Classify(
		domain.Fields{"amount": 2, "title": "B", "status": "open"},
		domain.Fields{"amount": 1, "title": "A", "status": "open"},
	)

	assert.Equal(t, domain.ChangeUpdated, cs.Kind)
	assert.Equal(t, []domain.FieldChange{
		{Field: "title", Old: "A", New: "B"},
		{Field: "amount", Old: 1, New: 2},
	}, cs.Changes)
}

func TestChangeDetector_AutoKind(t *testing.T) {
	d := NewChangeDetector(domain.DetectorConfig{
		Fields:      []domain.FieldSpec{{Name: "meta", Kind: domain.FieldAuto}, {Name: "open"}},
		DateLayouts: []string{"2006-01-02"},
	})

	same := d.Classify(
		domain.Fields{"meta": map[string]any{"a": 1, "b": "x"}, "open": true},
		domain.Fields{"meta": map[string]any{"b": "x", "a": 1}, "open": true},
	)
	assert.Equal(t, domain.ChangeUnchanged, same.Kind)

	flipped := d.Classify(domain.Fields{"open": false}, domain.Fields{"open": true})
	assert.Equal(t, domain.ChangeUpdated, flipped.Kind)
}

func TestChangeDetector_Fields(t *testing.T) {
	d := newTestDetector()
	assert.Len(t, d.Fields(), 4)
	assert.Equal(t, "title", d.Fields()[0].Name)
}
