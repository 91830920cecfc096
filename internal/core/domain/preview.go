package domain

// PreviewReport is the side-effect free result of a dry run.
type PreviewReport struct {
	Counters     PreviewCounters `json:"counters"`
	NewItems     []PreviewItem   `json:"new_items"`
	UpdatedItems []PreviewUpdate `json:"updated_items"`
	Failed       int             `json:"failed,omitempty"`
}

// NewPreviewReport returns an empty report whose item lists encode as
// empty arrays.
func NewPreviewReport() *PreviewReport {
	return &PreviewReport{
		NewItems:     []PreviewItem{},
		UpdatedItems: []PreviewUpdate{},
	}
}

// PreviewCounters are the classification totals of a preview.
type PreviewCounters struct {
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Total     int `json:"total"`
}

// PreviewItem is a record that would be inserted.
type PreviewItem struct {
	ID     string `json:"id"`
	Fields Fields `json:"fields,omitempty"`
}

// PreviewUpdate is a record that would be updated.
type PreviewUpdate struct {
	ID            string        `json:"id"`
	ChangedFields []FieldChange `json:"changed_fields"`
}

// Add folds one change set into the report.
func (r *PreviewReport) Add(cs ChangeSet, fields Fields) {
	r.Counters.Total++
	switch cs.Kind {
	case ChangeNew:
		r.Counters.New++
		r.NewItems = append(r.NewItems, PreviewItem{ID: cs.Key, Fields: fields})
	case ChangeUpdated:
		r.Counters.Updated++
		r.UpdatedItems = append(r.UpdatedItems, PreviewUpdate{ID: cs.Key, ChangedFields: cs.Changes})
	case ChangeUnchanged:
		r.Counters.Unchanged++
	}
}
