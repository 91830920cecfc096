package domain

// ChangeKind classifies an incoming record against stored state.
type ChangeKind int

const (
	// ChangeUnchanged indicates no comparison field differs.
	ChangeUnchanged ChangeKind = iota

	// ChangeNew indicates no stored state exists for the key.
	ChangeNew

	// ChangeUpdated indicates at least one comparison field differs.
	ChangeUpdated
)

// String returns the classification label.
func (k ChangeKind) String() string {
	switch k {
	case ChangeNew:
		return "NEW"
	case ChangeUpdated:
		return "UPDATED"
	case ChangeUnchanged:
		return "UNCHANGED"
	default:
		return "UNKNOWN"
	}
}

// FieldChange is one differing comparison field.
type FieldChange struct {
	Field string `json:"field"`
	Old   any    `json:"old"`
	New   any    `json:"new"`
}

// ChangeSet is the ephemeral result of classifying one incoming record.
// Changes is non-empty if and only if Kind is ChangeUpdated.
type ChangeSet struct {
	Key     string
	Kind    ChangeKind
	Changes []FieldChange
}

// Counters aggregates classification outcomes.
type Counters struct {
	New          int `json:"new"`
	Updated      int `json:"updated"`
	Unchanged    int `json:"unchanged"`
	Failed       int `json:"failed"`
	Pages        int `json:"pages"`
	ChunksFailed int `json:"chunks_failed"`
}

// Add records one classification.
func (c *Counters) Add(kind ChangeKind) {
	switch kind {
	case ChangeNew:
		c.New++
	case ChangeUpdated:
		c.Updated++
	case ChangeUnchanged:
		c.Unchanged++
	}
}

// Merge adds another counter set into c.
func (c *Counters) Merge(o Counters) {
	c.New += o.New
	c.Updated += o.Updated
	c.Unchanged += o.Unchanged
	c.Failed += o.Failed
	c.Pages += o.Pages
	c.ChunksFailed += o.ChunksFailed
}

// Classified returns the number of records that reached the change detector.
func (c Counters) Classified() int {
	return c.New + c.Updated + c.Unchanged
}
