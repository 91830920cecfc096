package domain

import "time"

// Entity is the normalised, deduplicated state of one real-world record.
// It is identified by an upstream-assigned key and is only ever mutated
// by applying a ChangeSet; entities are never deleted.
type Entity struct {
	// Dataset names the dataset the entity belongs to.
	Dataset string

	// Key is the upstream identity key.
	Key string

	// Fields are the semantic values last accepted for the entity.
	Fields Fields

	// FirstSeenAt is set once, on first insert.
	FirstSeenAt time.Time

	// LastChangedAt is set only when a real field-level change is applied.
	// Nil if the entity never changed since creation.
	LastChangedAt *time.Time

	// LastRunID is the run that last wrote the entity.
	LastRunID string
}

// EntityWrite is one NEW or UPDATED result queued for an atomic chunk commit.
type EntityWrite struct {
	// Key is the entity identity key.
	Key string

	// Kind is ChangeNew or ChangeUpdated.
	Kind ChangeKind

	// Fields are the incoming values to store.
	Fields Fields

	// Changes lists the field transitions for updates.
	Changes []FieldChange
}

// EntityChange is an append-only history row for one field transition.
type EntityChange struct {
	Dataset   string
	Key       string
	RunID     string
	Field     string
	Old       any
	New       any
	ChangedAt time.Time
}
