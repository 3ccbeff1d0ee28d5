package models

import (
	"encoding/json"
	"time"
)

// Operation represents a queued mutation type.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// QueueEntry is a pending mutation intent awaiting replay against the
// remote. At most one entry exists per entity at a time: a newer mutation
// replaces the entry in place (coalescing) instead of appending.
type QueueEntry struct {
	EntityType    string          `db:"entity_type" json:"entity_type"`
	EntityID      string          `db:"entity_id" json:"entity_id"` // = EntityRecord.LocalID
	Operation     Operation       `db:"operation" json:"operation"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	EnqueuedAt    int64           `db:"enqueued_at" json:"enqueued_at"`
	AttemptCount  int             `db:"attempt_count" json:"attempt_count"`
	NextAttemptAt int64           `db:"next_attempt_at" json:"next_attempt_at"`
	LastError     string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for QueueEntry.
func (QueueEntry) TableName() string {
	return "sync_queue"
}

// EnqueuedAtTime returns EnqueuedAt as time.Time.
func (e *QueueEntry) EnqueuedAtTime() time.Time {
	return time.Unix(e.EnqueuedAt, 0)
}

// Ready reports whether the entry's retry gate has passed at now.
func (e *QueueEntry) Ready(now time.Time) bool {
	return e.NextAttemptAt <= now.Unix()
}
