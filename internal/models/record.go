// Package models provides data model definitions for the offsync core.
package models

import (
	"encoding/json"
	"time"
)

// SyncStatus represents the reconciliation state of a cached record.
type SyncStatus string

const (
	StatusSynced        SyncStatus = "synced"
	StatusPendingCreate SyncStatus = "pending_create"
	StatusPendingUpdate SyncStatus = "pending_update"
	StatusPendingDelete SyncStatus = "pending_delete"
)

// Valid reports whether s is one of the known statuses.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusSynced, StatusPendingCreate, StatusPendingUpdate, StatusPendingDelete:
		return true
	}
	return false
}

// Pending reports whether the record still has an unconfirmed mutation.
func (s SyncStatus) Pending() bool {
	return s.Valid() && s != StatusSynced
}

// EntityRecord is the cached envelope around one entity.
//
// LocalID is generated on this device and stable for the record's lifetime.
// ServerID is empty until the first successful remote create and set exactly
// once. Invariant: StatusSynced implies a non-empty ServerID.
type EntityRecord struct {
	LocalID        string          `db:"local_id" json:"local_id"`
	ServerID       string          `db:"server_id" json:"server_id,omitempty"`
	Payload        json.RawMessage `db:"payload" json:"payload"`
	SyncStatus     SyncStatus      `db:"sync_status" json:"sync_status"`
	CreatedAt      int64           `db:"created_at" json:"created_at"`
	LocalUpdatedAt int64           `db:"local_updated_at" json:"local_updated_at"`
}

// TableName returns the table name for EntityRecord.
func (EntityRecord) TableName() string {
	return "entity_records"
}

// CreatedAtTime returns CreatedAt as time.Time.
func (r *EntityRecord) CreatedAtTime() time.Time {
	return time.Unix(r.CreatedAt, 0)
}

// LocalUpdatedAtTime returns LocalUpdatedAt as time.Time.
func (r *EntityRecord) LocalUpdatedAtTime() time.Time {
	return time.Unix(r.LocalUpdatedAt, 0)
}

// Touch updates the LocalUpdatedAt timestamp.
func (r *EntityRecord) Touch() {
	r.LocalUpdatedAt = time.Now().Unix()
}

// Clone returns a deep copy of the record.
func (r *EntityRecord) Clone() *EntityRecord {
	cp := *r
	if r.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	return &cp
}

// Task decodes the record payload as a Task.
func (r *EntityRecord) Task() (*Task, error) {
	var t Task
	if err := json.Unmarshal(r.Payload, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
