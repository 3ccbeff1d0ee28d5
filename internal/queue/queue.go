// Package queue provides the durable queue of pending sync mutations.
//
// Entries survive process restarts so a crash mid-drain never loses a
// pending mutation. At most one entry exists per entity: a newer mutation
// replaces the existing entry in place (coalescing), keeping its original
// queue position for fairness while resetting the retry state.
package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/kelvinhuang/offsync/internal/models"
)

const entryColumns = "entity_type, entity_id, operation, payload, enqueued_at, attempt_count, next_attempt_at, last_error"

// SyncQueue is the SQLite-backed mutation queue.
type SyncQueue struct {
	db *sql.DB
}

// NewSyncQueue creates a SyncQueue over an opened database.
func NewSyncQueue(db *sql.DB) *SyncQueue {
	return &SyncQueue{db: db}
}

// Enqueue adds a mutation intent for an entity. If an entry for the entity
// already exists it is replaced in place: operation and payload take the
// latest values, attempt state resets, and the original enqueued_at is
// preserved so coalescing cannot starve an old entry.
func (q *SyncQueue) Enqueue(ctx context.Context, entry *models.QueueEntry) error {
	if entry.EnqueuedAt == 0 {
		entry.EnqueuedAt = time.Now().Unix()
	}
	query := `
	INSERT INTO sync_queue (entity_type, entity_id, operation, payload, enqueued_at, attempt_count, next_attempt_at, last_error)
	VALUES (?, ?, ?, ?, ?, 0, 0, '')
	ON CONFLICT(entity_id) DO UPDATE SET
		entity_type = excluded.entity_type,
		operation = excluded.operation,
		payload = excluded.payload,
		attempt_count = 0,
		next_attempt_at = 0,
		last_error = ''
	`
	_, err := q.db.ExecContext(ctx, query,
		entry.EntityType, entry.EntityID, entry.Operation, string(entry.Payload), entry.EnqueuedAt)
	return err
}

// DequeueNext returns the oldest entry whose retry gate has passed, or nil
// when none is ready. The entry stays queued; it is removed only once the
// drain confirms the operation via RemoveForEntity.
func (q *SyncQueue) DequeueNext(ctx context.Context) (*models.QueueEntry, error) {
	query := `
	SELECT ` + entryColumns + `
	FROM sync_queue
	WHERE next_attempt_at <= ?
	ORDER BY enqueued_at, entity_id
	LIMIT 1
	`
	row := q.db.QueryRowContext(ctx, query, time.Now().Unix())
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// GetForEntity returns the entry for an entity, or nil if none is queued.
func (q *SyncQueue) GetForEntity(ctx context.Context, entityID string) (*models.QueueEntry, error) {
	query := "SELECT " + entryColumns + " FROM sync_queue WHERE entity_id = ?"
	row := q.db.QueryRowContext(ctx, query, entityID)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// RemoveForEntity removes the queued entry for an entity, if any.
func (q *SyncQueue) RemoveForEntity(ctx context.Context, entityID string) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM sync_queue WHERE entity_id = ?", entityID)
	return err
}

// PeekAll returns every queued entry in FIFO order, retry-gated or not.
func (q *SyncQueue) PeekAll(ctx context.Context) ([]*models.QueueEntry, error) {
	query := "SELECT " + entryColumns + " FROM sync_queue ORDER BY enqueued_at, entity_id"
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Len returns the number of queued entries.
func (q *SyncQueue) Len(ctx context.Context) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue").Scan(&count)
	return count, err
}

// MarkFailed records a failed replay attempt: the attempt count increments
// and the retry gate moves out by an exponential backoff bounded by min
// and max.
func (q *SyncQueue) MarkFailed(ctx context.Context, entityID string, cause error, min, max time.Duration) error {
	entry, err := q.GetForEntity(ctx, entityID)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}

	attempts := entry.AttemptCount + 1
	gate := time.Now().Add(Backoff(attempts, min, max)).Unix()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	_, err = q.db.ExecContext(ctx, `
	UPDATE sync_queue
	SET attempt_count = ?, next_attempt_at = ?, last_error = ?
	WHERE entity_id = ?`,
		attempts, gate, msg, entityID)
	return err
}

// Backoff computes the exponential retry delay for the given attempt
// count: min * 2^(attempts-1), capped at max.
func Backoff(attempts int, min, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := min
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	var payload string
	err := row.Scan(&entry.EntityType, &entry.EntityID, &entry.Operation, &payload,
		&entry.EnqueuedAt, &entry.AttemptCount, &entry.NextAttemptAt, &entry.LastError)
	if err != nil {
		return nil, err
	}
	entry.Payload = []byte(payload)
	return &entry, nil
}
