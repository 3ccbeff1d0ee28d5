// Package store provides the durable local cache of entity records.
//
// The store is the single source of truth for what the app believes right
// now. Reads never touch the network; every mutation notifies active
// watchers with a fresh full snapshot.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kelvinhuang/offsync/internal/models"
	"github.com/kelvinhuang/offsync/internal/syncerrors"
)

const recordColumns = "local_id, server_id, payload, sync_status, created_at, local_updated_at"

// LocalStore is the SQLite-backed cache of entity records.
type LocalStore struct {
	db       *sql.DB
	watchers *watcherSet
}

// NewLocalStore creates a LocalStore over an opened database.
func NewLocalStore(db *sql.DB) *LocalStore {
	return &LocalStore{
		db:       db,
		watchers: newWatcherSet(),
	}
}

// GetAll returns every cached record ordered by creation time.
func (s *LocalStore) GetAll(ctx context.Context) ([]*models.EntityRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM entity_records ORDER BY created_at, local_id", recordColumns)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.EntityRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetByID returns the record for a local id, or nil if none is cached.
func (s *LocalStore) GetByID(ctx context.Context, localID string) (*models.EntityRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM entity_records WHERE local_id = ?", recordColumns)
	row := s.db.QueryRowContext(ctx, query, localID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetPendingSync returns all records whose mutations are not yet confirmed
// by the remote, ordered by local update time.
func (s *LocalStore) GetPendingSync(ctx context.Context) ([]*models.EntityRecord, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM entity_records WHERE sync_status != ? ORDER BY local_updated_at, local_id",
		recordColumns)
	rows, err := s.db.QueryContext(ctx, query, models.StatusSynced)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.EntityRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PendingSyncCount returns the number of records not yet synced.
func (s *LocalStore) PendingSyncCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entity_records WHERE sync_status != ?",
		models.StatusSynced).Scan(&count)
	return count, err
}

// Save upserts a record, atomic per local id, and notifies watchers.
func (s *LocalStore) Save(ctx context.Context, rec *models.EntityRecord) error {
	if rec.LocalID == "" {
		return fmt.Errorf("record has no local id")
	}
	if !rec.SyncStatus.Valid() {
		return fmt.Errorf("record %s has invalid sync status %q", rec.LocalID, rec.SyncStatus)
	}
	now := time.Now().Unix()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	rec.LocalUpdatedAt = now

	query := `
	INSERT INTO entity_records (local_id, server_id, payload, sync_status, created_at, local_updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO UPDATE SET
		server_id = excluded.server_id,
		payload = excluded.payload,
		sync_status = excluded.sync_status,
		local_updated_at = excluded.local_updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.LocalID, nullable(rec.ServerID), string(rec.Payload), rec.SyncStatus,
		rec.CreatedAt, rec.LocalUpdatedAt)
	if err != nil {
		return err
	}

	s.notify(ctx)
	return nil
}

// Delete removes a record and notifies watchers. Deleting an absent id is
// a no-op.
func (s *LocalStore) Delete(ctx context.Context, localID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM entity_records WHERE local_id = ?", localID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n > 0 {
		s.notify(ctx)
	}
	return nil
}

// ReplaceSynced performs a full cache replacement from an authoritative
// remote read. Synced rows last written before since are dropped and the
// incoming records inserted as synced; rows with pending local mutations
// are preserved untouched so a refresh can never discard unconfirmed
// writes. The since cutoff is the moment the remote snapshot was
// requested: a row the drain confirmed while the fetch was in flight is
// newer than the snapshot and must survive it.
func (s *LocalStore) ReplaceSynced(ctx context.Context, records []*models.EntityRecord, since int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM entity_records WHERE sync_status = ? AND local_updated_at < ?",
		models.StatusSynced, since); err != nil {
		return err
	}

	now := time.Now().Unix()
	query := `
	INSERT INTO entity_records (local_id, server_id, payload, sync_status, created_at, local_updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO NOTHING
	`
	for _, rec := range records {
		createdAt := rec.CreatedAt
		if createdAt == 0 {
			createdAt = now
		}
		if _, err := tx.ExecContext(ctx, query,
			rec.LocalID, nullable(rec.ServerID), string(rec.Payload), models.StatusSynced,
			createdAt, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.notify(ctx)
	return nil
}

// WatchAll returns a stream of full snapshots. The current snapshot is
// emitted immediately; every subsequent mutation re-emits. The stream is
// closed when ctx is cancelled. Slow consumers only ever lose intermediate
// snapshots, never the latest one.
func (s *LocalStore) WatchAll(ctx context.Context) (<-chan []*models.EntityRecord, error) {
	snapshot, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return s.watchers.add(ctx, snapshot), nil
}

// notify pushes a fresh snapshot to all active watchers.
func (s *LocalStore) notify(ctx context.Context) {
	if !s.watchers.active() {
		return
	}
	snapshot, err := s.GetAll(ctx)
	if err != nil {
		// Watchers keep their previous snapshot; the next mutation retries.
		return
	}
	s.watchers.broadcast(snapshot)
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans one entity_records row, validating the envelope.
// A malformed status or payload surfaces as CACHE_CORRUPTED.
func scanRecord(row scanner) (*models.EntityRecord, error) {
	var rec models.EntityRecord
	var serverID sql.NullString
	var payload string
	var status string
	err := row.Scan(&rec.LocalID, &serverID, &payload, &status, &rec.CreatedAt, &rec.LocalUpdatedAt)
	if err != nil {
		return nil, err
	}
	if serverID.Valid {
		rec.ServerID = serverID.String
	}
	rec.SyncStatus = models.SyncStatus(status)
	if !rec.SyncStatus.Valid() {
		return nil, syncerrors.Corrupted(rec.LocalID, fmt.Errorf("unknown sync status %q", status))
	}
	if !json.Valid([]byte(payload)) {
		return nil, syncerrors.Corrupted(rec.LocalID, fmt.Errorf("payload is not valid JSON"))
	}
	rec.Payload = json.RawMessage(payload)
	return &rec, nil
}

// nullable maps the empty string to SQL NULL for server_id.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
