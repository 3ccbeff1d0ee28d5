// Package engine orchestrates reads, optimistic writes and queue draining
// across the local store, the sync queue and the remote backend.
//
// Reads are remote-first with cache fallback; writes apply locally first
// and defer remote confirmation to the drain when the network is down or
// misbehaving. The engine owns references to its collaborators; none of
// them own each other.
package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/kelvinhuang/offsync/internal/connectivity"
	"github.com/kelvinhuang/offsync/internal/models"
	"github.com/kelvinhuang/offsync/internal/queue"
	"github.com/kelvinhuang/offsync/internal/remote"
	"github.com/kelvinhuang/offsync/internal/store"
	"github.com/kelvinhuang/offsync/internal/syncerrors"
	"github.com/kelvinhuang/offsync/internal/uuid"
)

// Config holds engine tuning knobs.
type Config struct {
	EntityType    string        // queue entry tag, e.g. "task"
	DrainInterval time.Duration // periodic drain cadence
	DrainTimeout  time.Duration // per-pass remote budget
	BackoffMin    time.Duration // first retry delay for a failed entry
	BackoffMax    time.Duration // retry delay cap
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		EntityType:    "task",
		DrainInterval: time.Minute,
		DrainTimeout:  5 * time.Minute,
		BackoffMin:    time.Second,
		BackoffMax:    60 * time.Second,
	}
}

// Engine is the repository facade over the sync core.
type Engine struct {
	store   *store.LocalStore
	queue   *queue.SyncQueue
	remote  remote.Client
	monitor connectivity.Monitor
	cfg     Config
	log     *logrus.Entry

	drains singleflight.Group
	locks  *lockTable

	sched *schedulerState
}

// New creates an Engine. All collaborators are required.
func New(st *store.LocalStore, q *queue.SyncQueue, rc remote.Client, mon connectivity.Monitor, cfg Config, log *logrus.Logger) *Engine {
	if cfg.EntityType == "" {
		cfg.EntityType = DefaultConfig().EntityType
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = DefaultConfig().DrainInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultConfig().DrainTimeout
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = DefaultConfig().BackoffMin
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = DefaultConfig().BackoffMax
	}

	return &Engine{
		store:   st,
		queue:   q,
		remote:  rc,
		monitor: mon,
		cfg:     cfg,
		log:     log.WithField("component", "engine"),
		locks:   newLockTable(),
		sched:   newSchedulerState(),
	}
}

// GetAll returns all entities. When forceRefresh is false and the device
// is offline the cache is returned as-is, possibly empty. Otherwise the
// remote is consulted: success replaces the synced portion of the cache,
// failure falls back to a non-empty cache or propagates.
func (e *Engine) GetAll(ctx context.Context, forceRefresh bool) ([]*models.EntityRecord, error) {
	if !forceRefresh && !e.monitor.Online() {
		return e.store.GetAll(ctx)
	}

	since := time.Now().Unix()
	dtos, err := e.remote.FetchAll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		cached, cacheErr := e.store.GetAll(ctx)
		if cacheErr != nil {
			return nil, cacheErr
		}
		if len(cached) > 0 {
			e.log.WithError(err).Debug("remote fetch failed, serving cache")
			return cached, nil
		}
		return nil, err
	}

	if err := e.replaceFromRemote(ctx, dtos, since); err != nil {
		return nil, err
	}
	return e.store.GetAll(ctx)
}

// GetByID returns one entity. The cache is consulted first; when online
// and the record is clean, a remote refresh overwrites it. The cached
// value is the ultimate fallback.
func (e *Engine) GetByID(ctx context.Context, localID string) (*models.EntityRecord, error) {
	unlock := e.locks.lock(localID)
	defer unlock()

	rec, err := e.store.GetByID(ctx, localID)
	if err != nil {
		return nil, err
	}

	if rec != nil && rec.SyncStatus == models.StatusSynced && rec.ServerID != "" && e.monitor.Online() {
		dto, err := e.remote.FetchByID(ctx, rec.ServerID)
		if err == nil {
			fresh := recordFromDTO(localID, rec.CreatedAt, dto)
			if err := e.store.Save(ctx, fresh); err != nil {
				return nil, err
			}
			return fresh, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		e.log.WithError(err).WithField("local_id", localID).Debug("remote fetch failed, serving cache")
	}

	if rec == nil {
		return nil, syncerrors.NotFound(localID)
	}
	return rec, nil
}

// WatchAll streams full snapshots: the current cache immediately, then one
// opportunistic remote refresh, then every subsequent local change. The
// stream never blocks on the network.
func (e *Engine) WatchAll(ctx context.Context) (<-chan []*models.EntityRecord, error) {
	ch, err := e.store.WatchAll(ctx)
	if err != nil {
		return nil, err
	}

	go func() {
		if !e.monitor.Online() {
			return
		}
		refreshCtx, cancel := context.WithTimeout(ctx, e.cfg.DrainTimeout)
		defer cancel()
		if _, err := e.GetAll(refreshCtx, true); err != nil {
			e.log.WithError(err).Debug("opportunistic watch refresh failed")
		}
	}()

	return ch, nil
}

// Create stores a new entity. When online the remote create is attempted
// synchronously; any remote failure falls back to the offline path, so the
// caller always gets a durable record back and never a rejected call.
func (e *Engine) Create(ctx context.Context, task *models.Task) (*models.EntityRecord, error) {
	payload, err := task.Marshal()
	if err != nil {
		return nil, err
	}

	localID := uuid.New()
	unlock := e.locks.lock(localID)
	defer unlock()

	now := time.Now().Unix()

	if e.monitor.Online() {
		dto, err := e.remote.Create(ctx, payload)
		if err == nil {
			rec := recordFromDTO(localID, now, dto)
			if err := e.store.Save(ctx, rec); err != nil {
				return nil, err
			}
			return rec, nil
		}
		if ctx.Err() != nil {
			// Cancelled before anything was stored; there is nothing to
			// roll back and nothing to queue.
			return nil, err
		}
		e.log.WithError(err).WithField("local_id", localID).Debug("remote create failed, queuing")
	}

	rec := &models.EntityRecord{
		LocalID:    localID,
		Payload:    payload,
		SyncStatus: models.StatusPendingCreate,
		CreatedAt:  now,
	}
	if err := e.store.Save(ctx, rec); err != nil {
		return nil, err
	}
	if err := e.enqueue(ctx, localID, models.OpCreate, payload); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update overwrites an entity's payload. When online and the entity is
// already known to the server the remote update runs synchronously; on
// failure, offline, or for a never-synced entity the change is applied
// locally and queued. A never-synced entity keeps pending_create and its
// queued create entry simply carries the newest payload.
func (e *Engine) Update(ctx context.Context, localID string, task *models.Task) (*models.EntityRecord, error) {
	payload, err := task.Marshal()
	if err != nil {
		return nil, err
	}

	unlock := e.locks.lock(localID)
	defer unlock()

	rec, err := e.store.GetByID(ctx, localID)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.SyncStatus == models.StatusPendingDelete {
		return nil, syncerrors.NotFound(localID)
	}

	if e.monitor.Online() && rec.ServerID != "" {
		dto, err := e.remote.Update(ctx, rec.ServerID, payload)
		if err == nil {
			fresh := recordFromDTO(localID, rec.CreatedAt, dto)
			if err := e.store.Save(ctx, fresh); err != nil {
				return nil, err
			}
			// A previously queued intent is confirmed superseded.
			if err := e.queue.RemoveForEntity(ctx, localID); err != nil {
				return nil, err
			}
			return fresh, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		e.log.WithError(err).WithField("local_id", localID).Debug("remote update failed, queuing")
	}

	status := models.StatusPendingUpdate
	op := models.OpUpdate
	if rec.ServerID == "" {
		status = models.StatusPendingCreate
		op = models.OpCreate
	}

	rec.Payload = payload
	rec.SyncStatus = status
	if err := e.store.Save(ctx, rec); err != nil {
		return nil, err
	}
	if err := e.enqueue(ctx, localID, op, payload); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes an entity. A never-synced entity is purged outright with
// its queue entry; there is nothing to tell the remote. Otherwise the
// remote delete is attempted when online, and on failure or offline the
// row is marked pending_delete and the intent queued. Deleting an unknown
// id is a no-op.
func (e *Engine) Delete(ctx context.Context, localID string) error {
	unlock := e.locks.lock(localID)
	defer unlock()

	rec, err := e.store.GetByID(ctx, localID)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	if rec.ServerID == "" {
		if err := e.store.Delete(ctx, localID); err != nil {
			return err
		}
		return e.queue.RemoveForEntity(ctx, localID)
	}

	if e.monitor.Online() {
		err := e.remote.Delete(ctx, rec.ServerID)
		if err == nil || syncerrors.Gone(err) {
			if err := e.store.Delete(ctx, localID); err != nil {
				return err
			}
			return e.queue.RemoveForEntity(ctx, localID)
		}
		if ctx.Err() != nil {
			return err
		}
		e.log.WithError(err).WithField("local_id", localID).Debug("remote delete failed, queuing")
	}

	rec.SyncStatus = models.StatusPendingDelete
	if err := e.store.Save(ctx, rec); err != nil {
		return err
	}
	return e.enqueue(ctx, localID, models.OpDelete, rec.Payload)
}

// PendingSyncCount returns the number of records awaiting confirmation,
// the caller-facing signal that a sync is outstanding.
func (e *Engine) PendingSyncCount(ctx context.Context) (int, error) {
	return e.store.PendingSyncCount(ctx)
}

// enqueue coalesces a mutation intent into the queue.
func (e *Engine) enqueue(ctx context.Context, localID string, op models.Operation, payload []byte) error {
	return e.queue.Enqueue(ctx, &models.QueueEntry{
		EntityType: e.cfg.EntityType,
		EntityID:   localID,
		Operation:  op,
		Payload:    payload,
	})
}

// replaceFromRemote maps an authoritative fetch onto the cache. Server
// entities already known locally keep their local id; unknown ones get a
// fresh id. Entities whose local row has a pending mutation are skipped
// entirely: the local intent wins until it drains. since is when the
// fetch was issued; rows written after that (a drain may have confirmed
// them while the response was in flight) outrank the snapshot and are
// left alone by the replacement.
func (e *Engine) replaceFromRemote(ctx context.Context, dtos []remote.DTO, since int64) error {
	existing, err := e.store.GetAll(ctx)
	if err != nil {
		return err
	}
	byServerID := make(map[string]*models.EntityRecord, len(existing))
	for _, rec := range existing {
		if rec.ServerID != "" {
			byServerID[rec.ServerID] = rec
		}
	}

	records := make([]*models.EntityRecord, 0, len(dtos))
	for i := range dtos {
		dto := &dtos[i]
		if prev, ok := byServerID[dto.ID]; ok {
			if prev.SyncStatus.Pending() {
				continue
			}
			records = append(records, recordFromDTO(prev.LocalID, prev.CreatedAt, dto))
			continue
		}
		records = append(records, recordFromDTO(uuid.New(), 0, dto))
	}

	return e.store.ReplaceSynced(ctx, records, since)
}

// recordFromDTO builds a synced record from a server entity.
func recordFromDTO(localID string, createdAt int64, dto *remote.DTO) *models.EntityRecord {
	return &models.EntityRecord{
		LocalID:    localID,
		ServerID:   dto.ID,
		Payload:    dto.Payload,
		SyncStatus: models.StatusSynced,
		CreatedAt:  createdAt,
	}
}
