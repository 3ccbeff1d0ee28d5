package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kelvinhuang/offsync/internal/models"
	"github.com/kelvinhuang/offsync/internal/syncerrors"
)

// SyncPending replays every queued mutation against the remote, in
// persisted queue order. It is a no-op while offline. Concurrent triggers
// collapse into a single in-flight pass. A failed entry stays queued with
// its attempt count incremented and the pass moves on, so one stuck entity
// never blocks the rest.
func (e *Engine) SyncPending(ctx context.Context) error {
	if !e.monitor.Online() {
		return nil
	}

	_, err, _ := e.drains.Do("drain", func() (interface{}, error) {
		return nil, e.drainPass(ctx)
	})
	return err
}

// drainPass walks the queue once.
func (e *Engine) drainPass(ctx context.Context) error {
	entries, err := e.queue.PeekAll(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	e.log.WithField("entries", len(entries)).Debug("draining sync queue")

	now := time.Now()
	replayed, failed := 0, 0

	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !e.monitor.Online() {
			// Connectivity dropped mid-pass; the rest stays queued.
			break
		}
		if !entry.Ready(now) {
			continue
		}

		ok, err := e.replayEntity(ctx, entry.EntityID)
		if err != nil {
			return err
		}
		if ok {
			replayed++
		} else {
			failed++
		}
	}

	e.sched.markDrain(time.Now())

	if replayed > 0 || failed > 0 {
		e.log.WithFields(logrus.Fields{
			"replayed": replayed,
			"failed":   failed,
		}).Info("drain pass finished")
	}
	return nil
}

// replayEntity replays the queued intent for one entity under its lock.
// The entry and record are re-read inside the lock because a foreground
// write may have coalesced or removed them since PeekAll. Returns whether
// the entry was resolved; a non-nil error aborts the whole pass and is
// only returned for cancellation, never for remote failures.
func (e *Engine) replayEntity(ctx context.Context, entityID string) (bool, error) {
	unlock := e.locks.lock(entityID)
	defer unlock()

	entry, err := e.queue.GetForEntity(ctx, entityID)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return true, nil
	}

	rec, err := e.store.GetByID(ctx, entityID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		// The entity vanished locally; the stale intent has nothing left
		// to act on.
		if err := e.queue.RemoveForEntity(ctx, entityID); err != nil {
			return false, err
		}
		return true, nil
	}

	var replayErr error
	switch entry.Operation {
	case models.OpCreate:
		replayErr = e.replayCreate(ctx, rec, entry)
	case models.OpUpdate:
		if rec.ServerID == "" {
			// Unresolved create ahead of this update; retry next drain.
			return false, nil
		}
		replayErr = e.replayUpdate(ctx, rec, entry)
	case models.OpDelete:
		replayErr = e.replayDelete(ctx, rec)
	default:
		// Unknown operation cannot be replayed; drop it.
		replayErr = syncerrors.Conflict(entityID, 0, nil)
	}

	if replayErr == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		// Cancellation is never confirmation: record and entry stay
		// exactly as they were.
		return false, replayErr
	}
	return false, e.recordFailure(ctx, rec, entry, replayErr)
}

func (e *Engine) replayCreate(ctx context.Context, rec *models.EntityRecord, entry *models.QueueEntry) error {
	// A crash between a confirmed create and the entry removal leaves a
	// bound server id behind; replay as an update instead of duplicating.
	if rec.ServerID != "" {
		return e.replayUpdate(ctx, rec, entry)
	}

	dto, err := e.remote.Create(ctx, entry.Payload)
	if err != nil {
		return err
	}

	rec.ServerID = dto.ID
	rec.Payload = dto.Payload
	rec.SyncStatus = models.StatusSynced
	if err := e.store.Save(ctx, rec); err != nil {
		return err
	}
	return e.queue.RemoveForEntity(ctx, rec.LocalID)
}

func (e *Engine) replayUpdate(ctx context.Context, rec *models.EntityRecord, entry *models.QueueEntry) error {
	dto, err := e.remote.Update(ctx, rec.ServerID, entry.Payload)
	if err != nil {
		if syncerrors.Gone(err) {
			// Another client already deleted the entity; the end state is
			// authoritative absence.
			if err := e.store.Delete(ctx, rec.LocalID); err != nil {
				return err
			}
			return e.queue.RemoveForEntity(ctx, rec.LocalID)
		}
		return err
	}

	rec.ServerID = dto.ID
	rec.Payload = dto.Payload
	rec.SyncStatus = models.StatusSynced
	if err := e.store.Save(ctx, rec); err != nil {
		return err
	}
	return e.queue.RemoveForEntity(ctx, rec.LocalID)
}

func (e *Engine) replayDelete(ctx context.Context, rec *models.EntityRecord) error {
	if rec.ServerID != "" {
		err := e.remote.Delete(ctx, rec.ServerID)
		// Remote "not found" means another client got there first; the
		// end state is identical.
		if err != nil && !syncerrors.Gone(err) {
			return err
		}
	}
	if err := e.store.Delete(ctx, rec.LocalID); err != nil {
		return err
	}
	return e.queue.RemoveForEntity(ctx, rec.LocalID)
}

// recordFailure books a failed replay. Retryable failures keep the entry
// queued behind an exponential backoff gate. Terminal server rejections
// (validation, auth, conflict) are dropped from the queue — retrying them
// forever cannot succeed — and surfaced through the conflict counter while
// the record keeps its pending status for caller-side resolution.
func (e *Engine) recordFailure(ctx context.Context, rec *models.EntityRecord, entry *models.QueueEntry, cause error) error {
	log := e.log.WithFields(logrus.Fields{
		"local_id":  rec.LocalID,
		"operation": string(entry.Operation),
	})

	if syncerrors.Terminal(cause) {
		e.sched.markConflict()
		log.WithError(cause).Warn("server rejected queued mutation, manual resolution needed")
		return e.queue.RemoveForEntity(ctx, rec.LocalID)
	}

	log.WithError(cause).WithField("attempts", entry.AttemptCount+1).Debug("replay failed, will retry")
	return e.queue.MarkFailed(ctx, rec.LocalID, cause, e.cfg.BackoffMin, e.cfg.BackoffMax)
}
