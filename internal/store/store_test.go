package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kelvinhuang/offsync/internal/db"
	"github.com/kelvinhuang/offsync/internal/models"
	"github.com/kelvinhuang/offsync/internal/syncerrors"
)

func setupStore(t *testing.T) (*LocalStore, *db.DB) {
	t.Helper()

	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	migrator := db.NewMigrator(database.DB)
	require.NoError(t, migrator.Initialize())
	require.NoError(t, migrator.Up())

	return NewLocalStore(database.DB), database
}

func record(localID, serverID string, status models.SyncStatus) *models.EntityRecord {
	return &models.EntityRecord{
		LocalID:    localID,
		ServerID:   serverID,
		Payload:    json.RawMessage(`{"title":"test"}`),
		SyncStatus: status,
	}
}

func TestSaveAndGetByID(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	rec := record("a", "", models.StatusPendingCreate)
	require.NoError(t, s.Save(ctx, rec))
	require.NotZero(t, rec.CreatedAt)
	require.NotZero(t, rec.LocalUpdatedAt)

	got, err := s.GetByID(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "a", got.LocalID)
	require.Empty(t, got.ServerID)
	require.Equal(t, models.StatusPendingCreate, got.SyncStatus)
	require.JSONEq(t, `{"title":"test"}`, string(got.Payload))
}

func TestGetByIDMissing(t *testing.T) {
	s, _ := setupStore(t)

	got, err := s.GetByID(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestSaveUpsertsAtomically(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, record("a", "", models.StatusPendingCreate)))

	updated := record("a", "srv-1", models.StatusSynced)
	updated.Payload = json.RawMessage(`{"title":"updated"}`)
	require.NoError(t, s.Save(ctx, updated))

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "srv-1", all[0].ServerID)
	require.Equal(t, models.StatusSynced, all[0].SyncStatus)
	require.JSONEq(t, `{"title":"updated"}`, string(all[0].Payload))
}

func TestSaveRejectsInvalidStatus(t *testing.T) {
	s, _ := setupStore(t)

	bad := record("a", "", models.SyncStatus("half_synced"))
	require.Error(t, s.Save(context.Background(), bad))
}

func TestDelete(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, record("a", "", models.StatusPendingCreate)))
	require.NoError(t, s.Delete(ctx, "a"))

	got, err := s.GetByID(ctx, "a")
	require.NoError(t, err)
	require.Nil(t, got)

	// Deleting an absent id is a no-op.
	require.NoError(t, s.Delete(ctx, "a"))
}

func TestGetPendingSync(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, record("a", "srv-1", models.StatusSynced)))
	require.NoError(t, s.Save(ctx, record("b", "", models.StatusPendingCreate)))
	require.NoError(t, s.Save(ctx, record("c", "srv-3", models.StatusPendingDelete)))

	pending, err := s.GetPendingSync(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, rec := range pending {
		require.True(t, rec.SyncStatus.Pending())
	}

	count, err := s.PendingSyncCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestCorruptedPayloadSurfaces(t *testing.T) {
	s, database := setupStore(t)
	ctx := context.Background()

	// Bypass Save to plant a row with a malformed payload.
	_, err := database.Exec(`
	INSERT INTO entity_records (local_id, server_id, payload, sync_status, created_at, local_updated_at)
	VALUES ('bad', NULL, 'not json', 'synced', 1, 1)`)
	require.NoError(t, err)

	_, err = s.GetByID(ctx, "bad")
	require.Error(t, err)
	require.True(t, syncerrors.Is(err, syncerrors.ErrCacheCorrupted))

	_, err = s.GetAll(ctx)
	require.Error(t, err)
	require.True(t, syncerrors.Is(err, syncerrors.ErrCacheCorrupted))
}

func TestReplaceSyncedPreservesPending(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, record("stale", "srv-old", models.StatusSynced)))
	pending := record("draft", "", models.StatusPendingCreate)
	require.NoError(t, s.Save(ctx, pending))

	fresh := record("fresh", "srv-new", models.StatusSynced)
	require.NoError(t, s.ReplaceSynced(ctx, []*models.EntityRecord{fresh}, time.Now().Unix()+1))

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	byID := make(map[string]*models.EntityRecord)
	for _, rec := range all {
		byID[rec.LocalID] = rec
	}
	require.Nil(t, byID["stale"], "replaced synced row should be gone")
	require.NotNil(t, byID["draft"], "pending row must survive a full refresh")
	require.Equal(t, models.StatusPendingCreate, byID["draft"].SyncStatus)
	require.NotNil(t, byID["fresh"])
	require.Equal(t, models.StatusSynced, byID["fresh"].SyncStatus)
}

func TestReplaceSyncedKeepsRowsNewerThanCutoff(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	rec := record("bound", "srv-1", models.StatusSynced)
	require.NoError(t, s.Save(ctx, rec))

	// A refresh issued before this row was written cannot erase it, even
	// though the row is synced and absent from the incoming snapshot.
	require.NoError(t, s.ReplaceSynced(ctx, nil, rec.LocalUpdatedAt))

	got, err := s.GetByID(ctx, "bound")
	require.NoError(t, err)
	require.NotNil(t, got, "row written at the cutoff must survive")
	require.Equal(t, "srv-1", got.ServerID)

	// A refresh issued after the write replaces it as usual.
	require.NoError(t, s.ReplaceSynced(ctx, nil, rec.LocalUpdatedAt+1))

	got, err = s.GetByID(ctx, "bound")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestWatchAllStreamsSnapshots(t *testing.T) {
	s, _ := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.WatchAll(ctx)
	require.NoError(t, err)

	// Initial snapshot arrives immediately, even when empty.
	select {
	case snap := <-ch:
		require.Empty(t, snap)
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot")
	}

	require.NoError(t, s.Save(ctx, record("a", "", models.StatusPendingCreate)))

	select {
	case snap := <-ch:
		require.Len(t, snap, 1)
		require.Equal(t, "a", snap[0].LocalID)
	case <-time.After(time.Second):
		t.Fatal("no snapshot after mutation")
	}

	cancel()
	// Stream closes after cancellation.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close")
		}
	}
}

func TestWatchAllSlowConsumerSeesLatest(t *testing.T) {
	s, _ := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.WatchAll(ctx)
	require.NoError(t, err)

	// Never read the initial snapshot; pile up mutations.
	for i := 0; i < 5; i++ {
		rec := record("a", "", models.StatusPendingCreate)
		rec.Payload = json.RawMessage(`{"title":"v` + string(rune('0'+i)) + `"}`)
		require.NoError(t, s.Save(ctx, rec))
	}

	// The buffered value is the newest snapshot, not the first.
	select {
	case snap := <-ch:
		require.Len(t, snap, 1)
		require.JSONEq(t, `{"title":"v4"}`, string(snap[0].Payload))
	case <-time.After(time.Second):
		t.Fatal("no snapshot")
	}
}
