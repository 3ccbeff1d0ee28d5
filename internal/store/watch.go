package store

import (
	"context"
	"sync"

	"github.com/kelvinhuang/offsync/internal/models"
)

// watcherSet fans full snapshots out to subscribers. Each subscriber
// channel is buffered with capacity one; when a consumer lags, the stale
// buffered snapshot is replaced by the newest so the stream never blocks
// a mutation.
type watcherSet struct {
	mu   sync.Mutex
	next int
	subs map[int]chan []*models.EntityRecord
}

func newWatcherSet() *watcherSet {
	return &watcherSet{subs: make(map[int]chan []*models.EntityRecord)}
}

// add registers a subscriber primed with the initial snapshot and removes
// it when ctx is done.
func (w *watcherSet) add(ctx context.Context, initial []*models.EntityRecord) <-chan []*models.EntityRecord {
	ch := make(chan []*models.EntityRecord, 1)
	ch <- initial

	w.mu.Lock()
	id := w.next
	w.next++
	w.subs[id] = ch
	w.mu.Unlock()

	go func() {
		<-ctx.Done()
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
		close(ch)
	}()

	return ch
}

// active reports whether any subscriber exists.
func (w *watcherSet) active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs) > 0
}

// broadcast delivers the snapshot to all subscribers, dropping stale
// intermediate snapshots for slow consumers.
func (w *watcherSet) broadcast(snapshot []*models.EntityRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}
