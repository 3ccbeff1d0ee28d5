package engine

import "sync"

// lockTable serializes mutations per local id. A drain replay and a
// foreground write racing on the same entity take the same lock, so a
// drain success can never clobber a newer optimistic write. Operations on
// different entities proceed in parallel.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the per-entity mutex and returns its release func.
// Mutexes are retained for the process lifetime; the table is bounded by
// the number of distinct entities touched.
func (t *lockTable) lock(id string) func() {
	t.mu.Lock()
	m, ok := t.locks[id]
	if !ok {
		m = &sync.Mutex{}
		t.locks[id] = m
	}
	t.mu.Unlock()

	m.Lock()
	return m.Unlock
}
