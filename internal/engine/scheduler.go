package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// schedulerState tracks background drain bookkeeping.
type schedulerState struct {
	mu        sync.RWMutex
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	lastDrain time.Time
	conflicts atomic.Int64
}

func newSchedulerState() *schedulerState {
	return &schedulerState{stopCh: make(chan struct{})}
}

func (s *schedulerState) markDrain(t time.Time) {
	s.mu.Lock()
	s.lastDrain = t
	s.mu.Unlock()
}

func (s *schedulerState) markConflict() {
	s.conflicts.Add(1)
}

// Start launches the background drain tasks: a periodic ticker and a
// connectivity listener that drains as soon as the device comes back
// online. Safe to call once; subsequent calls are no-ops until Stop.
func (e *Engine) Start(ctx context.Context) {
	e.sched.mu.Lock()
	if e.sched.running {
		e.sched.mu.Unlock()
		return
	}
	e.sched.running = true
	e.sched.stopCh = make(chan struct{})
	e.sched.mu.Unlock()

	e.sched.wg.Add(2)
	go e.periodicDrainLoop(ctx)
	go e.connectivityLoop(ctx)

	e.log.Info("background drain started")
}

// Stop halts the background tasks and waits for them to finish.
func (e *Engine) Stop() {
	e.sched.mu.Lock()
	if !e.sched.running {
		e.sched.mu.Unlock()
		return
	}
	e.sched.running = false
	close(e.sched.stopCh)
	e.sched.mu.Unlock()

	e.sched.wg.Wait()
	e.log.Info("background drain stopped")
}

// periodicDrainLoop drains the queue on a fixed cadence. Draining while
// offline is a cheap no-op, so the ticker needs no online gate.
func (e *Engine) periodicDrainLoop(ctx context.Context) {
	defer e.sched.wg.Done()

	ticker := time.NewTicker(e.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.sched.stopCh:
			return
		case <-ticker.C:
			e.runDrain(ctx)
		}
	}
}

// connectivityLoop drains immediately on an offline-to-online transition.
func (e *Engine) connectivityLoop(ctx context.Context) {
	defer e.sched.wg.Done()

	changes := e.monitor.Changes()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.sched.stopCh:
			return
		case online, ok := <-changes:
			if !ok {
				return
			}
			if online {
				e.runDrain(ctx)
			}
		}
	}
}

// runDrain executes one bounded drain pass. SyncPending already collapses
// overlapping triggers, so calling it from both loops is safe.
func (e *Engine) runDrain(ctx context.Context) {
	drainCtx, cancel := context.WithTimeout(ctx, e.cfg.DrainTimeout)
	defer cancel()

	if err := e.SyncPending(drainCtx); err != nil && drainCtx.Err() == nil {
		e.log.WithError(err).Error("drain pass failed")
	}
}

// Status is a point-in-time summary of the engine for UI affordances.
type Status struct {
	Running        bool
	Online         bool
	LastDrain      *time.Time
	PendingRecords int
	QueuedEntries  int
	Conflicts      int64
}

// Status reports the engine's current state.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	e.sched.mu.RLock()
	status := Status{
		Running:   e.sched.running,
		Online:    e.monitor.Online(),
		Conflicts: e.sched.conflicts.Load(),
	}
	if !e.sched.lastDrain.IsZero() {
		t := e.sched.lastDrain
		status.LastDrain = &t
	}
	e.sched.mu.RUnlock()

	pending, err := e.store.PendingSyncCount(ctx)
	if err != nil {
		return status, err
	}
	status.PendingRecords = pending

	queued, err := e.queue.Len(ctx)
	if err != nil {
		return status, err
	}
	status.QueuedEntries = queued

	return status, nil
}
