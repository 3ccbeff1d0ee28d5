package connectivity

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ProbeMonitor derives connectivity from a periodic HTTP probe against the
// backend (or any endpoint that answers when the network is up). A 2xx-4xx
// response counts as online: the backend answered, even if it disliked the
// request. Transport errors and 5xx count as offline.
type ProbeMonitor struct {
	probeURL string
	interval time.Duration
	http     *http.Client
	log      *logrus.Entry

	online atomic.Bool

	mu   sync.Mutex
	next int
	subs map[int]chan bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewProbeMonitor creates a monitor that probes probeURL every interval.
// The monitor starts offline until the first probe succeeds.
func NewProbeMonitor(probeURL string, interval time.Duration, log *logrus.Logger) *ProbeMonitor {
	return &ProbeMonitor{
		probeURL: probeURL,
		interval: interval,
		http:     &http.Client{Timeout: interval},
		log:      log.WithField("component", "connectivity"),
		subs:     make(map[int]chan bool),
		stopCh:   make(chan struct{}),
	}
}

// Online implements Monitor.
func (m *ProbeMonitor) Online() bool {
	return m.online.Load()
}

// Changes implements Monitor.
func (m *ProbeMonitor) Changes() <-chan bool {
	ch := make(chan bool, 1)
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = ch
	m.mu.Unlock()
	return ch
}

// Start begins probing until Stop is called or ctx is cancelled. The first
// probe fires immediately so a fresh process learns its state without
// waiting a full interval.
func (m *ProbeMonitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.probe(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.probe(ctx)
			}
		}
	}()
}

// Stop halts probing and waits for the probe goroutine to exit.
func (m *ProbeMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// probe performs one reachability check and publishes transitions.
func (m *ProbeMonitor) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		m.set(false)
		return
	}

	resp, err := m.http.Do(req)
	if err != nil {
		m.set(false)
		return
	}
	resp.Body.Close()

	m.set(resp.StatusCode < 500)
}

// set stores the state and notifies subscribers on transitions.
func (m *ProbeMonitor) set(online bool) {
	if m.online.Swap(online) == online {
		return
	}

	m.log.WithField("online", online).Info("connectivity changed")

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- online:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- online:
			default:
			}
		}
	}
}
