// Package connectivity tracks the device's online/offline state and
// feeds transitions into the sync engine.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/planmesh/backend/internal/logging"
	"github.com/planmesh/backend/internal/sync/events"
)

// Prober answers whether the remote store is currently reachable.
type Prober interface {
	Probe(ctx context.Context) bool
}

// StatusSink receives the two-state connectivity model. Implemented by
// the sync engine.
type StatusSink interface {
	SetOnline(online bool)
}

// SyncRequester lets the monitor request an immediate sync cycle without
// blocking the transition handler. Implemented by the sync engine.
type SyncRequester interface {
	RequestSync()
	PendingCount() int
}

// Monitor wraps a platform connectivity signal into the engine's
// two-state model. On every transition it raises a connectivity event;
// on offline-to-online with queued changes it requests an immediate
// sync, fire-and-forget.
type Monitor struct {
	prober    Prober
	bus       *events.Bus
	sink      StatusSink
	requester SyncRequester
	interval  time.Duration

	mu      sync.Mutex
	online  bool
	known   bool // false until the first probe result
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewMonitor creates a Monitor polling the prober at the given interval.
func NewMonitor(prober Prober, bus *events.Bus, sink StatusSink, requester SyncRequester, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		prober:    prober,
		bus:       bus,
		sink:      sink,
		requester: requester,
		interval:  interval,
	}
}

// Start begins polling. A no-op when already started.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(ctx, stopCh)
}

// Stop halts polling. The last reported state remains in effect.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
}

// Online returns the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline injects a connectivity observation directly, for platforms
// that push connectivity callbacks instead of being polled.
func (m *Monitor) SetOnline(online bool) {
	m.apply(online)
}

func (m *Monitor) loop(ctx context.Context, stopCh chan struct{}) {
	defer m.wg.Done()

	// First observation immediately, then on the ticker.
	m.apply(m.prober.Probe(ctx))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.apply(m.prober.Probe(ctx))
		}
	}
}

// apply records an observation and handles the transition.
func (m *Monitor) apply(online bool) {
	m.mu.Lock()
	transition := !m.known || m.online != online
	wasOnline := m.online
	m.online = online
	m.known = true
	m.mu.Unlock()

	if !transition {
		return
	}

	m.sink.SetOnline(online)

	logging.Info("Connectivity changed",
		map[string]interface{}{"was_online": wasOnline, "is_online": online})

	m.bus.Publish(events.Event{
		Type:         events.TypeConnectivity,
		Connectivity: &events.ConnectivityPayload{IsOnline: online},
	})

	if online && !wasOnline && m.requester.PendingCount() > 0 {
		// Fire-and-forget; never blocks the transition handler.
		m.requester.RequestSync()
	}
}
