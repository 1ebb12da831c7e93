// Package connectivity tests for transition handling.
package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/planmesh/backend/internal/sync/events"
)

// fakeProber returns a scripted online flag.
type fakeProber struct {
	online int32
}

func (p *fakeProber) Probe(ctx context.Context) bool {
	return atomic.LoadInt32(&p.online) == 1
}

func (p *fakeProber) set(online bool) {
	if online {
		atomic.StoreInt32(&p.online, 1)
	} else {
		atomic.StoreInt32(&p.online, 0)
	}
}

// fakeEngine records sink calls and sync requests.
type fakeEngine struct {
	mu      sync.Mutex
	states  []bool
	pending int
	syncs   int
}

func (e *fakeEngine) SetOnline(online bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = append(e.states, online)
}

func (e *fakeEngine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

func (e *fakeEngine) RequestSync() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncs++
}

func (e *fakeEngine) syncCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncs
}

func (e *fakeEngine) stateLog() []bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]bool, len(e.states))
	copy(out, e.states)
	return out
}

// TestFirstObservationReported verifies the first probe result reaches
// the sink and the event bus even when it matches the zero value.
func TestFirstObservationReported(t *testing.T) {
	engine := &fakeEngine{}
	bus := events.NewBus()

	published := 0
	bus.Subscribe(func(e events.Event) {
		if e.Type == events.TypeConnectivity {
			published++
		}
	})

	m := NewMonitor(&fakeProber{}, bus, engine, engine, time.Hour)
	m.SetOnline(false)

	if got := engine.stateLog(); len(got) != 1 || got[0] {
		t.Errorf("sink calls = %v, want [false]", got)
	}
	if published != 1 {
		t.Errorf("connectivity events = %d, want 1", published)
	}
	if m.Online() {
		t.Error("monitor should report offline")
	}
}

// TestRepeatObservationSuppressed verifies only transitions are reported.
func TestRepeatObservationSuppressed(t *testing.T) {
	engine := &fakeEngine{}
	m := NewMonitor(&fakeProber{}, events.NewBus(), engine, engine, time.Hour)

	m.SetOnline(true)
	m.SetOnline(true)
	m.SetOnline(true)

	if got := engine.stateLog(); len(got) != 1 {
		t.Errorf("sink calls = %v, want exactly one", got)
	}
}

// TestOnlineTransitionWithPendingRequestsSync verifies the recovery path:
// coming back online with queued changes requests an immediate cycle.
func TestOnlineTransitionWithPendingRequestsSync(t *testing.T) {
	engine := &fakeEngine{pending: 3}
	m := NewMonitor(&fakeProber{}, events.NewBus(), engine, engine, time.Hour)

	m.SetOnline(false)
	m.SetOnline(true)

	if engine.syncCount() != 1 {
		t.Errorf("sync requests = %d, want 1", engine.syncCount())
	}
}

// TestOnlineTransitionWithoutPendingSkipsSync verifies no cycle is
// requested when the queue is empty.
func TestOnlineTransitionWithoutPendingSkipsSync(t *testing.T) {
	engine := &fakeEngine{pending: 0}
	m := NewMonitor(&fakeProber{}, events.NewBus(), engine, engine, time.Hour)

	m.SetOnline(false)
	m.SetOnline(true)

	if engine.syncCount() != 0 {
		t.Errorf("sync requests = %d, want 0", engine.syncCount())
	}
}

// TestOfflineTransitionNeverRequestsSync verifies going offline requests
// nothing.
func TestOfflineTransitionNeverRequestsSync(t *testing.T) {
	engine := &fakeEngine{pending: 3}
	m := NewMonitor(&fakeProber{}, events.NewBus(), engine, engine, time.Hour)

	m.SetOnline(true)
	m.SetOnline(false)

	if engine.syncCount() != 0 {
		t.Errorf("sync requests = %d, want 0", engine.syncCount())
	}
}

// TestPollingLoop verifies the loop probes immediately and observes
// transitions on subsequent ticks.
func TestPollingLoop(t *testing.T) {
	prober := &fakeProber{}
	prober.set(true)
	engine := &fakeEngine{}
	m := NewMonitor(prober, events.NewBus(), engine, engine, 10*time.Millisecond)

	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, func() bool { return m.Online() })

	prober.set(false)
	waitFor(t, func() bool { return !m.Online() })

	states := engine.stateLog()
	if len(states) < 2 || !states[0] || states[len(states)-1] {
		t.Errorf("sink calls = %v, want online then offline", states)
	}
}

// TestStartTwiceNoOp verifies repeated Start does not double the pollers.
func TestStartTwiceNoOp(t *testing.T) {
	prober := &fakeProber{}
	prober.set(true)
	engine := &fakeEngine{}
	m := NewMonitor(prober, events.NewBus(), engine, engine, time.Hour)

	m.Start(context.Background())
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, func() bool { return len(engine.stateLog()) >= 1 })
	time.Sleep(20 * time.Millisecond)

	if got := engine.stateLog(); len(got) != 1 {
		t.Errorf("sink calls = %v, want exactly one", got)
	}
}

// TestHTTPProber covers the reachability classification.
func TestHTTPProber(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	if !NewHTTPProber(healthy.URL, time.Second).Probe(context.Background()) {
		t.Error("healthy endpoint should probe online")
	}
	if NewHTTPProber(failing.URL, time.Second).Probe(context.Background()) {
		t.Error("server error should probe offline")
	}

	unreachable := NewHTTPProber("http://127.0.0.1:1/health", 100*time.Millisecond)
	if unreachable.Probe(context.Background()) {
		t.Error("unreachable endpoint should probe offline")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
