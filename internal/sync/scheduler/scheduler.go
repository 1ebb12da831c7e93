// Package scheduler owns the sync lifecycle: periodic cycles, debounced
// change-triggered cycles, manual force sync, and the single-flight
// guarantee that at most one cycle runs at a time.
package scheduler

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/planmesh/backend/internal/errors"
	"github.com/planmesh/backend/internal/logging"
)

// State is the scheduler's explicit lifecycle state. Cycles always return
// to Idle; a cycle can never leave the scheduler stuck in Syncing, even on
// transport failure.
type State int

const (
	StateIdle State = iota
	StateDebouncePending
	StateSyncing
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDebouncePending:
		return "debounce_pending"
	case StateSyncing:
		return "syncing"
	default:
		return "unknown"
	}
}

// ErrSyncInProgress is the benign result of attempting to start a cycle
// while one is in flight. Callers treat it as a no-op.
var ErrSyncInProgress = apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress")

// Runner executes one sync cycle. Implemented by the engine.
type Runner interface {
	RunCycle(ctx context.Context) error
	Online() bool
}

// StatusFunc is notified of syncing/periodic state transitions.
type StatusFunc func(syncing, periodicEnabled bool)

// Config holds scheduler configuration.
type Config struct {
	Interval time.Duration // periodic cycle interval
	Debounce time.Duration // quiet period after a recorded change
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval: 15 * time.Minute,
		Debounce: 2 * time.Second,
	}
}

// Scheduler serializes sync cycles across its three trigger paths: the
// periodic timer, the change debounce timer, and explicit force sync.
type Scheduler struct {
	runner   Runner
	debounce time.Duration
	interval time.Duration
	onStatus StatusFunc

	mu              sync.Mutex
	state           State
	periodicEnabled bool
	stopCh          chan struct{}
	wg              sync.WaitGroup
	debounceTimer   *time.Timer
	baseCtx         context.Context
}

// New creates a Scheduler. onStatus may be nil.
func New(runner Runner, config *Config, onStatus StatusFunc) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		runner:   runner,
		debounce: config.Debounce,
		interval: config.Interval,
		onStatus: onStatus,
		state:    StateIdle,
	}
}

// StartPeriodic performs one immediate cycle, then repeats every interval
// until StopPeriodic. Re-invocation while already running is a no-op.
// A non-positive interval falls back to the configured default.
func (s *Scheduler) StartPeriodic(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	if s.periodicEnabled {
		s.mu.Unlock()
		return
	}
	if interval <= 0 {
		interval = s.interval
	}
	s.periodicEnabled = true
	s.stopCh = make(chan struct{})
	s.baseCtx = ctx
	stopCh := s.stopCh
	s.mu.Unlock()

	s.notifyStatus()
	logging.Info("Periodic sync started",
		map[string]interface{}{"interval": interval.String()})

	go func() {
		if s.runner.Online() {
			s.trySync(ctx)
		}
	}()

	s.wg.Add(1)
	go s.periodicLoop(ctx, interval, stopCh)
}

// StopPeriodic cancels the recurring timer and any pending debounce. A
// cycle already in flight runs to completion.
func (s *Scheduler) StopPeriodic() {
	s.mu.Lock()
	if !s.periodicEnabled {
		s.mu.Unlock()
		return
	}
	s.periodicEnabled = false
	close(s.stopCh)
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
	if s.state == StateDebouncePending {
		s.state = StateIdle
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.notifyStatus()
	logging.Info("Periodic sync stopped", nil)
}

// periodicLoop fires cycles on the recurring timer while online.
func (s *Scheduler) periodicLoop(ctx context.Context, interval time.Duration, stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if !s.runner.Online() {
				continue
			}
			go s.trySync(ctx)
		}
	}
}

// NotifyChange (re)starts the debounce timer after a recorded change.
// Each call resets the quiet period; when it elapses one cycle runs.
// Ignored while offline, while a cycle is in flight, or when periodic
// syncing is disabled.
func (s *Scheduler) NotifyChange() {
	s.mu.Lock()
	if !s.periodicEnabled || s.state == StateSyncing || !s.runner.Online() {
		s.mu.Unlock()
		return
	}
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.state = StateDebouncePending
	ctx := s.baseCtx
	s.debounceTimer = time.AfterFunc(s.debounce, func() {
		s.debounceFired(ctx)
	})
	s.mu.Unlock()
}

// debounceFired runs the coalesced cycle once the quiet period elapses.
func (s *Scheduler) debounceFired(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateDebouncePending {
		s.state = StateIdle
	}
	s.debounceTimer = nil
	s.mu.Unlock()

	s.trySync(ctx)
}

// trySync runs a cycle, swallowing the benign already-syncing result.
func (s *Scheduler) trySync(ctx context.Context) {
	if err := s.TriggerSync(ctx); err != nil && err != ErrSyncInProgress {
		logging.Warn("Scheduled sync cycle failed",
			map[string]interface{}{"sync_error": err.Error()})
	}
}

// TriggerSync runs one cycle immediately, subject to the single-flight
// rule: if a cycle is in flight it returns ErrSyncInProgress without
// queuing or blocking. A pending debounce is coalesced into this cycle.
func (s *Scheduler) TriggerSync(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateSyncing {
		s.mu.Unlock()
		return ErrSyncInProgress
	}
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
	s.state = StateSyncing
	s.mu.Unlock()

	s.notifyStatus()

	err := s.runner.RunCycle(ctx)

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	s.notifyStatus()
	return err
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PeriodicEnabled reports whether the recurring timer is active.
func (s *Scheduler) PeriodicEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.periodicEnabled
}

// Syncing reports whether a cycle is in flight.
func (s *Scheduler) Syncing() bool {
	return s.State() == StateSyncing
}

func (s *Scheduler) notifyStatus() {
	if s.onStatus == nil {
		return
	}
	s.mu.Lock()
	syncing := s.state == StateSyncing
	periodic := s.periodicEnabled
	s.mu.Unlock()
	s.onStatus(syncing, periodic)
}
