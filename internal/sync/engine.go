// Package sync implements the multi-device synchronization engine for
// PlanMesh entities (tasks, messages, meetings, reminders).
//
// Collaborators record local mutations through RecordChange and subscribe
// to the event feed for remote changes and lifecycle notifications. The
// engine owns the pending-change queue, the sync cursor, conflict
// resolution, and the scheduling of sync cycles against the remote store.
package sync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/planmesh/backend/internal/logging"
	"github.com/planmesh/backend/internal/models"
	"github.com/planmesh/backend/internal/sync/changelog"
	"github.com/planmesh/backend/internal/sync/conflict"
	"github.com/planmesh/backend/internal/sync/events"
	"github.com/planmesh/backend/internal/sync/scheduler"
	"github.com/planmesh/backend/internal/sync/transport"
	"github.com/planmesh/backend/internal/uuid"

	apperrors "github.com/planmesh/backend/internal/errors"
)

// appliedHistoryLimit bounds the duplicate-suppression set for remote
// changes. The cursor prevents routine re-delivery; the set only covers
// a remote store resending recent changes across adjacent cycles.
const appliedHistoryLimit = 4096

// StateStore persists the sync cursor. Implemented by db.Repository.
type StateStore interface {
	GetCursor() (int64, error)
	SetCursor(cursor int64) error
}

// Status is the snapshot returned to collaborators.
type Status struct {
	DeviceID        string `json:"device_id"`
	Online          bool   `json:"online"`
	Syncing         bool   `json:"syncing"`
	PeriodicEnabled bool   `json:"periodic_enabled"`
	Cursor          int64  `json:"cursor"`
	PendingCount    int    `json:"pending_count"`
}

// Config holds engine construction parameters. Now is injectable for
// deterministic tests and defaults to time.Now.
type Config struct {
	DeviceID string
	Interval time.Duration
	Debounce time.Duration
	Now      func() time.Time
}

// Engine is the synchronization engine for one device install. All
// dependencies are injected by the composition root; the engine holds no
// global state.
type Engine struct {
	state     StateStore
	changelog *changelog.Log
	resolver  *conflict.Resolver
	transport transport.Transport
	bus       *events.Bus
	sched     *scheduler.Scheduler
	deviceID  string
	now       func() time.Time

	mu            sync.Mutex
	cursor        int64
	online        bool
	lastTimestamp int64
	applied       map[string]struct{}
	appliedOrder  []string
}

// NewEngine creates an Engine over the given dependencies and hydrates
// the cursor and pending queue from durable storage. A cursor read
// failure falls back to zero and is logged; it is never fatal.
func NewEngine(state StateStore, log *changelog.Log, tr transport.Transport, bus *events.Bus, config *Config) *Engine {
	now := config.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		state:     state,
		changelog: log,
		resolver:  conflict.NewResolver(),
		transport: tr,
		bus:       bus,
		deviceID:  config.DeviceID,
		now:       now,
		applied:   make(map[string]struct{}),
	}

	if state != nil {
		cursor, err := state.GetCursor()
		if err != nil {
			logging.Warn("Failed to load sync cursor, starting from zero",
				map[string]interface{}{"load_error": err.Error()})
		} else {
			e.cursor = cursor
		}
	}

	log.Load()

	e.sched = scheduler.New(e, &scheduler.Config{
		Interval: config.Interval,
		Debounce: config.Debounce,
	}, e.emitSyncStatus)

	return e
}

// RecordChange records a local mutation for synchronization. Data is an
// opaque payload owned by the calling collaborator. The record gets a
// device-monotonic creation timestamp and is durably queued; if periodic
// syncing is enabled and the device is online, a debounced cycle is
// scheduled.
func (e *Engine) RecordChange(entityType models.EntityType, action models.Action, entityID string, data json.RawMessage) (*models.ChangeRecord, error) {
	if !models.ValidEntityType(entityType) {
		return nil, apperrors.New(apperrors.ErrValidation, "unknown entity type: "+string(entityType))
	}
	if !models.ValidAction(action) {
		return nil, apperrors.New(apperrors.ErrValidation, "unknown action: "+string(action))
	}
	if entityID == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "entity id is required")
	}

	rec := models.ChangeRecord{
		ID:         uuid.New(),
		Timestamp:  e.nextTimestamp(),
		DeviceID:   e.deviceID,
		EntityType: entityType,
		Action:     action,
		EntityID:   entityID,
		Data:       data,
	}

	e.changelog.Append(rec)

	logging.Debug("Recorded local change",
		map[string]interface{}{
			"change_id":   rec.ID,
			"entity_type": string(entityType),
			"entity_id":   entityID,
			"action":      string(action),
		})

	e.sched.NotifyChange()

	return &rec, nil
}

// Subscribe registers a handler on the engine's event feed and returns
// its unsubscribe function.
func (e *Engine) Subscribe(handler events.Handler) func() {
	return e.bus.Subscribe(handler)
}

// ForceSync runs one cycle immediately regardless of the periodic timer,
// subject to the single-flight rule: while a cycle is in flight it
// returns scheduler.ErrSyncInProgress, which callers treat as a no-op.
func (e *Engine) ForceSync(ctx context.Context) error {
	return e.sched.TriggerSync(ctx)
}

// StartPeriodic performs one immediate cycle and then repeats every
// interval until StopPeriodic. A no-op when already running.
func (e *Engine) StartPeriodic(ctx context.Context, interval time.Duration) {
	e.sched.StartPeriodic(ctx, interval)
}

// StopPeriodic cancels future cycles; an in-flight cycle completes.
func (e *Engine) StopPeriodic() {
	e.sched.StopPeriodic()
}

// SetOnline updates the connectivity flag. Driven by the connectivity
// monitor, which also publishes the transition event.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	e.online = online
	e.mu.Unlock()
}

// Online implements scheduler.Runner.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// RequestSync starts a cycle without blocking the caller. Used by the
// connectivity monitor on offline-to-online transitions.
func (e *Engine) RequestSync() {
	go func() {
		if err := e.sched.TriggerSync(context.Background()); err != nil && err != scheduler.ErrSyncInProgress {
			logging.Warn("Connectivity-triggered sync failed",
				map[string]interface{}{"sync_error": err.Error()})
		}
	}()
}

// PendingCount returns the number of queued pending changes.
func (e *Engine) PendingCount() int {
	return e.changelog.Len()
}

// Cursor returns the current sync cursor.
func (e *Engine) Cursor() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// DeviceID returns the install's device identifier.
func (e *Engine) DeviceID() string {
	return e.deviceID
}

// Status returns the engine snapshot for collaborators.
func (e *Engine) Status() Status {
	e.mu.Lock()
	cursor := e.cursor
	online := e.online
	e.mu.Unlock()

	return Status{
		DeviceID:        e.deviceID,
		Online:          online,
		Syncing:         e.sched.Syncing(),
		PeriodicEnabled: e.sched.PeriodicEnabled(),
		Cursor:          cursor,
		PendingCount:    e.changelog.Len(),
	}
}

// Reset clears the cursor and the pending queue, as when the user signs
// out or unlinks the device, and raises a reset event.
func (e *Engine) Reset() error {
	e.mu.Lock()
	e.cursor = 0
	e.applied = make(map[string]struct{})
	e.appliedOrder = nil
	e.mu.Unlock()

	e.changelog.Reset()

	if e.state != nil {
		if err := e.state.SetCursor(0); err != nil {
			logging.Warn("Failed to persist cursor reset",
				map[string]interface{}{"persist_error": err.Error()})
		}
	}

	e.bus.Publish(events.Event{Type: events.TypeReset})
	logging.Info("Sync state reset", nil)
	return nil
}

// RunCycle implements scheduler.Runner: one complete sync cycle.
//
// The cycle snapshots the queue and cursor, pushes to the remote store,
// resolves the returned remote changes against the current queue (which
// may have grown since the snapshot), applies winning remote changes,
// removes the synchronized snapshot entries, and advances the cursor.
// Entries whose entity key local-won stay queued so the next cycle
// pushes them again. Transport failure leaves queue and cursor
// untouched; the changes are retried on the next cycle.
func (e *Engine) RunCycle(ctx context.Context) error {
	snapshot := e.changelog.Snapshot()
	cursor := e.Cursor()

	resp, err := e.transport.Push(ctx, e.deviceID, cursor, snapshot)
	if err != nil {
		e.emitSyncResult(false, cursor, err.Error())
		logging.Warn("Sync cycle failed, changes remain pending",
			map[string]interface{}{"pending": len(snapshot), "push_error": err.Error()})
		return apperrors.Wrap(apperrors.ErrSyncFailed, "push failed", err)
	}
	if !resp.Success {
		e.emitSyncResult(false, cursor, resp.Message)
		logging.Warn("Remote store rejected sync batch",
			map[string]interface{}{"pending": len(snapshot), "remote_message": resp.Message})
		return apperrors.New(apperrors.ErrRemoteRejected, resp.Message)
	}

	resolution := e.resolver.Resolve(resp.RemoteChanges, e.changelog.Snapshot())

	e.applyRemote(resolution.Apply)

	// Drop the synchronized snapshot entries plus every local entry that
	// lost its key to the remote side. Entries that won their key are
	// retained for the next push.
	retained := make(map[string]struct{}, len(resolution.RetainedIDs))
	for _, id := range resolution.RetainedIDs {
		retained[id] = struct{}{}
	}
	removed := make([]string, 0, len(snapshot)+len(resolution.SupersededIDs))
	seen := make(map[string]struct{}, len(snapshot)+len(resolution.SupersededIDs))
	for _, rec := range snapshot {
		if _, keep := retained[rec.ID]; keep {
			continue
		}
		if _, dup := seen[rec.ID]; !dup {
			seen[rec.ID] = struct{}{}
			removed = append(removed, rec.ID)
		}
	}
	for _, id := range resolution.SupersededIDs {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			removed = append(removed, id)
		}
	}
	e.changelog.Clear(removed)

	e.advanceCursor(resp.ServerTimestamp)

	newCursor := e.Cursor()
	e.emitSyncResult(true, newCursor, "")

	logging.Info("Sync cycle completed",
		map[string]interface{}{
			"pushed":           len(snapshot),
			"remote_applied":   len(resolution.Apply),
			"remote_discarded": resolution.RemoteDiscarded,
			"local_wins":       resolution.LocalWins,
			"cursor":           newCursor,
		})

	return nil
}

// applyRemote publishes entityChanged events for winning remote changes,
// suppressing changes already applied in a recent cycle so re-delivery
// has exactly one effect.
func (e *Engine) applyRemote(records []models.ChangeRecord) {
	for _, rec := range records {
		e.mu.Lock()
		if _, dup := e.applied[rec.ID]; dup {
			e.mu.Unlock()
			continue
		}
		e.applied[rec.ID] = struct{}{}
		e.appliedOrder = append(e.appliedOrder, rec.ID)
		if len(e.appliedOrder) > appliedHistoryLimit {
			oldest := e.appliedOrder[0]
			e.appliedOrder = e.appliedOrder[1:]
			delete(e.applied, oldest)
		}
		e.mu.Unlock()

		e.bus.Publish(events.Event{
			Type: events.TypeEntityChanged,
			Entity: &events.EntityChangedPayload{
				EntityType: rec.EntityType,
				Action:     rec.Action,
				EntityID:   rec.EntityID,
				Data:       rec.Data,
				Remote:     true,
			},
		})
	}
}

// advanceCursor moves the cursor forward to the server-reported
// timestamp; it never moves backward.
func (e *Engine) advanceCursor(serverTimestamp int64) {
	e.mu.Lock()
	advanced := serverTimestamp > e.cursor
	if advanced {
		e.cursor = serverTimestamp
	}
	cursor := e.cursor
	e.mu.Unlock()

	if advanced && e.state != nil {
		if err := e.state.SetCursor(cursor); err != nil {
			logging.Warn("Failed to persist sync cursor",
				map[string]interface{}{"cursor": cursor, "persist_error": err.Error()})
		}
	}
}

// nextTimestamp returns a strictly increasing creation timestamp in unix
// milliseconds, compensating for clock reads within the same millisecond.
func (e *Engine) nextTimestamp() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	ts := e.now().UnixMilli()
	if ts <= e.lastTimestamp {
		ts = e.lastTimestamp + 1
	}
	e.lastTimestamp = ts
	return ts
}

func (e *Engine) emitSyncStatus(syncing, periodicEnabled bool) {
	e.bus.Publish(events.Event{
		Type: events.TypeSyncStatus,
		SyncStatus: &events.SyncStatusPayload{
			Syncing:         syncing,
			PeriodicEnabled: periodicEnabled,
		},
	})
}

func (e *Engine) emitSyncResult(success bool, cursor int64, errMsg string) {
	e.bus.Publish(events.Event{
		Type: events.TypeSyncResult,
		SyncResult: &events.SyncResultPayload{
			Success: success,
			Cursor:  cursor,
			Error:   errMsg,
		},
	})
}
