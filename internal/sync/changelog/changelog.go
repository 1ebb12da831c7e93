// Package changelog maintains the durable queue of not-yet-synchronized
// local mutations.
package changelog

import (
	"sync"

	"github.com/planmesh/backend/internal/logging"
	"github.com/planmesh/backend/internal/models"
)

// Store is the durable backing of the queue. Implemented by db.Repository.
type Store interface {
	InsertChange(rec *models.ChangeRecord) error
	DeleteChanges(ids []string) error
	ListChanges() ([]models.ChangeRecord, error)
	ClearAllChanges() error
}

// Log is the ordered pending-change queue. The in-memory slice is the
// source of truth during a session; every mutation is written through to
// the store so a crash preserves either the prior or the updated queue.
//
// Log is the one shared mutable resource between the record path and an
// in-flight sync cycle; all access goes through its mutex, and callers
// never hold it across a transport call.
type Log struct {
	mu      sync.Mutex
	records []models.ChangeRecord
	store   Store
}

// New creates a Log over the given store. Call Load before use.
func New(store Store) *Log {
	return &Log{store: store}
}

// Load hydrates the queue from the store. A read failure resets to an
// empty queue and logs the condition: losing queued changes is preferred
// over refusing to start.
func (l *Log) Load() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store == nil {
		l.records = nil
		return
	}

	records, err := l.store.ListChanges()
	if err != nil {
		logging.Warn("Failed to load pending changes, starting with empty queue",
			map[string]interface{}{"load_error": err.Error()})
		l.records = nil
		return
	}

	l.records = records
	if len(records) > 0 {
		logging.Info("Loaded pending changes",
			map[string]interface{}{"count": len(records)})
	}
}

// Append adds a record to the queue and persists it. A persistence
// failure is logged and the record stays queued in memory for this
// session rather than being dropped.
func (l *Log) Append(rec models.ChangeRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, rec)

	if l.store == nil {
		return
	}
	if err := l.store.InsertChange(&rec); err != nil {
		logging.Warn("Failed to persist pending change",
			map[string]interface{}{"change_id": rec.ID, "persist_error": err.Error()})
	}
}

// Clear removes the records with the given ids after successful
// synchronization or conflict loss, and persists the reduced queue.
func (l *Log) Clear(ids []string) {
	if len(ids) == 0 {
		return
	}

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.records[:0]
	for _, rec := range l.records {
		if _, ok := drop[rec.ID]; !ok {
			kept = append(kept, rec)
		}
	}
	l.records = kept

	if l.store == nil {
		return
	}
	if err := l.store.DeleteChanges(ids); err != nil {
		logging.Warn("Failed to delete synchronized changes from store",
			map[string]interface{}{"count": len(ids), "delete_error": err.Error()})
	}
}

// Snapshot returns a copy of the current queue in insertion order.
func (l *Log) Snapshot() []models.ChangeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.ChangeRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of pending records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Reset empties the queue in memory and in the store.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = nil

	if l.store == nil {
		return
	}
	if err := l.store.ClearAllChanges(); err != nil {
		logging.Warn("Failed to clear pending changes from store",
			map[string]interface{}{"clear_error": err.Error()})
	}
}
