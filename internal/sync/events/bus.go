// Package events provides the typed event feed of the sync engine.
//
// Collaborators (UI, notification scheduler, entity services) subscribe to
// learn about connectivity transitions, sync lifecycle and remote entity
// changes. Delivery is synchronous and in subscriber-registration order;
// a panicking handler is isolated and logged so remaining handlers still
// receive the event.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/planmesh/backend/internal/logging"
	"github.com/planmesh/backend/internal/models"
)

// Type discriminates the event union.
type Type string

const (
	TypeConnectivity  Type = "connectivity"
	TypeSyncStatus    Type = "sync_status"
	TypeSyncResult    Type = "sync_result"
	TypeEntityChanged Type = "entity_changed"
	TypeReset         Type = "reset"
)

// ConnectivityPayload reports an online/offline transition.
type ConnectivityPayload struct {
	IsOnline bool `json:"is_online"`
}

// SyncStatusPayload reports scheduler state changes.
type SyncStatusPayload struct {
	Syncing         bool `json:"syncing"`
	PeriodicEnabled bool `json:"periodic_enabled"`
}

// SyncResultPayload reports the outcome of one sync cycle.
type SyncResultPayload struct {
	Success bool   `json:"success"`
	Cursor  int64  `json:"cursor"`
	Error   string `json:"error,omitempty"`
}

// EntityChangedPayload reports an entity mutation that collaborators must
// apply. Remote is true when the change originated on another device.
type EntityChangedPayload struct {
	EntityType models.EntityType `json:"entity_type"`
	Action     models.Action     `json:"action"`
	EntityID   string            `json:"entity_id"`
	Data       json.RawMessage   `json:"data,omitempty"`
	Remote     bool              `json:"remote"`
}

// Event is a tagged union; exactly the payload matching Type is non-nil
// (TypeReset carries no payload).
type Event struct {
	Type         Type                  `json:"type"`
	Timestamp    int64                 `json:"timestamp"`
	Connectivity *ConnectivityPayload  `json:"connectivity,omitempty"`
	SyncStatus   *SyncStatusPayload    `json:"sync_status,omitempty"`
	SyncResult   *SyncResultPayload    `json:"sync_result,omitempty"`
	Entity       *EntityChangedPayload `json:"entity,omitempty"`
}

// Handler receives published events.
type Handler func(Event)

type subscriber struct {
	id      int
	handler Handler
}

// Bus delivers events to subscribers synchronously, in registration order.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscriber
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler and returns its unsubscribe function.
// Unsubscribing twice is a no-op.
func (b *Bus) Subscribe(handler Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscriber{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the event to all current subscribers. The event's
// Timestamp is stamped here when unset.
func (b *Bus) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	b.mu.RLock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, event)
	}
}

// deliver invokes one handler, isolating panics.
func (b *Bus) deliver(s subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Event handler panicked", nil,
				map[string]interface{}{
					"event_type":    string(event.Type),
					"subscriber_id": s.id,
					"panic":         r,
				})
		}
	}()
	s.handler(event)
}

// SubscriberCount returns the number of registered handlers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
