// Package models provides data model definitions for the PlanMesh device core.
package models

import (
	"encoding/json"
	"time"
)

// EntityType identifies which collaborator owns an entity.
type EntityType string

const (
	EntityTask     EntityType = "task"
	EntityMessage  EntityType = "message"
	EntityMeeting  EntityType = "meeting"
	EntityReminder EntityType = "reminder"
	EntityCustom   EntityType = "custom"
)

// Action is the mutation kind recorded for an entity.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ChangeRecord is one recorded local mutation awaiting synchronization.
// Records are immutable once created; they leave the pending queue only
// when confirmed synchronized or when they lose conflict resolution.
// Data is an opaque payload owned by the entity's collaborator; the sync
// engine never interprets it.
type ChangeRecord struct {
	ID         string          `db:"id" json:"id"`
	Timestamp  int64           `db:"timestamp" json:"timestamp"` // unix milliseconds, monotonic per device
	DeviceID   string          `db:"device_id" json:"device_id"`
	EntityType EntityType      `db:"entity_type" json:"entity_type"`
	Action     Action          `db:"action" json:"action"`
	EntityID   string          `db:"entity_id" json:"entity_id"`
	Data       json.RawMessage `db:"data" json:"data,omitempty"`
}

// EntityKey identifies an entity across devices for conflict grouping.
type EntityKey struct {
	EntityType EntityType
	EntityID   string
}

// Key returns the conflict-resolution key for this record.
func (c *ChangeRecord) Key() EntityKey {
	return EntityKey{EntityType: c.EntityType, EntityID: c.EntityID}
}

// Time returns the record timestamp as time.Time.
func (c *ChangeRecord) Time() time.Time {
	return time.UnixMilli(c.Timestamp)
}

// ValidEntityType reports whether t is one of the known entity types.
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityTask, EntityMessage, EntityMeeting, EntityReminder, EntityCustom:
		return true
	}
	return false
}

// ValidAction reports whether a is a known mutation kind.
func ValidAction(a Action) bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}
