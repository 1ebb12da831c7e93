// Package device manages the stable identifier of this install.
package device

import (
	"database/sql"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/planmesh/backend/internal/logging"
	"github.com/planmesh/backend/internal/uuid"
)

// metaKey is the sync_meta key holding the device id.
const metaKey = "device_id"

// Store persists the device identifier.
type Store interface {
	GetMeta(key string) (string, error)
	SetMeta(key, value string) error
}

// Identity produces and caches the device identifier. The id is created
// once per install and never regenerated; when the store is unavailable
// an ephemeral id is used for the current process only.
type Identity struct {
	store Store

	mu sync.Mutex
	id string
}

// NewIdentity creates an Identity backed by the given store.
func NewIdentity(store Store) *Identity {
	return &Identity{store: store}
}

// GetOrCreate returns the persisted device id, creating and persisting a
// new one on first run. Fails open: on any persistence error it returns a
// best-effort ephemeral id and logs the condition.
func (i *Identity) GetOrCreate() string {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.id != "" {
		return i.id
	}

	if i.store == nil {
		i.id = ephemeralID()
		logging.Warn("Device identity store unavailable, using ephemeral id",
			map[string]interface{}{"device_id": i.id})
		return i.id
	}

	existing, err := i.store.GetMeta(metaKey)
	switch {
	case err == nil && existing != "":
		i.id = existing
		return i.id
	case err != nil && err != sql.ErrNoRows:
		i.id = ephemeralID()
		logging.Warn("Failed to read device id, using ephemeral id",
			map[string]interface{}{"device_id": i.id, "read_error": err.Error()})
		return i.id
	}

	// First run: create and persist.
	id := uuid.New()
	if err := i.store.SetMeta(metaKey, id); err != nil {
		i.id = ephemeralID()
		logging.Warn("Failed to persist device id, using ephemeral id",
			map[string]interface{}{"device_id": i.id, "write_error": err.Error()})
		return i.id
	}

	i.id = id
	logging.Info("Created device identity", map[string]interface{}{"device_id": id})
	return i.id
}

// ephemeralID builds a session-only identifier from the platform name,
// the current time and a random suffix.
func ephemeralID() string {
	return fmt.Sprintf("%s-%d-%s", runtime.GOOS, time.Now().UnixMilli(), uuid.New()[:8])
}
