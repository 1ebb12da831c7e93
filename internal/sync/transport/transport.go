// Package transport defines the remote sync contract and its HTTP
// implementation.
package transport

import (
	"context"

	"github.com/planmesh/backend/internal/models"
)

// PushRequest is the logical sync request sent to the remote store.
type PushRequest struct {
	DeviceID string                `json:"device_id"`
	Cursor   int64                 `json:"cursor"`
	Changes  []models.ChangeRecord `json:"changes"`
}

// PushResponse is the logical sync response. Success false means the
// remote store rejected the batch; the engine treats it as retry-later.
type PushResponse struct {
	Success         bool                  `json:"success"`
	ServerTimestamp int64                 `json:"server_timestamp"`
	RemoteChanges   []models.ChangeRecord `json:"remote_changes"`
	Message         string                `json:"message,omitempty"`
}

// Transport pushes pending changes and pulls remote changes newer than
// the given cursor in one round trip. Implementations are responsible
// for bounding their own latency; the engine retries failed pushes on
// the next cycle and never crashes on transport errors.
type Transport interface {
	Push(ctx context.Context, deviceID string, cursor int64, changes []models.ChangeRecord) (*PushResponse, error)
}
