// Package device tests for identity creation and stability.
package device

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/planmesh/backend/internal/uuid"
)

// fakeStore is an in-memory meta store with scriptable failures.
type fakeStore struct {
	values map[string]string
	getErr error
	setErr error
	sets   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: make(map[string]string)}
}

func (s *fakeStore) GetMeta(key string) (string, error) {
	if s.getErr != nil {
		return "", s.getErr
	}
	value, ok := s.values[key]
	if !ok {
		return "", sql.ErrNoRows
	}
	return value, nil
}

func (s *fakeStore) SetMeta(key, value string) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.values[key] = value
	s.sets++
	return nil
}

// TestFirstRunCreatesAndPersists verifies a fresh store gets a new
// persisted uuid.
func TestFirstRunCreatesAndPersists(t *testing.T) {
	store := newFakeStore()
	identity := NewIdentity(store)

	id := identity.GetOrCreate()
	if !uuid.IsValid(id) {
		t.Errorf("id = %q, want a uuid", id)
	}
	if store.values[metaKey] != id {
		t.Errorf("persisted id = %q, want %q", store.values[metaKey], id)
	}
}

// TestExistingIDReturned verifies a persisted id survives restarts and is
// never regenerated.
func TestExistingIDReturned(t *testing.T) {
	store := newFakeStore()
	store.values[metaKey] = "existing-id"

	identity := NewIdentity(store)
	if got := identity.GetOrCreate(); got != "existing-id" {
		t.Errorf("id = %q, want existing-id", got)
	}
	if store.sets != 0 {
		t.Errorf("store writes = %d, want 0", store.sets)
	}
}

// TestStableAcrossCalls verifies repeated calls return the same id.
func TestStableAcrossCalls(t *testing.T) {
	identity := NewIdentity(newFakeStore())

	first := identity.GetOrCreate()
	second := identity.GetOrCreate()
	if first != second {
		t.Errorf("ids differ across calls: %q then %q", first, second)
	}
}

// TestReadFailureFallsBackToEphemeral verifies a broken store yields a
// usable session id rather than an error.
func TestReadFailureFallsBackToEphemeral(t *testing.T) {
	store := newFakeStore()
	store.getErr = errors.New("database locked")

	identity := NewIdentity(store)
	id := identity.GetOrCreate()
	if id == "" {
		t.Fatal("ephemeral id should be non-empty")
	}
	// Stable for the rest of the process.
	if identity.GetOrCreate() != id {
		t.Error("ephemeral id should be stable within the session")
	}
}

// TestWriteFailureFallsBackToEphemeral verifies a failed persist on first
// run still yields a usable id.
func TestWriteFailureFallsBackToEphemeral(t *testing.T) {
	store := newFakeStore()
	store.setErr = errors.New("disk full")

	identity := NewIdentity(store)
	if identity.GetOrCreate() == "" {
		t.Error("ephemeral id should be non-empty")
	}
}

// TestNilStore verifies identity works without durable storage.
func TestNilStore(t *testing.T) {
	identity := NewIdentity(nil)
	if identity.GetOrCreate() == "" {
		t.Error("ephemeral id should be non-empty")
	}
}
