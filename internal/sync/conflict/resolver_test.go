// Package conflict tests for last-write-wins resolution.
package conflict

import (
	"reflect"
	"testing"

	"github.com/planmesh/backend/internal/models"
)

func change(id string, ts int64, entityType models.EntityType, entityID string) models.ChangeRecord {
	return models.ChangeRecord{
		ID:         id,
		Timestamp:  ts,
		DeviceID:   "other-device",
		EntityType: entityType,
		Action:     models.ActionUpdate,
		EntityID:   entityID,
	}
}

// TestNoLocalPendingAppliesAll verifies remote changes for uncontested
// keys apply directly, in timestamp order.
func TestNoLocalPendingAppliesAll(t *testing.T) {
	r := NewResolver()

	remote := []models.ChangeRecord{
		change("r2", 200, models.EntityTask, "t1"),
		change("r1", 100, models.EntityTask, "t1"),
	}

	res := r.Resolve(remote, nil)

	if len(res.Apply) != 2 {
		t.Fatalf("apply len = %d, want 2", len(res.Apply))
	}
	if res.Apply[0].ID != "r1" || res.Apply[1].ID != "r2" {
		t.Errorf("apply order = [%s %s], want [r1 r2]", res.Apply[0].ID, res.Apply[1].ID)
	}
	if len(res.SupersededIDs) != 0 {
		t.Errorf("superseded = %v, want none", res.SupersededIDs)
	}
}

// TestRemoteNewerWins covers the scenario: local pending at 100, remote
// at 200 for the same entity. The local entry is superseded and the
// remote change applies.
func TestRemoteNewerWins(t *testing.T) {
	r := NewResolver()

	local := []models.ChangeRecord{change("l1", 100, models.EntityMeeting, "m1")}
	remote := []models.ChangeRecord{change("r1", 200, models.EntityMeeting, "m1")}

	res := r.Resolve(remote, local)

	if len(res.Apply) != 1 || res.Apply[0].ID != "r1" {
		t.Fatalf("apply = %v, want [r1]", res.Apply)
	}
	if !reflect.DeepEqual(res.SupersededIDs, []string{"l1"}) {
		t.Errorf("superseded = %v, want [l1]", res.SupersededIDs)
	}
}

// TestLocalNewerWins covers the scenario: local pending at 300, remote
// at 200. The local entry stays queued and the remote change is discarded.
func TestLocalNewerWins(t *testing.T) {
	r := NewResolver()

	local := []models.ChangeRecord{change("l1", 300, models.EntityMeeting, "m1")}
	remote := []models.ChangeRecord{change("r1", 200, models.EntityMeeting, "m1")}

	res := r.Resolve(remote, local)

	if len(res.Apply) != 0 {
		t.Errorf("apply = %v, want none", res.Apply)
	}
	if len(res.SupersededIDs) != 0 {
		t.Errorf("superseded = %v, want none", res.SupersededIDs)
	}
	if res.LocalWins != 1 {
		t.Errorf("local wins = %d, want 1", res.LocalWins)
	}
	if res.RemoteDiscarded != 1 {
		t.Errorf("remote discarded = %d, want 1", res.RemoteDiscarded)
	}
	if !reflect.DeepEqual(res.RetainedIDs, []string{"l1"}) {
		t.Errorf("retained = %v, want [l1]", res.RetainedIDs)
	}
}

// TestTieGoesToRemote verifies equal latest timestamps resolve in favor
// of the remote side.
func TestTieGoesToRemote(t *testing.T) {
	r := NewResolver()

	local := []models.ChangeRecord{change("l1", 200, models.EntityTask, "t1")}
	remote := []models.ChangeRecord{change("r1", 200, models.EntityTask, "t1")}

	res := r.Resolve(remote, local)

	if len(res.Apply) != 1 || res.Apply[0].ID != "r1" {
		t.Fatalf("apply = %v, want [r1]", res.Apply)
	}
	if !reflect.DeepEqual(res.SupersededIDs, []string{"l1"}) {
		t.Errorf("superseded = %v, want [l1]", res.SupersededIDs)
	}
}

// TestLatestTimestampDecides verifies the comparison uses the latest
// entry on each side, not the first.
func TestLatestTimestampDecides(t *testing.T) {
	r := NewResolver()

	// Latest local (350) beats latest remote (300) even though an older
	// local entry (100) predates both remote entries.
	local := []models.ChangeRecord{
		change("l1", 100, models.EntityReminder, "rm1"),
		change("l2", 350, models.EntityReminder, "rm1"),
	}
	remote := []models.ChangeRecord{
		change("r1", 250, models.EntityReminder, "rm1"),
		change("r2", 300, models.EntityReminder, "rm1"),
	}

	res := r.Resolve(remote, local)

	if len(res.Apply) != 0 {
		t.Errorf("apply = %v, want none", res.Apply)
	}
	if res.RemoteDiscarded != 2 {
		t.Errorf("remote discarded = %d, want 2", res.RemoteDiscarded)
	}
	if !reflect.DeepEqual(res.RetainedIDs, []string{"l1", "l2"}) {
		t.Errorf("retained = %v, want [l1 l2]", res.RetainedIDs)
	}
}

// TestRemoteWinDropsAllLocalEntriesForKey verifies every pending local
// entry for a lost key is superseded, not only the latest.
func TestRemoteWinDropsAllLocalEntriesForKey(t *testing.T) {
	r := NewResolver()

	local := []models.ChangeRecord{
		change("l1", 100, models.EntityMessage, "msg1"),
		change("l2", 150, models.EntityMessage, "msg1"),
	}
	remote := []models.ChangeRecord{change("r1", 200, models.EntityMessage, "msg1")}

	res := r.Resolve(remote, local)

	if !reflect.DeepEqual(res.SupersededIDs, []string{"l1", "l2"}) {
		t.Errorf("superseded = %v, want [l1 l2]", res.SupersededIDs)
	}
}

// TestKeysResolveIndependently verifies grouping by (entityType, entityID).
func TestKeysResolveIndependently(t *testing.T) {
	r := NewResolver()

	local := []models.ChangeRecord{
		change("l1", 300, models.EntityTask, "t1"),   // local wins
		change("l2", 100, models.EntityTask, "t2"),   // remote wins
		change("l3", 100, models.EntityMeeting, "t1"), // different type, same id: remote wins
	}
	remote := []models.ChangeRecord{
		change("r1", 200, models.EntityTask, "t1"),
		change("r2", 200, models.EntityTask, "t2"),
		change("r3", 200, models.EntityMeeting, "t1"),
		change("r4", 200, models.EntityReminder, "rm9"), // uncontested
	}

	res := r.Resolve(remote, local)

	applied := make(map[string]bool)
	for _, rec := range res.Apply {
		applied[rec.ID] = true
	}

	if applied["r1"] {
		t.Error("r1 should be discarded (local t1 is newer)")
	}
	if !applied["r2"] || !applied["r3"] || !applied["r4"] {
		t.Errorf("applied = %v, want r2, r3, r4", applied)
	}

	superseded := make(map[string]bool)
	for _, id := range res.SupersededIDs {
		superseded[id] = true
	}
	if superseded["l1"] {
		t.Error("l1 should stay pending")
	}
	if !superseded["l2"] || !superseded["l3"] {
		t.Errorf("superseded = %v, want l2 and l3", res.SupersededIDs)
	}
	if !reflect.DeepEqual(res.RetainedIDs, []string{"l1"}) {
		t.Errorf("retained = %v, want [l1]", res.RetainedIDs)
	}
}

// TestDeterministicOutput verifies resolving the same input twice yields
// the same output.
func TestDeterministicOutput(t *testing.T) {
	r := NewResolver()

	local := []models.ChangeRecord{
		change("l1", 100, models.EntityTask, "a"),
		change("l2", 100, models.EntityTask, "b"),
	}
	remote := []models.ChangeRecord{
		change("r1", 200, models.EntityTask, "b"),
		change("r2", 200, models.EntityTask, "a"),
		change("r3", 200, models.EntityMessage, "c"),
	}

	first := r.Resolve(remote, local)
	second := r.Resolve(remote, local)

	if !reflect.DeepEqual(first.Apply, second.Apply) {
		t.Error("apply order differs between runs")
	}
	if !reflect.DeepEqual(first.SupersededIDs, second.SupersededIDs) {
		t.Error("superseded order differs between runs")
	}
}

// TestEmptyRemoteBatch verifies an empty batch resolves to nothing.
func TestEmptyRemoteBatch(t *testing.T) {
	r := NewResolver()

	res := r.Resolve(nil, []models.ChangeRecord{change("l1", 100, models.EntityTask, "t1")})

	if len(res.Apply) != 0 || len(res.SupersededIDs) != 0 {
		t.Errorf("resolution = %+v, want empty", res)
	}
}
