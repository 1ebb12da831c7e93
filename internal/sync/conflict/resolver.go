// Package conflict resolves remote changes against outstanding local
// pending changes using a last-write-wins policy.
package conflict

import (
	"sort"

	"github.com/planmesh/backend/internal/logging"
	"github.com/planmesh/backend/internal/models"
)

// Resolution is the deterministic outcome of resolving one remote batch.
type Resolution struct {
	// Apply holds the remote changes to apply locally, grouped per entity
	// key and in remote timestamp order within each key.
	Apply []models.ChangeRecord

	// SupersededIDs are local pending entries dropped because the remote
	// side won their entity key.
	SupersededIDs []string

	// RetainedIDs are local pending entries whose entity key local won;
	// they must stay queued so the next cycle pushes them again.
	RetainedIDs []string

	// LocalWins counts entity keys where local pending changes survived.
	LocalWins int

	// RemoteDiscarded counts remote changes discarded because local won.
	RemoteDiscarded int
}

// Resolver applies last-write-wins keyed on (entityType, entityID) and
// change-creation timestamp, not server-arrival time.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve merges a batch of remote changes against the current local
// pending changes. For keys with no local entry the remote changes apply
// directly. For contested keys the side with the strictly greater latest
// timestamp wins; on a tie the remote side wins, an arbitrary but
// deterministic choice. Resolution never fails: every conflict has a
// winner.
func (r *Resolver) Resolve(remote, local []models.ChangeRecord) *Resolution {
	res := &Resolution{}
	if len(remote) == 0 {
		return res
	}

	remoteByKey := groupByKey(remote)
	localByKey := groupByKey(local)

	for _, key := range sortedKeys(remoteByKey) {
		remoteChanges := remoteByKey[key]
		sortByTimestamp(remoteChanges)

		localChanges, contested := localByKey[key]
		if !contested {
			res.Apply = append(res.Apply, remoteChanges...)
			continue
		}

		localLatest := latestTimestamp(localChanges)
		remoteLatest := latestTimestamp(remoteChanges)

		if localLatest > remoteLatest {
			// Local wins: keep the pending entries, drop the remote batch.
			res.LocalWins++
			res.RemoteDiscarded += len(remoteChanges)
			for _, lc := range localChanges {
				res.RetainedIDs = append(res.RetainedIDs, lc.ID)
			}
			logging.Debug("Conflict resolved, local wins",
				map[string]interface{}{
					"entity_type":      string(key.EntityType),
					"entity_id":        key.EntityID,
					"local_timestamp":  localLatest,
					"remote_timestamp": remoteLatest,
				})
			continue
		}

		// Remote wins, ties included.
		for _, lc := range localChanges {
			res.SupersededIDs = append(res.SupersededIDs, lc.ID)
		}
		res.Apply = append(res.Apply, remoteChanges...)
		logging.Info("Conflict resolved, remote wins",
			map[string]interface{}{
				"entity_type":      string(key.EntityType),
				"entity_id":        key.EntityID,
				"local_timestamp":  localLatest,
				"remote_timestamp": remoteLatest,
				"superseded":       len(localChanges),
			})
	}

	return res
}

func groupByKey(records []models.ChangeRecord) map[models.EntityKey][]models.ChangeRecord {
	grouped := make(map[models.EntityKey][]models.ChangeRecord)
	for _, rec := range records {
		key := rec.Key()
		grouped[key] = append(grouped[key], rec)
	}
	return grouped
}

// sortedKeys fixes the iteration order so resolution output is
// deterministic across runs.
func sortedKeys(grouped map[models.EntityKey][]models.ChangeRecord) []models.EntityKey {
	keys := make([]models.EntityKey, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].EntityType != keys[j].EntityType {
			return keys[i].EntityType < keys[j].EntityType
		}
		return keys[i].EntityID < keys[j].EntityID
	})
	return keys
}

func sortByTimestamp(records []models.ChangeRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Timestamp != records[j].Timestamp {
			return records[i].Timestamp < records[j].Timestamp
		}
		return records[i].ID < records[j].ID
	})
}

func latestTimestamp(records []models.ChangeRecord) int64 {
	var latest int64
	for _, rec := range records {
		if rec.Timestamp > latest {
			latest = rec.Timestamp
		}
	}
	return latest
}
