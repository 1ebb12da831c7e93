package db

import "fmt"

// migrations are applied in order; user_version tracks the last applied index.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS sync_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_changes (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		id          TEXT NOT NULL UNIQUE,
		timestamp   INTEGER NOT NULL,
		device_id   TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		action      TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		data        BLOB
	);

	CREATE INDEX IF NOT EXISTS idx_pending_entity
		ON pending_changes (entity_type, entity_id);
	`,
}

// Migrate brings the schema up to date. Safe to call on every start.
func (db *DB) Migrate() error {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to bump schema version to %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
