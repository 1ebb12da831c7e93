// Package db provides SQLite-backed durable storage for sync state.
package db

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/planmesh/backend/internal/models"
)

// Meta keys used by the sync engine.
const (
	MetaDeviceID = "device_id"
	MetaCursor   = "cursor"
)

// Repository provides durable access to sync metadata and the pending
// change queue. All multi-row mutations run inside a transaction so a
// crash leaves either the prior queue or the fully updated one.
type Repository struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	// Statements are prepared on first use and reused afterwards.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db.DB}
}

// prepareStmt gets or creates a prepared statement from the cache.
func (r *Repository) prepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Sync metadata (device id, cursor)
// =====================================================

// GetMeta returns the value for a meta key, or sql.ErrNoRows if unset.
func (r *Repository) GetMeta(key string) (string, error) {
	stmt, err := r.prepareStmt(`SELECT value FROM sync_meta WHERE key = ?`)
	if err != nil {
		return "", err
	}

	var value string
	if err := stmt.QueryRow(key).Scan(&value); err != nil {
		return "", err
	}
	return value, nil
}

// SetMeta sets or replaces the value for a meta key.
func (r *Repository) SetMeta(key, value string) error {
	stmt, err := r.prepareStmt(`
	INSERT INTO sync_meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(key, value)
	return err
}

// GetCursor returns the persisted sync cursor, zero when unset or unreadable.
func (r *Repository) GetCursor() (int64, error) {
	value, err := r.GetMeta(MetaCursor)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cursor, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt cursor value %q: %w", value, err)
	}
	return cursor, nil
}

// SetCursor persists the sync cursor.
func (r *Repository) SetCursor(cursor int64) error {
	return r.SetMeta(MetaCursor, strconv.FormatInt(cursor, 10))
}

// =====================================================
// Pending change queue
// =====================================================

// InsertChange appends a change record to the durable queue.
func (r *Repository) InsertChange(rec *models.ChangeRecord) error {
	stmt, err := r.prepareStmt(`
	INSERT INTO pending_changes (id, timestamp, device_id, entity_type, action, entity_id, data)
	VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(rec.ID, rec.Timestamp, rec.DeviceID,
		string(rec.EntityType), string(rec.Action), rec.EntityID, []byte(rec.Data))
	return err
}

// DeleteChanges removes the records with the given ids in one transaction.
func (r *Repository) DeleteChanges(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	query := `DELETE FROM pending_changes WHERE id IN (` + placeholders + `)`
	if _, err := tx.Exec(query, args...); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ListChanges returns all pending records in insertion order.
func (r *Repository) ListChanges() ([]models.ChangeRecord, error) {
	rows, err := r.db.Query(`
	SELECT id, timestamp, device_id, entity_type, action, entity_id, data
	FROM pending_changes ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.ChangeRecord
	for rows.Next() {
		var rec models.ChangeRecord
		var entityType, action string
		var data []byte
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.DeviceID,
			&entityType, &action, &rec.EntityID, &data); err != nil {
			return nil, err
		}
		rec.EntityType = models.EntityType(entityType)
		rec.Action = models.Action(action)
		rec.Data = data
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ClearAllChanges empties the pending queue, used by reset.
func (r *Repository) ClearAllChanges() error {
	_, err := r.db.Exec(`DELETE FROM pending_changes`)
	return err
}
