// Package cache provides the SQLite item-collection host for todosync.
//
// The cache is the caller-side store of the synchronization: it mirrors the
// todo file as items so commands can list and look up tasks without
// re-reading the file, and it records the collection's health as reported
// by the engine.
//
// The database runs embedded (ncruces/go-sqlite3) with WAL so the daemon
// can write while one-shot commands read.
//
// Architecture:
//   - Database file: ~/.local/share/todosync/cache.db
//   - Schema: collections, items, host_status tables
//   - Full enumerations are reconciled in one transaction: unseen items are
//     added, missing items dropped, the rest kept
//
// Under the content-hash scheme identical lines share a remote id, so items
// are keyed by (remote_id, occurrence) where occurrence counts earlier items
// with the same remote id in file order.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mschirtzinger/todosync/internal/schema"
	todosync "github.com/mschirtzinger/todosync/internal/sync"
)

// ErrItemNotFound is returned when a remote id is not in the cache.
var ErrItemNotFound = errors.New("item not found")

// DB wraps the SQLite connection and implements sync.Host.
type DB struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

var _ todosync.Host = (*DB)(nil)

// ReconcileResult summarizes how a full enumeration changed the cache.
type ReconcileResult struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
}

// HostStatus is the last health report received from the engine.
type HostStatus struct {
	Status    string
	Message   string
	LastError string
	UpdatedAt time.Time
}

// Open creates a new cache connection at the specified path.
//
// The parent directory is created if needed. The caller MUST call Close()
// when done. A nil logger writes to stderr.
//
// Example:
//
//	cache, err := cache.Open("/tmp/cache.db", nil)
//	if err != nil {
//	    return err
//	}
//	defer cache.Close()
func Open(path string, logger *log.Logger) (*DB, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn:   conn,
		path:   path,
		logger: logger,
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close cache: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the cache schema if it doesn't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the cache schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		path TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		mime_types TEXT NOT NULL,  -- JSON array
		synced_at TEXT
	);

	CREATE TABLE IF NOT EXISTS items (
		remote_id TEXT NOT NULL,
		occurrence INTEGER NOT NULL DEFAULT 0,
		collection TEXT NOT NULL,
		summary TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		position INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (remote_id, occurrence),
		FOREIGN KEY (collection) REFERENCES collections(path) ON DELETE CASCADE
	);

	-- Single row: the engine reports one collection's health at a time
	CREATE TABLE IF NOT EXISTS host_status (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		status TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_collection ON items(collection, position);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// UpsertCollection records a collection.
func (db *DB) UpsertCollection(ctx context.Context, col *schema.Collection) error {
	return upsertCollection(ctx, db.conn, col)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertCollection(ctx context.Context, conn execer, col *schema.Collection) error {
	mimeJSON, err := json.Marshal(col.ContentMimeTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal mime types: %w", err)
	}

	query := `
	INSERT INTO collections (path, display_name, mime_types)
	VALUES (?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		display_name = excluded.display_name,
		mime_types = excluded.mime_types
	`
	if _, err := conn.ExecContext(ctx, query, col.Path, col.DisplayName, string(mimeJSON)); err != nil {
		return fmt.Errorf("failed to upsert collection %s: %w", col.Path, err)
	}
	return nil
}

// GetCollection returns the collection at path and when it was last fully
// synchronized (zero if never).
func (db *DB) GetCollection(ctx context.Context, path string) (*schema.Collection, time.Time, error) {
	var col schema.Collection
	var mimeJSON string
	var syncedAt sql.NullString

	err := db.conn.QueryRowContext(ctx,
		`SELECT path, display_name, mime_types, synced_at FROM collections WHERE path = ?`, path,
	).Scan(&col.Path, &col.DisplayName, &mimeJSON, &syncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, fmt.Errorf("collection %s: %w", path, ErrItemNotFound)
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to get collection: %w", err)
	}

	if err := json.Unmarshal([]byte(mimeJSON), &col.ContentMimeTypes); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to unmarshal mime types: %w", err)
	}

	var synced time.Time
	if syncedAt.Valid {
		if t, err := time.Parse(time.RFC3339, syncedAt.String); err == nil {
			synced = t
		}
	}
	return &col, synced, nil
}

// Reconcile applies a full enumeration of col.
//
// Items not yet cached are added, cached items absent from the enumeration
// are removed and the rest are kept with their position refreshed. The whole
// reconciliation is one transaction.
func (db *DB) Reconcile(ctx context.Context, col *schema.Collection, items []*schema.Item) (ReconcileResult, error) {
	var result ReconcileResult

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertCollection(ctx, tx, col); err != nil {
		return result, err
	}

	type key struct {
		remoteID   string
		occurrence int
	}

	existing := make(map[key]bool)
	rows, err := tx.QueryContext(ctx,
		`SELECT remote_id, occurrence FROM items WHERE collection = ?`, col.Path)
	if err != nil {
		return result, fmt.Errorf("failed to load cached items: %w", err)
	}
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.remoteID, &k.occurrence); err != nil {
			rows.Close()
			return result, fmt.Errorf("failed to scan cached item: %w", err)
		}
		existing[k] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return result, fmt.Errorf("failed to iterate cached items: %w", err)
	}
	rows.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	seen := make(map[string]int)

	for _, item := range items {
		k := key{remoteID: item.RemoteID, occurrence: seen[item.RemoteID]}
		seen[item.RemoteID]++

		if existing[k] {
			delete(existing, k)
			result.Unchanged++
			_, err := tx.ExecContext(ctx,
				`UPDATE items SET position = ?, summary = ? WHERE remote_id = ? AND occurrence = ?`,
				item.Position, item.Summary(), k.remoteID, k.occurrence)
			if err != nil {
				return result, fmt.Errorf("failed to refresh item %s: %w", k.remoteID, err)
			}
			continue
		}

		if err := insertItem(ctx, tx, item, k.occurrence, now); err != nil {
			return result, err
		}
		result.Added++
	}

	for k := range existing {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM items WHERE remote_id = ? AND occurrence = ?`, k.remoteID, k.occurrence)
		if err != nil {
			return result, fmt.Errorf("failed to remove item %s: %w", k.remoteID, err)
		}
		result.Removed++
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE collections SET synced_at = ? WHERE path = ?`, now, col.Path); err != nil {
		return result, fmt.Errorf("failed to stamp collection: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}

func insertItem(ctx context.Context, conn execer, item *schema.Item, occurrence int, now string) error {
	query := `
	INSERT INTO items (remote_id, occurrence, collection, summary, mime_type, position, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(remote_id, occurrence) DO UPDATE SET
		summary = excluded.summary,
		position = excluded.position,
		updated_at = excluded.updated_at
	`
	_, err := conn.ExecContext(ctx, query,
		item.RemoteID,
		occurrence,
		item.CollectionKey,
		item.Summary(),
		item.MimeType,
		item.Position,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert item %s: %w", item.RemoteID, err)
	}
	return nil
}

// ApplyChange records a committed create, update or delete.
//
// Creates take the next free occurrence of their remote id. Updates and
// deletes remove the first occurrence of the previous remote id, matching
// the engine's first-match rule.
func (db *DB) ApplyChange(ctx context.Context, change schema.Change) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if change.Kind == schema.ChangeUpdated || change.Kind == schema.ChangeDeleted {
		if change.Previous != nil {
			if err := removeFirst(ctx, tx, change.Previous.RemoteID); err != nil {
				return err
			}
		}
	}

	if change.Kind == schema.ChangeCreated || change.Kind == schema.ChangeUpdated {
		if change.Item == nil {
			return fmt.Errorf("%s change without item", change.Kind)
		}
		var next int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM items WHERE remote_id = ?`, change.Item.RemoteID).Scan(&next)
		if err != nil {
			return fmt.Errorf("failed to count occurrences: %w", err)
		}
		now := time.Now().UTC().Format(time.RFC3339)
		if err := insertItem(ctx, tx, change.Item, next, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// removeFirst deletes occurrence 0 of remoteID and shifts the rest down.
func removeFirst(ctx context.Context, tx *sql.Tx, remoteID string) error {
	res, err := tx.ExecContext(ctx,
		`DELETE FROM items WHERE remote_id = ? AND occurrence = 0`, remoteID)
	if err != nil {
		return fmt.Errorf("failed to remove item %s: %w", remoteID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	// Two passes so no row collides with a neighbour's primary key mid-update.
	renumber := []string{
		`UPDATE items SET occurrence = -occurrence WHERE remote_id = ? AND occurrence > 0`,
		`UPDATE items SET occurrence = -occurrence - 1 WHERE remote_id = ? AND occurrence < 0`,
	}
	for _, query := range renumber {
		if _, err := tx.ExecContext(ctx, query, remoteID); err != nil {
			return fmt.Errorf("failed to renumber item %s: %w", remoteID, err)
		}
	}
	return nil
}

// GetItem returns the first cached item with remoteID.
// Returns ErrItemNotFound if there is none.
func (db *DB) GetItem(ctx context.Context, remoteID string) (*schema.Item, error) {
	query := `
	SELECT remote_id, collection, summary, mime_type, position
	FROM items
	WHERE remote_id = ?
	ORDER BY occurrence
	LIMIT 1
	`

	var item schema.Item
	var summary string
	err := db.conn.QueryRowContext(ctx, query, remoteID).Scan(
		&item.RemoteID,
		&item.CollectionKey,
		&summary,
		&item.MimeType,
		&item.Position,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", remoteID, ErrItemNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	item.Payload = &schema.Todo{Summary: summary}
	return &item, nil
}

// ListItems returns the cached items of a collection in file order.
func (db *DB) ListItems(ctx context.Context, collection string) ([]*schema.Item, error) {
	query := `
	SELECT remote_id, collection, summary, mime_type, position
	FROM items
	WHERE collection = ?
	ORDER BY position, occurrence
	`

	rows, err := db.conn.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []*schema.Item
	for rows.Next() {
		var item schema.Item
		var summary string
		if err := rows.Scan(&item.RemoteID, &item.CollectionKey, &summary, &item.MimeType, &item.Position); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		item.Payload = &schema.Todo{Summary: summary}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}

	return items, nil
}

// GetItemCount returns the number of cached items in a collection.
func (db *DB) GetItemCount(ctx context.Context, collection string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM items WHERE collection = ?", collection).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get item count: %w", err)
	}
	return count, nil
}

// SetStatus records a health report.
func (db *DB) SetStatus(ctx context.Context, status todosync.Status, message string) error {
	query := `
	INSERT INTO host_status (id, status, message, updated_at)
	VALUES (1, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		message = excluded.message,
		updated_at = excluded.updated_at
	`
	_, err := db.conn.ExecContext(ctx, query, status.String(), message, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record status: %w", err)
	}
	return nil
}

// SetLastError records the most recent operation failure.
func (db *DB) SetLastError(ctx context.Context, message string) error {
	query := `
	INSERT INTO host_status (id, status, last_error, updated_at)
	VALUES (1, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		last_error = excluded.last_error,
		updated_at = excluded.updated_at
	`
	_, err := db.conn.ExecContext(ctx, query,
		todosync.StatusBroken.String(), message, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record error: %w", err)
	}
	return nil
}

// LastStatus returns the last recorded health report, or an idle status
// if the engine has never reported.
func (db *DB) LastStatus(ctx context.Context) (*HostStatus, error) {
	var hs HostStatus
	var updatedAt string

	err := db.conn.QueryRowContext(ctx,
		`SELECT status, message, last_error, updated_at FROM host_status WHERE id = 1`,
	).Scan(&hs.Status, &hs.Message, &hs.LastError, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &HostStatus{Status: todosync.StatusIdle.String()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		hs.UpdatedAt = t
	}
	return &hs, nil
}
