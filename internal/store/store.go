// Package store provides the embedded SQLite mirror for fieldsync.
//
// The mirror holds one shadow table per synchronized entity plus the durable
// operation queue, the conflict audit log, and a small sync_state key/value
// table. It runs in WAL mode so UI reads stay concurrent with engine writes.
//
// Every mirrored row carries two pieces of sync metadata next to its JSON
// payload: a synced flag (0 = the remote has not acknowledged this value)
// and a last_modified timestamp. All writers go through this package so the
// flag and timestamp invariants cannot be bypassed.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/fieldworks/fieldsync/internal/entity"
)

// timeLayout is RFC 3339 with a fixed-width fractional second. Stored
// timestamps are always UTC, so lexicographic comparison in SQL matches
// chronological order; RFC3339Nano would drop trailing zeros and break that.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps the SQLite connection with fieldsync-specific functionality.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened in WAL mode with a busy timeout so the engine and
// UI-triggered writes serialize instead of failing. If the database doesn't
// exist it is created; call InitSchema before first use.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	// WAL keeps reads concurrent while the engine writes.
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
//
// One shadow table per synchronized entity, plus operation_queue,
// conflict_log, and sync_state. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS operation_queue (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		operation_type TEXT NOT NULL,
		table_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		data TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queue_status ON operation_queue(status);
	CREATE INDEX IF NOT EXISTS idx_queue_record ON operation_queue(table_name, record_id);

	CREATE TABLE IF NOT EXISTS conflict_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		table_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		resolution TEXT NOT NULL,
		local_data TEXT NOT NULL,
		remote_data TEXT NOT NULL,
		resolved_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conflict_record ON conflict_log(table_name, record_id);

	CREATE TABLE IF NOT EXISTS sync_state (
		k TEXT PRIMARY KEY,
		v TEXT NOT NULL
	);
	`

	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Shadow tables share one shape: the business payload is a JSON
	// document, sync metadata lives in dedicated columns.
	for _, table := range entity.Tables() {
		mirror := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			synced INTEGER NOT NULL DEFAULT 0,
			last_modified TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_synced ON %[1]s(synced);
		`, table)

		if _, err := db.conn.ExecContext(ctx, mirror); err != nil {
			return fmt.Errorf("failed to create mirror table %s: %w", table, err)
		}
	}

	return nil
}

// GetState reads a sync_state value, returning def when the key is absent.
func (db *DB) GetState(ctx context.Context, key, def string) (string, error) {
	var v string
	err := db.conn.QueryRowContext(ctx, "SELECT v FROM sync_state WHERE k = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read sync state %s: %w", key, err)
	}
	return v, nil
}

// SetState writes a sync_state value.
func (db *DB) SetState(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO sync_state (k, v) VALUES (?, ?)
	ON CONFLICT(k) DO UPDATE SET v = excluded.v`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write sync state %s: %w", key, err)
	}
	return nil
}
