package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldworks/fieldsync/internal/entity"
)

// ConflictEntry is one audit row describing how a conflicting record pair
// was resolved during a pull.
type ConflictEntry struct {
	ID         int64
	Table      entity.Table
	RecordID   string
	Resolution string
	LocalData  entity.Fields
	RemoteData entity.Fields
	ResolvedAt time.Time
}

// LogConflict persists an audit entry for a resolved conflict.
//
// Callers treat this as best-effort: a failure to log must never abort a
// reconciliation, so the engine only warns on error.
func (db *DB) LogConflict(ctx context.Context, entry ConflictEntry) error {
	local, err := json.Marshal(entry.LocalData)
	if err != nil {
		return fmt.Errorf("failed to marshal local snapshot: %w", err)
	}
	remote, err := json.Marshal(entry.RemoteData)
	if err != nil {
		return fmt.Errorf("failed to marshal remote snapshot: %w", err)
	}

	resolvedAt := entry.ResolvedAt
	if resolvedAt.IsZero() {
		resolvedAt = time.Now().UTC()
	}

	_, err = db.conn.ExecContext(ctx, `
	INSERT INTO conflict_log (table_name, record_id, resolution, local_data, remote_data, resolved_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		string(entry.Table), entry.RecordID, entry.Resolution,
		string(local), string(remote), resolvedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to log conflict for %s/%s: %w", entry.Table, entry.RecordID, err)
	}
	return nil
}

// RecentConflicts returns the most recent audit entries, newest first.
func (db *DB) RecentConflicts(ctx context.Context, limit int) ([]*ConflictEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.conn.QueryContext(ctx, `
	SELECT id, table_name, record_id, resolution, local_data, remote_data, resolved_at
	FROM conflict_log
	ORDER BY id DESC
	LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflict log: %w", err)
	}
	defer rows.Close()

	var entries []*ConflictEntry
	for rows.Next() {
		var e ConflictEntry
		var table, local, remote, resolvedAt string

		if err := rows.Scan(&e.ID, &table, &e.RecordID, &e.Resolution,
			&local, &remote, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conflict entry: %w", err)
		}

		e.Table = entity.Table(table)
		if err := json.Unmarshal([]byte(local), &e.LocalData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal local snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(remote), &e.RemoteData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal remote snapshot: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, resolvedAt); err == nil {
			e.ResolvedAt = t
		}

		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflict log: %w", err)
	}
	return entries, nil
}
