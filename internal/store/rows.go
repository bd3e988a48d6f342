package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fieldworks/fieldsync/internal/entity"
)

// ErrNotFound is returned when the requested record is not in the mirror.
var ErrNotFound = errors.New("record not found")

// Row is a mirrored record: the business payload plus sync metadata.
type Row struct {
	ID           string
	Fields       entity.Fields
	Synced       bool
	LastModified time.Time
}

// UpsertRow inserts or replaces a mirrored record.
//
// When markSynced is false (a locally authored write) the row is flagged
// dirty and last_modified is refreshed to now. When markSynced is true (a
// row sourced from the remote, or a resolved pull result) the row is flagged
// clean and last_modified reflects the payload's own timestamp.
//
// Upserts are idempotent: writing the same payload twice leaves the row
// identical.
func (db *DB) UpsertRow(ctx context.Context, table entity.Table, fields entity.Fields, markSynced bool) error {
	if !table.Valid() {
		return fmt.Errorf("unknown table: %q", table)
	}
	id := fields.ID()
	if id == "" {
		return fmt.Errorf("record for table %s has no id", table)
	}

	synced := 0
	modified := time.Now().UTC()
	if markSynced {
		synced = 1
		if t, ok := fields.Timestamp(); ok {
			modified = t
		}
	} else {
		// Locally authored writes refresh the payload timestamp too, so
		// the pushed value carries its modification time to the remote.
		fields = fields.Clone()
		fields["updated_at"] = modified.Format(timeLayout)
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record %s: %w", table, id, err)
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (id, data, synced, last_modified)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		data = excluded.data,
		synced = excluded.synced,
		last_modified = excluded.last_modified`, table)

	if _, err := db.conn.ExecContext(ctx, query, id, string(data), synced,
		modified.Format(timeLayout)); err != nil {
		return fmt.Errorf("failed to upsert %s record %s: %w", table, id, err)
	}

	return nil
}

// ApplyPartialUpdate merges the given fields into an existing record's
// payload, flags the row dirty, and refreshes last_modified. The row must
// already exist.
func (db *DB) ApplyPartialUpdate(ctx context.Context, table entity.Table, id string, fields entity.Fields) error {
	row, err := db.GetRow(ctx, table, id)
	if err != nil {
		return err
	}

	merged := row.Fields.Clone()
	for k, v := range fields {
		merged[k] = v
	}

	return db.UpsertRow(ctx, table, merged, false)
}

// GetRow retrieves a single mirrored record by ID.
// Returns ErrNotFound if the record is not mirrored locally.
func (db *DB) GetRow(ctx context.Context, table entity.Table, id string) (*Row, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("unknown table: %q", table)
	}

	query := fmt.Sprintf("SELECT id, data, synced, last_modified FROM %s WHERE id = ?", table)
	row, err := scanRow(db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s record %s: %w", table, id, err)
	}
	return row, nil
}

// Filter restricts ListRows to records whose payload fields equal the given
// values. An empty filter matches every record.
type Filter map[string]any

// ListRows retrieves mirrored records matching the filter, ordered by ID.
// Reads never touch the network.
func (db *DB) ListRows(ctx context.Context, table entity.Table, filter Filter) ([]*Row, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("unknown table: %q", table)
	}

	var conditions []string
	var args []interface{}
	for field, value := range filter {
		// Field names come from application code, not user input, but
		// they still go through json_extract rather than the SQL text.
		conditions = append(conditions, "json_extract(data, ?) = ?")
		args = append(args, "$."+field, value)
	}

	query := fmt.Sprintf("SELECT id, data, synced, last_modified FROM %s", table)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id ASC"

	return db.queryRows(ctx, query, args...)
}

// DirtyRows returns the records whose current value the remote has not
// acknowledged, ordered by last_modified so older edits push first.
func (db *DB) DirtyRows(ctx context.Context, table entity.Table) ([]*Row, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("unknown table: %q", table)
	}

	query := fmt.Sprintf(
		"SELECT id, data, synced, last_modified FROM %s WHERE synced = 0 ORDER BY last_modified ASC, id ASC",
		table)
	return db.queryRows(ctx, query)
}

// MarkSynced flags a record as acknowledged by the remote without touching
// its payload or last_modified.
func (db *DB) MarkSynced(ctx context.Context, table entity.Table, id string) error {
	if !table.Valid() {
		return fmt.Errorf("unknown table: %q", table)
	}

	query := fmt.Sprintf("UPDATE %s SET synced = 1 WHERE id = ?", table)
	res, err := db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark %s record %s synced: %w", table, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	return nil
}

// DeleteRow removes a mirrored record. Idempotent.
func (db *DB) DeleteRow(ctx context.Context, table entity.Table, id string) error {
	if !table.Valid() {
		return fmt.Errorf("unknown table: %q", table)
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", table)
	if _, err := db.conn.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete %s record %s: %w", table, id, err)
	}
	return nil
}

// PruneAbsent deletes synced records not present in keep. Dirty rows are
// never pruned: a locally authored value must survive until pushed, even
// when the remote scoped rowset no longer contains the record.
//
// Returns the number of pruned records.
func (db *DB) PruneAbsent(ctx context.Context, table entity.Table, keep map[string]bool) (int, error) {
	if !table.Valid() {
		return 0, fmt.Errorf("unknown table: %q", table)
	}

	rows, err := db.ListRows(ctx, table, nil)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, row := range rows {
		if keep[row.ID] || !row.Synced {
			continue
		}
		if err := db.DeleteRow(ctx, table, row.ID); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// DirtyCount returns the number of unsynced records across all mirror tables.
func (db *DB) DirtyCount(ctx context.Context) (int, error) {
	total := 0
	for _, table := range entity.Tables() {
		var n int
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE synced = 0", table)
		if err := db.conn.QueryRowContext(ctx, query).Scan(&n); err != nil {
			return 0, fmt.Errorf("failed to count dirty %s rows: %w", table, err)
		}
		total += n
	}
	return total, nil
}

// rowScanner matches both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(s rowScanner) (*Row, error) {
	var row Row
	var data, modified string
	var synced int

	if err := s.Scan(&row.ID, &data, &synced, &modified); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(data), &row.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s payload: %w", row.ID, err)
	}
	row.Synced = synced != 0
	if t, err := time.Parse(time.RFC3339Nano, modified); err == nil {
		row.LastModified = t
	}

	return &row, nil
}

func (db *DB) queryRows(ctx context.Context, query string, args ...any) ([]*Row, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return out, nil
}
