package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldworks/fieldsync/internal/entity"
)

// OpType is the kind of mutation a queued operation replays.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
)

// ParseOpType converts a string to an OpType, rejecting unknown values.
func ParseOpType(s string) (OpType, error) {
	switch OpType(s) {
	case OpCreate, OpUpdate:
		return OpType(s), nil
	}
	return "", fmt.Errorf("unknown operation type: %q", s)
}

// OpStatus is the lifecycle state of a queued operation.
type OpStatus string

const (
	// StatusPending operations are drained on the next reconciliation.
	StatusPending OpStatus = "pending"
	// StatusSuccess operations have been acknowledged by the remote.
	StatusSuccess OpStatus = "success"
	// StatusExhausted operations hit the retry cap and wait for an
	// explicit operator reset. They are reportable, never fatal.
	StatusExhausted OpStatus = "exhausted"
)

// Operation is one durable queued mutation.
type Operation struct {
	Seq       int64
	ID        string
	Type      OpType
	Table     entity.Table
	RecordID  string
	Payload   entity.Fields
	Status    OpStatus
	Attempts  int
	CreatedAt time.Time
}

// Enqueue appends a pending operation to the durable queue.
//
// Operations are replayed in creation order per record, so a later mutation
// can never be overwritten by an earlier retried one.
func (db *DB) Enqueue(ctx context.Context, typ OpType, table entity.Table, recordID string, payload entity.Fields) (*Operation, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("unknown table: %q", table)
	}
	if recordID == "" {
		return nil, fmt.Errorf("operation for table %s has no record id", table)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal operation payload: %w", err)
	}

	op := &Operation{
		ID:        uuid.NewString(),
		Type:      typ,
		Table:     table,
		RecordID:  recordID,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	res, err := db.conn.ExecContext(ctx, `
	INSERT INTO operation_queue (id, operation_type, table_name, record_id, data, status, attempts, created_at)
	VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		op.ID, string(op.Type), string(op.Table), op.RecordID, string(data),
		string(op.Status), op.CreatedAt.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue operation: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		op.Seq = seq
	}

	return op, nil
}

// PendingOperations returns all pending operations in creation order. The
// autoincrement sequence is the creation order; the created_at text is kept
// for reporting only and never drives replay.
func (db *DB) PendingOperations(ctx context.Context) ([]*Operation, error) {
	return db.queryOperations(ctx, `
	SELECT seq, id, operation_type, table_name, record_id, data, status, attempts, created_at
	FROM operation_queue
	WHERE status = ?
	ORDER BY seq ASC`, string(StatusPending))
}

// ExhaustedOperations returns operations that hit the retry cap, in creation
// order.
func (db *DB) ExhaustedOperations(ctx context.Context) ([]*Operation, error) {
	return db.queryOperations(ctx, `
	SELECT seq, id, operation_type, table_name, record_id, data, status, attempts, created_at
	FROM operation_queue
	WHERE status = ?
	ORDER BY seq ASC`, string(StatusExhausted))
}

// MarkOperationSuccess records a remote acknowledgment.
func (db *DB) MarkOperationSuccess(ctx context.Context, opID string) error {
	return db.setOperationStatus(ctx, opID, StatusSuccess)
}

// MarkOperationExhausted parks an operation after the retry cap is reached.
func (db *DB) MarkOperationExhausted(ctx context.Context, opID string) error {
	return db.setOperationStatus(ctx, opID, StatusExhausted)
}

// IncrementAttempts bumps the attempt counter of a failed operation, leaving
// it pending for the next drain. Returns the new attempt count.
func (db *DB) IncrementAttempts(ctx context.Context, opID string) (int, error) {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE operation_queue SET attempts = attempts + 1 WHERE id = ?", opID)
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts for operation %s: %w", opID, err)
	}

	var attempts int
	err = db.conn.QueryRowContext(ctx,
		"SELECT attempts FROM operation_queue WHERE id = ?", opID).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("failed to read attempts for operation %s: %w", opID, err)
	}
	return attempts, nil
}

// ResetExhausted moves exhausted operations back to pending so the next
// reconciliation retries them. Returns the number of reset operations.
func (db *DB) ResetExhausted(ctx context.Context) (int, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE operation_queue SET status = ?, attempts = 0 WHERE status = ?",
		string(StatusPending), string(StatusExhausted))
	if err != nil {
		return 0, fmt.Errorf("failed to reset exhausted operations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// PendingCount returns the number of pending operations, for UI badges.
func (db *DB) PendingCount(ctx context.Context) (int, error) {
	return db.countOperations(ctx, StatusPending)
}

// ExhaustedCount returns the number of exhausted operations.
func (db *DB) ExhaustedCount(ctx context.Context) (int, error) {
	return db.countOperations(ctx, StatusExhausted)
}

// PurgeSucceeded deletes acknowledged operations older than the cutoff,
// keeping the queue table from growing without bound on long-lived devices.
func (db *DB) PurgeSucceeded(ctx context.Context, before time.Time) (int, error) {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM operation_queue WHERE status = ? AND created_at < ?",
		string(StatusSuccess), before.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to purge succeeded operations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

func (db *DB) setOperationStatus(ctx context.Context, opID string, status OpStatus) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE operation_queue SET status = ? WHERE id = ?", string(status), opID)
	if err != nil {
		return fmt.Errorf("failed to mark operation %s %s: %w", opID, status, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("operation %s not found", opID)
	}
	return nil
}

func (db *DB) countOperations(ctx context.Context, status OpStatus) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM operation_queue WHERE status = ?", string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s operations: %w", status, err)
	}
	return n, nil
}

func (db *DB) queryOperations(ctx context.Context, query string, args ...any) ([]*Operation, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		var op Operation
		var typ, table, status, data, createdAt string

		if err := rows.Scan(&op.Seq, &op.ID, &typ, &table, &op.RecordID,
			&data, &status, &op.Attempts, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}

		op.Type = OpType(typ)
		op.Table = entity.Table(table)
		op.Status = OpStatus(status)
		if err := json.Unmarshal([]byte(data), &op.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal operation %s payload: %w", op.ID, err)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			op.CreatedAt = t
		}

		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}
	return ops, nil
}
