package store

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/fieldworks/fieldsync/internal/entity"
)

// validator is implemented by every entity record.
type validator interface {
	Validate() error
}

// DataAccess is the application-facing write path to the local mirror.
//
// Every write lands locally first and always succeeds offline: the row is
// flagged dirty and a matching operation is queued for replay against the
// remote. The sync engine is the only other writer, and it goes through the
// same row primitives, so the synced/last_modified invariants hold for both.
type DataAccess struct {
	db     *DB
	logger *log.Logger
}

// NewDataAccess creates the data access layer over an open mirror database.
// If logger is nil, a default logger writing to stderr is used.
func NewDataAccess(db *DB, logger *log.Logger) *DataAccess {
	if logger == nil {
		logger = log.New(os.Stderr, "[dal] ", log.LstdFlags)
	}
	return &DataAccess{
		db:     db,
		logger: logger,
	}
}

// Create stores a new record locally and queues a create operation.
func (d *DataAccess) Create(ctx context.Context, rec entity.Record) error {
	return d.write(ctx, rec, OpCreate)
}

// Update stores a full record locally and queues an update operation.
func (d *DataAccess) Update(ctx context.Context, rec entity.Record) error {
	return d.write(ctx, rec, OpUpdate)
}

func (d *DataAccess) write(ctx context.Context, rec entity.Record, typ OpType) error {
	if v, ok := rec.(validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("invalid %s record: %w", rec.RecordTable(), err)
		}
	}

	fields, err := entity.Snapshot(rec)
	if err != nil {
		return err
	}

	table := rec.RecordTable()
	if err := d.db.UpsertRow(ctx, table, fields, false); err != nil {
		return err
	}

	// The queued payload is read back from the row so it carries the
	// refreshed modification timestamp the upsert stamped on it.
	row, err := d.db.GetRow(ctx, table, rec.RecordID())
	if err != nil {
		return err
	}

	if _, err := d.db.Enqueue(ctx, typ, table, rec.RecordID(), row.Fields); err != nil {
		return err
	}

	d.logger.Printf("Queued %s for %s/%s", typ, table, rec.RecordID())
	return nil
}

// Patch applies a partial update to a mirrored record: the given fields are
// merged into the payload, the row is flagged dirty, and an update operation
// carrying the merged payload is queued.
func (d *DataAccess) Patch(ctx context.Context, table entity.Table, id string, fields entity.Fields) error {
	if err := d.db.ApplyPartialUpdate(ctx, table, id, fields); err != nil {
		return err
	}

	row, err := d.db.GetRow(ctx, table, id)
	if err != nil {
		return err
	}

	if _, err := d.db.Enqueue(ctx, OpUpdate, table, id, row.Fields); err != nil {
		return err
	}

	d.logger.Printf("Queued update for %s/%s", table, id)
	return nil
}

// Get loads a mirrored record into the given typed destination.
func (d *DataAccess) Get(ctx context.Context, id string, dst entity.Record) error {
	row, err := d.db.GetRow(ctx, dst.RecordTable(), id)
	if err != nil {
		return err
	}
	return entity.Decode(row.Fields, dst)
}

// List returns the mirrored rows of a table matching the filter.
func (d *DataAccess) List(ctx context.Context, table entity.Table, filter Filter) ([]*Row, error) {
	return d.db.ListRows(ctx, table, filter)
}
