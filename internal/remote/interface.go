// Package remote defines the backend boundary the sync engine talks to and
// provides the HTTP implementation used in production.
//
// The engine treats the backend purely as a row-level data source/sink:
// per-table select/insert/update/upsert plus one operator-scoped read that
// performs server-side authorization filtering.
package remote

import (
	"context"

	"github.com/fieldworks/fieldsync/internal/entity"
)

// Backend is the remote collaborator consumed by the sync engine.
//
// Implementations must make Upsert idempotent by primary key: retrying the
// same row must leave the remote state unchanged. Tests substitute an
// in-memory fake.
type Backend interface {
	// Ping checks backend reachability. Used by the network monitor.
	Ping(ctx context.Context) error

	// Select returns the rows of a table matching exact field equality.
	// A nil filter returns every visible row.
	Select(ctx context.Context, table entity.Table, filter map[string]string) ([]entity.Fields, error)

	// Insert creates a new row.
	Insert(ctx context.Context, table entity.Table, fields entity.Fields) error

	// Update applies a partial update to the row with the given id.
	Update(ctx context.Context, table entity.Table, id string, fields entity.Fields) error

	// Upsert inserts or replaces a row by primary key. Idempotent.
	Upsert(ctx context.Context, table entity.Table, fields entity.Fields) error

	// VisibleRows returns the rows of a table the given operator's
	// hierarchy is authorized to see. The filtering happens server-side.
	VisibleRows(ctx context.Context, table entity.Table, operatorID string) ([]entity.Fields, error)
}
