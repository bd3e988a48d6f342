// Package entity defines the typed records mirrored between the local store
// and the remote backend.
//
// Each entity type maps to one shadow table locally and one table remotely.
// Records are typed at the application edges; the store and the conflict
// resolver work on the generic Fields snapshot produced from a record.
package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// Table identifies a synchronized table.
type Table string

const (
	TableCrews       Table = "crews"
	TableWorkOrders  Table = "work_orders"
	TableOrderItems  Table = "work_order_items"
	TableAssignments Table = "assignments"
	TableShiftLogs   Table = "shift_logs"
	TablePriceList   Table = "price_entries"
)

// Tables returns all synchronized tables in sync order.
//
// Parent tables come before their children so that a pull never writes an
// item whose work order has not been mirrored yet.
func Tables() []Table {
	return []Table{
		TableCrews,
		TableWorkOrders,
		TableOrderItems,
		TableAssignments,
		TableShiftLogs,
		TablePriceList,
	}
}

// Valid reports whether t names a known synchronized table.
func (t Table) Valid() bool {
	switch t {
	case TableCrews, TableWorkOrders, TableOrderItems,
		TableAssignments, TableShiftLogs, TablePriceList:
		return true
	}
	return false
}

// ParseTable converts a string to a Table, rejecting unknown names.
func ParseTable(s string) (Table, error) {
	t := Table(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown table: %q", s)
	}
	return t, nil
}

// Record is the capability shared by every synchronized entity type.
//
// The engine and the queue are written against this interface rather than
// concrete structs, so new entity types only need to implement it and
// register their table.
type Record interface {
	// RecordID returns the stable identifier shared by both stores.
	RecordID() string

	// RecordTable returns the table this record belongs to.
	RecordTable() Table

	// ModifiedAt returns the record's last modification time, used by the
	// last_modified conflict strategy.
	ModifiedAt() time.Time
}

// Snapshot converts a typed record into its generic field map via its JSON
// encoding. The snapshot is what the store persists and what the conflict
// resolver compares.
func Snapshot(r Record) (Fields, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot %s record: %w", r.RecordTable(), err)
	}
	var f Fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to decode %s snapshot: %w", r.RecordTable(), err)
	}
	return f, nil
}

// Decode fills a typed record from a generic field map.
func Decode(f Fields, dst Record) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode fields into %s record: %w", dst.RecordTable(), err)
	}
	return nil
}
