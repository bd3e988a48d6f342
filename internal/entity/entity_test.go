package entity

import (
	"testing"
	"time"
)

func TestParseTable(t *testing.T) {
	for _, tbl := range Tables() {
		got, err := ParseTable(string(tbl))
		if err != nil {
			t.Errorf("ParseTable(%q) failed: %v", tbl, err)
		}
		if got != tbl {
			t.Errorf("ParseTable(%q) = %q", tbl, got)
		}
	}

	if _, err := ParseTable("invoices"); err == nil {
		t.Error("expected error for unknown table")
	}
}

func TestTablesOrderParentsFirst(t *testing.T) {
	pos := make(map[Table]int)
	for i, tbl := range Tables() {
		pos[tbl] = i
	}

	if pos[TableWorkOrders] >= pos[TableOrderItems] {
		t.Error("work_orders must sync before work_order_items")
	}
	if pos[TableCrews] >= pos[TableWorkOrders] {
		t.Error("crews must sync before work_orders")
	}
	if pos[TableWorkOrders] >= pos[TableAssignments] {
		t.Error("work_orders must sync before assignments")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	order := &WorkOrder{
		ID:        "wo-1",
		Customer:  "Acme",
		Status:    "open",
		Priority:  2,
		Notes:     "gate code 4411",
		CreatedAt: now,
		UpdatedAt: now,
	}

	f, err := Snapshot(order)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if f.ID() != "wo-1" {
		t.Errorf("snapshot id = %q, want wo-1", f.ID())
	}
	if f["customer"] != "Acme" {
		t.Errorf("snapshot customer = %v, want Acme", f["customer"])
	}
	// JSON numbers decode as float64 in a generic map.
	if f["priority"] != float64(2) {
		t.Errorf("snapshot priority = %v, want 2", f["priority"])
	}

	var back WorkOrder
	if err := Decode(f, &back); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if back.ID != order.ID || back.Customer != order.Customer || back.Notes != order.Notes {
		t.Errorf("decoded order = %+v, want %+v", back, order)
	}
	if !back.UpdatedAt.Equal(order.UpdatedAt) {
		t.Errorf("decoded UpdatedAt = %v, want %v", back.UpdatedAt, order.UpdatedAt)
	}
}

func TestSnapshotOmitsEmptyOptionalFields(t *testing.T) {
	crew := &Crew{ID: "c-1", Name: "North", Active: true}

	f, err := Snapshot(crew)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if _, ok := f["region"]; ok {
		t.Error("empty region should be omitted from the snapshot")
	}
	if _, ok := f["lead"]; ok {
		t.Error("empty lead should be omitted from the snapshot")
	}
}

func TestFieldsTimestamp(t *testing.T) {
	tests := []struct {
		name   string
		fields Fields
		want   string
		ok     bool
	}{
		{
			name:   "updated_at preferred",
			fields: Fields{"updated_at": "2024-01-02T10:00:00Z", "last_modified": "2024-01-01T10:00:00Z"},
			want:   "2024-01-02T10:00:00Z",
			ok:     true,
		},
		{
			name:   "falls back to last_modified",
			fields: Fields{"last_modified": "2024-01-01T10:00:00Z"},
			want:   "2024-01-01T10:00:00Z",
			ok:     true,
		},
		{
			name:   "unparseable updated_at falls through",
			fields: Fields{"updated_at": "yesterday", "last_modified": "2024-01-01T10:00:00Z"},
			want:   "2024-01-01T10:00:00Z",
			ok:     true,
		},
		{
			name:   "no timestamp",
			fields: Fields{"id": "1"},
			ok:     false,
		},
		{
			name:   "non-string timestamp",
			fields: Fields{"updated_at": 12345},
			ok:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, ok := tt.fields.Timestamp()
			if ok != tt.ok {
				t.Fatalf("Timestamp() ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			want, _ := time.Parse(time.RFC3339, tt.want)
			if !ts.Equal(want) {
				t.Errorf("Timestamp() = %v, want %v", ts, want)
			}
		})
	}
}

func TestFieldsClone(t *testing.T) {
	orig := Fields{"id": "1", "status": "open"}
	cp := orig.Clone()
	cp["status"] = "done"

	if orig["status"] != "open" {
		t.Error("Clone shares storage with the original")
	}
}

func TestEmpty(t *testing.T) {
	tests := []struct {
		v    any
		want bool
	}{
		{nil, true},
		{"", true},
		{"x", false},
		{[]any{}, true},
		{[]any{1}, false},
		{map[string]any{}, true},
		{map[string]any{"k": 1}, false},
		{0, false},     // zero numbers still carry a value
		{false, false}, // so do booleans
	}

	for _, tt := range tests {
		if got := Empty(tt.v); got != tt.want {
			t.Errorf("Empty(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rec     interface{ Validate() error }
		wantErr bool
	}{
		{"valid crew", &Crew{ID: "c-1", Name: "North"}, false},
		{"crew missing name", &Crew{ID: "c-1"}, true},
		{"valid order", &WorkOrder{ID: "w-1", Customer: "Acme", Status: "open"}, false},
		{"order missing customer", &WorkOrder{ID: "w-1", Status: "open"}, true},
		{"order priority out of range", &WorkOrder{ID: "w-1", Customer: "Acme", Status: "open", Priority: 9}, true},
		{"valid item", &WorkOrderItem{ID: "i-1", OrderID: "w-1", Code: "PL-1"}, false},
		{"item missing code", &WorkOrderItem{ID: "i-1", OrderID: "w-1"}, true},
		{"valid assignment", &Assignment{ID: "a-1", OrderID: "w-1", OperatorID: "op-1"}, false},
		{"assignment missing operator", &Assignment{ID: "a-1", OrderID: "w-1"}, true},
		{"valid shift log", &ShiftLog{ID: "s-1", OperatorID: "op-1", Date: "2024-03-01", Hours: 8}, false},
		{"shift log negative hours", &ShiftLog{ID: "s-1", OperatorID: "op-1", Date: "2024-03-01", Hours: -1}, true},
		{"valid price entry", &PriceEntry{ID: "p-1", Code: "PL-1", Price: 10}, false},
		{"price entry missing code", &PriceEntry{ID: "p-1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
