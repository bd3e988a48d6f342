package entity

import (
	"fmt"
	"time"
)

// Crew represents a field-service crew.
type Crew struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Region string `json:"region,omitempty"`
	Lead   string `json:"lead,omitempty"`   // operator ID of the crew lead
	Active bool   `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Crew) RecordID() string      { return c.ID }
func (c *Crew) RecordTable() Table    { return TableCrews }
func (c *Crew) ModifiedAt() time.Time { return c.UpdatedAt }

// Validate checks that the crew has the fields both stores require.
func (c *Crew) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// WorkOrder is the header of a service order assigned to a crew.
type WorkOrder struct {
	ID       string `json:"id"`
	CrewID   string `json:"crew_id,omitempty"`
	Customer string `json:"customer"`
	Site     string `json:"site,omitempty"`
	Status   string `json:"status"` // open, in_progress, on_hold, done
	Priority int    `json:"priority"`
	Notes    string `json:"notes,omitempty"` // operator free text, merge-authoritative

	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (w *WorkOrder) RecordID() string      { return w.ID }
func (w *WorkOrder) RecordTable() Table    { return TableWorkOrders }
func (w *WorkOrder) ModifiedAt() time.Time { return w.UpdatedAt }

// Validate checks required work order fields.
func (w *WorkOrder) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("id is required")
	}
	if w.Customer == "" {
		return fmt.Errorf("customer is required")
	}
	if w.Status == "" {
		return fmt.Errorf("status is required")
	}
	if w.Priority < 0 || w.Priority > 4 {
		return fmt.Errorf("priority must be between 0 and 4 (got %d)", w.Priority)
	}
	return nil
}

// WorkOrderItem is a single line item of a work order.
type WorkOrderItem struct {
	ID       string  `json:"id"`
	OrderID  string  `json:"order_id"`
	Code     string  `json:"code"` // price-list code
	Quantity float64 `json:"quantity"`
	Done     bool    `json:"done"`
	Notes    string  `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (i *WorkOrderItem) RecordID() string      { return i.ID }
func (i *WorkOrderItem) RecordTable() Table    { return TableOrderItems }
func (i *WorkOrderItem) ModifiedAt() time.Time { return i.UpdatedAt }

// Validate checks required line item fields.
func (i *WorkOrderItem) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("id is required")
	}
	if i.OrderID == "" {
		return fmt.Errorf("order_id is required")
	}
	if i.Code == "" {
		return fmt.Errorf("code is required")
	}
	return nil
}

// Assignment links an operator to a work order for a date.
type Assignment struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	OperatorID string `json:"operator_id"`
	Role       string `json:"role,omitempty"`
	Date       string `json:"date,omitempty"` // YYYY-MM-DD

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Assignment) RecordID() string      { return a.ID }
func (a *Assignment) RecordTable() Table    { return TableAssignments }
func (a *Assignment) ModifiedAt() time.Time { return a.UpdatedAt }

// Validate checks required assignment fields.
func (a *Assignment) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if a.OrderID == "" {
		return fmt.Errorf("order_id is required")
	}
	if a.OperatorID == "" {
		return fmt.Errorf("operator_id is required")
	}
	return nil
}

// ShiftLog records the hours an operator worked on an order.
type ShiftLog struct {
	ID         string  `json:"id"`
	OrderID    string  `json:"order_id,omitempty"`
	OperatorID string  `json:"operator_id"`
	Date       string  `json:"date"` // YYYY-MM-DD
	Hours      float64 `json:"hours"`
	Notes      string  `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *ShiftLog) RecordID() string      { return s.ID }
func (s *ShiftLog) RecordTable() Table    { return TableShiftLogs }
func (s *ShiftLog) ModifiedAt() time.Time { return s.UpdatedAt }

// Validate checks required shift log fields.
func (s *ShiftLog) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if s.OperatorID == "" {
		return fmt.Errorf("operator_id is required")
	}
	if s.Date == "" {
		return fmt.Errorf("date is required")
	}
	if s.Hours < 0 {
		return fmt.Errorf("hours must not be negative (got %v)", s.Hours)
	}
	return nil
}

// PriceEntry is a price-list row. Price data only flows remote to local;
// crews never author it, but the record still carries sync metadata so the
// mirror stays uniform.
type PriceEntry struct {
	ID          string  `json:"id"`
	Code        string  `json:"code"`
	Description string  `json:"description,omitempty"`
	Unit        string  `json:"unit,omitempty"`
	Price       float64 `json:"price"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *PriceEntry) RecordID() string      { return p.ID }
func (p *PriceEntry) RecordTable() Table    { return TablePriceList }
func (p *PriceEntry) ModifiedAt() time.Time { return p.UpdatedAt }

// Validate checks required price entry fields.
func (p *PriceEntry) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.Code == "" {
		return fmt.Errorf("code is required")
	}
	return nil
}
