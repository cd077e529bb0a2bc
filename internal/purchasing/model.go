package purchasing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates the purchase order lifecycle. Receiving is allowed in
// CONFIRMED only; RECEIVED and CANCELLED are terminal.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusConfirmed Status = "CONFIRMED"
	StatusReceived  Status = "RECEIVED"
	StatusCancelled Status = "CANCELLED"
)

// PurchaseOrder is an inbound order against a supplier. Stock moves only
// through receipts, which may be partial.
type PurchaseOrder struct {
	ID         int64      `json:"id"`
	TenantID   int64      `json:"-"`
	LocationID int64      `json:"location_id"`
	Number     string     `json:"number"`
	Supplier   string     `json:"supplier,omitempty"`
	Status     Status     `json:"status"`
	Note       string     `json:"note,omitempty"`
	CreatedBy  int64      `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
	Lines      []Line     `json:"lines,omitempty"`
}

// Line is one ordered product. ReceivedQty accumulates across partial
// receipts and never exceeds Quantity.
type Line struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	Quantity    int64           `json:"quantity"`
	ReceivedQty int64           `json:"received_qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

// Outstanding returns the quantity still receivable on the line.
func (l Line) Outstanding() int64 {
	return l.Quantity - l.ReceivedQty
}

// FullyReceived reports whether every line is complete.
func (po PurchaseOrder) FullyReceived() bool {
	for _, line := range po.Lines {
		if line.Outstanding() > 0 {
			return false
		}
	}
	return len(po.Lines) > 0
}

// ListFilter narrows purchase order listings.
type ListFilter struct {
	TenantID   int64
	LocationID int64
	Status     Status
	Page       int
	PerPage    int
}
