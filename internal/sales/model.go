package sales

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/stock"
)

// Status enumerates the sale lifecycle. Mutations are allowed in DRAFT only;
// COMPLETED and CANCELLED are terminal.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Sale is a point-of-sale transaction. Stock moves only when the sale is
// finalized.
type Sale struct {
	ID          int64      `json:"id"`
	TenantID    int64      `json:"-"`
	LocationID  int64      `json:"location_id"`
	Number      string     `json:"number"`
	Status      Status     `json:"status"`
	Note        string     `json:"note,omitempty"`
	CreatedBy   int64      `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Lines       []Line     `json:"lines,omitempty"`
}

// Line is one sold product. Quantity is in whole units; money uses decimals.
type Line struct {
	ID        int64           `json:"id"`
	SaleID    int64           `json:"sale_id"`
	ProductID int64           `json:"product_id"`
	VariantID int64           `json:"variant_id,omitempty"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Total sums line totals.
func (s Sale) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range s.Lines {
		total = total.Add(line.LineTotal)
	}
	return total
}

// Receipt is the result of a successful finalize, including the batches each
// line was drawn from.
type Receipt struct {
	SaleID      int64           `json:"sale_id"`
	Number      string          `json:"number"`
	Lines       []ReceiptLine   `json:"lines"`
	Total       decimal.Decimal `json:"total"`
	CompletedAt time.Time       `json:"completed_at"`
}

// ReceiptLine mirrors a sale line with its batch allocations.
type ReceiptLine struct {
	ProductID int64                   `json:"product_id"`
	VariantID int64                   `json:"variant_id,omitempty"`
	Quantity  int64                   `json:"quantity"`
	UnitPrice decimal.Decimal         `json:"unit_price"`
	LineTotal decimal.Decimal         `json:"line_total"`
	Batches   []stock.BatchAllocation `json:"batches"`
}

// ListFilter narrows sale listings.
type ListFilter struct {
	TenantID   int64
	LocationID int64
	Status     Status
	Page       int
	PerPage    int
}
