package stocktake

import "time"

// Status enumerates the stocktake lifecycle. The snapshot is taken at
// start; validation posts one ADJUSTMENT per counted difference.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusStarted   Status = "STARTED"
	StatusValidated Status = "VALIDATED"
	StatusCancelled Status = "CANCELLED"
)

// Stocktake reconciles counted quantities against the ledger at one
// location.
type Stocktake struct {
	ID          int64      `json:"id"`
	TenantID    int64      `json:"-"`
	LocationID  int64      `json:"location_id"`
	Number      string     `json:"number"`
	Status      Status     `json:"status"`
	Note        string     `json:"note,omitempty"`
	CreatedBy   int64      `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
	Items       []Item     `json:"items,omitempty"`
}

// Item is one counted product line. SystemQty is the ledger quantity
// snapshotted when the stocktake started; CountedQty stays nil until a
// count is recorded, and nil items are skipped at validation.
type Item struct {
	ID          int64  `json:"id"`
	StocktakeID int64  `json:"stocktake_id"`
	ProductID   int64  `json:"product_id"`
	VariantID   int64  `json:"variant_id,omitempty"`
	SystemQty   int64  `json:"system_qty"`
	CountedQty  *int64 `json:"counted_qty,omitempty"`
}

// Difference is counted minus system, zero when uncounted.
func (i Item) Difference() int64 {
	if i.CountedQty == nil {
		return 0
	}
	return *i.CountedQty - i.SystemQty
}

// ListFilter narrows stocktake listings.
type ListFilter struct {
	TenantID   int64
	LocationID int64
	Status     Status
	Page       int
	PerPage    int
}
