package transfers

import "time"

// Status enumerates the transfer lifecycle. Stock moves once, at
// validation; VALIDATED and CANCELLED are terminal.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusValidated Status = "VALIDATED"
	StatusCancelled Status = "CANCELLED"
)

// Transfer moves stock between two locations of the same tenant.
type Transfer struct {
	ID             int64      `json:"id"`
	TenantID       int64      `json:"-"`
	FromLocationID int64      `json:"from_location_id"`
	ToLocationID   int64      `json:"to_location_id"`
	Number         string     `json:"number"`
	Status         Status     `json:"status"`
	Note           string     `json:"note,omitempty"`
	CreatedBy      int64      `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ValidatedAt    *time.Time `json:"validated_at,omitempty"`
	Items          []Item     `json:"items,omitempty"`
}

// Item is one transferred product.
type Item struct {
	ID         int64 `json:"id"`
	TransferID int64 `json:"transfer_id"`
	ProductID  int64 `json:"product_id"`
	VariantID  int64 `json:"variant_id,omitempty"`
	Quantity   int64 `json:"quantity"`
}

// ListFilter narrows transfer listings.
type ListFilter struct {
	TenantID   int64
	LocationID int64
	Status     Status
	Page       int
	PerPage    int
}
