package catalog

import "time"

// Product is a tenant-scoped catalog entry. Code is unique per tenant.
type Product struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"-"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Unit      string    `json:"unit"`
	MinStock  int64     `json:"min_stock"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFilter narrows product listings. Zero fields are ignored.
type ListFilter struct {
	TenantID int64
	Search   string
	Active   *bool
	Page     int
	PerPage  int
}

// LowStockItem is a product whose on-hand quantity at a location fell below
// its minimum stock. Feeds the background sweep's warning log.
type LowStockItem struct {
	TenantID   int64  `json:"-"`
	ProductID  int64  `json:"product_id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	LocationID int64  `json:"location_id"`
	Quantity   int64  `json:"quantity"`
	MinStock   int64  `json:"min_stock"`
}
