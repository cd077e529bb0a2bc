package catalog

import "context"

// RepositoryPort abstracts product persistence for the service.
type RepositoryPort interface {
	Create(ctx context.Context, p Product) (Product, error)
	Update(ctx context.Context, p Product) error
	Get(ctx context.Context, tenantID, id int64) (Product, error)
	List(ctx context.Context, filter ListFilter) ([]Product, int, error)
	SetActive(ctx context.Context, tenantID, id int64, active bool) error
	// ListActive returns every active product of a tenant, unpaginated.
	ListActive(ctx context.Context, tenantID int64) ([]Product, error)
	// ListLowStock joins stock levels against minimum stock. tenantID zero
	// scans all tenants (used by the background sweep).
	ListLowStock(ctx context.Context, tenantID int64) ([]LowStockItem, error)
}
