package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian/internal/platform/db"
	"github.com/meridian-pos/meridian/internal/shared"
)

// Repository persists products in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const productColumns = "id, tenant_id, code, name, unit, min_stock, active, created_at, updated_at"

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.TenantID, &p.Code, &p.Name, &p.Unit, &p.MinStock, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("catalog: product: %w", shared.ErrNotFound)
	}
	return p, err
}

// Create inserts a product. Code collisions within the tenant map to
// shared.ErrDuplicate.
func (r *Repository) Create(ctx context.Context, p Product) (Product, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO products (tenant_id, code, name, unit, min_stock, active)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+productColumns,
		p.TenantID, p.Code, p.Name, p.Unit, p.MinStock, p.Active)
	created, err := scanProduct(row)
	if err != nil {
		return Product{}, db.MapError(err)
	}
	return created, nil
}

// Update rewrites the mutable product fields.
func (r *Repository) Update(ctx context.Context, p Product) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET code = $1, name = $2, unit = $3, min_stock = $4, active = $5, updated_at = NOW()
WHERE tenant_id = $6 AND id = $7`,
		p.Code, p.Name, p.Unit, p.MinStock, p.Active, p.TenantID, p.ID)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("catalog: product %d: %w", p.ID, shared.ErrNotFound)
	}
	return nil
}

// Get fetches one product scoped to its tenant.
func (r *Repository) Get(ctx context.Context, tenantID, id int64) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return scanProduct(row)
}

// List returns products matching the filter plus the total count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Product, int, error) {
	if filter.TenantID <= 0 {
		return nil, 0, errors.New("catalog: tenant required")
	}
	where := "WHERE tenant_id = $1"
	args := []any{filter.TenantID}
	argPos := 2

	if filter.Search != "" {
		where += fmt.Sprintf(" AND (name ILIKE $%d OR code ILIKE $%d)", argPos, argPos)
		args = append(args, "%"+filter.Search+"%")
		argPos++
	}
	if filter.Active != nil {
		where += fmt.Sprintf(" AND active = $%d", argPos)
		args = append(args, *filter.Active)
		argPos++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM products "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	pagination := shared.NewPagination(filter.Page, filter.PerPage, total)
	query := fmt.Sprintf("SELECT %s FROM products %s ORDER BY code ASC LIMIT $%d OFFSET $%d", productColumns, where, argPos, argPos+1)
	args = append(args, pagination.PerPage, pagination.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Code, &p.Name, &p.Unit, &p.MinStock, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

// SetActive toggles product availability to workflows.
func (r *Repository) SetActive(ctx context.Context, tenantID, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET active = $1, updated_at = NOW() WHERE tenant_id = $2 AND id = $3`, active, tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("catalog: product %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// ListActive returns every active product of a tenant, unpaginated.
// Stocktakes use it to seed the default count scope.
func (r *Repository) ListActive(ctx context.Context, tenantID int64) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE tenant_id = $1 AND active ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Code, &p.Name, &p.Unit, &p.MinStock, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// ListLowStock reports active products whose aggregated on-hand quantity at
// a location dropped below the product minimum.
func (r *Repository) ListLowStock(ctx context.Context, tenantID int64) ([]LowStockItem, error) {
	query := `SELECT p.tenant_id, p.id, p.code, p.name, l.location_id, l.quantity, p.min_stock
FROM products p
JOIN stock_levels l ON l.tenant_id = p.tenant_id AND l.product_id = p.id
WHERE p.active AND p.min_stock > 0 AND l.quantity < p.min_stock`
	args := []any{}
	if tenantID > 0 {
		query += " AND p.tenant_id = $1"
		args = append(args, tenantID)
	}
	query += " ORDER BY p.tenant_id, p.code, l.location_id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []LowStockItem
	for rows.Next() {
		var item LowStockItem
		if err := rows.Scan(&item.TenantID, &item.ProductID, &item.Code, &item.Name, &item.LocationID, &item.Quantity, &item.MinStock); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
