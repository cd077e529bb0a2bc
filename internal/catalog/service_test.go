package catalog

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian/internal/shared"
)

type memoryCatalogRepo struct {
	products map[int64]Product
	lowStock []LowStockItem
	nextID   int64
}

func newMemoryCatalogRepo() *memoryCatalogRepo {
	return &memoryCatalogRepo{products: make(map[int64]Product)}
}

func (r *memoryCatalogRepo) Create(ctx context.Context, p Product) (Product, error) {
	for _, existing := range r.products {
		if existing.TenantID == p.TenantID && strings.EqualFold(existing.Code, p.Code) {
			return Product{}, shared.ErrDuplicate
		}
	}
	r.nextID++
	p.ID = r.nextID
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	r.products[p.ID] = p
	return p, nil
}

func (r *memoryCatalogRepo) Update(ctx context.Context, p Product) error {
	existing, ok := r.products[p.ID]
	if !ok || existing.TenantID != p.TenantID {
		return shared.ErrNotFound
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now()
	r.products[p.ID] = p
	return nil
}

func (r *memoryCatalogRepo) Get(ctx context.Context, tenantID, id int64) (Product, error) {
	p, ok := r.products[id]
	if !ok || p.TenantID != tenantID {
		return Product{}, shared.ErrNotFound
	}
	return p, nil
}

func (r *memoryCatalogRepo) List(ctx context.Context, filter ListFilter) ([]Product, int, error) {
	var result []Product
	for _, p := range r.products {
		if p.TenantID != filter.TenantID {
			continue
		}
		if filter.Active != nil && p.Active != *filter.Active {
			continue
		}
		result = append(result, p)
	}
	return result, len(result), nil
}

func (r *memoryCatalogRepo) SetActive(ctx context.Context, tenantID, id int64, active bool) error {
	p, ok := r.products[id]
	if !ok || p.TenantID != tenantID {
		return shared.ErrNotFound
	}
	p.Active = active
	r.products[id] = p
	return nil
}

func (r *memoryCatalogRepo) ListActive(ctx context.Context, tenantID int64) ([]Product, error) {
	var result []Product
	for _, p := range r.products {
		if p.TenantID == tenantID && p.Active {
			result = append(result, p)
		}
	}
	return result, nil
}

func (r *memoryCatalogRepo) ListLowStock(ctx context.Context, tenantID int64) ([]LowStockItem, error) {
	if tenantID == 0 {
		return r.lowStock, nil
	}
	var result []LowStockItem
	for _, item := range r.lowStock {
		if item.TenantID == tenantID {
			result = append(result, item)
		}
	}
	return result, nil
}

func TestCreateProduct(t *testing.T) {
	svc := NewService(newMemoryCatalogRepo())
	ctx := context.Background()

	product, err := svc.Create(ctx, CreateProductInput{TenantID: 1, Code: "SKU-1", Name: "Espresso Beans", Unit: "kg", MinStock: 5})
	require.NoError(t, err)
	require.True(t, product.Active)
	require.Equal(t, "SKU-1", product.Code)

	_, err = svc.Create(ctx, CreateProductInput{TenantID: 1, Code: "SKU-1", Name: "Other"})
	require.ErrorIs(t, err, shared.ErrDuplicate)

	// same code under another tenant is fine
	_, err = svc.Create(ctx, CreateProductInput{TenantID: 2, Code: "SKU-1", Name: "Other"})
	require.NoError(t, err)
}

func TestCreateProductValidation(t *testing.T) {
	svc := NewService(newMemoryCatalogRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateProductInput{TenantID: 1, Code: "  ", Name: "x"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, CreateProductInput{TenantID: 1, Code: "A", Name: ""})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, CreateProductInput{TenantID: 1, Code: "A", Name: "x", MinStock: -1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestGetActiveRejectsDeactivated(t *testing.T) {
	repo := newMemoryCatalogRepo()
	svc := NewService(repo)
	ctx := context.Background()

	product, err := svc.Create(ctx, CreateProductInput{TenantID: 1, Code: "SKU-1", Name: "Beans"})
	require.NoError(t, err)

	got, err := svc.GetActive(ctx, 1, product.ID)
	require.NoError(t, err)
	require.Equal(t, product.ID, got.ID)

	require.NoError(t, svc.Deactivate(ctx, 1, product.ID))
	_, err = svc.GetActive(ctx, 1, product.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	// other tenants cannot see the product at all
	_, err = svc.Get(ctx, 2, product.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestLowStockScopes(t *testing.T) {
	repo := newMemoryCatalogRepo()
	repo.lowStock = []LowStockItem{
		{TenantID: 1, ProductID: 1, Code: "A", LocationID: 1, Quantity: 2, MinStock: 5},
		{TenantID: 2, ProductID: 9, Code: "B", LocationID: 1, Quantity: 0, MinStock: 3},
	}
	svc := NewService(repo)
	ctx := context.Background()

	items, err := svc.LowStock(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, int64(1), items[0].ProductID)

	all, err := svc.LowStockAllTenants(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}
