package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/meridian-pos/meridian/internal/shared"
)

// Service owns product catalog rules. Workflows consume it through their
// own port interfaces for existence and active checks.
type Service struct {
	repo RepositoryPort
}

// NewService constructs the catalog service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// CreateProductInput describes a new product.
type CreateProductInput struct {
	TenantID int64
	Code     string
	Name     string
	Unit     string
	MinStock int64
}

func (i CreateProductInput) validate() error {
	if i.TenantID <= 0 {
		return fmt.Errorf("catalog: tenant required: %w", shared.ErrValidation)
	}
	if strings.TrimSpace(i.Code) == "" {
		return fmt.Errorf("catalog: product code required: %w", shared.ErrValidation)
	}
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("catalog: product name required: %w", shared.ErrValidation)
	}
	if i.MinStock < 0 {
		return fmt.Errorf("catalog: minimum stock cannot be negative: %w", shared.ErrValidation)
	}
	return nil
}

// Create registers a product, active by default.
func (s *Service) Create(ctx context.Context, input CreateProductInput) (Product, error) {
	if err := input.validate(); err != nil {
		return Product{}, err
	}
	return s.repo.Create(ctx, Product{
		TenantID: input.TenantID,
		Code:     strings.TrimSpace(input.Code),
		Name:     strings.TrimSpace(input.Name),
		Unit:     strings.TrimSpace(input.Unit),
		MinStock: input.MinStock,
		Active:   true,
	})
}

// UpdateProductInput carries the mutable fields.
type UpdateProductInput struct {
	TenantID int64
	ID       int64
	Code     string
	Name     string
	Unit     string
	MinStock int64
	Active   bool
}

// Update rewrites a product.
func (s *Service) Update(ctx context.Context, input UpdateProductInput) (Product, error) {
	create := CreateProductInput{TenantID: input.TenantID, Code: input.Code, Name: input.Name, Unit: input.Unit, MinStock: input.MinStock}
	if err := create.validate(); err != nil {
		return Product{}, err
	}
	if input.ID <= 0 {
		return Product{}, fmt.Errorf("catalog: product id required: %w", shared.ErrValidation)
	}
	err := s.repo.Update(ctx, Product{
		ID:       input.ID,
		TenantID: input.TenantID,
		Code:     strings.TrimSpace(input.Code),
		Name:     strings.TrimSpace(input.Name),
		Unit:     strings.TrimSpace(input.Unit),
		MinStock: input.MinStock,
		Active:   input.Active,
	})
	if err != nil {
		return Product{}, err
	}
	return s.repo.Get(ctx, input.TenantID, input.ID)
}

// Get fetches one product.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, fmt.Errorf("catalog: product id required: %w", shared.ErrValidation)
	}
	return s.repo.Get(ctx, tenantID, id)
}

// GetActive fetches a product and rejects inactive ones. Workflows call
// this before moving stock for a product.
func (s *Service) GetActive(ctx context.Context, tenantID, id int64) (Product, error) {
	p, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return Product{}, err
	}
	if !p.Active {
		return Product{}, fmt.Errorf("catalog: product %s is inactive: %w", p.Code, shared.ErrInvalidState)
	}
	return p, nil
}

// List returns products with pagination metadata.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Product, int, error) {
	return s.repo.List(ctx, filter)
}

// ActiveProducts returns all active products of a tenant without
// pagination. Stocktakes snapshot this set when no explicit scope is given.
func (s *Service) ActiveProducts(ctx context.Context, tenantID int64) ([]Product, error) {
	if tenantID <= 0 {
		return nil, fmt.Errorf("catalog: tenant required: %w", shared.ErrValidation)
	}
	return s.repo.ListActive(ctx, tenantID)
}

// Deactivate removes a product from workflow use without deleting history.
func (s *Service) Deactivate(ctx context.Context, tenantID, id int64) error {
	if id <= 0 {
		return fmt.Errorf("catalog: product id required: %w", shared.ErrValidation)
	}
	return s.repo.SetActive(ctx, tenantID, id, false)
}

// LowStock lists products under their minimum stock for a tenant.
func (s *Service) LowStock(ctx context.Context, tenantID int64) ([]LowStockItem, error) {
	if tenantID <= 0 {
		return nil, fmt.Errorf("catalog: tenant required: %w", shared.ErrValidation)
	}
	return s.repo.ListLowStock(ctx, tenantID)
}

// LowStockAllTenants feeds the background sweep warning log.
func (s *Service) LowStockAllTenants(ctx context.Context) ([]LowStockItem, error) {
	return s.repo.ListLowStock(ctx, 0)
}
