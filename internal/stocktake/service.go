package stocktake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridian-pos/meridian/internal/catalog"
	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stock"
)

// LedgerPort exposes the stock operations a stocktake needs.
type LedgerPort interface {
	Bind(tx pgx.Tx) stock.TxRepository
	ApplyTx(ctx context.Context, tx stock.TxRepository, intent stock.MovementIntent) (stock.MovementResult, error)
	InvalidateLevels(ctx context.Context)
}

// CatalogPort exposes the product reads a stocktake needs.
type CatalogPort interface {
	GetActive(ctx context.Context, tenantID, productID int64) (catalog.Product, error)
	ActiveProducts(ctx context.Context, tenantID int64) ([]catalog.Product, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives inventory reconciliation. System quantities are
// snapshotted when the count starts; validation posts one ADJUSTMENT
// movement per counted difference, leaving uncounted items alone.
type Service struct {
	repo    RepositoryPort
	ledger  LedgerPort
	catalog CatalogPort
	audit   AuditPort
	logger  *slog.Logger
}

// NewService constructs the stocktake service.
func NewService(repo RepositoryPort, ledger LedgerPort, catalog CatalogPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, catalog: catalog, audit: audit, logger: logger}
}

// CreateInput describes a new draft stocktake.
type CreateInput struct {
	TenantID   int64
	LocationID int64
	Number     string
	Note       string
	ActorID    int64
}

// Create opens a draft stocktake for one location.
func (s *Service) Create(ctx context.Context, input CreateInput) (Stocktake, error) {
	if input.TenantID <= 0 || input.LocationID <= 0 {
		return Stocktake{}, fmt.Errorf("stocktake: tenant and location required: %w", shared.ErrValidation)
	}
	if input.Number == "" {
		input.Number = "STK-" + strings.ToUpper(uuid.NewString()[:8])
	}

	st := Stocktake{
		TenantID:   input.TenantID,
		LocationID: input.LocationID,
		Number:     input.Number,
		Status:     StatusDraft,
		Note:       input.Note,
		CreatedBy:  input.ActorID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		id, err := s.repo.Bind(tx).Insert(ctx, st)
		if err != nil {
			return err
		}
		st.ID = id
		return nil
	})
	if err != nil {
		return Stocktake{}, err
	}
	s.recordAudit(ctx, input.TenantID, input.ActorID, "stocktake.create", st.ID, nil)
	return s.repo.Get(ctx, input.TenantID, st.ID)
}

// StartInput scopes the count. Leaving ProductIDs empty counts every
// active product of the tenant.
type StartInput struct {
	TenantID    int64
	StocktakeID int64
	ProductIDs  []int64
	ActorID     int64
}

// Start freezes the count scope and snapshots the system quantity of each
// item in the same transaction, so differences are computed against one
// consistent point in time.
func (s *Service) Start(ctx context.Context, input StartInput) (Stocktake, error) {
	productIDs := append([]int64(nil), input.ProductIDs...)
	if len(productIDs) == 0 {
		products, err := s.catalog.ActiveProducts(ctx, input.TenantID)
		if err != nil {
			return Stocktake{}, err
		}
		if len(products) == 0 {
			return Stocktake{}, fmt.Errorf("stocktake: no active products to count: %w", shared.ErrValidation)
		}
		for _, p := range products {
			productIDs = append(productIDs, p.ID)
		}
	} else {
		for _, id := range productIDs {
			if _, err := s.catalog.GetActive(ctx, input.TenantID, id); err != nil {
				return Stocktake{}, fmt.Errorf("stocktake: product %d: %w", id, err)
			}
		}
	}
	sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		repo := s.repo.Bind(tx)
		st, err := repo.GetForUpdate(ctx, input.TenantID, input.StocktakeID)
		if err != nil {
			return err
		}
		if st.Status != StatusDraft {
			return fmt.Errorf("stocktake: cannot start %s stocktake: %w", st.Status, shared.ErrInvalidState)
		}

		stockTx := s.ledger.Bind(tx)
		items := make([]Item, 0, len(productIDs))
		for _, productID := range productIDs {
			level, err := stockTx.GetLevel(ctx, stock.Key{
				TenantID:   input.TenantID,
				LocationID: st.LocationID,
				ProductID:  productID,
			})
			if err != nil && !errors.Is(err, stock.ErrLevelNotFound) {
				return err
			}
			items = append(items, Item{ProductID: productID, SystemQty: level.Quantity})
		}
		if err := repo.InsertItems(ctx, input.StocktakeID, items); err != nil {
			return err
		}
		return repo.UpdateStatus(ctx, input.TenantID, input.StocktakeID, StatusStarted)
	})
	if err != nil {
		return Stocktake{}, err
	}
	s.recordAudit(ctx, input.TenantID, input.ActorID, "stocktake.start", input.StocktakeID, map[string]any{"products": len(productIDs)})
	return s.repo.Get(ctx, input.TenantID, input.StocktakeID)
}

// CountInput records one observed quantity.
type CountInput struct {
	ProductID  int64
	VariantID  int64
	CountedQty int64
}

// SetCounted records observed quantities against started items. Counting
// the same product again overwrites the previous value.
func (s *Service) SetCounted(ctx context.Context, tenantID, stocktakeID int64, counts []CountInput, actorID int64) (Stocktake, error) {
	if len(counts) == 0 {
		return Stocktake{}, fmt.Errorf("stocktake: at least one count required: %w", shared.ErrValidation)
	}
	for _, c := range counts {
		if c.CountedQty < 0 {
			return Stocktake{}, fmt.Errorf("stocktake: counted quantity cannot be negative: %w", shared.ErrValidation)
		}
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		repo := s.repo.Bind(tx)
		st, err := repo.GetForUpdate(ctx, tenantID, stocktakeID)
		if err != nil {
			return err
		}
		if st.Status != StatusStarted {
			return fmt.Errorf("stocktake: cannot record counts on %s stocktake: %w", st.Status, shared.ErrInvalidState)
		}

		type itemKey struct{ productID, variantID int64 }
		byProduct := make(map[itemKey]Item, len(st.Items))
		for _, item := range st.Items {
			byProduct[itemKey{item.ProductID, item.VariantID}] = item
		}
		for _, c := range counts {
			item, ok := byProduct[itemKey{c.ProductID, c.VariantID}]
			if !ok {
				return fmt.Errorf("stocktake: product %d is not in the count scope: %w", c.ProductID, shared.ErrValidation)
			}
			if err := repo.SetCounted(ctx, item.ID, c.CountedQty); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Stocktake{}, err
	}
	return s.repo.Get(ctx, tenantID, stocktakeID)
}

// Validate closes the count in one transaction: every counted item whose
// observed quantity differs from the snapshot gets an ADJUSTMENT movement
// for the difference. Uncounted items are skipped untouched.
func (s *Service) Validate(ctx context.Context, tenantID, stocktakeID, actorID int64) (Stocktake, error) {
	var adjustments int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		repo := s.repo.Bind(tx)
		st, err := repo.GetForUpdate(ctx, tenantID, stocktakeID)
		if err != nil {
			return err
		}
		if st.Status != StatusStarted {
			return fmt.Errorf("stocktake: cannot validate %s stocktake: %w", st.Status, shared.ErrInvalidState)
		}

		items := append([]Item(nil), st.Items...)
		sort.Slice(items, func(i, j int) bool {
			if items[i].ProductID != items[j].ProductID {
				return items[i].ProductID < items[j].ProductID
			}
			return items[i].VariantID < items[j].VariantID
		})

		stockTx := s.ledger.Bind(tx)
		for _, item := range items {
			diff := item.Difference()
			if item.CountedQty == nil || diff == 0 {
				continue
			}
			_, err := s.ledger.ApplyTx(ctx, stockTx, stock.MovementIntent{
				Key:       stock.Key{TenantID: tenantID, LocationID: st.LocationID, ProductID: item.ProductID, VariantID: item.VariantID},
				Type:      stock.MovementAdjustment,
				Quantity:  diff,
				Reference: st.Number,
				Ref:       stock.Ref{Kind: stock.RefStocktake, ID: st.ID},
				ActorID:   actorID,
			})
			if err != nil {
				return fmt.Errorf("stocktake: product %d: %w", item.ProductID, err)
			}
			adjustments++
		}
		return repo.UpdateStatus(ctx, tenantID, stocktakeID, StatusValidated)
	})
	if err != nil {
		return Stocktake{}, err
	}

	if adjustments > 0 {
		s.ledger.InvalidateLevels(ctx)
	}
	s.recordAudit(ctx, tenantID, actorID, "stocktake.validate", stocktakeID, map[string]any{"adjustments": adjustments})
	return s.repo.Get(ctx, tenantID, stocktakeID)
}

// Cancel abandons a stocktake before validation. No movements have been
// posted yet, so there is nothing to compensate.
func (s *Service) Cancel(ctx context.Context, tenantID, stocktakeID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		repo := s.repo.Bind(tx)
		st, err := repo.GetForUpdate(ctx, tenantID, stocktakeID)
		if err != nil {
			return err
		}
		if st.Status != StatusDraft && st.Status != StatusStarted {
			return fmt.Errorf("stocktake: cannot cancel %s stocktake: %w", st.Status, shared.ErrInvalidState)
		}
		return repo.UpdateStatus(ctx, tenantID, stocktakeID, StatusCancelled)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, tenantID, actorID, "stocktake.cancel", stocktakeID, nil)
	return nil
}

// Get loads one stocktake.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (Stocktake, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// List returns stocktake headers.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Stocktake, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID int64, action string, stocktakeID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "stocktake",
		EntityID: strconv.FormatInt(stocktakeID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("record audit", slog.Any("error", err), slog.String("action", action))
	}
}
