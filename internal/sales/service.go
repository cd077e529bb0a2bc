package sales

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/catalog"
	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stock"
)

// LedgerPort exposes the stock operations a sale needs.
type LedgerPort interface {
	Bind(tx pgx.Tx) stock.TxRepository
	ApplyTx(ctx context.Context, tx stock.TxRepository, intent stock.MovementIntent) (stock.MovementResult, error)
	AllocateTx(ctx context.Context, tx stock.TxRepository, tenantID, locationID, productID, quantity int64) ([]stock.BatchAllocation, error)
	ReceiveBatchTx(ctx context.Context, tx stock.TxRepository, input stock.ReceiveBatchInput) (stock.Batch, error)
	InvalidateLevels(ctx context.Context)
}

// CatalogPort exposes the product checks a sale needs.
type CatalogPort interface {
	GetActive(ctx context.Context, tenantID, productID int64) (catalog.Product, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the sale workflow: draft, lines, finalize with FEFO batch
// consumption, cancel, and compensating returns.
type Service struct {
	repo    RepositoryPort
	ledger  LedgerPort
	catalog CatalogPort
	audit   AuditPort
	logger  *slog.Logger
}

// NewService constructs the sales service.
func NewService(repo RepositoryPort, ledger LedgerPort, catalog CatalogPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, catalog: catalog, audit: audit, logger: logger}
}

// CreateInput describes a new draft sale.
type CreateInput struct {
	TenantID   int64
	LocationID int64
	Number     string
	Note       string
	ActorID    int64
}

// Create opens a draft sale. A missing number gets a generated one.
func (s *Service) Create(ctx context.Context, input CreateInput) (Sale, error) {
	if input.TenantID <= 0 || input.LocationID <= 0 {
		return Sale{}, fmt.Errorf("sales: tenant and location required: %w", shared.ErrValidation)
	}
	if input.Number == "" {
		input.Number = "SAL-" + strings.ToUpper(uuid.NewString()[:8])
	}

	sale := Sale{
		TenantID:   input.TenantID,
		LocationID: input.LocationID,
		Number:     input.Number,
		Status:     StatusDraft,
		Note:       input.Note,
		CreatedBy:  input.ActorID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		id, err := s.repo.Bind(tx).Insert(ctx, sale)
		if err != nil {
			return err
		}
		sale.ID = id
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	s.recordAudit(ctx, input.TenantID, input.ActorID, "sale.create", sale.ID, nil)
	return s.repo.Get(ctx, input.TenantID, sale.ID)
}

// LineInput describes one requested sale line.
type LineInput struct {
	ProductID int64
	VariantID int64
	Quantity  int64
	UnitPrice decimal.Decimal
}

// SetLines replaces the draft's lines. Each product must exist and be
// active; quantities must be positive.
func (s *Service) SetLines(ctx context.Context, tenantID, saleID int64, inputs []LineInput, actorID int64) (Sale, error) {
	if len(inputs) == 0 {
		return Sale{}, fmt.Errorf("sales: at least one line required: %w", shared.ErrValidation)
	}
	lines := make([]Line, 0, len(inputs))
	for _, input := range inputs {
		if input.Quantity <= 0 {
			return Sale{}, fmt.Errorf("sales: line quantity must be positive for product %d: %w", input.ProductID, shared.ErrValidation)
		}
		if input.UnitPrice.IsNegative() {
			return Sale{}, fmt.Errorf("sales: unit price cannot be negative for product %d: %w", input.ProductID, shared.ErrValidation)
		}
		if _, err := s.catalog.GetActive(ctx, tenantID, input.ProductID); err != nil {
			return Sale{}, fmt.Errorf("sales: product %d: %w", input.ProductID, err)
		}
		lines = append(lines, Line{
			SaleID:    saleID,
			ProductID: input.ProductID,
			VariantID: input.VariantID,
			Quantity:  input.Quantity,
			UnitPrice: input.UnitPrice,
			LineTotal: input.UnitPrice.Mul(decimal.NewFromInt(input.Quantity)),
		})
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		repo := s.repo.Bind(tx)
		sale, err := repo.GetForUpdate(ctx, tenantID, saleID)
		if err != nil {
			return err
		}
		if sale.Status != StatusDraft {
			return fmt.Errorf("sales: cannot edit lines of %s sale: %w", sale.Status, shared.ErrInvalidState)
		}
		return repo.ReplaceLines(ctx, saleID, lines)
	})
	if err != nil {
		return Sale{}, err
	}
	return s.repo.Get(ctx, tenantID, saleID)
}

// Finalize completes a draft sale in one transaction: every line allocates
// batches FEFO and posts a SALE movement. Any line failure rolls the whole
// sale back with the offending product in the error.
func (s *Service) Finalize(ctx context.Context, tenantID, saleID, actorID int64) (Receipt, error) {
	var receipt Receipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		repo := s.repo.Bind(tx)
		sale, err := repo.GetForUpdate(ctx, tenantID, saleID)
		if err != nil {
			return err
		}
		if sale.Status != StatusDraft {
			return fmt.Errorf("sales: cannot finalize %s sale: %w", sale.Status, shared.ErrInvalidState)
		}
		if len(sale.Lines) == 0 {
			return fmt.Errorf("sales: sale has no lines: %w", shared.ErrValidation)
		}

		// lock order is fixed across workflows to avoid ABBA deadlocks
		lines := append([]Line(nil), sale.Lines...)
		sort.Slice(lines, func(i, j int) bool {
			if lines[i].ProductID != lines[j].ProductID {
				return lines[i].ProductID < lines[j].ProductID
			}
			return lines[i].VariantID < lines[j].VariantID
		})

		stockTx := s.ledger.Bind(tx)
		receipt = Receipt{SaleID: sale.ID, Number: sale.Number}
		for _, line := range lines {
			allocations, err := s.ledger.AllocateTx(ctx, stockTx, tenantID, sale.LocationID, line.ProductID, line.Quantity)
			if err != nil {
				return fmt.Errorf("sales: product %d: %w", line.ProductID, err)
			}
			_, err = s.ledger.ApplyTx(ctx, stockTx, stock.MovementIntent{
				Key:       stock.Key{TenantID: tenantID, LocationID: sale.LocationID, ProductID: line.ProductID, VariantID: line.VariantID},
				Type:      stock.MovementSale,
				Quantity:  -line.Quantity,
				Reference: sale.Number,
				Ref:       stock.Ref{Kind: stock.RefSale, ID: sale.ID},
				ActorID:   actorID,
			})
			if err != nil {
				return fmt.Errorf("sales: product %d: %w", line.ProductID, err)
			}
			receipt.Lines = append(receipt.Lines, ReceiptLine{
				ProductID: line.ProductID,
				VariantID: line.VariantID,
				Quantity:  line.Quantity,
				UnitPrice: line.UnitPrice,
				LineTotal: line.LineTotal,
				Batches:   allocations,
			})
			receipt.Total = receipt.Total.Add(line.LineTotal)
		}

		if err := repo.UpdateStatus(ctx, tenantID, saleID, StatusCompleted); err != nil {
			return err
		}
		receipt.CompletedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}

	s.ledger.InvalidateLevels(ctx)
	s.recordAudit(ctx, tenantID, actorID, "sale.finalize", saleID, map[string]any{"total": receipt.Total.String()})
	return receipt, nil
}

// Cancel abandons a draft. Completed sales are reversed with Return instead.
func (s *Service) Cancel(ctx context.Context, tenantID, saleID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		repo := s.repo.Bind(tx)
		sale, err := repo.GetForUpdate(ctx, tenantID, saleID)
		if err != nil {
			return err
		}
		if sale.Status != StatusDraft {
			return fmt.Errorf("sales: cannot cancel %s sale: %w", sale.Status, shared.ErrInvalidState)
		}
		return repo.UpdateStatus(ctx, tenantID, saleID, StatusCancelled)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, tenantID, actorID, "sale.cancel", saleID, nil)
	return nil
}

// ReturnLineInput describes one returned product.
type ReturnLineInput struct {
	ProductID int64
	VariantID int64
	Quantity  int64
	// ExpiresAt dates the restocked batch; returned goods re-enter FEFO
	// rotation under a fresh batch number.
	ExpiresAt time.Time
}

// Return posts compensating RETURN movements against a completed sale and
// restocks the goods into new batches. The ledger stays append-only: the
// original SALE movements are never touched.
func (s *Service) Return(ctx context.Context, tenantID, saleID int64, inputs []ReturnLineInput, actorID int64) error {
	if len(inputs) == 0 {
		return fmt.Errorf("sales: at least one return line required: %w", shared.ErrValidation)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		repo := s.repo.Bind(tx)
		sale, err := repo.GetForUpdate(ctx, tenantID, saleID)
		if err != nil {
			return err
		}
		if sale.Status != StatusCompleted {
			return fmt.Errorf("sales: cannot return against %s sale: %w", sale.Status, shared.ErrInvalidState)
		}

		sold := make(map[[2]int64]int64)
		for _, line := range sale.Lines {
			sold[[2]int64{line.ProductID, line.VariantID}] += line.Quantity
		}

		lines := append([]ReturnLineInput(nil), inputs...)
		sort.Slice(lines, func(i, j int) bool {
			if lines[i].ProductID != lines[j].ProductID {
				return lines[i].ProductID < lines[j].ProductID
			}
			return lines[i].VariantID < lines[j].VariantID
		})

		stockTx := s.ledger.Bind(tx)
		for _, line := range lines {
			if line.Quantity <= 0 {
				return fmt.Errorf("sales: return quantity must be positive for product %d: %w", line.ProductID, shared.ErrValidation)
			}
			if line.Quantity > sold[[2]int64{line.ProductID, line.VariantID}] {
				return fmt.Errorf("sales: return exceeds sold quantity for product %d: %w", line.ProductID, shared.ErrValidation)
			}
			_, err := s.ledger.ReceiveBatchTx(ctx, stockTx, stock.ReceiveBatchInput{
				TenantID:    tenantID,
				LocationID:  sale.LocationID,
				ProductID:   line.ProductID,
				BatchNumber: fmt.Sprintf("RET-%d-%s", saleID, strings.ToUpper(uuid.NewString()[:8])),
				Quantity:    line.Quantity,
				ExpiresAt:   line.ExpiresAt,
			})
			if err != nil {
				return fmt.Errorf("sales: product %d: %w", line.ProductID, err)
			}
			_, err = s.ledger.ApplyTx(ctx, stockTx, stock.MovementIntent{
				Key:       stock.Key{TenantID: tenantID, LocationID: sale.LocationID, ProductID: line.ProductID, VariantID: line.VariantID},
				Type:      stock.MovementReturn,
				Quantity:  line.Quantity,
				Reference: sale.Number,
				Ref:       stock.Ref{Kind: stock.RefSale, ID: sale.ID},
				ActorID:   actorID,
			})
			if err != nil {
				return fmt.Errorf("sales: product %d: %w", line.ProductID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.ledger.InvalidateLevels(ctx)
	s.recordAudit(ctx, tenantID, actorID, "sale.return", saleID, nil)
	return nil
}

// Get loads one sale.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (Sale, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// List returns sale headers.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Sale, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID int64, action string, saleID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "sale",
		EntityID: strconv.FormatInt(saleID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("record audit", slog.Any("error", err), slog.String("action", action))
	}
}
