package purchasing

import (
	"context"
	"errors"
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

// LedgerPort exposes the stock operations receiving needs.
type LedgerPort interface {
	Bind(tx pgx.Tx) stock.TxRepository
	ApplyTx(ctx context.Context, tx stock.TxRepository, intent stock.MovementIntent) (stock.MovementResult, error)
	ReceiveBatchTx(ctx context.Context, tx stock.TxRepository, input stock.ReceiveBatchInput) (stock.Batch, error)
	InvalidateLevels(ctx context.Context)
}

// CatalogPort exposes the product checks ordering needs.
type CatalogPort interface {
	GetActive(ctx context.Context, tenantID, productID int64) (catalog.Product, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards receive retries.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service drives the purchase order workflow through receiving.
type Service struct {
	repo        RepositoryPort
	ledger      LedgerPort
	catalog     CatalogPort
	audit       AuditPort
	idempotency IdempotencyPort
	logger      *slog.Logger
}

// NewService constructs the purchasing service.
func NewService(repo RepositoryPort, ledger LedgerPort, catalog CatalogPort, audit AuditPort, idem IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, catalog: catalog, audit: audit, idempotency: idem, logger: logger}
}

// CreateLineInput describes one ordered product.
type CreateLineInput struct {
	ProductID int64
	Quantity  int64
	UnitCost  decimal.Decimal
}

// CreateInput describes a new purchase order.
type CreateInput struct {
	TenantID   int64
	LocationID int64
	Number     string
	Supplier   string
	Note       string
	Lines      []CreateLineInput
	ActorID    int64
}

// Create opens a draft order with its lines.
func (s *Service) Create(ctx context.Context, input CreateInput) (PurchaseOrder, error) {
	if input.TenantID <= 0 || input.LocationID <= 0 {
		return PurchaseOrder{}, fmt.Errorf("purchasing: tenant and location required: %w", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, fmt.Errorf("purchasing: at least one line required: %w", shared.ErrValidation)
	}
	if input.Number == "" {
		input.Number = "PO-" + strings.ToUpper(uuid.NewString()[:8])
	}

	lines := make([]Line, 0, len(input.Lines))
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return PurchaseOrder{}, fmt.Errorf("purchasing: line quantity must be positive for product %d: %w", line.ProductID, shared.ErrValidation)
		}
		if line.UnitCost.IsNegative() {
			return PurchaseOrder{}, fmt.Errorf("purchasing: unit cost cannot be negative for product %d: %w", line.ProductID, shared.ErrValidation)
		}
		if _, err := s.catalog.GetActive(ctx, input.TenantID, line.ProductID); err != nil {
			return PurchaseOrder{}, fmt.Errorf("purchasing: product %d: %w", line.ProductID, err)
		}
		lines = append(lines, Line{ProductID: line.ProductID, Quantity: line.Quantity, UnitCost: line.UnitCost})
	}

	po := PurchaseOrder{
		TenantID:   input.TenantID,
		LocationID: input.LocationID,
		Number:     input.Number,
		Supplier:   input.Supplier,
		Status:     StatusDraft,
		Note:       input.Note,
		CreatedBy:  input.ActorID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		repo := s.repo.Bind(tx)
		id, err := repo.Insert(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		return repo.InsertLines(ctx, id, lines)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.TenantID, input.ActorID, "purchase_order.create", po.ID, nil)
	return s.repo.Get(ctx, input.TenantID, po.ID)
}

// Confirm moves a draft to CONFIRMED, opening it for receipts.
func (s *Service) Confirm(ctx context.Context, tenantID, orderID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		repo := s.repo.Bind(tx)
		po, err := repo.GetForUpdate(ctx, tenantID, orderID)
		if err != nil {
			return err
		}
		if po.Status != StatusDraft {
			return fmt.Errorf("purchasing: cannot confirm %s order: %w", po.Status, shared.ErrInvalidState)
		}
		return repo.UpdateStatus(ctx, tenantID, orderID, StatusConfirmed)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, tenantID, actorID, "purchase_order.confirm", orderID, nil)
	return nil
}

// ReceiveLineInput describes one received batch against an order line.
type ReceiveLineInput struct {
	LineID      int64
	BatchNumber string
	ExpiresAt   time.Time
	Quantity    int64
}

// ReceiveInput describes one (possibly partial) receipt.
type ReceiveInput struct {
	TenantID int64
	OrderID  int64
	// IdempotencyKey deduplicates retried receipts; empty skips the guard.
	IdempotencyKey string
	Lines          []ReceiveLineInput
	ActorID        int64
}

// Receive books received goods: each line registers a batch and posts an IN
// movement in one transaction. The order flips to RECEIVED once every line
// is complete; partial receipts leave it CONFIRMED.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (PurchaseOrder, error) {
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, fmt.Errorf("purchasing: at least one receipt line required: %w", shared.ErrValidation)
	}
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "purchasing.receive"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return PurchaseOrder{}, fmt.Errorf("purchasing: receipt already processed: %w", shared.ErrDuplicate)
			}
			return PurchaseOrder{}, err
		}
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		repo := s.repo.Bind(tx)
		po, err := repo.GetForUpdate(ctx, input.TenantID, input.OrderID)
		if err != nil {
			return err
		}
		if po.Status != StatusConfirmed {
			return fmt.Errorf("purchasing: cannot receive against %s order: %w", po.Status, shared.ErrInvalidState)
		}

		byID := make(map[int64]Line, len(po.Lines))
		for _, line := range po.Lines {
			byID[line.ID] = line
		}

		receipts := append([]ReceiveLineInput(nil), input.Lines...)
		sort.Slice(receipts, func(i, j int) bool {
			return byID[receipts[i].LineID].ProductID < byID[receipts[j].LineID].ProductID
		})

		stockTx := s.ledger.Bind(tx)
		for _, receipt := range receipts {
			line, ok := byID[receipt.LineID]
			if !ok {
				return fmt.Errorf("purchasing: line %d not on order: %w", receipt.LineID, shared.ErrValidation)
			}
			if receipt.Quantity <= 0 {
				return fmt.Errorf("purchasing: receipt quantity must be positive for product %d: %w", line.ProductID, shared.ErrValidation)
			}
			if receipt.Quantity > line.Outstanding() {
				return fmt.Errorf("purchasing: receipt exceeds outstanding %d for product %d: %w", line.Outstanding(), line.ProductID, shared.ErrValidation)
			}

			_, err := s.ledger.ReceiveBatchTx(ctx, stockTx, stock.ReceiveBatchInput{
				TenantID:    input.TenantID,
				LocationID:  po.LocationID,
				ProductID:   line.ProductID,
				BatchNumber: receipt.BatchNumber,
				Quantity:    receipt.Quantity,
				ExpiresAt:   receipt.ExpiresAt,
			})
			if err != nil {
				return fmt.Errorf("purchasing: product %d: %w", line.ProductID, err)
			}
			_, err = s.ledger.ApplyTx(ctx, stockTx, stock.MovementIntent{
				Key:       stock.Key{TenantID: input.TenantID, LocationID: po.LocationID, ProductID: line.ProductID},
				Type:      stock.MovementIn,
				Quantity:  receipt.Quantity,
				Reference: po.Number,
				Ref:       stock.Ref{Kind: stock.RefPurchaseOrder, ID: po.ID},
				ActorID:   input.ActorID,
			})
			if err != nil {
				return fmt.Errorf("purchasing: product %d: %w", line.ProductID, err)
			}

			line.ReceivedQty += receipt.Quantity
			byID[receipt.LineID] = line
			if err := repo.UpdateLineReceived(ctx, line.ID, line.ReceivedQty); err != nil {
				return err
			}
		}

		complete := len(byID) > 0
		for _, line := range byID {
			if line.Outstanding() > 0 {
				complete = false
				break
			}
		}
		if complete {
			return repo.UpdateStatus(ctx, input.TenantID, input.OrderID, StatusReceived)
		}
		return nil
	})
	if err != nil {
		if input.IdempotencyKey != "" && s.idempotency != nil {
			// free the key so a corrected retry can go through
			if delErr := s.idempotency.Delete(ctx, input.IdempotencyKey); delErr != nil {
				s.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		return PurchaseOrder{}, err
	}

	s.ledger.InvalidateLevels(ctx)
	s.recordAudit(ctx, input.TenantID, input.ActorID, "purchase_order.receive", input.OrderID, map[string]any{"lines": len(input.Lines)})
	return s.repo.Get(ctx, input.TenantID, input.OrderID)
}

// Cancel abandons an order before any goods arrived.
func (s *Service) Cancel(ctx context.Context, tenantID, orderID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		repo := s.repo.Bind(tx)
		po, err := repo.GetForUpdate(ctx, tenantID, orderID)
		if err != nil {
			return err
		}
		if po.Status != StatusDraft && po.Status != StatusConfirmed {
			return fmt.Errorf("purchasing: cannot cancel %s order: %w", po.Status, shared.ErrInvalidState)
		}
		for _, line := range po.Lines {
			if line.ReceivedQty > 0 {
				return fmt.Errorf("purchasing: order has receipts: %w", shared.ErrInvalidState)
			}
		}
		return repo.UpdateStatus(ctx, tenantID, orderID, StatusCancelled)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, tenantID, actorID, "purchase_order.cancel", orderID, nil)
	return nil
}

// Get loads one order.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (PurchaseOrder, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// List returns order headers.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID int64, action string, orderID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: strconv.FormatInt(orderID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("record audit", slog.Any("error", err), slog.String("action", action))
	}
}
