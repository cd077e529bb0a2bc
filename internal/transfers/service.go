package transfers

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

	"github.com/meridian-pos/meridian/internal/catalog"
	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stock"
)

// LedgerPort exposes the stock operations a transfer needs.
type LedgerPort interface {
	Bind(tx pgx.Tx) stock.TxRepository
	LockLevelsTx(ctx context.Context, tx stock.TxRepository, keys []stock.Key) error
	ApplyTx(ctx context.Context, tx stock.TxRepository, intent stock.MovementIntent) (stock.MovementResult, error)
	AllocateTx(ctx context.Context, tx stock.TxRepository, tenantID, locationID, productID, quantity int64) ([]stock.BatchAllocation, error)
	ReceiveBatchTx(ctx context.Context, tx stock.TxRepository, input stock.ReceiveBatchInput) (stock.Batch, error)
	InvalidateLevels(ctx context.Context)
}

// CatalogPort exposes the product checks a transfer needs.
type CatalogPort interface {
	GetActive(ctx context.Context, tenantID, productID int64) (catalog.Product, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives inter-location transfers. Source batches are consumed
// FEFO; destination batches are recreated carrying the source expiry dates,
// so goods keep their rotation order after the move.
type Service struct {
	repo    RepositoryPort
	ledger  LedgerPort
	catalog CatalogPort
	audit   AuditPort
	logger  *slog.Logger
}

// NewService constructs the transfers service.
func NewService(repo RepositoryPort, ledger LedgerPort, catalog CatalogPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, catalog: catalog, audit: audit, logger: logger}
}

// CreateInput describes a new draft transfer.
type CreateInput struct {
	TenantID       int64
	FromLocationID int64
	ToLocationID   int64
	Number         string
	Note           string
	ActorID        int64
}

// Create opens a draft transfer. Source and destination must differ.
func (s *Service) Create(ctx context.Context, input CreateInput) (Transfer, error) {
	if input.TenantID <= 0 || input.FromLocationID <= 0 || input.ToLocationID <= 0 {
		return Transfer{}, fmt.Errorf("transfers: tenant and both locations required: %w", shared.ErrValidation)
	}
	if input.FromLocationID == input.ToLocationID {
		return Transfer{}, fmt.Errorf("transfers: source and destination must differ: %w", shared.ErrValidation)
	}
	if input.Number == "" {
		input.Number = "TRF-" + strings.ToUpper(uuid.NewString()[:8])
	}

	transfer := Transfer{
		TenantID:       input.TenantID,
		FromLocationID: input.FromLocationID,
		ToLocationID:   input.ToLocationID,
		Number:         input.Number,
		Status:         StatusDraft,
		Note:           input.Note,
		CreatedBy:      input.ActorID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		id, err := s.repo.Bind(tx).Insert(ctx, transfer)
		if err != nil {
			return err
		}
		transfer.ID = id
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, input.TenantID, input.ActorID, "transfer.create", transfer.ID, nil)
	return s.repo.Get(ctx, input.TenantID, transfer.ID)
}

// AddItemInput describes one product to move.
type AddItemInput struct {
	TenantID   int64
	TransferID int64
	ProductID  int64
	VariantID  int64
	Quantity   int64
	ActorID    int64
}

// AddItem appends a product to a draft transfer.
func (s *Service) AddItem(ctx context.Context, input AddItemInput) (Transfer, error) {
	if input.Quantity <= 0 {
		return Transfer{}, fmt.Errorf("transfers: item quantity must be positive: %w", shared.ErrValidation)
	}
	if _, err := s.catalog.GetActive(ctx, input.TenantID, input.ProductID); err != nil {
		return Transfer{}, fmt.Errorf("transfers: product %d: %w", input.ProductID, err)
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		repo := s.repo.Bind(tx)
		transfer, err := repo.GetForUpdate(ctx, input.TenantID, input.TransferID)
		if err != nil {
			return err
		}
		if transfer.Status != StatusDraft {
			return fmt.Errorf("transfers: cannot edit items of %s transfer: %w", transfer.Status, shared.ErrInvalidState)
		}
		_, err = repo.InsertItem(ctx, Item{
			TransferID: input.TransferID,
			ProductID:  input.ProductID,
			VariantID:  input.VariantID,
			Quantity:   input.Quantity,
		})
		return err
	})
	if err != nil {
		return Transfer{}, err
	}
	return s.repo.Get(ctx, input.TenantID, input.TransferID)
}

// Validate executes the transfer in one transaction. Each item allocates
// source batches FEFO and posts exactly one TRANSFER_OUT and one
// TRANSFER_IN movement; destination batches are created per distinct source
// expiry date. Any failure rolls the whole transfer back.
func (s *Service) Validate(ctx context.Context, tenantID, transferID, actorID int64) (Transfer, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		repo := s.repo.Bind(tx)
		transfer, err := repo.GetForUpdate(ctx, tenantID, transferID)
		if err != nil {
			return err
		}
		if transfer.Status != StatusDraft {
			return fmt.Errorf("transfers: cannot validate %s transfer: %w", transfer.Status, shared.ErrInvalidState)
		}
		if len(transfer.Items) == 0 {
			return fmt.Errorf("transfers: transfer has no items: %w", shared.ErrValidation)
		}

		items := append([]Item(nil), transfer.Items...)
		sort.Slice(items, func(i, j int) bool {
			if items[i].ProductID != items[j].ProductID {
				return items[i].ProductID < items[j].ProductID
			}
			return items[i].VariantID < items[j].VariantID
		})

		stockTx := s.ledger.Bind(tx)

		// both locations' level rows are locked up front in canonical
		// order; otherwise two transfers running in opposite directions
		// between the same locations could deadlock
		keys := make([]stock.Key, 0, len(items)*2)
		for _, item := range items {
			keys = append(keys,
				stock.Key{TenantID: tenantID, LocationID: transfer.FromLocationID, ProductID: item.ProductID, VariantID: item.VariantID},
				stock.Key{TenantID: tenantID, LocationID: transfer.ToLocationID, ProductID: item.ProductID, VariantID: item.VariantID},
			)
		}
		if err := s.ledger.LockLevelsTx(ctx, stockTx, keys); err != nil {
			return err
		}

		batchSeq := 0
		for _, item := range items {
			allocations, err := s.ledger.AllocateTx(ctx, stockTx, tenantID, transfer.FromLocationID, item.ProductID, item.Quantity)
			if err != nil {
				return fmt.Errorf("transfers: product %d: %w", item.ProductID, err)
			}

			_, err = s.ledger.ApplyTx(ctx, stockTx, stock.MovementIntent{
				Key:       stock.Key{TenantID: tenantID, LocationID: transfer.FromLocationID, ProductID: item.ProductID, VariantID: item.VariantID},
				Type:      stock.MovementTransferOut,
				Quantity:  -item.Quantity,
				Reference: transfer.Number,
				Ref:       stock.Ref{Kind: stock.RefTransfer, ID: transfer.ID},
				ActorID:   actorID,
			})
			if err != nil {
				return fmt.Errorf("transfers: product %d: %w", item.ProductID, err)
			}

			// goods keep their original expiry: one destination batch per
			// distinct source expiry date
			byExpiry := make(map[time.Time]int64)
			var expiries []time.Time
			for _, alloc := range allocations {
				if _, seen := byExpiry[alloc.ExpiresAt]; !seen {
					expiries = append(expiries, alloc.ExpiresAt)
				}
				byExpiry[alloc.ExpiresAt] += alloc.Quantity
			}
			sort.Slice(expiries, func(i, j int) bool { return expiries[i].Before(expiries[j]) })

			for _, expiry := range expiries {
				batchSeq++
				_, err := s.ledger.ReceiveBatchTx(ctx, stockTx, stock.ReceiveBatchInput{
					TenantID:    tenantID,
					LocationID:  transfer.ToLocationID,
					ProductID:   item.ProductID,
					BatchNumber: fmt.Sprintf("%s-%d", transfer.Number, batchSeq),
					Quantity:    byExpiry[expiry],
					ExpiresAt:   expiry,
				})
				if err != nil {
					return fmt.Errorf("transfers: product %d: %w", item.ProductID, err)
				}
			}

			_, err = s.ledger.ApplyTx(ctx, stockTx, stock.MovementIntent{
				Key:       stock.Key{TenantID: tenantID, LocationID: transfer.ToLocationID, ProductID: item.ProductID, VariantID: item.VariantID},
				Type:      stock.MovementTransferIn,
				Quantity:  item.Quantity,
				Reference: transfer.Number,
				Ref:       stock.Ref{Kind: stock.RefTransfer, ID: transfer.ID},
				ActorID:   actorID,
			})
			if err != nil {
				return fmt.Errorf("transfers: product %d: %w", item.ProductID, err)
			}
		}

		return repo.UpdateStatus(ctx, tenantID, transferID, StatusValidated)
	})
	if err != nil {
		return Transfer{}, err
	}

	s.ledger.InvalidateLevels(ctx)
	s.recordAudit(ctx, tenantID, actorID, "transfer.validate", transferID, nil)
	return s.repo.Get(ctx, tenantID, transferID)
}

// Cancel abandons a draft transfer.
func (s *Service) Cancel(ctx context.Context, tenantID, transferID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		repo := s.repo.Bind(tx)
		transfer, err := repo.GetForUpdate(ctx, tenantID, transferID)
		if err != nil {
			return err
		}
		if transfer.Status != StatusDraft {
			return fmt.Errorf("transfers: cannot cancel %s transfer: %w", transfer.Status, shared.ErrInvalidState)
		}
		return repo.UpdateStatus(ctx, tenantID, transferID, StatusCancelled)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, tenantID, actorID, "transfer.cancel", transferID, nil)
	return nil
}

// Get loads one transfer.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (Transfer, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// List returns transfer headers.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Transfer, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID int64, action string, transferID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_transfer",
		EntityID: strconv.FormatInt(transferID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("record audit", slog.Any("error", err), slog.String("action", action))
	}
}
