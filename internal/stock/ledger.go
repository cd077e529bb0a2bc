package stock

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-pos/meridian/internal/observability"
	"github.com/meridian-pos/meridian/internal/shared"
)

// Ledger owns the append-only movement history and the stock level
// projection derived from it. Levels and batches are mutated only here.
type Ledger struct {
	repo           RepositoryPort
	cache          *LevelCache
	metrics        *observability.Metrics
	logger         *slog.Logger
	allowNegAdjust bool
	now            func() time.Time
}

// LedgerConfig groups optional settings.
type LedgerConfig struct {
	// AllowNegativeAdjustment permits ADJUSTMENT movements to take a level
	// below zero. All other movement types always reject negative results.
	AllowNegativeAdjustment bool
}

// NewLedger builds the ledger service.
func NewLedger(repo RepositoryPort, cache *LevelCache, metrics *observability.Metrics, logger *slog.Logger, cfg LedgerConfig) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		repo:           repo,
		cache:          cache,
		metrics:        metrics,
		logger:         logger,
		allowNegAdjust: cfg.AllowNegativeAdjustment,
		now:            time.Now,
	}
}

// Bind joins an externally opened transaction so a workflow can combine
// ledger applies with its own state changes atomically.
func (l *Ledger) Bind(tx pgx.Tx) TxRepository {
	return l.repo.Bind(tx)
}

// Apply posts a single movement inside its own transaction.
func (l *Ledger) Apply(ctx context.Context, intent MovementIntent) (MovementResult, error) {
	var result MovementResult
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = l.ApplyTx(ctx, tx, intent)
		return err
	})
	if err != nil {
		return MovementResult{}, err
	}
	l.InvalidateLevels(ctx)
	return result, nil
}

// ApplyTx runs the ledger algorithm against a bound transaction: lock the
// level row, compute the new quantity, reject negative results, persist the
// projection and append the immutable movement.
func (l *Ledger) ApplyTx(ctx context.Context, tx TxRepository, intent MovementIntent) (MovementResult, error) {
	if err := intent.Validate(); err != nil {
		return MovementResult{}, err
	}

	level, err := tx.GetLevelForUpdate(ctx, intent.Key)
	if err != nil && err != ErrLevelNotFound {
		return MovementResult{}, err
	}

	before := level.Quantity
	after := before + intent.Quantity
	if after < 0 && !(intent.Type == MovementAdjustment && l.allowNegAdjust) {
		l.metrics.RecordApplyFailure("insufficient_stock")
		return MovementResult{}, fmt.Errorf("stock: product %d at location %d has %d, need %d: %w",
			intent.ProductID, intent.LocationID, before, -intent.Quantity, shared.ErrInsufficientStock)
	}

	level.Key = intent.Key
	level.Quantity = after
	level.Available = after - level.Reserved
	level.UpdatedAt = l.now().UTC()
	if after >= 0 && level.Available < 0 {
		l.logger.Error("stock level invariant broken",
			slog.Int64("product_id", intent.ProductID),
			slog.Int64("location_id", intent.LocationID),
			slog.Int64("quantity", level.Quantity),
			slog.Int64("reserved", level.Reserved))
		l.metrics.RecordApplyFailure("consistency")
		return MovementResult{}, fmt.Errorf("stock: available %d after apply: %w", level.Available, shared.ErrConsistency)
	}

	if err := tx.UpsertLevel(ctx, level); err != nil {
		return MovementResult{}, err
	}

	movement := Movement{
		Key:            intent.Key,
		Type:           intent.Type,
		Quantity:       intent.Quantity,
		QuantityBefore: before,
		QuantityAfter:  after,
		Reference:      intent.Reference,
		Ref:            intent.Ref,
		CreatedBy:      intent.ActorID,
		CreatedAt:      level.UpdatedAt,
	}
	movementID, err := tx.InsertMovement(ctx, movement)
	if err != nil {
		return MovementResult{}, err
	}

	l.metrics.RecordMovement(string(intent.Type))
	return MovementResult{MovementID: movementID, Level: level}, nil
}

// LockLevelsTx takes the level row locks for every key up front, in one
// canonical order: location, then product, then variant. Workflows that touch
// rows at more than one location lock through here before applying movements,
// so two of them running in opposite directions cannot deadlock. Keys without
// a level row yet are skipped.
func (l *Ledger) LockLevelsTx(ctx context.Context, tx TxRepository, keys []Key) error {
	sorted := append([]Key(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.LocationID != b.LocationID {
			return a.LocationID < b.LocationID
		}
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		return a.VariantID < b.VariantID
	})
	for _, key := range sorted {
		if _, err := tx.GetLevelForUpdate(ctx, key); err != nil && err != ErrLevelNotFound {
			return err
		}
	}
	return nil
}

// AllocateTx consumes batches earliest-expiry-first until quantity is
// satisfied. Batches past expiry, recalled or depleted are never selected.
// If eligible availability cannot cover the request, nothing is consumed.
func (l *Ledger) AllocateTx(ctx context.Context, tx TxRepository, tenantID, locationID, productID, quantity int64) ([]BatchAllocation, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("stock: allocation quantity must be positive: %w", shared.ErrValidation)
	}

	batches, err := tx.SelectBatchesForUpdate(ctx, tenantID, locationID, productID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	var eligible []Batch
	var total int64
	for _, b := range batches {
		if b.Status != BatchActive || b.AvailableQty <= 0 || !b.ExpiresAt.After(now) {
			continue
		}
		eligible = append(eligible, b)
		total += b.AvailableQty
	}
	if total < quantity {
		l.metrics.RecordApplyFailure("insufficient_batch_stock")
		return nil, fmt.Errorf("stock: product %d at location %d has %d in eligible batches, need %d: %w",
			productID, locationID, total, quantity, shared.ErrInsufficientBatchStock)
	}

	remaining := quantity
	allocations := make([]BatchAllocation, 0, len(eligible))
	for _, b := range eligible {
		if remaining == 0 {
			break
		}
		take := b.AvailableQty
		if take > remaining {
			take = remaining
		}
		available := b.AvailableQty - take
		status := b.Status
		if available == 0 {
			status = BatchDepleted
		}
		if err := tx.UpdateBatchConsumption(ctx, b.ID, available, status); err != nil {
			return nil, err
		}
		allocations = append(allocations, BatchAllocation{
			BatchID:     b.ID,
			BatchNumber: b.BatchNumber,
			Quantity:    take,
			ExpiresAt:   b.ExpiresAt,
		})
		remaining -= take
	}
	return allocations, nil
}

// ReceiveBatchTx registers a new batch. Batch numbers are unique per
// product+location; a past expiration date is rejected at creation.
func (l *Ledger) ReceiveBatchTx(ctx context.Context, tx TxRepository, input ReceiveBatchInput) (Batch, error) {
	if input.TenantID <= 0 || input.LocationID <= 0 || input.ProductID <= 0 {
		return Batch{}, fmt.Errorf("stock: tenant, location and product required: %w", shared.ErrValidation)
	}
	if input.Quantity <= 0 {
		return Batch{}, fmt.Errorf("stock: batch quantity must be positive: %w", shared.ErrValidation)
	}
	if input.BatchNumber == "" {
		return Batch{}, fmt.Errorf("stock: batch number required: %w", shared.ErrValidation)
	}
	if !input.ExpiresAt.After(l.now()) {
		return Batch{}, ErrBatchExpiresInPast
	}

	batch := Batch{
		TenantID:     input.TenantID,
		LocationID:   input.LocationID,
		ProductID:    input.ProductID,
		BatchNumber:  input.BatchNumber,
		ReceivedAt:   l.now().UTC(),
		ExpiresAt:    input.ExpiresAt,
		Quantity:     input.Quantity,
		AvailableQty: input.Quantity,
		Status:       BatchActive,
	}
	id, err := tx.InsertBatch(ctx, batch)
	if err != nil {
		return Batch{}, err
	}
	batch.ID = id
	return batch, nil
}

// Receive registers a batch and posts the matching IN movement in one
// transaction. Used for initial stock loads; purchase receiving drives the
// Tx variants under its own outer transaction.
func (l *Ledger) Receive(ctx context.Context, input ReceiveBatchInput, reference string, ref Ref, actorID int64) (Batch, MovementResult, error) {
	var batch Batch
	var result MovementResult
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		batch, err = l.ReceiveBatchTx(ctx, tx, input)
		if err != nil {
			return err
		}
		result, err = l.ApplyTx(ctx, tx, MovementIntent{
			Key:       Key{TenantID: input.TenantID, LocationID: input.LocationID, ProductID: input.ProductID},
			Type:      MovementIn,
			Quantity:  input.Quantity,
			Reference: reference,
			Ref:       ref,
			ActorID:   actorID,
		})
		return err
	})
	if err != nil {
		return Batch{}, MovementResult{}, err
	}
	l.InvalidateLevels(ctx)
	return batch, result, nil
}

// GetLevel reads the projection for a key, via the read cache when
// configured. Missing rows read as zero quantities.
func (l *Ledger) GetLevel(ctx context.Context, key Key) (Level, error) {
	if key.TenantID <= 0 || key.LocationID <= 0 || key.ProductID <= 0 {
		return Level{}, fmt.Errorf("stock: tenant, location and product required: %w", shared.ErrValidation)
	}
	load := func(ctx context.Context) (Level, error) {
		level, err := l.repo.GetLevel(ctx, key)
		if err == ErrLevelNotFound {
			return Level{Key: key}, nil
		}
		return level, err
	}
	if l.cache == nil {
		return load(ctx)
	}
	return l.cache.Fetch(ctx, key, load)
}

// ListMovements returns ledger entries, newest first.
func (l *Ledger) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error) {
	return l.repo.ListMovements(ctx, filter)
}

// ListBatches returns the batches for a product at a location.
func (l *Ledger) ListBatches(ctx context.Context, tenantID, locationID, productID int64) ([]Batch, error) {
	return l.repo.ListBatches(ctx, tenantID, locationID, productID)
}

// InvalidateLevels bumps the level cache version. Workflows call this after
// committing an outer transaction that moved stock.
func (l *Ledger) InvalidateLevels(ctx context.Context) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Bump(ctx); err != nil {
		l.logger.Warn("bump level cache", slog.Any("error", err))
	}
}
