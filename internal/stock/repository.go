package stock

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// ErrLevelNotFound indicates a missing stock level row; the ledger treats it
// as a zero-quantity level.
var ErrLevelNotFound = errors.New("stock level not found")

// TxRepository exposes the transactional operations the ledger algorithms
// run against. Implementations are bound to one open transaction.
type TxRepository interface {
	// GetLevelForUpdate acquires the row-level exclusive lock on the level.
	GetLevelForUpdate(ctx context.Context, key Key) (Level, error)
	// GetLevel reads a level without locking (snapshot read within the tx).
	GetLevel(ctx context.Context, key Key) (Level, error)
	UpsertLevel(ctx context.Context, level Level) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	// SelectBatchesForUpdate returns eligible batches for FEFO allocation:
	// ACTIVE, available > 0, not past expiry, ordered by expiration then id,
	// all locked for update.
	SelectBatchesForUpdate(ctx context.Context, tenantID, locationID, productID int64) ([]Batch, error)
	UpdateBatchConsumption(ctx context.Context, batchID, availableQty int64, status BatchStatus) error
	InsertBatch(ctx context.Context, b Batch) (int64, error)
}

// RepositoryPort abstracts the repository for the ledger service.
type RepositoryPort interface {
	// WithTx runs fn inside a repeatable-read transaction with the configured
	// lock timeout applied.
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// Bind joins an externally opened transaction, so workflow packages can
	// combine ledger applies with their own state changes atomically.
	Bind(tx pgx.Tx) TxRepository

	GetLevel(ctx context.Context, key Key) (Level, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error)
	ListBatches(ctx context.Context, tenantID, locationID, productID int64) ([]Batch, error)
}
