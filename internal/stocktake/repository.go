package stocktake

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// TxRepository exposes stocktake persistence bound to one open transaction.
type TxRepository interface {
	Insert(ctx context.Context, st Stocktake) (int64, error)
	InsertItems(ctx context.Context, stocktakeID int64, items []Item) error
	// GetForUpdate locks the stocktake header row and loads its items.
	GetForUpdate(ctx context.Context, tenantID, id int64) (Stocktake, error)
	SetCounted(ctx context.Context, itemID, countedQty int64) error
	UpdateStatus(ctx context.Context, tenantID, id int64, status Status) error
}

// RepositoryPort abstracts stocktake persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error
	Bind(tx pgx.Tx) TxRepository

	Get(ctx context.Context, tenantID, id int64) (Stocktake, error)
	List(ctx context.Context, filter ListFilter) ([]Stocktake, int, error)
}
