package transfers

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// TxRepository exposes transfer persistence bound to one open transaction.
type TxRepository interface {
	Insert(ctx context.Context, transfer Transfer) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	// GetForUpdate locks the transfer header row and loads its items.
	GetForUpdate(ctx context.Context, tenantID, id int64) (Transfer, error)
	UpdateStatus(ctx context.Context, tenantID, id int64, status Status) error
}

// RepositoryPort abstracts transfer persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error
	Bind(tx pgx.Tx) TxRepository

	Get(ctx context.Context, tenantID, id int64) (Transfer, error)
	List(ctx context.Context, filter ListFilter) ([]Transfer, int, error)
}
