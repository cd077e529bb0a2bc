package sales

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// TxRepository exposes sale persistence bound to one open transaction.
type TxRepository interface {
	Insert(ctx context.Context, sale Sale) (int64, error)
	// GetForUpdate locks the sale header row and loads its lines.
	GetForUpdate(ctx context.Context, tenantID, id int64) (Sale, error)
	ReplaceLines(ctx context.Context, saleID int64, lines []Line) error
	UpdateStatus(ctx context.Context, tenantID, id int64, status Status) error
}

// RepositoryPort abstracts sale persistence. WithTx opens the outer
// transaction that ledger applies join via Bind.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error
	Bind(tx pgx.Tx) TxRepository

	Get(ctx context.Context, tenantID, id int64) (Sale, error)
	List(ctx context.Context, filter ListFilter) ([]Sale, int, error)
}
