package purchasing

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// TxRepository exposes purchase order persistence bound to one open
// transaction.
type TxRepository interface {
	Insert(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertLines(ctx context.Context, orderID int64, lines []Line) error
	// GetForUpdate locks the order header row and loads its lines.
	GetForUpdate(ctx context.Context, tenantID, id int64) (PurchaseOrder, error)
	UpdateLineReceived(ctx context.Context, lineID, receivedQty int64) error
	UpdateStatus(ctx context.Context, tenantID, id int64, status Status) error
}

// RepositoryPort abstracts purchase order persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error
	Bind(tx pgx.Tx) TxRepository

	Get(ctx context.Context, tenantID, id int64) (PurchaseOrder, error)
	List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, error)
}
