package transfers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian/internal/platform/db"
	"github.com/meridian-pos/meridian/internal/shared"
)

// Repository persists transfers in PostgreSQL.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, lockTimeout: lockTimeout}
}

// WithTx opens the outer workflow transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	runner := db.NewRunner(r.pool, r.lockTimeout)
	return runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	})
}

// Bind joins an open transaction.
func (r *Repository) Bind(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

const transferColumns = "id, tenant_id, from_location_id, to_location_id, number, status, note, created_by, created_at, updated_at, validated_at"

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanTransfer(row pgx.Row) (Transfer, error) {
	var t Transfer
	err := row.Scan(&t.ID, &t.TenantID, &t.FromLocationID, &t.ToLocationID, &t.Number, &t.Status, &t.Note, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt, &t.ValidatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, fmt.Errorf("transfers: transfer: %w", shared.ErrNotFound)
	}
	return t, err
}

func loadItems(ctx context.Context, q rowQuerier, transferID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, transfer_id, product_id, variant_id, quantity
FROM stock_transfer_items WHERE transfer_id = $1 ORDER BY id`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.TransferID, &item.ProductID, &item.VariantID, &item.Quantity); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Get loads a transfer with its items.
func (r *Repository) Get(ctx context.Context, tenantID, id int64) (Transfer, error) {
	transfer, err := scanTransfer(r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM stock_transfers WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err != nil {
		return Transfer{}, err
	}
	transfer.Items, err = loadItems(ctx, r.pool, transfer.ID)
	return transfer, err
}

// List returns transfer headers matching the filter.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Transfer, int, error) {
	if filter.TenantID <= 0 {
		return nil, 0, errors.New("transfers: tenant required")
	}
	where := "WHERE tenant_id = $1"
	args := []any{filter.TenantID}
	argPos := 2

	if filter.LocationID > 0 {
		where += fmt.Sprintf(" AND (from_location_id = $%d OR to_location_id = $%d)", argPos, argPos)
		args = append(args, filter.LocationID)
		argPos++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, string(filter.Status))
		argPos++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM stock_transfers "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	pagination := shared.NewPagination(filter.Page, filter.PerPage, total)
	query := fmt.Sprintf("SELECT %s FROM stock_transfers %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", transferColumns, where, argPos, argPos+1)
	args = append(args, pagination.PerPage, pagination.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var transfers []Transfer
	for rows.Next() {
		var t Transfer
		if err := rows.Scan(&t.ID, &t.TenantID, &t.FromLocationID, &t.ToLocationID, &t.Number, &t.Status, &t.Note, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt, &t.ValidatedAt); err != nil {
			return nil, 0, err
		}
		transfers = append(transfers, t)
	}
	return transfers, total, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Insert(ctx context.Context, transfer Transfer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transfers (tenant_id, from_location_id, to_location_id, number, status, note, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		transfer.TenantID, transfer.FromLocationID, transfer.ToLocationID, transfer.Number, string(transfer.Status), transfer.Note, transfer.CreatedBy).Scan(&id)
	if err != nil {
		return 0, db.MapError(err)
	}
	return id, nil
}

func (r *txRepository) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transfer_items (transfer_id, product_id, variant_id, quantity)
VALUES ($1, $2, $3, $4) RETURNING id`,
		item.TransferID, item.ProductID, item.VariantID, item.Quantity).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *txRepository) GetForUpdate(ctx context.Context, tenantID, id int64) (Transfer, error) {
	transfer, err := scanTransfer(r.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM stock_transfers WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, id))
	if err != nil {
		return Transfer{}, err
	}
	transfer.Items, err = loadItems(ctx, r.tx, transfer.ID)
	return transfer, err
}

func (r *txRepository) UpdateStatus(ctx context.Context, tenantID, id int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_transfers
SET status = $1,
    validated_at = CASE WHEN $1 = 'VALIDATED' THEN NOW() ELSE validated_at END,
    updated_at = NOW()
WHERE tenant_id = $2 AND id = $3`, string(status), tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transfers: transfer %d: %w", id, shared.ErrNotFound)
	}
	return nil
}
