package purchasing

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

// Repository persists purchase orders in PostgreSQL.
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

const poColumns = "id, tenant_id, location_id, number, supplier, status, note, created_by, created_at, updated_at, received_at"

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.TenantID, &po.LocationID, &po.Number, &po.Supplier, &po.Status, &po.Note, &po.CreatedBy, &po.CreatedAt, &po.UpdatedAt, &po.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, fmt.Errorf("purchasing: order: %w", shared.ErrNotFound)
	}
	return po, err
}

func loadLines(ctx context.Context, q rowQuerier, orderID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, product_id, quantity, received_qty, unit_cost
FROM purchase_order_lines WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.Quantity, &line.ReceivedQty, &line.UnitCost); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// Get loads an order with its lines.
func (r *Repository) Get(ctx context.Context, tenantID, id int64) (PurchaseOrder, error) {
	po, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Lines, err = loadLines(ctx, r.pool, po.ID)
	return po, err
}

// List returns order headers matching the filter.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, error) {
	if filter.TenantID <= 0 {
		return nil, 0, errors.New("purchasing: tenant required")
	}
	where := "WHERE tenant_id = $1"
	args := []any{filter.TenantID}
	argPos := 2

	if filter.LocationID > 0 {
		where += fmt.Sprintf(" AND location_id = $%d", argPos)
		args = append(args, filter.LocationID)
		argPos++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, string(filter.Status))
		argPos++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM purchase_orders "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	pagination := shared.NewPagination(filter.Page, filter.PerPage, total)
	query := fmt.Sprintf("SELECT %s FROM purchase_orders %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", poColumns, where, argPos, argPos+1)
	args = append(args, pagination.PerPage, pagination.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []PurchaseOrder
	for rows.Next() {
		var po PurchaseOrder
		if err := rows.Scan(&po.ID, &po.TenantID, &po.LocationID, &po.Number, &po.Supplier, &po.Status, &po.Note, &po.CreatedBy, &po.CreatedAt, &po.UpdatedAt, &po.ReceivedAt); err != nil {
			return nil, 0, err
		}
		orders = append(orders, po)
	}
	return orders, total, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Insert(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (tenant_id, location_id, number, supplier, status, note, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		po.TenantID, po.LocationID, po.Number, po.Supplier, string(po.Status), po.Note, po.CreatedBy).Scan(&id)
	if err != nil {
		return 0, db.MapError(err)
	}
	return id, nil
}

func (r *txRepository) InsertLines(ctx context.Context, orderID int64, lines []Line) error {
	for _, line := range lines {
		_, err := r.tx.Exec(ctx, `INSERT INTO purchase_order_lines (order_id, product_id, quantity, received_qty, unit_cost)
VALUES ($1, $2, $3, 0, $4)`,
			orderID, line.ProductID, line.Quantity, line.UnitCost)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetForUpdate(ctx context.Context, tenantID, id int64) (PurchaseOrder, error) {
	po, err := scanOrder(r.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Lines, err = loadLines(ctx, r.tx, po.ID)
	return po, err
}

func (r *txRepository) UpdateLineReceived(ctx context.Context, lineID, receivedQty int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_order_lines SET received_qty = $1 WHERE id = $2`, receivedQty, lineID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("purchasing: line %d: %w", lineID, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepository) UpdateStatus(ctx context.Context, tenantID, id int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_orders
SET status = $1,
    received_at = CASE WHEN $1 = 'RECEIVED' THEN NOW() ELSE received_at END,
    updated_at = NOW()
WHERE tenant_id = $2 AND id = $3`, string(status), tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("purchasing: order %d: %w", id, shared.ErrNotFound)
	}
	return nil
}
