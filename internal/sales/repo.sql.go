package sales

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

// Repository persists sales in PostgreSQL.
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

const saleColumns = "id, tenant_id, location_id, number, status, note, created_by, created_at, updated_at, completed_at"

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	err := row.Scan(&s.ID, &s.TenantID, &s.LocationID, &s.Number, &s.Status, &s.Note, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, fmt.Errorf("sales: sale: %w", shared.ErrNotFound)
	}
	return s, err
}

func loadLines(ctx context.Context, q rowQuerier, saleID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, sale_id, product_id, variant_id, quantity, unit_price, line_total
FROM sale_lines WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.SaleID, &line.ProductID, &line.VariantID, &line.Quantity, &line.UnitPrice, &line.LineTotal); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// Get loads a sale with its lines.
func (r *Repository) Get(ctx context.Context, tenantID, id int64) (Sale, error) {
	sale, err := scanSale(r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err != nil {
		return Sale{}, err
	}
	sale.Lines, err = loadLines(ctx, r.pool, sale.ID)
	return sale, err
}

// List returns sale headers matching the filter.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Sale, int, error) {
	if filter.TenantID <= 0 {
		return nil, 0, errors.New("sales: tenant required")
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
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sales "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	pagination := shared.NewPagination(filter.Page, filter.PerPage, total)
	query := fmt.Sprintf("SELECT %s FROM sales %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", saleColumns, where, argPos, argPos+1)
	args = append(args, pagination.PerPage, pagination.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sales []Sale
	for rows.Next() {
		var s Sale
		if err := rows.Scan(&s.ID, &s.TenantID, &s.LocationID, &s.Number, &s.Status, &s.Note, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt); err != nil {
			return nil, 0, err
		}
		sales = append(sales, s)
	}
	return sales, total, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Insert(ctx context.Context, sale Sale) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sales (tenant_id, location_id, number, status, note, created_by)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		sale.TenantID, sale.LocationID, sale.Number, string(sale.Status), sale.Note, sale.CreatedBy).Scan(&id)
	if err != nil {
		return 0, db.MapError(err)
	}
	return id, nil
}

func (r *txRepository) GetForUpdate(ctx context.Context, tenantID, id int64) (Sale, error) {
	sale, err := scanSale(r.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, id))
	if err != nil {
		return Sale{}, err
	}
	sale.Lines, err = loadLines(ctx, r.tx, sale.ID)
	return sale, err
}

func (r *txRepository) ReplaceLines(ctx context.Context, saleID int64, lines []Line) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM sale_lines WHERE sale_id = $1`, saleID); err != nil {
		return err
	}
	for _, line := range lines {
		_, err := r.tx.Exec(ctx, `INSERT INTO sale_lines (sale_id, product_id, variant_id, quantity, unit_price, line_total)
VALUES ($1, $2, $3, $4, $5, $6)`,
			saleID, line.ProductID, line.VariantID, line.Quantity, line.UnitPrice, line.LineTotal)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) UpdateStatus(ctx context.Context, tenantID, id int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE sales
SET status = $1,
    completed_at = CASE WHEN $1 = 'COMPLETED' THEN NOW() ELSE completed_at END,
    updated_at = NOW()
WHERE tenant_id = $2 AND id = $3`, string(status), tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sales: sale %d: %w", id, shared.ErrNotFound)
	}
	return nil
}
