package stocktake

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

// Repository persists stocktakes in PostgreSQL.
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

const stocktakeColumns = "id, tenant_id, location_id, number, status, note, created_by, created_at, updated_at, started_at, validated_at"

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanStocktake(row pgx.Row) (Stocktake, error) {
	var st Stocktake
	err := row.Scan(&st.ID, &st.TenantID, &st.LocationID, &st.Number, &st.Status, &st.Note, &st.CreatedBy, &st.CreatedAt, &st.UpdatedAt, &st.StartedAt, &st.ValidatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stocktake{}, fmt.Errorf("stocktake: stocktake: %w", shared.ErrNotFound)
	}
	return st, err
}

func loadItems(ctx context.Context, q rowQuerier, stocktakeID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, stocktake_id, product_id, variant_id, system_qty, counted_qty
FROM stocktake_items WHERE stocktake_id = $1 ORDER BY product_id, variant_id`, stocktakeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.StocktakeID, &item.ProductID, &item.VariantID, &item.SystemQty, &item.CountedQty); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Get loads a stocktake with its items.
func (r *Repository) Get(ctx context.Context, tenantID, id int64) (Stocktake, error) {
	st, err := scanStocktake(r.pool.QueryRow(ctx, `SELECT `+stocktakeColumns+` FROM stocktakes WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err != nil {
		return Stocktake{}, err
	}
	st.Items, err = loadItems(ctx, r.pool, st.ID)
	return st, err
}

// List returns stocktake headers matching the filter.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Stocktake, int, error) {
	if filter.TenantID <= 0 {
		return nil, 0, errors.New("stocktake: tenant required")
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
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM stocktakes "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	pagination := shared.NewPagination(filter.Page, filter.PerPage, total)
	query := fmt.Sprintf("SELECT %s FROM stocktakes %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", stocktakeColumns, where, argPos, argPos+1)
	args = append(args, pagination.PerPage, pagination.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var stocktakes []Stocktake
	for rows.Next() {
		var st Stocktake
		if err := rows.Scan(&st.ID, &st.TenantID, &st.LocationID, &st.Number, &st.Status, &st.Note, &st.CreatedBy, &st.CreatedAt, &st.UpdatedAt, &st.StartedAt, &st.ValidatedAt); err != nil {
			return nil, 0, err
		}
		stocktakes = append(stocktakes, st)
	}
	return stocktakes, total, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Insert(ctx context.Context, st Stocktake) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stocktakes (tenant_id, location_id, number, status, note, created_by)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		st.TenantID, st.LocationID, st.Number, string(st.Status), st.Note, st.CreatedBy).Scan(&id)
	if err != nil {
		return 0, db.MapError(err)
	}
	return id, nil
}

func (r *txRepository) InsertItems(ctx context.Context, stocktakeID int64, items []Item) error {
	for _, item := range items {
		_, err := r.tx.Exec(ctx, `INSERT INTO stocktake_items (stocktake_id, product_id, variant_id, system_qty)
VALUES ($1, $2, $3, $4)`, stocktakeID, item.ProductID, item.VariantID, item.SystemQty)
		if err != nil {
			return db.MapError(err)
		}
	}
	return nil
}

func (r *txRepository) GetForUpdate(ctx context.Context, tenantID, id int64) (Stocktake, error) {
	st, err := scanStocktake(r.tx.QueryRow(ctx, `SELECT `+stocktakeColumns+` FROM stocktakes WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, id))
	if err != nil {
		return Stocktake{}, err
	}
	st.Items, err = loadItems(ctx, r.tx, st.ID)
	return st, err
}

func (r *txRepository) SetCounted(ctx context.Context, itemID, countedQty int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stocktake_items SET counted_qty = $1 WHERE id = $2`, countedQty, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stocktake: item %d: %w", itemID, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepository) UpdateStatus(ctx context.Context, tenantID, id int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stocktakes
SET status = $1,
    started_at = CASE WHEN $1 = 'STARTED' THEN NOW() ELSE started_at END,
    validated_at = CASE WHEN $1 = 'VALIDATED' THEN NOW() ELSE validated_at END,
    updated_at = NOW()
WHERE tenant_id = $2 AND id = $3`, string(status), tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stocktake: stocktake %d: %w", id, shared.ErrNotFound)
	}
	return nil
}
