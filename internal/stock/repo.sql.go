package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian/internal/platform/db"
)

// Repository persists stock data in PostgreSQL.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository constructs Repository. lockTimeout bounds row-lock waits
// inside WithTx transactions.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, lockTimeout: lockTimeout}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	runner := db.NewRunner(r.pool, r.lockTimeout)
	return runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Bind joins an externally opened transaction.
func (r *Repository) Bind(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// GetLevel reads a level without locking, outside any transaction.
func (r *Repository) GetLevel(ctx context.Context, key Key) (Level, error) {
	return scanLevel(ctx, r.pool, key, false)
}

// ListMovements returns ledger entries ordered by creation descending.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error) {
	if filter.TenantID <= 0 {
		return nil, 0, errors.New("stock: tenant required")
	}
	conditions := []string{"tenant_id = $1"}
	args := []any{filter.TenantID}
	argPos := 2

	appendCond := func(cond string, value any) {
		conditions = append(conditions, fmt.Sprintf(cond, argPos))
		args = append(args, value)
		argPos++
	}
	if filter.LocationID > 0 {
		appendCond("location_id = $%d", filter.LocationID)
	}
	if filter.ProductID > 0 {
		appendCond("product_id = $%d", filter.ProductID)
	}
	if filter.VariantID > 0 {
		appendCond("variant_id = $%d", filter.VariantID)
	}
	if filter.Type != "" {
		appendCond("movement_type = $%d", string(filter.Type))
	}
	if !filter.From.IsZero() {
		appendCond("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		appendCond("created_at <= $%d", filter.To)
	}

	where := ""
	for i, cond := range conditions {
		if i == 0 {
			where = "WHERE " + cond
			continue
		}
		where += " AND " + cond
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM stock_movements " + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	query := fmt.Sprintf(`SELECT id, tenant_id, location_id, product_id, variant_id, movement_type, quantity, quantity_before, quantity_after, reference, ref_kind, ref_id, created_by, created_at
FROM stock_movements %s
ORDER BY created_at DESC, id DESC
LIMIT $%d OFFSET $%d`, where, argPos, argPos+1)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	movements := []Movement{}
	for rows.Next() {
		var m Movement
		var refKind *string
		var refID *int64
		if err := rows.Scan(&m.ID, &m.TenantID, &m.LocationID, &m.ProductID, &m.VariantID, &m.Type, &m.Quantity, &m.QuantityBefore, &m.QuantityAfter, &m.Reference, &refKind, &refID, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, 0, err
		}
		if refKind != nil && refID != nil {
			m.Ref = Ref{Kind: RefKind(*refKind), ID: *refID}
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}

// ListBatches returns all batches for a product at a location, earliest
// expiration first.
func (r *Repository) ListBatches(ctx context.Context, tenantID, locationID, productID int64) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, location_id, product_id, batch_number, received_at, expiration_date, quantity, available_quantity, status
FROM product_batches
WHERE tenant_id=$1 AND location_id=$2 AND product_id=$3
ORDER BY expiration_date ASC, id ASC`, tenantID, locationID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := []Batch{}
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.TenantID, &b.LocationID, &b.ProductID, &b.BatchNumber, &b.ReceivedAt, &b.ExpiresAt, &b.Quantity, &b.AvailableQty, &b.Status); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

// MarkExpiredBatches persists ACTIVE->EXPIRED for batches past their
// expiration date. Used by the periodic sweep; allocation excludes past-expiry
// batches regardless, so the sweep only affects reporting.
func (r *Repository) MarkExpiredBatches(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE product_batches SET status=$1, updated_at=NOW()
WHERE status=$2 AND expiration_date <= $3`, BatchExpired, BatchActive, asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanLevel(ctx context.Context, q queryer, key Key, forUpdate bool) (Level, error) {
	query := `SELECT tenant_id, location_id, product_id, variant_id, quantity, reserved_quantity, available_quantity, updated_at
FROM stock_levels
WHERE tenant_id=$1 AND location_id=$2 AND product_id=$3 AND variant_id=$4`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var lvl Level
	err := q.QueryRow(ctx, query, key.TenantID, key.LocationID, key.ProductID, key.VariantID).
		Scan(&lvl.TenantID, &lvl.LocationID, &lvl.ProductID, &lvl.VariantID, &lvl.Quantity, &lvl.Reserved, &lvl.Available, &lvl.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Level{Key: key}, ErrLevelNotFound
		}
		return Level{}, err
	}
	return lvl, nil
}

func (r *txRepository) GetLevelForUpdate(ctx context.Context, key Key) (Level, error) {
	return scanLevel(ctx, r.tx, key, true)
}

func (r *txRepository) GetLevel(ctx context.Context, key Key) (Level, error) {
	return scanLevel(ctx, r.tx, key, false)
}

func (r *txRepository) UpsertLevel(ctx context.Context, level Level) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_levels (tenant_id, location_id, product_id, variant_id, quantity, reserved_quantity, available_quantity, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
ON CONFLICT (tenant_id, location_id, product_id, variant_id)
DO UPDATE SET quantity=EXCLUDED.quantity, reserved_quantity=EXCLUDED.reserved_quantity, available_quantity=EXCLUDED.available_quantity, updated_at=NOW()`,
		level.TenantID, level.LocationID, level.ProductID, level.VariantID, level.Quantity, level.Reserved, level.Available)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var refKind any
	var refID any
	if !m.Ref.IsZero() {
		refKind = string(m.Ref.Kind)
		refID = m.Ref.ID
	}
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (tenant_id, location_id, product_id, variant_id, movement_type, quantity, quantity_before, quantity_after, reference, ref_kind, ref_id, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING id`,
		m.TenantID, m.LocationID, m.ProductID, m.VariantID, string(m.Type), m.Quantity, m.QuantityBefore, m.QuantityAfter, m.Reference, refKind, refID, m.CreatedBy, m.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) SelectBatchesForUpdate(ctx context.Context, tenantID, locationID, productID int64) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, tenant_id, location_id, product_id, batch_number, received_at, expiration_date, quantity, available_quantity, status
FROM product_batches
WHERE tenant_id=$1 AND location_id=$2 AND product_id=$3 AND status=$4 AND available_quantity > 0 AND expiration_date > NOW()
ORDER BY expiration_date ASC, id ASC
FOR UPDATE`, tenantID, locationID, productID, BatchActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := []Batch{}
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.TenantID, &b.LocationID, &b.ProductID, &b.BatchNumber, &b.ReceivedAt, &b.ExpiresAt, &b.Quantity, &b.AvailableQty, &b.Status); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *txRepository) UpdateBatchConsumption(ctx context.Context, batchID, availableQty int64, status BatchStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE product_batches SET available_quantity=$2, status=$3, updated_at=NOW() WHERE id=$1`, batchID, availableQty, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stock: batch %d vanished during allocation", batchID)
	}
	return nil
}

func (r *txRepository) InsertBatch(ctx context.Context, b Batch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO product_batches (tenant_id, location_id, product_id, batch_number, received_at, expiration_date, quantity, available_quantity, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		b.TenantID, b.LocationID, b.ProductID, b.BatchNumber, b.ReceivedAt, b.ExpiresAt, b.Quantity, b.AvailableQty, string(b.Status)).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateBatch
		}
		return 0, err
	}
	return id, nil
}
