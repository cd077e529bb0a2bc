package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian/internal/shared"
)

// Runner opens transactions with the isolation level and lock timeout the
// stock ledger relies on. Every stock-mutating workflow runs inside exactly
// one Runner transaction.
type Runner struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRunner constructs a Runner. A zero lockTimeout leaves the server default.
func NewRunner(pool *pgxpool.Pool, lockTimeout time.Duration) *Runner {
	return &Runner{pool: pool, lockTimeout: lockTimeout}
}

// WithTx executes fn inside a repeatable-read transaction. Row locks acquired
// by fn block until the configured lock timeout, after which the operation
// fails with shared.ErrLockTimeout and the caller may retry.
func (r *Runner) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	if r == nil || r.pool == nil {
		return errors.New("platform/db: runner not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if r.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("platform/db: set lock timeout: %w", err)
		}
	}

	if err := fn(tx); err != nil {
		return MapError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", MapError(err))
	}

	return nil
}

// WithTx executes a function within a transaction using the RepeatableRead
// isolation level. Used for reads and one-off writes outside a Runner.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// MapError translates PostgreSQL error codes into the shared taxonomy.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40P01":
			// lock_not_available / deadlock_detected; both safe to retry.
			return fmt.Errorf("%w: %s", shared.ErrLockTimeout, pgErr.Message)
		case "23505":
			return fmt.Errorf("%w: %s", shared.ErrDuplicate, pgErr.ConstraintName)
		}
	}
	return err
}
