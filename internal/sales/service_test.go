package sales

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian/internal/catalog"
	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stock"
)

type memorySalesRepo struct {
	sales  map[int64]Sale
	lines  map[int64][]Line
	nextID int64
}

type memorySalesTx struct {
	repo *memorySalesRepo
}

func newMemorySalesRepo() *memorySalesRepo {
	return &memorySalesRepo{sales: make(map[int64]Sale), lines: make(map[int64][]Line)}
}

func (r *memorySalesRepo) WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	return fn(ctx, nil)
}

func (r *memorySalesRepo) Bind(tx pgx.Tx) TxRepository {
	return &memorySalesTx{repo: r}
}

func (r *memorySalesRepo) Get(ctx context.Context, tenantID, id int64) (Sale, error) {
	sale, ok := r.sales[id]
	if !ok || sale.TenantID != tenantID {
		return Sale{}, shared.ErrNotFound
	}
	sale.Lines = append([]Line(nil), r.lines[id]...)
	return sale, nil
}

func (r *memorySalesRepo) List(ctx context.Context, filter ListFilter) ([]Sale, int, error) {
	var result []Sale
	for _, sale := range r.sales {
		if sale.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		result = append(result, sale)
	}
	return result, len(result), nil
}

func (tx *memorySalesTx) Insert(ctx context.Context, sale Sale) (int64, error) {
	tx.repo.nextID++
	sale.ID = tx.repo.nextID
	sale.CreatedAt = time.Now()
	sale.UpdatedAt = sale.CreatedAt
	tx.repo.sales[sale.ID] = sale
	return sale.ID, nil
}

func (tx *memorySalesTx) GetForUpdate(ctx context.Context, tenantID, id int64) (Sale, error) {
	return tx.repo.Get(ctx, tenantID, id)
}

func (tx *memorySalesTx) ReplaceLines(ctx context.Context, saleID int64, lines []Line) error {
	tx.repo.lines[saleID] = append([]Line(nil), lines...)
	return nil
}

func (tx *memorySalesTx) UpdateStatus(ctx context.Context, tenantID, id int64, status Status) error {
	sale, ok := tx.repo.sales[id]
	if !ok || sale.TenantID != tenantID {
		return shared.ErrNotFound
	}
	sale.Status = status
	if status == StatusCompleted {
		now := time.Now()
		sale.CompletedAt = &now
	}
	tx.repo.sales[id] = sale
	return nil
}

type fakeLedger struct {
	available     map[int64]int64
	applied       []stock.MovementIntent
	batches       []stock.ReceiveBatchInput
	invalidations int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{available: make(map[int64]int64)}
}

func (f *fakeLedger) Bind(tx pgx.Tx) stock.TxRepository { return nil }

func (f *fakeLedger) AllocateTx(ctx context.Context, tx stock.TxRepository, tenantID, locationID, productID, quantity int64) ([]stock.BatchAllocation, error) {
	if f.available[productID] < quantity {
		return nil, fmt.Errorf("have %d, need %d: %w", f.available[productID], quantity, shared.ErrInsufficientBatchStock)
	}
	f.available[productID] -= quantity
	return []stock.BatchAllocation{{BatchID: productID, BatchNumber: fmt.Sprintf("B-%d", productID), Quantity: quantity}}, nil
}

func (f *fakeLedger) ApplyTx(ctx context.Context, tx stock.TxRepository, intent stock.MovementIntent) (stock.MovementResult, error) {
	if err := intent.Validate(); err != nil {
		return stock.MovementResult{}, err
	}
	f.applied = append(f.applied, intent)
	return stock.MovementResult{MovementID: int64(len(f.applied))}, nil
}

func (f *fakeLedger) ReceiveBatchTx(ctx context.Context, tx stock.TxRepository, input stock.ReceiveBatchInput) (stock.Batch, error) {
	f.batches = append(f.batches, input)
	return stock.Batch{ID: int64(len(f.batches)), BatchNumber: input.BatchNumber}, nil
}

func (f *fakeLedger) InvalidateLevels(ctx context.Context) { f.invalidations++ }

type fakeCatalog struct {
	products map[int64]catalog.Product
}

func (f *fakeCatalog) GetActive(ctx context.Context, tenantID, productID int64) (catalog.Product, error) {
	p, ok := f.products[productID]
	if !ok {
		return catalog.Product{}, shared.ErrNotFound
	}
	if !p.Active {
		return catalog.Product{}, shared.ErrInvalidState
	}
	return p, nil
}

func newTestService(t *testing.T) (*Service, *memorySalesRepo, *fakeLedger) {
	t.Helper()
	repo := newMemorySalesRepo()
	ledger := newFakeLedger()
	cat := &fakeCatalog{products: map[int64]catalog.Product{
		1: {ID: 1, TenantID: 1, Code: "SKU-1", Active: true},
		2: {ID: 2, TenantID: 1, Code: "SKU-2", Active: true},
		9: {ID: 9, TenantID: 1, Code: "SKU-9", Active: false},
	}}
	return NewService(repo, ledger, cat, nil, nil), repo, ledger
}

func draftWithLines(t *testing.T, svc *Service, lines []LineInput) Sale {
	t.Helper()
	ctx := context.Background()
	sale, err := svc.Create(ctx, CreateInput{TenantID: 1, LocationID: 1, ActorID: 5})
	require.NoError(t, err)
	sale, err = svc.SetLines(ctx, 1, sale.ID, lines, 5)
	require.NoError(t, err)
	return sale
}

func TestCreateGeneratesNumber(t *testing.T) {
	svc, _, _ := newTestService(t)

	sale, err := svc.Create(context.Background(), CreateInput{TenantID: 1, LocationID: 1, ActorID: 5})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, sale.Status)
	require.True(t, strings.HasPrefix(sale.Number, "SAL-"))
}

func TestSetLinesValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	sale, err := svc.Create(ctx, CreateInput{TenantID: 1, LocationID: 1, ActorID: 5})
	require.NoError(t, err)

	_, err = svc.SetLines(ctx, 1, sale.ID, []LineInput{{ProductID: 1, Quantity: 0}}, 5)
	require.ErrorIs(t, err, shared.ErrValidation)

	// unknown and inactive products are rejected
	_, err = svc.SetLines(ctx, 1, sale.ID, []LineInput{{ProductID: 404, Quantity: 1}}, 5)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.SetLines(ctx, 1, sale.ID, []LineInput{{ProductID: 9, Quantity: 1}}, 5)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	sale, err = svc.SetLines(ctx, 1, sale.ID, []LineInput{
		{ProductID: 1, Quantity: 3, UnitPrice: decimal.RequireFromString("19.90")},
	}, 5)
	require.NoError(t, err)
	require.Len(t, sale.Lines, 1)
	require.True(t, sale.Lines[0].LineTotal.Equal(decimal.RequireFromString("59.70")))
}

func TestFinalizePostsMovementsInProductOrder(t *testing.T) {
	svc, repo, ledger := newTestService(t)
	ledger.available[1] = 10
	ledger.available[2] = 10
	ctx := context.Background()

	sale := draftWithLines(t, svc, []LineInput{
		{ProductID: 2, Quantity: 4, UnitPrice: decimal.NewFromInt(5)},
		{ProductID: 1, Quantity: 3, UnitPrice: decimal.NewFromInt(10)},
	})

	receipt, err := svc.Finalize(ctx, 1, sale.ID, 5)
	require.NoError(t, err)
	require.True(t, receipt.Total.Equal(decimal.NewFromInt(50)))
	require.Len(t, receipt.Lines, 2)
	require.Len(t, receipt.Lines[0].Batches, 1)

	// movements are posted in ascending product order regardless of line order
	require.Len(t, ledger.applied, 2)
	require.Equal(t, int64(1), ledger.applied[0].ProductID)
	require.Equal(t, int64(2), ledger.applied[1].ProductID)
	for _, intent := range ledger.applied {
		require.Equal(t, stock.MovementSale, intent.Type)
		require.Negative(t, intent.Quantity)
		require.Equal(t, stock.RefSale, intent.Ref.Kind)
		require.Equal(t, sale.ID, intent.Ref.ID)
	}
	require.Equal(t, 1, ledger.invalidations)

	got, err := repo.Get(ctx, 1, sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestFinalizeInsufficientBatchStock(t *testing.T) {
	svc, repo, ledger := newTestService(t)
	ledger.available[1] = 2
	ctx := context.Background()

	sale := draftWithLines(t, svc, []LineInput{
		{ProductID: 1, Quantity: 5, UnitPrice: decimal.NewFromInt(10)},
	})

	_, err := svc.Finalize(ctx, 1, sale.ID, 5)
	require.ErrorIs(t, err, shared.ErrInsufficientBatchStock)
	require.Contains(t, err.Error(), "product 1")

	got, err := repo.Get(ctx, 1, sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)
}

func TestFinalizeRequiresDraft(t *testing.T) {
	svc, _, ledger := newTestService(t)
	ledger.available[1] = 10
	ctx := context.Background()

	sale := draftWithLines(t, svc, []LineInput{
		{ProductID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(1)},
	})
	_, err := svc.Finalize(ctx, 1, sale.ID, 5)
	require.NoError(t, err)

	_, err = svc.Finalize(ctx, 1, sale.ID, 5)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestCancelDraftOnly(t *testing.T) {
	svc, repo, ledger := newTestService(t)
	ledger.available[1] = 10
	ctx := context.Background()

	sale := draftWithLines(t, svc, []LineInput{
		{ProductID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(1)},
	})
	require.NoError(t, svc.Cancel(ctx, 1, sale.ID, 5))
	got, err := repo.Get(ctx, 1, sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)

	completed := draftWithLines(t, svc, []LineInput{
		{ProductID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(1)},
	})
	_, err = svc.Finalize(ctx, 1, completed.ID, 5)
	require.NoError(t, err)
	require.ErrorIs(t, svc.Cancel(ctx, 1, completed.ID, 5), shared.ErrInvalidState)
}

func TestReturnRestocksWithCompensatingMovement(t *testing.T) {
	svc, _, ledger := newTestService(t)
	ledger.available[1] = 10
	ctx := context.Background()

	sale := draftWithLines(t, svc, []LineInput{
		{ProductID: 1, Quantity: 4, UnitPrice: decimal.NewFromInt(10)},
	})
	_, err := svc.Finalize(ctx, 1, sale.ID, 5)
	require.NoError(t, err)

	expiry := time.Now().Add(48 * time.Hour)
	err = svc.Return(ctx, 1, sale.ID, []ReturnLineInput{
		{ProductID: 1, Quantity: 2, ExpiresAt: expiry},
	}, 5)
	require.NoError(t, err)

	require.Len(t, ledger.batches, 1)
	require.True(t, strings.HasPrefix(ledger.batches[0].BatchNumber, "RET-"))
	require.Equal(t, int64(2), ledger.batches[0].Quantity)

	last := ledger.applied[len(ledger.applied)-1]
	require.Equal(t, stock.MovementReturn, last.Type)
	require.Equal(t, int64(2), last.Quantity)
	require.Equal(t, stock.RefSale, last.Ref.Kind)
}

func TestReturnGuards(t *testing.T) {
	svc, _, ledger := newTestService(t)
	ledger.available[1] = 10
	ctx := context.Background()

	sale := draftWithLines(t, svc, []LineInput{
		{ProductID: 1, Quantity: 4, UnitPrice: decimal.NewFromInt(10)},
	})

	// returns need a completed sale
	err := svc.Return(ctx, 1, sale.ID, []ReturnLineInput{{ProductID: 1, Quantity: 1, ExpiresAt: time.Now().Add(time.Hour)}}, 5)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = svc.Finalize(ctx, 1, sale.ID, 5)
	require.NoError(t, err)

	// cannot return more than was sold
	err = svc.Return(ctx, 1, sale.ID, []ReturnLineInput{{ProductID: 1, Quantity: 5, ExpiresAt: time.Now().Add(time.Hour)}}, 5)
	require.ErrorIs(t, err, shared.ErrValidation)
}
