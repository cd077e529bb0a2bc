package stocktake

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian/internal/catalog"
	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stock"
)

type memoryStocktakeRepo struct {
	stocktakes map[int64]Stocktake
	items      map[int64][]Item
	nextID     int64
}

type memoryStocktakeTx struct {
	repo *memoryStocktakeRepo
}

func newMemoryStocktakeRepo() *memoryStocktakeRepo {
	return &memoryStocktakeRepo{stocktakes: make(map[int64]Stocktake), items: make(map[int64][]Item)}
}

func (r *memoryStocktakeRepo) WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	return fn(ctx, nil)
}

func (r *memoryStocktakeRepo) Bind(tx pgx.Tx) TxRepository {
	return &memoryStocktakeTx{repo: r}
}

func (r *memoryStocktakeRepo) Get(ctx context.Context, tenantID, id int64) (Stocktake, error) {
	st, ok := r.stocktakes[id]
	if !ok || st.TenantID != tenantID {
		return Stocktake{}, shared.ErrNotFound
	}
	st.Items = append([]Item(nil), r.items[id]...)
	return st, nil
}

func (r *memoryStocktakeRepo) List(ctx context.Context, filter ListFilter) ([]Stocktake, int, error) {
	var result []Stocktake
	for _, st := range r.stocktakes {
		if st.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && st.Status != filter.Status {
			continue
		}
		result = append(result, st)
	}
	return result, len(result), nil
}

func (tx *memoryStocktakeTx) Insert(ctx context.Context, st Stocktake) (int64, error) {
	tx.repo.nextID++
	st.ID = tx.repo.nextID
	st.CreatedAt = time.Now()
	st.UpdatedAt = st.CreatedAt
	tx.repo.stocktakes[st.ID] = st
	return st.ID, nil
}

func (tx *memoryStocktakeTx) InsertItems(ctx context.Context, stocktakeID int64, items []Item) error {
	for _, item := range items {
		tx.repo.nextID++
		item.ID = tx.repo.nextID
		item.StocktakeID = stocktakeID
		tx.repo.items[stocktakeID] = append(tx.repo.items[stocktakeID], item)
	}
	return nil
}

func (tx *memoryStocktakeTx) GetForUpdate(ctx context.Context, tenantID, id int64) (Stocktake, error) {
	return tx.repo.Get(ctx, tenantID, id)
}

func (tx *memoryStocktakeTx) SetCounted(ctx context.Context, itemID, countedQty int64) error {
	for stocktakeID, items := range tx.repo.items {
		for i, item := range items {
			if item.ID == itemID {
				qty := countedQty
				items[i].CountedQty = &qty
				tx.repo.items[stocktakeID] = items
				return nil
			}
		}
	}
	return shared.ErrNotFound
}

func (tx *memoryStocktakeTx) UpdateStatus(ctx context.Context, tenantID, id int64, status Status) error {
	st, ok := tx.repo.stocktakes[id]
	if !ok || st.TenantID != tenantID {
		return shared.ErrNotFound
	}
	st.Status = status
	now := time.Now()
	switch status {
	case StatusStarted:
		st.StartedAt = &now
	case StatusValidated:
		st.ValidatedAt = &now
	}
	tx.repo.stocktakes[id] = st
	return nil
}

// fakeStocktakeLedger serves snapshot reads from a levels map and records
// adjustment intents.
type fakeStocktakeLedger struct {
	levels        map[stock.Key]int64
	applied       []stock.MovementIntent
	invalidations int
}

func newFakeStocktakeLedger() *fakeStocktakeLedger {
	return &fakeStocktakeLedger{levels: make(map[stock.Key]int64)}
}

type fakeStockTx struct {
	ledger *fakeStocktakeLedger
}

func (f *fakeStocktakeLedger) Bind(tx pgx.Tx) stock.TxRepository {
	return &fakeStockTx{ledger: f}
}

func (f *fakeStocktakeLedger) ApplyTx(ctx context.Context, tx stock.TxRepository, intent stock.MovementIntent) (stock.MovementResult, error) {
	if err := intent.Validate(); err != nil {
		return stock.MovementResult{}, err
	}
	f.applied = append(f.applied, intent)
	f.levels[intent.Key] += intent.Quantity
	return stock.MovementResult{MovementID: int64(len(f.applied))}, nil
}

func (f *fakeStocktakeLedger) InvalidateLevels(ctx context.Context) { f.invalidations++ }

func (t *fakeStockTx) GetLevel(ctx context.Context, key stock.Key) (stock.Level, error) {
	qty, ok := t.ledger.levels[key]
	if !ok {
		return stock.Level{}, stock.ErrLevelNotFound
	}
	return stock.Level{Key: key, Quantity: qty, Available: qty}, nil
}

func (t *fakeStockTx) GetLevelForUpdate(ctx context.Context, key stock.Key) (stock.Level, error) {
	return t.GetLevel(ctx, key)
}

func (t *fakeStockTx) UpsertLevel(ctx context.Context, level stock.Level) error {
	t.ledger.levels[level.Key] = level.Quantity
	return nil
}

func (t *fakeStockTx) InsertMovement(ctx context.Context, m stock.Movement) (int64, error) {
	return 0, nil
}

func (t *fakeStockTx) SelectBatchesForUpdate(ctx context.Context, tenantID, locationID, productID int64) ([]stock.Batch, error) {
	return nil, nil
}

func (t *fakeStockTx) UpdateBatchConsumption(ctx context.Context, batchID, availableQty int64, status stock.BatchStatus) error {
	return nil
}

func (t *fakeStockTx) InsertBatch(ctx context.Context, b stock.Batch) (int64, error) {
	return 0, nil
}

type fakeStocktakeCatalog struct {
	active []int64
}

func (f fakeStocktakeCatalog) GetActive(ctx context.Context, tenantID, productID int64) (catalog.Product, error) {
	for _, id := range f.active {
		if id == productID {
			return catalog.Product{ID: id, TenantID: tenantID, Active: true}, nil
		}
	}
	return catalog.Product{}, shared.ErrNotFound
}

func (f fakeStocktakeCatalog) ActiveProducts(ctx context.Context, tenantID int64) ([]catalog.Product, error) {
	var products []catalog.Product
	for _, id := range f.active {
		products = append(products, catalog.Product{ID: id, TenantID: tenantID, Active: true})
	}
	return products, nil
}

func newTestStocktakeService(repo *memoryStocktakeRepo, ledger *fakeStocktakeLedger, active ...int64) *Service {
	return NewService(repo, ledger, fakeStocktakeCatalog{active: active}, nil, nil)
}

func TestCreateGeneratesStocktakeNumber(t *testing.T) {
	svc := newTestStocktakeService(newMemoryStocktakeRepo(), newFakeStocktakeLedger(), 1)

	st, err := svc.Create(context.Background(), CreateInput{TenantID: 1, LocationID: 10, ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, st.Status)
	require.Regexp(t, `^STK-[0-9A-F]{8}$`, st.Number)
}

func TestStartSnapshotsSystemQuantities(t *testing.T) {
	repo := newMemoryStocktakeRepo()
	ledger := newFakeStocktakeLedger()
	svc := newTestStocktakeService(repo, ledger, 1, 2)
	ctx := context.Background()

	ledger.levels[stock.Key{TenantID: 1, LocationID: 10, ProductID: 1}] = 50
	// product 2 has no level row yet: snapshot must read zero

	st, err := svc.Create(ctx, CreateInput{TenantID: 1, LocationID: 10, ActorID: 7})
	require.NoError(t, err)

	started, err := svc.Start(ctx, StartInput{TenantID: 1, StocktakeID: st.ID, ProductIDs: []int64{2, 1}, ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, StatusStarted, started.Status)
	require.NotNil(t, started.StartedAt)
	require.Len(t, started.Items, 2)
	require.Equal(t, int64(1), started.Items[0].ProductID)
	require.Equal(t, int64(50), started.Items[0].SystemQty)
	require.Equal(t, int64(2), started.Items[1].ProductID)
	require.Zero(t, started.Items[1].SystemQty)
	require.Nil(t, started.Items[0].CountedQty)
}

func TestStartDefaultsToActiveProducts(t *testing.T) {
	repo := newMemoryStocktakeRepo()
	svc := newTestStocktakeService(repo, newFakeStocktakeLedger(), 3, 1, 2)
	ctx := context.Background()

	st, err := svc.Create(ctx, CreateInput{TenantID: 1, LocationID: 10, ActorID: 7})
	require.NoError(t, err)

	started, err := svc.Start(ctx, StartInput{TenantID: 1, StocktakeID: st.ID, ActorID: 7})
	require.NoError(t, err)
	require.Len(t, started.Items, 3)
	require.Equal(t, int64(1), started.Items[0].ProductID)
	require.Equal(t, int64(3), started.Items[2].ProductID)
}

func TestStartRequiresDraft(t *testing.T) {
	repo := newMemoryStocktakeRepo()
	svc := newTestStocktakeService(repo, newFakeStocktakeLedger(), 1)
	ctx := context.Background()

	st, err := svc.Create(ctx, CreateInput{TenantID: 1, LocationID: 10, ActorID: 7})
	require.NoError(t, err)
	_, err = svc.Start(ctx, StartInput{TenantID: 1, StocktakeID: st.ID, ActorID: 7})
	require.NoError(t, err)

	_, err = svc.Start(ctx, StartInput{TenantID: 1, StocktakeID: st.ID, ActorID: 7})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = svc.Start(ctx, StartInput{TenantID: 1, StocktakeID: st.ID, ProductIDs: []int64{99}, ActorID: 7})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSetCountedGuards(t *testing.T) {
	repo := newMemoryStocktakeRepo()
	svc := newTestStocktakeService(repo, newFakeStocktakeLedger(), 1)
	ctx := context.Background()

	st, err := svc.Create(ctx, CreateInput{TenantID: 1, LocationID: 10, ActorID: 7})
	require.NoError(t, err)

	// counts before start
	_, err = svc.SetCounted(ctx, 1, st.ID, []CountInput{{ProductID: 1, CountedQty: 5}}, 7)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = svc.Start(ctx, StartInput{TenantID: 1, StocktakeID: st.ID, ProductIDs: []int64{1}, ActorID: 7})
	require.NoError(t, err)

	_, err = svc.SetCounted(ctx, 1, st.ID, []CountInput{{ProductID: 1, CountedQty: -2}}, 7)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.SetCounted(ctx, 1, st.ID, []CountInput{{ProductID: 5, CountedQty: 3}}, 7)
	require.ErrorIs(t, err, shared.ErrValidation)

	counted, err := svc.SetCounted(ctx, 1, st.ID, []CountInput{{ProductID: 1, CountedQty: 3}}, 7)
	require.NoError(t, err)
	require.NotNil(t, counted.Items[0].CountedQty)
	require.Equal(t, int64(3), *counted.Items[0].CountedQty)

	// recounting overwrites
	counted, err = svc.SetCounted(ctx, 1, st.ID, []CountInput{{ProductID: 1, CountedQty: 4}}, 7)
	require.NoError(t, err)
	require.Equal(t, int64(4), *counted.Items[0].CountedQty)
}

func TestValidatePostsAdjustmentsForDifferences(t *testing.T) {
	repo := newMemoryStocktakeRepo()
	ledger := newFakeStocktakeLedger()
	svc := newTestStocktakeService(repo, ledger, 1, 2, 3, 4)
	ctx := context.Background()

	ledger.levels[stock.Key{TenantID: 1, LocationID: 10, ProductID: 1}] = 50
	ledger.levels[stock.Key{TenantID: 1, LocationID: 10, ProductID: 3}] = 12

	st, err := svc.Create(ctx, CreateInput{TenantID: 1, LocationID: 10, ActorID: 7})
	require.NoError(t, err)
	_, err = svc.Start(ctx, StartInput{TenantID: 1, StocktakeID: st.ID, ActorID: 7})
	require.NoError(t, err)

	// product 1: 50 counted 47 (shrinkage), product 2: 0 counted 4
	// (found stock), product 3: counted exactly, product 4: never counted
	_, err = svc.SetCounted(ctx, 1, st.ID, []CountInput{
		{ProductID: 1, CountedQty: 47},
		{ProductID: 2, CountedQty: 4},
		{ProductID: 3, CountedQty: 12},
	}, 7)
	require.NoError(t, err)

	validated, err := svc.Validate(ctx, 1, st.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusValidated, validated.Status)
	require.NotNil(t, validated.ValidatedAt)

	require.Len(t, ledger.applied, 2)
	require.Equal(t, stock.MovementAdjustment, ledger.applied[0].Type)
	require.Equal(t, int64(1), ledger.applied[0].Key.ProductID)
	require.Equal(t, int64(-3), ledger.applied[0].Quantity)
	require.Equal(t, int64(2), ledger.applied[1].Key.ProductID)
	require.Equal(t, int64(4), ledger.applied[1].Quantity)
	for _, intent := range ledger.applied {
		require.Equal(t, stock.Ref{Kind: stock.RefStocktake, ID: st.ID}, intent.Ref)
		require.Equal(t, validated.Number, intent.Reference)
	}
	require.Equal(t, 1, ledger.invalidations)

	require.Equal(t, int64(47), ledger.levels[stock.Key{TenantID: 1, LocationID: 10, ProductID: 1}])
	require.Equal(t, int64(4), ledger.levels[stock.Key{TenantID: 1, LocationID: 10, ProductID: 2}])
}

func TestValidateRequiresStarted(t *testing.T) {
	repo := newMemoryStocktakeRepo()
	svc := newTestStocktakeService(repo, newFakeStocktakeLedger(), 1)
	ctx := context.Background()

	st, err := svc.Create(ctx, CreateInput{TenantID: 1, LocationID: 10, ActorID: 7})
	require.NoError(t, err)

	_, err = svc.Validate(ctx, 1, st.ID, 7)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestCancelBlockedAfterValidation(t *testing.T) {
	repo := newMemoryStocktakeRepo()
	ledger := newFakeStocktakeLedger()
	svc := newTestStocktakeService(repo, ledger, 1)
	ctx := context.Background()

	st, err := svc.Create(ctx, CreateInput{TenantID: 1, LocationID: 10, ActorID: 7})
	require.NoError(t, err)
	_, err = svc.Start(ctx, StartInput{TenantID: 1, StocktakeID: st.ID, ProductIDs: []int64{1}, ActorID: 7})
	require.NoError(t, err)

	// started stocktakes may still be cancelled
	require.NoError(t, svc.Cancel(ctx, 1, st.ID, 7))

	second, err := svc.Create(ctx, CreateInput{TenantID: 1, LocationID: 10, ActorID: 7})
	require.NoError(t, err)
	_, err = svc.Start(ctx, StartInput{TenantID: 1, StocktakeID: second.ID, ProductIDs: []int64{1}, ActorID: 7})
	require.NoError(t, err)
	_, err = svc.SetCounted(ctx, 1, second.ID, []CountInput{{ProductID: 1, CountedQty: 5}}, 7)
	require.NoError(t, err)
	_, err = svc.Validate(ctx, 1, second.ID, 7)
	require.NoError(t, err)

	err = svc.Cancel(ctx, 1, second.ID, 7)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}
