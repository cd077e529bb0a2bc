package transfers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian/internal/catalog"
	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stock"
)

type memoryTransferRepo struct {
	transfers map[int64]Transfer
	items     map[int64][]Item
	nextID    int64
}

type memoryTransferTx struct {
	repo *memoryTransferRepo
}

func newMemoryTransferRepo() *memoryTransferRepo {
	return &memoryTransferRepo{transfers: make(map[int64]Transfer), items: make(map[int64][]Item)}
}

func (r *memoryTransferRepo) WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	return fn(ctx, nil)
}

func (r *memoryTransferRepo) Bind(tx pgx.Tx) TxRepository {
	return &memoryTransferTx{repo: r}
}

func (r *memoryTransferRepo) Get(ctx context.Context, tenantID, id int64) (Transfer, error) {
	transfer, ok := r.transfers[id]
	if !ok || transfer.TenantID != tenantID {
		return Transfer{}, shared.ErrNotFound
	}
	transfer.Items = append([]Item(nil), r.items[id]...)
	return transfer, nil
}

func (r *memoryTransferRepo) List(ctx context.Context, filter ListFilter) ([]Transfer, int, error) {
	var result []Transfer
	for _, transfer := range r.transfers {
		if transfer.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && transfer.Status != filter.Status {
			continue
		}
		result = append(result, transfer)
	}
	return result, len(result), nil
}

func (tx *memoryTransferTx) Insert(ctx context.Context, transfer Transfer) (int64, error) {
	tx.repo.nextID++
	transfer.ID = tx.repo.nextID
	transfer.CreatedAt = time.Now()
	transfer.UpdatedAt = transfer.CreatedAt
	tx.repo.transfers[transfer.ID] = transfer
	return transfer.ID, nil
}

func (tx *memoryTransferTx) InsertItem(ctx context.Context, item Item) (int64, error) {
	tx.repo.nextID++
	item.ID = tx.repo.nextID
	tx.repo.items[item.TransferID] = append(tx.repo.items[item.TransferID], item)
	return item.ID, nil
}

func (tx *memoryTransferTx) GetForUpdate(ctx context.Context, tenantID, id int64) (Transfer, error) {
	return tx.repo.Get(ctx, tenantID, id)
}

func (tx *memoryTransferTx) UpdateStatus(ctx context.Context, tenantID, id int64, status Status) error {
	transfer, ok := tx.repo.transfers[id]
	if !ok || transfer.TenantID != tenantID {
		return shared.ErrNotFound
	}
	transfer.Status = status
	if status == StatusValidated {
		now := time.Now()
		transfer.ValidatedAt = &now
	}
	tx.repo.transfers[id] = transfer
	return nil
}

// fakeTransferLedger hands out canned allocations per product so tests can
// drive the per-expiry destination batch grouping.
type fakeTransferLedger struct {
	allocations     map[int64][]stock.BatchAllocation
	applied         []stock.MovementIntent
	batches         []stock.ReceiveBatchInput
	locked          []stock.Key
	movedBeforeLock bool
	invalidations   int
}

func newFakeTransferLedger() *fakeTransferLedger {
	return &fakeTransferLedger{allocations: make(map[int64][]stock.BatchAllocation)}
}

func (f *fakeTransferLedger) Bind(tx pgx.Tx) stock.TxRepository { return nil }

func (f *fakeTransferLedger) LockLevelsTx(ctx context.Context, tx stock.TxRepository, keys []stock.Key) error {
	f.locked = append(f.locked, keys...)
	return nil
}

func (f *fakeTransferLedger) AllocateTx(ctx context.Context, tx stock.TxRepository, tenantID, locationID, productID, quantity int64) ([]stock.BatchAllocation, error) {
	allocs := f.allocations[productID]
	var available int64
	for _, alloc := range allocs {
		available += alloc.Quantity
	}
	if available < quantity {
		return nil, fmt.Errorf("have %d, need %d: %w", available, quantity, shared.ErrInsufficientBatchStock)
	}
	var result []stock.BatchAllocation
	remaining := quantity
	for _, alloc := range allocs {
		if remaining == 0 {
			break
		}
		take := alloc.Quantity
		if take > remaining {
			take = remaining
		}
		alloc.Quantity = take
		result = append(result, alloc)
		remaining -= take
	}
	return result, nil
}

func (f *fakeTransferLedger) ApplyTx(ctx context.Context, tx stock.TxRepository, intent stock.MovementIntent) (stock.MovementResult, error) {
	if err := intent.Validate(); err != nil {
		return stock.MovementResult{}, err
	}
	if len(f.locked) == 0 {
		f.movedBeforeLock = true
	}
	f.applied = append(f.applied, intent)
	return stock.MovementResult{MovementID: int64(len(f.applied))}, nil
}

func (f *fakeTransferLedger) ReceiveBatchTx(ctx context.Context, tx stock.TxRepository, input stock.ReceiveBatchInput) (stock.Batch, error) {
	f.batches = append(f.batches, input)
	return stock.Batch{ID: int64(len(f.batches)), BatchNumber: input.BatchNumber}, nil
}

func (f *fakeTransferLedger) InvalidateLevels(ctx context.Context) { f.invalidations++ }

type fakeTransferCatalog struct{}

func (fakeTransferCatalog) GetActive(ctx context.Context, tenantID, productID int64) (catalog.Product, error) {
	if productID >= 900 {
		return catalog.Product{}, shared.ErrNotFound
	}
	return catalog.Product{ID: productID, TenantID: tenantID, Active: true}, nil
}

func newTestTransferService(repo *memoryTransferRepo, ledger *fakeTransferLedger) *Service {
	return NewService(repo, ledger, fakeTransferCatalog{}, nil, nil)
}

func TestCreateRejectsSameLocation(t *testing.T) {
	svc := newTestTransferService(newMemoryTransferRepo(), newFakeTransferLedger())

	_, err := svc.Create(context.Background(), CreateInput{
		TenantID:       1,
		FromLocationID: 10,
		ToLocationID:   10,
		ActorID:        7,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateGeneratesTransferNumber(t *testing.T) {
	svc := newTestTransferService(newMemoryTransferRepo(), newFakeTransferLedger())

	transfer, err := svc.Create(context.Background(), CreateInput{
		TenantID:       1,
		FromLocationID: 10,
		ToLocationID:   20,
		ActorID:        7,
	})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, transfer.Status)
	require.Regexp(t, `^TRF-[0-9A-F]{8}$`, transfer.Number)
}

func TestAddItemDraftOnly(t *testing.T) {
	repo := newMemoryTransferRepo()
	svc := newTestTransferService(repo, newFakeTransferLedger())
	ctx := context.Background()

	transfer, err := svc.Create(ctx, CreateInput{TenantID: 1, FromLocationID: 10, ToLocationID: 20, ActorID: 7})
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, AddItemInput{TenantID: 1, TransferID: transfer.ID, ProductID: 900, Quantity: 5, ActorID: 7})
	require.ErrorIs(t, err, shared.ErrNotFound)

	updated, err := svc.AddItem(ctx, AddItemInput{TenantID: 1, TransferID: transfer.ID, ProductID: 1, Quantity: 5, ActorID: 7})
	require.NoError(t, err)
	require.Len(t, updated.Items, 1)

	require.NoError(t, svc.Cancel(ctx, 1, transfer.ID, 7))
	_, err = svc.AddItem(ctx, AddItemInput{TenantID: 1, TransferID: transfer.ID, ProductID: 1, Quantity: 2, ActorID: 7})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestValidatePostsMovementPairPerItem(t *testing.T) {
	repo := newMemoryTransferRepo()
	ledger := newFakeTransferLedger()
	svc := newTestTransferService(repo, ledger)
	ctx := context.Background()

	soon := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	later := soon.Add(30 * 24 * time.Hour)
	ledger.allocations[1] = []stock.BatchAllocation{
		{BatchID: 11, BatchNumber: "B-11", Quantity: 4, ExpiresAt: soon},
		{BatchID: 12, BatchNumber: "B-12", Quantity: 10, ExpiresAt: later},
	}
	ledger.allocations[2] = []stock.BatchAllocation{
		{BatchID: 21, BatchNumber: "B-21", Quantity: 8, ExpiresAt: later},
	}

	transfer, err := svc.Create(ctx, CreateInput{TenantID: 1, FromLocationID: 10, ToLocationID: 20, ActorID: 7})
	require.NoError(t, err)
	// items added out of product order on purpose
	_, err = svc.AddItem(ctx, AddItemInput{TenantID: 1, TransferID: transfer.ID, ProductID: 2, Quantity: 3, ActorID: 7})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, AddItemInput{TenantID: 1, TransferID: transfer.ID, ProductID: 1, Quantity: 6, ActorID: 7})
	require.NoError(t, err)

	validated, err := svc.Validate(ctx, 1, transfer.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusValidated, validated.Status)
	require.NotNil(t, validated.ValidatedAt)

	// two movements per item, sorted by product
	require.Len(t, ledger.applied, 4)
	require.Equal(t, stock.MovementTransferOut, ledger.applied[0].Type)
	require.Equal(t, int64(1), ledger.applied[0].Key.ProductID)
	require.Equal(t, int64(-6), ledger.applied[0].Quantity)
	require.Equal(t, int64(10), ledger.applied[0].Key.LocationID)
	require.Equal(t, stock.MovementTransferIn, ledger.applied[1].Type)
	require.Equal(t, int64(6), ledger.applied[1].Quantity)
	require.Equal(t, int64(20), ledger.applied[1].Key.LocationID)
	require.Equal(t, stock.MovementTransferOut, ledger.applied[2].Type)
	require.Equal(t, int64(2), ledger.applied[2].Key.ProductID)
	require.Equal(t, stock.MovementTransferIn, ledger.applied[3].Type)

	for _, intent := range ledger.applied {
		require.Equal(t, stock.Ref{Kind: stock.RefTransfer, ID: transfer.ID}, intent.Ref)
		require.Equal(t, validated.Number, intent.Reference)
	}

	// product 1 drew from two batches with distinct expiries so the
	// destination receives two batches carrying the source dates
	require.Len(t, ledger.batches, 3)
	require.Equal(t, validated.Number+"-1", ledger.batches[0].BatchNumber)
	require.Equal(t, int64(4), ledger.batches[0].Quantity)
	require.True(t, ledger.batches[0].ExpiresAt.Equal(soon))
	require.Equal(t, validated.Number+"-2", ledger.batches[1].BatchNumber)
	require.Equal(t, int64(2), ledger.batches[1].Quantity)
	require.True(t, ledger.batches[1].ExpiresAt.Equal(later))
	require.Equal(t, validated.Number+"-3", ledger.batches[2].BatchNumber)
	require.Equal(t, int64(3), ledger.batches[2].Quantity)
	for _, batch := range ledger.batches {
		require.Equal(t, int64(20), batch.LocationID)
	}

	require.Equal(t, 1, ledger.invalidations)
}

func TestValidateLocksBothLocationsBeforeMoving(t *testing.T) {
	repo := newMemoryTransferRepo()
	ledger := newFakeTransferLedger()
	svc := newTestTransferService(repo, ledger)
	ctx := context.Background()

	ledger.allocations[1] = []stock.BatchAllocation{
		{BatchID: 11, BatchNumber: "B-11", Quantity: 9, ExpiresAt: time.Now().Add(24 * time.Hour)},
	}
	ledger.allocations[2] = []stock.BatchAllocation{
		{BatchID: 21, BatchNumber: "B-21", Quantity: 9, ExpiresAt: time.Now().Add(24 * time.Hour)},
	}

	transfer, err := svc.Create(ctx, CreateInput{TenantID: 1, FromLocationID: 10, ToLocationID: 20, ActorID: 7})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, AddItemInput{TenantID: 1, TransferID: transfer.ID, ProductID: 2, Quantity: 3, ActorID: 7})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, AddItemInput{TenantID: 1, TransferID: transfer.ID, ProductID: 1, Quantity: 4, ActorID: 7})
	require.NoError(t, err)

	_, err = svc.Validate(ctx, 1, transfer.ID, 7)
	require.NoError(t, err)

	// every item's level row at both ends is handed to the lock step in one
	// batch before the first movement posts
	require.False(t, ledger.movedBeforeLock)
	require.ElementsMatch(t, []stock.Key{
		{TenantID: 1, LocationID: 10, ProductID: 1},
		{TenantID: 1, LocationID: 20, ProductID: 1},
		{TenantID: 1, LocationID: 10, ProductID: 2},
		{TenantID: 1, LocationID: 20, ProductID: 2},
	}, ledger.locked)
}

func TestValidateInsufficientStockFails(t *testing.T) {
	repo := newMemoryTransferRepo()
	ledger := newFakeTransferLedger()
	svc := newTestTransferService(repo, ledger)
	ctx := context.Background()

	ledger.allocations[1] = []stock.BatchAllocation{
		{BatchID: 11, BatchNumber: "B-11", Quantity: 2, ExpiresAt: time.Now().Add(24 * time.Hour)},
	}

	transfer, err := svc.Create(ctx, CreateInput{TenantID: 1, FromLocationID: 10, ToLocationID: 20, ActorID: 7})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, AddItemInput{TenantID: 1, TransferID: transfer.ID, ProductID: 1, Quantity: 5, ActorID: 7})
	require.NoError(t, err)

	_, err = svc.Validate(ctx, 1, transfer.ID, 7)
	require.ErrorIs(t, err, shared.ErrInsufficientBatchStock)
	require.ErrorContains(t, err, "product 1")

	current, err := svc.Get(ctx, 1, transfer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, current.Status)
	require.Zero(t, ledger.invalidations)
}

func TestValidateRequiresItems(t *testing.T) {
	repo := newMemoryTransferRepo()
	svc := newTestTransferService(repo, newFakeTransferLedger())
	ctx := context.Background()

	transfer, err := svc.Create(ctx, CreateInput{TenantID: 1, FromLocationID: 10, ToLocationID: 20, ActorID: 7})
	require.NoError(t, err)

	_, err = svc.Validate(ctx, 1, transfer.ID, 7)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCancelDraftTransferOnly(t *testing.T) {
	repo := newMemoryTransferRepo()
	ledger := newFakeTransferLedger()
	svc := newTestTransferService(repo, ledger)
	ctx := context.Background()

	ledger.allocations[1] = []stock.BatchAllocation{
		{BatchID: 11, BatchNumber: "B-11", Quantity: 9, ExpiresAt: time.Now().Add(24 * time.Hour)},
	}

	transfer, err := svc.Create(ctx, CreateInput{TenantID: 1, FromLocationID: 10, ToLocationID: 20, ActorID: 7})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, AddItemInput{TenantID: 1, TransferID: transfer.ID, ProductID: 1, Quantity: 4, ActorID: 7})
	require.NoError(t, err)
	_, err = svc.Validate(ctx, 1, transfer.ID, 7)
	require.NoError(t, err)

	err = svc.Cancel(ctx, 1, transfer.ID, 7)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}
