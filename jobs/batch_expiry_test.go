package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian/internal/catalog"
)

type fakeBatchMarker struct {
	expired int64
	err     error
	calls   int
}

func (f *fakeBatchMarker) MarkExpiredBatches(ctx context.Context, asOf time.Time) (int64, error) {
	f.calls++
	return f.expired, f.err
}

type fakeLowStockLister struct {
	items []catalog.LowStockItem
}

func (f *fakeLowStockLister) LowStockAllTenants(ctx context.Context) ([]catalog.LowStockItem, error) {
	return f.items, nil
}

type fakeInvalidator struct {
	calls int
}

func (f *fakeInvalidator) InvalidateLevels(ctx context.Context) { f.calls++ }

func sweepTask(t *testing.T) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(SweepPayload{ScheduledFor: time.Now()})
	require.NoError(t, err)
	return asynq.NewTask(TaskBatchExpirySweep, body)
}

func TestSweepInvalidatesCacheWhenBatchesExpire(t *testing.T) {
	marker := &fakeBatchMarker{expired: 3}
	cache := &fakeInvalidator{}
	sweeper := NewBatchExpirySweeper(marker, &fakeLowStockLister{}, cache, nil, nil)

	require.NoError(t, sweeper.Handle(context.Background(), sweepTask(t)))
	require.Equal(t, 1, marker.calls)
	require.Equal(t, 1, cache.calls)
}

func TestSweepSkipsInvalidationWithoutExpirations(t *testing.T) {
	marker := &fakeBatchMarker{expired: 0}
	cache := &fakeInvalidator{}
	sweeper := NewBatchExpirySweeper(marker, &fakeLowStockLister{
		items: []catalog.LowStockItem{{TenantID: 1, ProductID: 2, Code: "SKU-2", LocationID: 1, Quantity: 1, MinStock: 5}},
	}, cache, nil, nil)

	require.NoError(t, sweeper.Handle(context.Background(), sweepTask(t)))
	require.Zero(t, cache.calls)
}

func TestSweepPropagatesMarkerError(t *testing.T) {
	marker := &fakeBatchMarker{err: errors.New("db down")}
	sweeper := NewBatchExpirySweeper(marker, &fakeLowStockLister{}, nil, nil, nil)

	require.Error(t, sweeper.Handle(context.Background(), sweepTask(t)))
}

type fakeKeyCleaner struct {
	removed int64
	cutoff  time.Time
}

func (f *fakeKeyCleaner) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	f.cutoff = olderThan
	return f.removed, nil
}

func TestIdempotencyCleanupUsesRetentionWindow(t *testing.T) {
	store := &fakeKeyCleaner{removed: 7}
	cleaner := NewIdempotencyCleaner(store, 24*time.Hour, nil, nil)

	body, err := json.Marshal(SweepPayload{ScheduledFor: time.Now()})
	require.NoError(t, err)
	task := asynq.NewTask(TaskIdempotencyCleanup, body)

	require.NoError(t, cleaner.Handle(context.Background(), task))
	require.WithinDuration(t, time.Now().Add(-24*time.Hour), store.cutoff, time.Minute)
}
