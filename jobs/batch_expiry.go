package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-pos/meridian/internal/catalog"
	jobmetrics "github.com/meridian-pos/meridian/internal/jobs"
)

// BatchMarker persists the ACTIVE->EXPIRED flip for past-expiry batches.
type BatchMarker interface {
	MarkExpiredBatches(ctx context.Context, asOf time.Time) (int64, error)
}

// LowStockLister reports products under their minimum stock across tenants.
type LowStockLister interface {
	LowStockAllTenants(ctx context.Context) ([]catalog.LowStockItem, error)
}

// LevelInvalidator drops cached stock levels after the sweep mutates state.
type LevelInvalidator interface {
	InvalidateLevels(ctx context.Context)
}

// BatchExpirySweeper runs the nightly expiry sweep. Allocation already
// excludes past-expiry batches, so the sweep only reconciles stored status
// and surfaces warnings.
type BatchExpirySweeper struct {
	batches  BatchMarker
	lowStock LowStockLister
	cache    LevelInvalidator
	metrics  *jobmetrics.Metrics
	logger   *slog.Logger
}

// NewBatchExpirySweeper constructs the sweep handler.
func NewBatchExpirySweeper(batches BatchMarker, lowStock LowStockLister, cache LevelInvalidator, metrics *jobmetrics.Metrics, logger *slog.Logger) *BatchExpirySweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchExpirySweeper{batches: batches, lowStock: lowStock, cache: cache, metrics: metrics, logger: logger}
}

// Handle processes TaskBatchExpirySweep tasks.
func (s *BatchExpirySweeper) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := s.metrics.Track("batch_expiry_sweep")
	return tracker.End(s.run(ctx))
}

func (s *BatchExpirySweeper) run(ctx context.Context) error {
	var (
		expired  int64
		lowStock []catalog.LowStockItem
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		expired, err = s.batches.MarkExpiredBatches(ctx, time.Now())
		return err
	})
	g.Go(func() error {
		var err error
		lowStock, err = s.lowStock.LowStockAllTenants(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if expired > 0 {
		s.metrics.AddExpiredBatches(expired)
		if s.cache != nil {
			s.cache.InvalidateLevels(ctx)
		}
	}
	s.logger.Info("batch expiry sweep", slog.Int64("expired", expired), slog.Int("low_stock", len(lowStock)))

	for _, item := range lowStock {
		s.logger.Warn("product under minimum stock",
			slog.Int64("tenant_id", item.TenantID),
			slog.Int64("product_id", item.ProductID),
			slog.String("code", item.Code),
			slog.Int64("location_id", item.LocationID),
			slog.Int64("quantity", item.Quantity),
			slog.Int64("min_stock", item.MinStock),
		)
	}
	return nil
}
