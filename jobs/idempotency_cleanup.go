package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-pos/meridian/internal/jobs"
	"github.com/meridian-pos/meridian/internal/shared"
)

// KeyCleaner prunes idempotency keys older than a cutoff.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)
}

var _ KeyCleaner = (*shared.IdempotencyStore)(nil)

// IdempotencyCleaner removes idempotency keys past their retention window.
// Keys only guard retries of recent requests; stale ones are dead weight.
type IdempotencyCleaner struct {
	store     KeyCleaner
	retention time.Duration
	metrics   *jobmetrics.Metrics
	logger    *slog.Logger
}

// NewIdempotencyCleaner constructs the cleanup handler.
func NewIdempotencyCleaner(store KeyCleaner, retention time.Duration, metrics *jobmetrics.Metrics, logger *slog.Logger) *IdempotencyCleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencyCleaner{store: store, retention: retention, metrics: metrics, logger: logger}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (c *IdempotencyCleaner) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := c.metrics.Track("idempotency_cleanup")
	return tracker.End(c.run(ctx))
}

func (c *IdempotencyCleaner) run(ctx context.Context) error {
	cutoff := time.Now().Add(-c.retention)
	removed, err := c.store.Cleanup(ctx, cutoff)
	if err != nil {
		return err
	}
	c.logger.Info("idempotency cleanup", slog.Int64("removed", removed), slog.Time("cutoff", cutoff))
	return nil
}
