package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBatchExpirySweep flips past-expiry batches to EXPIRED.
	TaskBatchExpirySweep = "stock:batch_expiry_sweep"
	// TaskIdempotencyCleanup prunes idempotency keys past retention.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
)

// SweepPayload carries scheduling metadata for periodic tasks.
type SweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewBatchExpirySweepTask constructs the batch expiry sweep task.
func NewBatchExpirySweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBatchExpirySweep, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask constructs the idempotency cleanup task.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
