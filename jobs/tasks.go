package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskFXRefresh reloads the exchange-rate table into the cache.
	TaskFXRefresh = "fx:refresh"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// FXRefreshPayload carries scheduling metadata for a rate refresh.
type FXRefreshPayload struct {
	Reason string `json:"reason,omitempty"`
}

// IdempotencyCleanupPayload overrides the configured retention when set.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention,omitempty"`
}

// NewFXRefreshTask constructs an Asynq task for refreshing rates.
func NewFXRefreshTask(reason string) (*asynq.Task, error) {
	body, err := json.Marshal(FXRefreshPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFXRefresh, body, asynq.Queue(QueueDefault), asynq.MaxRetry(2), asynq.Timeout(time.Minute)), nil
}

// NewIdempotencyCleanupTask constructs an Asynq task purging old keys.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
