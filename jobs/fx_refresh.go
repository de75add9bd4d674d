package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-books/internal/jobs"
)

// RateRefresher reloads the rate table; fx.Resolver satisfies it.
type RateRefresher interface {
	Refresh(ctx context.Context) (int, error)
}

// FXRefreshJob keeps the rate cache warm so document creation rarely waits on the provider.
type FXRefreshJob struct {
	Refresher RateRefresher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewFXRefreshJob wires dependencies for the refresh handler.
func NewFXRefreshJob(refresher RateRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *FXRefreshJob {
	return &FXRefreshJob{Refresher: refresher, Logger: logger, Metrics: metrics}
}

// Handle processes TaskFXRefresh tasks.
func (j *FXRefreshJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Refresher == nil {
		return errors.New("fx refresh: handler not configured")
	}
	var payload FXRefreshPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.Metrics.Track(TaskFXRefresh)
	defer func() { err = tracker.End(err) }()

	logger := loggerOrDefault(j.Logger).With(slog.String("job", TaskFXRefresh))
	count, err := j.Refresher.Refresh(ctx)
	if err != nil {
		logger.Warn("fx refresh failed", slog.String("reason", payload.Reason), slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskFXRefresh, count)
	logger.Info("fx rates refreshed", slog.Int("rates", count))
	return nil
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
