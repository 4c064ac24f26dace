package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/loopos/loopos/internal/assignments"
	jobmetrics "github.com/loopos/loopos/internal/jobs"
)

// Sweeper re-derives every membership from the stored assignments.
type Sweeper interface {
	ReconcileAll(ctx context.Context) (assignments.Result, error)
}

// ReconcileAllJob repairs memberships that drifted from plant assignments.
type ReconcileAllJob struct {
	Sweeper Sweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReconcileAllJob initialises the sweep handler.
func NewReconcileAllJob(sweeper Sweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileAllJob {
	return &ReconcileAllJob{Sweeper: sweeper, Logger: logger, Metrics: metrics}
}

// Handle executes one sweep.
func (j *ReconcileAllJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sweeper == nil {
		return errors.New("reconcile all: handler not configured")
	}
	var payload ReconcileAllPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Reason == "" {
		payload.Reason = "scheduled"
	}

	start := time.Now()
	tracker := j.metrics().Track(TaskReconcileAll)
	logger := j.logger().With(slog.String("reason", payload.Reason))
	logger.Info("starting membership sweep")

	res, err := j.Sweeper.ReconcileAll(ctx)
	if err != nil {
		logger.Error("membership sweep failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddChanged(TaskReconcileAll, len(res.Changed))
	logger.Info("completed membership sweep",
		slog.Int("changed", len(res.Changed)),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

func (j *ReconcileAllJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReconcileAll))
	}
	return slog.Default().With(slog.String("job", TaskReconcileAll))
}

func (j *ReconcileAllJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
