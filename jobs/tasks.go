package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/loopos/loopos/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconcileAll is the task type of the membership sweep.
	TaskReconcileAll = "assignments:reconcile_all"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ReconcileAllPayload tags why a sweep was requested.
type ReconcileAllPayload struct {
	Reason string `json:"reason"`
}

// NewReconcileAllTask constructs an Asynq task for the membership sweep.
func NewReconcileAllTask(reason string) (*asynq.Task, error) {
	data, err := json.Marshal(ReconcileAllPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileAll, data), nil
}
