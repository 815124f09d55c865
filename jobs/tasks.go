package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStepExecuted is emitted when a transfer step finished executing;
	// its handler propagates lots to deferred downstream moves and
	// reconciles backorders.
	TaskStepExecuted = "step:executed"
	// TaskBackorderSweep periodically retries backorders still short of
	// their demand.
	TaskBackorderSweep = "backorder:sweep"
)

// Propagator is the chain service surface the job handlers drive.
type Propagator interface {
	PropagateAfterStepExecution(ctx context.Context, stepID int64) error
	ReconcilePendingBackorders(ctx context.Context) error
}

// StepExecutedPayload identifies the executed transfer step.
type StepExecutedPayload struct {
	StepID int64 `json:"step_id"`
}

// NewStepExecutedTask constructs an Asynq task for a step execution event.
func NewStepExecutedTask(stepID int64) (*asynq.Task, error) {
	data, err := json.Marshal(StepExecutedPayload{StepID: stepID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStepExecuted, data), nil
}

// NewBackorderSweepTask constructs the periodic reconciliation task.
func NewBackorderSweepTask() *asynq.Task {
	return asynq.NewTask(TaskBackorderSweep, nil)
}

// HandleStepExecutedTask returns the handler for TaskStepExecuted.
func HandleStepExecutedTask(svc Propagator, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload StepExecutedPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.StepID <= 0 {
			return asynq.SkipRetry
		}
		logger.Info("processing step execution", slog.Int64("step_id", payload.StepID))
		return svc.PropagateAfterStepExecution(ctx, payload.StepID)
	}
}

// HandleBackorderSweepTask returns the handler for TaskBackorderSweep.
func HandleBackorderSweepTask(svc Propagator, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		logger.Info("running backorder sweep")
		return svc.ReconcilePendingBackorders(ctx)
	}
}
