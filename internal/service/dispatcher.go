package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/coverloop/api/internal/model"
)

const (
	TaskTypeCoverJob  = "cover:job"
	TaskTypeCoverCron = "cover:cron"
)

const (
	defaultTargetTimeout = 10 * time.Minute
	// jobTimeoutSlack covers the per-job bookkeeping around the targets.
	jobTimeoutSlack = 5 * time.Minute
)

// Dispatcher hands a created job with its number of queued targets to the
// worker.
type Dispatcher interface {
	DispatchJob(ctx context.Context, jobID string, targets int) error
}

// AsynqDispatcher enqueues job tasks on an asynq queue.
type AsynqDispatcher struct {
	client        *asynq.Client
	queue         string
	targetTimeout time.Duration
}

func NewAsynqDispatcher(client *asynq.Client, queue string, targetTimeout time.Duration) *AsynqDispatcher {
	if targetTimeout <= 0 {
		targetTimeout = defaultTargetTimeout
	}
	return &AsynqDispatcher{client: client, queue: queue, targetTimeout: targetTimeout}
}

// JobTimeout is the task deadline for a job with the given number of
// targets. Targets run one after another, so the budget grows with them.
func JobTimeout(targets int, perTarget time.Duration) time.Duration {
	if targets < 1 {
		targets = 1
	}
	return time.Duration(targets)*perTarget + jobTimeoutSlack
}

// DispatchJob enqueues the job once. Targets fail individually, so the task
// itself is never retried.
func (d *AsynqDispatcher) DispatchJob(ctx context.Context, jobID string, targets int) error {
	task, err := NewCoverJobTask(jobID)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	_, err = d.client.EnqueueContext(ctx, task,
		asynq.Queue(d.queue),
		asynq.TaskID(jobID),
		asynq.MaxRetry(0),
		asynq.Timeout(JobTimeout(targets, d.targetTimeout)),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func NewCoverJobTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(model.JobTaskPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeCoverJob, data), nil
}

// ParseCoverJobTask extracts the job id from a cover:job task.
func ParseCoverJobTask(t *asynq.Task) (string, error) {
	var payload model.JobTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return "", fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if payload.JobID == "" {
		return "", fmt.Errorf("task payload has no job id")
	}
	return payload.JobID, nil
}

// NewCoverCronTask is the periodic sweep registered on the scheduler.
func NewCoverCronTask() *asynq.Task {
	return asynq.NewTask(TaskTypeCoverCron, nil)
}
