package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/hibiken/asynq"

	"github.com/coverloop/api/internal/service"
)

// JobRunner runs a created job to completion.
type JobRunner interface {
	RunJob(ctx context.Context, jobID string) error
}

// Sweeper creates the periodic cron jobs.
type Sweeper interface {
	Sweep(ctx context.Context) (*service.SweepResult, error)
}

// ErrorBroadcaster tells job subscribers about a job that could not run.
type ErrorBroadcaster interface {
	BroadcastError(jobID string, code, message string)
}

// CoverWorker handles the cover task types
type CoverWorker struct {
	jobs JobRunner
	cron Sweeper
	hub  ErrorBroadcaster
	log  *log.Logger
}

func NewCoverWorker(jobs JobRunner, cron Sweeper, hub ErrorBroadcaster, logger *log.Logger) *CoverWorker {
	return &CoverWorker{jobs: jobs, cron: cron, hub: hub, log: logger}
}

// Register wires the handlers into mux.
func (w *CoverWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(service.TaskTypeCoverJob, w.ProcessJob)
	mux.HandleFunc(service.TaskTypeCoverCron, w.ProcessCron)
}

// ProcessJob runs one cover job. Per-target failures are recorded by the
// job itself; only job-level errors surface here.
func (w *CoverWorker) ProcessJob(ctx context.Context, t *asynq.Task) error {
	jobID, err := service.ParseCoverJobTask(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	w.log.Info("starting cover job", "job", jobID)
	if err := w.jobs.RunJob(ctx, jobID); err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return fmt.Errorf("job %s: %v: %w", jobID, err, asynq.SkipRetry)
		}
		w.log.Error("cover job failed", "job", jobID, "err", err)
		w.hub.BroadcastError(jobID, "JOB_FAILED", err.Error())
		return err
	}
	return nil
}

// ProcessCron handles a scheduler tick.
func (w *CoverWorker) ProcessCron(ctx context.Context, t *asynq.Task) error {
	res, err := w.cron.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("cron sweep: %w", err)
	}
	w.log.Debug("cron tick handled", "jobs", res.JobsCreated, "skipped", res.Skipped)
	return nil
}
