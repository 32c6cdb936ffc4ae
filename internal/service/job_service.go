package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/coverloop/api/internal/model"
	"github.com/coverloop/api/internal/pipeline"
	"github.com/coverloop/api/internal/repository"
)

var (
	ErrJobAlreadyActive  = errors.New("a job is already running for this user")
	ErrNoEligibleTargets = errors.New("no eligible playlists to process")
	ErrStyleNotFound     = errors.New("style not found")
	ErrNoActiveJob       = errors.New("no active job")
	ErrJobNotFound       = errors.New("job not found")
)

// TargetRunner runs the pipeline for one playlist of a job.
type TargetRunner interface {
	Run(ctx context.Context, job *model.Job, playlist *model.Playlist, generation *model.Generation) error
}

// JobNotifier is told when a job reaches a terminal state.
type JobNotifier interface {
	JobFinished(jobID string, status model.JobStatus)
}

// JobService creates, runs and cancels cover jobs.
type JobService struct {
	store      *repository.Store
	dispatcher Dispatcher
	runner     TargetRunner
	notifier   JobNotifier
	log        *log.Logger
	now        func() time.Time
}

func NewJobService(store *repository.Store, dispatcher Dispatcher, runner TargetRunner, notifier JobNotifier, logger *log.Logger) *JobService {
	return &JobService{
		store:      store,
		dispatcher: dispatcher,
		runner:     runner,
		notifier:   notifier,
		log:        logger,
		now:        time.Now,
	}
}

// CreateJob queues the eligible playlists under a new job and hands it to
// the worker. Targets are queued before CreateJob returns.
//
// When nothing is eligible the result still lists the skipped playlists
// alongside ErrNoEligibleTargets.
func (s *JobService) CreateJob(ctx context.Context, userID string, playlistIDs []string, styleID string, trigger model.TriggerType) (*model.TriggerResult, error) {
	if trigger == "" {
		trigger = model.TriggerManual
	}
	if _, err := s.store.Styles.GetByID(ctx, styleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrStyleNotFound
		}
		return nil, fmt.Errorf("load style: %w", err)
	}

	playlistIDs = dedupe(playlistIDs)
	now := s.now()
	job := &model.Job{
		ID:          uuid.NewString(),
		UserID:      userID,
		Status:      model.JobStatusProcessing,
		TriggerType: trigger,
		StyleID:     styleID,
		StartedAt:   now,
	}
	result := &model.TriggerResult{JobID: job.ID, Status: job.Status, SkippedPlaylists: []model.SkippedPlaylist{}}

	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		if _, err := tx.Jobs.GetActiveByUser(ctx, userID); err == nil {
			return ErrJobAlreadyActive
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		found, err := tx.Playlists.GetByIDs(ctx, playlistIDs)
		if err != nil {
			return err
		}
		var eligible []string
		for _, id := range playlistIDs {
			reason := model.SkipNotFound
			if p, ok := found[id]; ok {
				reason = p.IneligibleReason(userID)
			}
			if reason != "" {
				result.SkippedPlaylists = append(result.SkippedPlaylists, model.SkippedPlaylist{PlaylistID: id, Reason: reason})
				continue
			}
			eligible = append(eligible, id)
		}
		result.Skipped = len(result.SkippedPlaylists)
		if len(eligible) == 0 {
			return ErrNoEligibleTargets
		}

		if err := tx.Jobs.Create(ctx, job); err != nil {
			return err
		}
		for i, id := range eligible {
			if err := tx.Playlists.MarkQueued(ctx, id, job.ID, i); err != nil {
				return err
			}
			generation := &model.Generation{
				ID:          uuid.NewString(),
				PlaylistID:  id,
				JobID:       &job.ID,
				JobPosition: i,
				StyleID:     styleID,
				Status:      model.GenerationStatusPending,
				TriggerType: trigger,
				CreatedAt:   now,
			}
			if err := tx.Generations.Create(ctx, generation); err != nil {
				return err
			}
		}
		result.Queued = len(eligible)
		return nil
	})
	if errors.Is(err, ErrNoEligibleTargets) {
		result.JobID = ""
		return result, err
	}
	if err != nil {
		if errors.Is(err, ErrJobAlreadyActive) {
			return nil, err
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.dispatcher.DispatchJob(ctx, job.ID, result.Queued); err != nil {
		s.log.Error("failed to dispatch job, cancelling", "job", job.ID, "err", err)
		if _, cerr := s.cancel(context.WithoutCancel(ctx), job.ID); cerr != nil {
			s.log.Error("failed to cancel undispatched job", "job", job.ID, "err", cerr)
		}
		return nil, fmt.Errorf("dispatch job: %w", err)
	}

	s.log.Info("job created", "job", job.ID, "user", userID, "trigger", trigger, "queued", result.Queued, "skipped", result.Skipped)
	return result, nil
}

// RunJob processes the job's targets one at a time. Cancellation is checked
// between targets; a target already running finishes on its own.
func (s *JobService) RunJob(ctx context.Context, jobID string) error {
	job, err := s.store.Jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrJobNotFound
		}
		return err
	}
	if job.Status.IsTerminal() {
		s.log.Info("job already finished, nothing to run", "job", jobID, "status", job.Status)
		return nil
	}

	generations, err := s.store.Generations.ListByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load targets: %w", err)
	}
	s.log.Info("job started", "job", jobID, "targets", len(generations))

	var completed, failed int
	for _, generation := range generations {
		if err := ctx.Err(); err != nil {
			s.interrupt(ctx, jobID)
			return err
		}

		current, err := s.store.Jobs.GetByID(ctx, jobID)
		if err != nil {
			return fmt.Errorf("reload job: %w", err)
		}
		if current.Status == model.JobStatusCancelled {
			s.log.Info("job cancelled, stopping", "job", jobID)
			if _, err := s.resetRemaining(ctx, s.store, jobID); err != nil {
				s.log.Error("failed to reset remaining targets", "job", jobID, "err", err)
			}
			return nil
		}
		if generation.Status != model.GenerationStatusPending {
			continue
		}

		playlist, err := s.store.Playlists.GetByID(ctx, generation.PlaylistID)
		if err != nil {
			s.log.Error("failed to load target", "job", jobID, "playlist", generation.PlaylistID, "err", err)
			failed++
			continue
		}

		err = s.runner.Run(ctx, job, playlist, generation)
		switch {
		case err == nil:
			completed++
		case errors.Is(err, pipeline.ErrTargetReleased):
			s.log.Debug("target released before start", "job", jobID, "playlist", playlist.ID)
		default:
			failed++
		}
	}

	finished, err := s.store.Jobs.Finish(ctx, jobID, model.JobStatusCompleted, s.now())
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if finished {
		s.log.Info("job completed", "job", jobID, "completed", completed, "failed", failed)
		s.notify(jobID, model.JobStatusCompleted)
	}
	return nil
}

// CancelActive cancels the user's running job. Queued targets go back to
// idle and their pending generations are cancelled.
func (s *JobService) CancelActive(ctx context.Context, userID string) (*model.CancelResult, error) {
	job, err := s.store.Jobs.GetActiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoActiveJob
		}
		return nil, err
	}
	result, err := s.cancel(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info("job cancelled", "job", job.ID, "user", userID, "reset", result.ResetPlaylists, "cancelled_generations", result.CancelledGenerations)
	return result, nil
}

func (s *JobService) cancel(ctx context.Context, jobID string) (*model.CancelResult, error) {
	result := &model.CancelResult{JobID: jobID, Status: model.JobStatusCancelled}
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		ok, err := tx.Jobs.Finish(ctx, jobID, model.JobStatusCancelled, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoActiveJob
		}
		reset, err := s.resetRemaining(ctx, tx, jobID)
		if err != nil {
			return err
		}
		result.ResetPlaylists = reset.playlists
		result.CancelledGenerations = reset.generations
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(jobID, model.JobStatusCancelled)
	return result, nil
}

// interrupt cancels a job whose worker is shutting down so its queued
// targets do not stay stuck.
func (s *JobService) interrupt(ctx context.Context, jobID string) {
	s.log.Warn("job interrupted, cancelling remaining targets", "job", jobID)
	if _, err := s.cancel(context.WithoutCancel(ctx), jobID); err != nil && !errors.Is(err, ErrNoActiveJob) {
		s.log.Error("failed to cancel interrupted job", "job", jobID, "err", err)
	}
}

type resetCounts struct {
	playlists   int
	generations int
}

func (s *JobService) resetRemaining(ctx context.Context, store *repository.Store, jobID string) (resetCounts, error) {
	ids, err := store.Playlists.ResetQueued(ctx, jobID)
	if err != nil {
		return resetCounts{}, err
	}
	n, err := store.Generations.CancelOpen(ctx, jobID, ids, s.now())
	if err != nil {
		return resetCounts{}, err
	}
	return resetCounts{playlists: len(ids), generations: int(n)}, nil
}

// GetJob returns the job with each target's status. Jobs of other users
// read as not found.
func (s *JobService) GetJob(ctx context.Context, userID, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.store.Jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrJobNotFound
	}
	return s.status(ctx, job)
}

// GetActive returns the user's running job.
func (s *JobService) GetActive(ctx context.Context, userID string) (*model.JobStatusResponse, error) {
	job, err := s.store.Jobs.GetActiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoActiveJob
		}
		return nil, err
	}
	return s.status(ctx, job)
}

func (s *JobService) status(ctx context.Context, job *model.Job) (*model.JobStatusResponse, error) {
	generations, err := s.store.Generations.ListByJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(generations))
	for i, g := range generations {
		ids[i] = g.PlaylistID
	}
	playlists, err := s.store.Playlists.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	resp := &model.JobStatusResponse{Job: job, Targets: make([]model.JobTarget, 0, len(generations))}
	for _, g := range generations {
		target := model.JobTarget{PlaylistID: g.PlaylistID, Status: model.PlaylistStatusIdle, Generation: g}
		if p, ok := playlists[g.PlaylistID]; ok {
			target.Name = p.Name
			if p.JobID != nil && *p.JobID == job.ID {
				target.Status = p.Status
				target.Progress = p.Progress()
			}
		}
		resp.Targets = append(resp.Targets, target)
	}
	return resp, nil
}

func (s *JobService) notify(jobID string, status model.JobStatus) {
	if s.notifier != nil {
		s.notifier.JobFinished(jobID, status)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
