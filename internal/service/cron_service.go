package service

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/coverloop/api/internal/model"
	"github.com/coverloop/api/internal/repository"
)

// CronService turns a scheduler tick into cron jobs for opted-in users.
type CronService struct {
	store *repository.Store
	jobs  *JobService
	log   *log.Logger
}

func NewCronService(store *repository.Store, jobs *JobService, logger *log.Logger) *CronService {
	return &CronService{store: store, jobs: jobs, log: logger}
}

// SweepResult counts what one tick did.
type SweepResult struct {
	JobsCreated int
	Skipped     int
}

// Sweep creates a cron job per user with cron enabled, a default style and
// auto-regenerate playlists. Users with a job in flight are skipped.
func (s *CronService) Sweep(ctx context.Context) (*SweepResult, error) {
	users, err := s.store.Users.ListCronEnabled(ctx)
	if err != nil {
		return nil, err
	}

	res := &SweepResult{}
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if user.DefaultStyleID == nil || *user.DefaultStyleID == "" {
			s.log.Debug("cron user has no default style", "user", user.ID)
			res.Skipped++
			continue
		}

		playlists, err := s.store.Playlists.ListAutoRegenerate(ctx, user.ID)
		if err != nil {
			s.log.Error("failed to list auto-regenerate playlists", "user", user.ID, "err", err)
			res.Skipped++
			continue
		}
		if len(playlists) == 0 {
			res.Skipped++
			continue
		}
		ids := make([]string, len(playlists))
		for i, p := range playlists {
			ids[i] = p.ID
		}

		_, err = s.jobs.CreateJob(ctx, user.ID, ids, *user.DefaultStyleID, model.TriggerCron)
		switch {
		case err == nil:
			res.JobsCreated++
		case errors.Is(err, ErrJobAlreadyActive), errors.Is(err, ErrNoEligibleTargets):
			s.log.Info("cron skipped user", "user", user.ID, "reason", err)
			res.Skipped++
		default:
			s.log.Error("cron job creation failed", "user", user.ID, "err", err)
			res.Skipped++
		}
	}

	s.log.Info("cron sweep done", "users", len(users), "jobs", res.JobsCreated, "skipped", res.Skipped)
	return res, nil
}
