// Package pipeline runs the six-step cover generation for one playlist.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/datatypes"

	"github.com/coverloop/api/internal/client"
	"github.com/coverloop/api/internal/convergence"
	"github.com/coverloop/api/internal/model"
	"github.com/coverloop/api/internal/phash"
	"github.com/coverloop/api/internal/pricing"
	"github.com/coverloop/api/internal/repository"
)

var (
	ErrNoTracks = errors.New("playlist has no tracks")
	// ErrTargetReleased means the playlist left the job before its run
	// started, typically through cancellation.
	ErrTargetReleased = errors.New("playlist is no longer queued for this job")
)

// Reporter receives live progress for a job.
type Reporter interface {
	Progress(jobID, playlistID string, progress *model.PipelineProgress)
	TargetFinished(jobID, playlistID, generationID string, status model.GenerationStatus, errMsg string)
}

// IntegrityScheduler verifies a freshly uploaded cover in the background.
type IntegrityScheduler interface {
	Schedule(user *model.User, playlist *model.Playlist, generationID string, expected phash.Hash)
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Store        *repository.Store
	Playlists    client.PlaylistProvider
	Lyrics       client.LyricsSource
	Extractor    client.ThemeExtractor
	Images       client.ImageGenerator
	Storage      client.StorageClient
	Convergence  *convergence.Engine
	Prices       *pricing.Table
	Ledger       *pricing.Ledger
	Reporter     Reporter
	Integrity    IntegrityScheduler
	DefaultModel string
	MaxTracks    int
	Logger       *log.Logger
}

// Runner executes the pipeline for one playlist at a time.
type Runner struct {
	Deps
	log       *log.Logger
	now       func() time.Time
	maxTracks int
	retry     retryConfig
}

const defaultMaxTracks = 50

// NewRunner builds a Runner. Deps.MaxTracks caps the tracks analyzed per run
// and defaults to 50.
func NewRunner(deps Deps) *Runner {
	maxTracks := deps.MaxTracks
	if maxTracks <= 0 {
		maxTracks = defaultMaxTracks
	}
	return &Runner{
		Deps:      deps,
		log:       deps.Logger,
		now:       time.Now,
		maxTracks: maxTracks,
		retry:     defaultRetry,
	}
}

// run is the state threaded through the steps of one execution.
type run struct {
	job        *model.Job
	playlist   *model.Playlist
	generation *model.Generation
	user       *model.User
	style      *model.Style
	progress   *model.PipelineProgress
	started    time.Time

	tracks      []client.Track
	lyrics      map[string]string
	extractions []model.TrackExtraction
	analysisID  string
	convergence *model.ConvergenceResult
	prompt      string
	imageModel  string
	image       []byte
}

type step struct {
	name model.Step
	run  func(ctx context.Context, r *run) error
}

func (p *Runner) steps() []step {
	return []step{
		{model.StepFetchTracks, p.fetchTracks},
		{model.StepFetchLyrics, p.fetchLyrics},
		{model.StepExtractThemes, p.extractThemes},
		{model.StepSelectTheme, p.selectTheme},
		{model.StepGenerateImage, p.generateImage},
		{model.StepUpload, p.upload},
	}
}

// Run executes the pipeline for playlist under job using its pending
// generation. A returned error means the generation failed or never
// started; the playlist is back to idle either way.
func (p *Runner) Run(ctx context.Context, job *model.Job, playlist *model.Playlist, generation *model.Generation) error {
	r := &run{
		job:        job,
		playlist:   playlist,
		generation: generation,
		progress:   model.NewPipelineProgress(),
		started:    p.now(),
	}

	started, err := p.Store.Playlists.StartProcessing(ctx, playlist.ID, job.ID)
	if err != nil {
		return fmt.Errorf("start playlist %s: %w", playlist.ID, err)
	}
	if !started {
		return ErrTargetReleased
	}
	started, err = p.Store.Generations.StartProcessing(ctx, generation.ID)
	if err != nil {
		return p.fail(ctx, r, fmt.Errorf("start generation: %w", err))
	}
	if !started {
		if err := p.Store.Playlists.Release(context.WithoutCancel(ctx), playlist.ID, nil); err != nil {
			p.log.Error("failed to release playlist", "playlist", playlist.ID, "err", err)
		}
		return ErrTargetReleased
	}
	generation.Status = model.GenerationStatusProcessing

	if r.user, err = p.Store.Users.GetByID(ctx, playlist.UserID); err != nil {
		return p.fail(ctx, r, fmt.Errorf("load user: %w", err))
	}
	if r.style, err = p.Store.Styles.GetByID(ctx, generation.StyleID); err != nil {
		return p.fail(ctx, r, fmt.Errorf("load style: %w", err))
	}

	p.log.Info("pipeline started", "job", job.ID, "playlist", playlist.ID, "generation", generation.ID)
	p.report(ctx, r)

	for _, s := range p.steps() {
		if err := ctx.Err(); err != nil {
			return p.fail(ctx, r, err)
		}
		stepStarted := p.now()
		if err := s.run(ctx, r); err != nil {
			return p.fail(ctx, r, fmt.Errorf("%s: %w", s.name, err))
		}
		p.log.Debug("step done", "playlist", playlist.ID, "step", s.name, "took", p.now().Sub(stepStarted))
		p.report(ctx, r)
	}

	return p.complete(ctx, r)
}

// report persists the progress snapshot and broadcasts it.
func (p *Runner) report(ctx context.Context, r *run) {
	data, err := json.Marshal(r.progress)
	if err != nil {
		p.log.Error("failed to encode progress", "playlist", r.playlist.ID, "err", err)
		return
	}
	if err := p.Store.Playlists.SaveProgress(ctx, r.playlist.ID, data); err != nil {
		p.log.Warn("failed to save progress", "playlist", r.playlist.ID, "err", err)
	}
	if p.Reporter != nil {
		p.Reporter.Progress(r.job.ID, r.playlist.ID, r.progress)
	}
}

// costs aggregates the usage already recorded for the generation.
func (p *Runner) costs(ctx context.Context, generationID string) (datatypes.JSON, float64) {
	events, err := p.Ledger.ForGeneration(ctx, generationID)
	if err != nil {
		p.log.Warn("failed to load usage events", "generation", generationID, "err", err)
		return nil, 0
	}
	items, total := pricing.Breakdown(events)
	data, err := json.Marshal(items)
	if err != nil {
		return nil, total
	}
	return datatypes.JSON(data), total
}

// fail records the failure on the generation and releases the playlist.
// Bookkeeping outlives a cancelled ctx.
func (p *Runner) fail(ctx context.Context, r *run, cause error) error {
	ctx = context.WithoutCancel(ctx)
	now := p.now()
	breakdown, total := p.costs(ctx, r.generation.ID)

	err := p.Store.Generations.UpdateFields(ctx, r.generation.ID, map[string]interface{}{
		"status":         model.GenerationStatusFailed,
		"error_message":  cause.Error(),
		"duration_ms":    now.Sub(r.started).Milliseconds(),
		"cost_usd":       total,
		"cost_breakdown": breakdown,
		"completed_at":   now,
	})
	if err != nil {
		p.log.Error("failed to mark generation failed", "generation", r.generation.ID, "err", err)
	}
	if err := p.Store.Playlists.Release(ctx, r.playlist.ID, nil); err != nil {
		p.log.Error("failed to release playlist", "playlist", r.playlist.ID, "err", err)
	}

	p.log.Error("pipeline failed", "job", r.job.ID, "playlist", r.playlist.ID, "step", r.progress.CurrentStep, "err", cause)
	if p.Reporter != nil {
		p.Reporter.TargetFinished(r.job.ID, r.playlist.ID, r.generation.ID, model.GenerationStatusFailed, cause.Error())
	}
	return cause
}
