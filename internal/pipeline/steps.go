package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/coverloop/api/internal/client"
	"github.com/coverloop/api/internal/model"
	"github.com/coverloop/api/internal/phash"
	"github.com/coverloop/api/internal/pricing"
)

func (p *Runner) fetchTracks(ctx context.Context, r *run) error {
	tracks, err := p.Playlists.PlaylistTracks(ctx, r.user, r.playlist.SpotifyID)
	if err != nil {
		return err
	}
	if len(tracks) == 0 {
		return ErrNoTracks
	}

	payload := &model.FetchTracksPayload{TrackCount: len(tracks)}
	for _, t := range tracks {
		payload.TrackNames = append(payload.TrackNames, t.Name)
	}
	if len(tracks) > p.maxTracks {
		p.log.Info("analyzing the first tracks only", "playlist", r.playlist.ID, "tracks", len(tracks), "analyzed", p.maxTracks)
		tracks = tracks[:p.maxTracks]
	}
	payload.AnalyzedCount = len(tracks)
	r.tracks = tracks
	r.progress.Record(payload)
	return nil
}

// fetchLyrics is best effort: lookup failures only lower coverage.
func (p *Runner) fetchLyrics(ctx context.Context, r *run) error {
	r.lyrics = make(map[string]string, len(r.tracks))
	for _, t := range r.tracks {
		if err := ctx.Err(); err != nil {
			return err
		}
		lyrics, err := p.Lyrics.Lookup(ctx, t.Name, t.Artist)
		if err != nil {
			if !errors.Is(err, client.ErrLyricsNotFound) {
				p.log.Debug("lyrics lookup failed", "track", t.Name, "err", err)
			}
			continue
		}
		r.lyrics[t.ID] = lyrics
	}

	r.progress.Record(&model.FetchLyricsPayload{Found: len(r.lyrics), Total: len(r.tracks)})
	return nil
}

func (p *Runner) extractThemes(ctx context.Context, r *run) error {
	inputs := make([]client.TrackInput, len(r.tracks))
	for i, t := range r.tracks {
		inputs[i] = client.TrackInput{ID: t.ID, Name: t.Name, Artist: t.Artist, Lyrics: r.lyrics[t.ID]}
	}

	res, err := p.Extractor.ExtractThemes(ctx, inputs)
	entry := pricing.Entry{
		UserID:        r.playlist.UserID,
		GenerationID:  r.generation.ID,
		ActionType:    model.ActionExtractThemes,
		Model:         p.Extractor.Model(),
		TriggerSource: r.generation.TriggerType,
		Err:           err,
	}
	if res != nil {
		entry.Model = res.Model
		entry.TokensIn = res.Usage.PromptTokens
		entry.TokensOut = res.Usage.CompletionTokens
		entry.Duration = res.Duration
		entry.CostUSD = p.Prices.LLMCost(res.Model, res.Usage.PromptTokens, res.Usage.CompletionTokens)
	}
	p.Ledger.Record(ctx, entry)
	if err != nil {
		return err
	}
	r.extractions = res.Extractions

	raw, err := json.Marshal(r.extractions)
	if err != nil {
		return fmt.Errorf("encode extractions: %w", err)
	}
	analysis := &model.Analysis{
		ID:          uuid.NewString(),
		PlaylistID:  r.playlist.ID,
		Extractions: datatypes.JSON(raw),
		CreatedAt:   p.now(),
	}
	if err := p.Store.Analyses.Create(ctx, analysis); err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	r.analysisID = analysis.ID

	payload := &model.ExtractThemesPayload{}
	for _, e := range r.extractions {
		objects := make([]string, len(e.Objects))
		for i, o := range e.Objects {
			objects[i] = o.Object
		}
		payload.Tracks = append(payload.Tracks, model.TrackObjects{TrackName: e.TrackName, Objects: objects})
		payload.ObjectCount += len(objects)
	}
	r.progress.Record(payload)
	return nil
}

func (p *Runner) selectTheme(ctx context.Context, r *run) error {
	result, err := p.Convergence.SelectForPlaylist(ctx, r.playlist.ID, r.extractions)
	if err != nil {
		return err
	}
	r.convergence = result
	winner := result.Selected().Object

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode convergence: %w", err)
	}
	if err := p.Store.Analyses.SaveConvergence(ctx, r.analysisID, raw); err != nil {
		return fmt.Errorf("save convergence: %w", err)
	}
	if err := p.Store.Generations.UpdateFields(ctx, r.generation.ID, map[string]interface{}{
		"symbolic_object": winner,
		"analysis_id":     r.analysisID,
	}); err != nil {
		return fmt.Errorf("save symbolic object: %w", err)
	}

	r.progress.Record(&model.SelectThemePayload{
		Winner:         winner,
		Candidates:     result.Candidates,
		CollisionNotes: result.CollisionNotes,
	})
	return nil
}

func (p *Runner) generateImage(ctx context.Context, r *run) error {
	r.prompt = r.style.Prompt(r.convergence.Selected().Object)
	r.imageModel = r.style.Model(p.DefaultModel)

	if err := p.Store.Generations.UpdateFields(ctx, r.generation.ID, map[string]interface{}{
		"prompt": r.prompt,
	}); err != nil {
		return fmt.Errorf("save prompt: %w", err)
	}

	res, err := p.Images.Generate(ctx, r.imageModel, r.prompt)
	entry := pricing.Entry{
		UserID:        r.playlist.UserID,
		GenerationID:  r.generation.ID,
		ActionType:    model.ActionGenerateImage,
		Model:         r.imageModel,
		TriggerSource: r.generation.TriggerType,
		Err:           err,
	}
	if err == nil {
		entry.CostUSD = p.Prices.ImageCost(r.imageModel)
		entry.Duration = res.Duration
	}
	p.Ledger.Record(ctx, entry)
	if err != nil {
		return err
	}

	image, err := p.Images.Download(ctx, res.ImageURL)
	if err != nil {
		return fmt.Errorf("download image: %w", err)
	}
	r.image = image

	r.progress.Record(&model.GenerateImagePayload{
		StyleName: r.style.Name,
		Prompt:    r.prompt,
		Model:     r.imageModel,
	})
	return nil
}

func (p *Runner) upload(ctx context.Context, r *run) error {
	cover, err := fitCover(r.image, coverMaxBytes)
	if err != nil {
		return err
	}
	hash, err := phash.ComputeBytes(cover)
	if err != nil {
		return fmt.Errorf("hash cover: %w", err)
	}

	payload := &model.UploadPayload{CoverPHash: hash.String()}
	if dup, distance, ok := p.nearestPriorCover(ctx, r, hash); ok {
		payload.DuplicateOf = &dup
		payload.Distance = &distance
		p.log.Warn("cover is a near duplicate of a previous one", "playlist", r.playlist.ID, "previous", dup, "distance", distance)
	}

	key := fmt.Sprintf("covers/%s/%s.jpg", r.playlist.ID, r.generation.ID)
	err = withRetry(ctx, p.retry, p.log, "store cover", func() error {
		_, err := p.Storage.Upload(ctx, key, bytes.NewReader(cover), "image/jpeg")
		return err
	})
	if err != nil {
		return err
	}
	err = withRetry(ctx, p.retry, p.log, "upload cover", func() error {
		return p.Playlists.UploadCover(ctx, r.user, r.playlist.SpotifyID, cover)
	})
	if err != nil {
		// The generation fails without an r2_key, so the stored copy is orphaned.
		if delErr := p.Storage.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			p.log.Warn("failed to remove orphaned cover", "key", key, "err", delErr)
		}
		return err
	}

	payload.R2Key = key
	r.progress.Record(payload)
	return nil
}

// nearestPriorCover finds the closest earlier cover of the playlist that
// matches hash.
func (p *Runner) nearestPriorCover(ctx context.Context, r *run, hash phash.Hash) (string, int, bool) {
	priors, err := p.Store.Generations.ListPriorCovers(ctx, r.playlist.ID, r.generation.ID)
	if err != nil {
		p.log.Warn("failed to load previous covers", "playlist", r.playlist.ID, "err", err)
		return "", 0, false
	}

	best, bestDistance := "", phash.MatchThreshold+1
	for _, g := range priors {
		prior, err := phash.Parse(*g.CoverPHash)
		if err != nil {
			p.log.Warn("skipping malformed cover hash", "generation", g.ID, "err", err)
			continue
		}
		if d := phash.Distance(hash, prior); d < bestDistance {
			best, bestDistance = g.ID, d
		}
	}
	return best, bestDistance, best != ""
}

// complete stamps the generation, claims the object and releases the
// playlist. The integrity check runs after this returns.
func (p *Runner) complete(ctx context.Context, r *run) error {
	payload, _ := r.progress.Payload(model.StepUpload)
	upload := payload.(*model.UploadPayload)
	now := p.now()
	breakdown, total := p.costs(ctx, r.generation.ID)

	err := p.Store.Generations.UpdateFields(ctx, r.generation.ID, map[string]interface{}{
		"status":         model.GenerationStatusCompleted,
		"r2_key":         upload.R2Key,
		"cover_phash":    upload.CoverPHash,
		"duration_ms":    now.Sub(r.started).Milliseconds(),
		"cost_usd":       total,
		"cost_breakdown": breakdown,
		"completed_at":   now,
	})
	if err != nil {
		return p.fail(ctx, r, fmt.Errorf("complete generation: %w", err))
	}

	winner := r.convergence.Selected().Object
	if _, err := p.Convergence.Claim(ctx, r.playlist.ID, winner, r.style.Name); err != nil {
		p.log.Error("failed to claim object", "playlist", r.playlist.ID, "object", winner, "err", err)
	}
	if err := p.Store.Playlists.Release(ctx, r.playlist.ID, &now); err != nil {
		p.log.Error("failed to release playlist", "playlist", r.playlist.ID, "err", err)
	}

	p.log.Info("pipeline completed", "job", r.job.ID, "playlist", r.playlist.ID, "object", winner, "cost_usd", total)
	if p.Reporter != nil {
		p.Reporter.TargetFinished(r.job.ID, r.playlist.ID, r.generation.ID, model.GenerationStatusCompleted, "")
	}

	if p.Integrity != nil {
		if expected, err := phash.Parse(upload.CoverPHash); err == nil {
			p.Integrity.Schedule(r.user, r.playlist, r.generation.ID, expected)
		}
	}
	return nil
}
