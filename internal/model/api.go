package model

import (
	"encoding/json"
	"time"
)

// TriggerRequest starts a cover job for a set of playlists
type TriggerRequest struct {
	PlaylistIDs []string    `json:"playlist_ids" validate:"required,min=1,max=50,dive,required"`
	StyleID     string      `json:"style_id" validate:"required"`
	TriggerType TriggerType `json:"trigger_type" validate:"omitempty,oneof=manual cron auto"`
}

// SkippedPlaylist is a requested playlist excluded before any work started
type SkippedPlaylist struct {
	PlaylistID string `json:"playlistId"`
	Reason     string `json:"reason"`
}

// TriggerResult is returned once targets are queued
type TriggerResult struct {
	JobID            string            `json:"jobId"`
	Status           JobStatus         `json:"status"`
	Queued           int               `json:"queued"`
	Skipped          int               `json:"skipped"`
	SkippedPlaylists []SkippedPlaylist `json:"skippedPlaylists"`
}

// CancelResult summarizes a cancellation
type CancelResult struct {
	JobID                string    `json:"jobId"`
	Status               JobStatus `json:"status"`
	ResetPlaylists       int       `json:"resetPlaylists"`
	CancelledGenerations int       `json:"cancelledGenerations"`
}

// JobTarget is one playlist of a job as seen by the status endpoint
type JobTarget struct {
	PlaylistID string            `json:"playlistId"`
	Name       string            `json:"name"`
	Status     PlaylistStatus    `json:"status"`
	Progress   *PipelineProgress `json:"progress,omitempty"`
	Generation *Generation       `json:"generation,omitempty"`
}

// JobStatusResponse is the payload of the job status endpoints
type JobStatusResponse struct {
	Job     *Job        `json:"job"`
	Targets []JobTarget `json:"targets"`
}

// GenerationView is a generation with its cost breakdown decoded. The
// breakdown is null when the stored blob is malformed.
type GenerationView struct {
	*Generation
	CostBreakdown []CostItem `json:"costBreakdown"`
}

// IntegrityResult compares the live platform cover to the last upload
type IntegrityResult struct {
	PlaylistID   string    `json:"playlistId"`
	GenerationID string    `json:"generationId"`
	Match        bool      `json:"match"`
	Distance     int       `json:"distance"`
	Expected     string    `json:"expected"`
	Actual       string    `json:"actual"`
	CheckedAt    time.Time `json:"checkedAt"`
}

// PreviewRequest renders a style against a few sample subjects
type PreviewRequest struct {
	Subjects []string `json:"subjects" validate:"required,min=1,max=4,dive,required,max=80"`
}

// PreviewItem is the outcome for one preview subject
type PreviewItem struct {
	Subject  string `json:"subject"`
	Prompt   string `json:"prompt"`
	ImageURL string `json:"imageUrl,omitempty"`
	Error    string `json:"error,omitempty"`
}

// PreviewResult is the joined outcome of a preview batch
type PreviewResult struct {
	StyleID string        `json:"styleId"`
	Model   string        `json:"model"`
	Items   []PreviewItem `json:"items"`
}

// JobTaskPayload is the task queue payload for running a job
type JobTaskPayload struct {
	JobID string `json:"jobId"`
}

// Progress decodes the playlist's stored progress. Malformed data reads as
// no progress.
func (p *Playlist) Progress() *PipelineProgress {
	if len(p.ProgressData) == 0 || string(p.ProgressData) == "null" {
		return nil
	}
	var progress PipelineProgress
	if err := json.Unmarshal(p.ProgressData, &progress); err != nil {
		return nil
	}
	return &progress
}
