package model

// Job status
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether the job can no longer change state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled
}

// Playlist status. A finished generation returns the playlist to idle;
// completion is recorded on the Generation row.
type PlaylistStatus string

const (
	PlaylistStatusIdle       PlaylistStatus = "idle"
	PlaylistStatusQueued     PlaylistStatus = "queued"
	PlaylistStatusProcessing PlaylistStatus = "processing"
	PlaylistStatusFailed     PlaylistStatus = "failed"
)

// Generation status
type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusProcessing GenerationStatus = "processing"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
	GenerationStatusCancelled  GenerationStatus = "cancelled"
)

func (s GenerationStatus) IsTerminal() bool {
	switch s {
	case GenerationStatusCompleted, GenerationStatusFailed, GenerationStatusCancelled:
		return true
	}
	return false
}

// Trigger types
type TriggerType string

const (
	TriggerManual TriggerType = "manual"
	TriggerCron   TriggerType = "cron"
	TriggerAuto   TriggerType = "auto"
)

var ValidTriggerTypes = []TriggerType{TriggerManual, TriggerCron, TriggerAuto}

// Tier is the strength of an extracted object mention.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Weight returns the convergence score contribution of the tier.
// Unknown tiers count as low.
func (t Tier) Weight() int {
	switch t {
	case TierHigh:
		return 3
	case TierMedium:
		return 2
	default:
		return 1
	}
}

// Usage action types
const (
	ActionExtractThemes = "extract_themes"
	ActionGenerateImage = "generate_image"
	ActionPreviewImage  = "preview_image"
)

// Usage status
const (
	UsageStatusSuccess = "success"
	UsageStatusFailed  = "failed"
)
