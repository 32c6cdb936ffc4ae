package model

import (
	"time"

	"gorm.io/datatypes"
)

// Playlist is a generation target. Rows are synced by the dashboard; this
// service only mutates status, job ownership and progress.
type Playlist struct {
	ID               string         `gorm:"primaryKey;size:36" json:"id"`
	UserID           string         `gorm:"size:64;not null;index" json:"userId"`
	SpotifyID        string         `gorm:"size:64;not null" json:"spotifyId"`
	Name             string         `gorm:"size:255" json:"name"`
	Status           PlaylistStatus `gorm:"size:20;not null;default:idle;index" json:"status"`
	JobID            *string        `gorm:"size:36;index" json:"jobId,omitempty"`
	QueuePosition    int            `json:"-"`
	ProgressData     datatypes.JSON `json:"-"`
	IsCollaborative  bool           `json:"isCollaborative"`
	ContributorCount int            `gorm:"not null;default:1" json:"contributorCount"`
	AutoRegenerate   bool           `json:"autoRegenerate"`
	LastGeneratedAt  *time.Time     `json:"lastGeneratedAt,omitempty"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

func (Playlist) TableName() string {
	return "playlists"
}

// Ineligibility reasons returned to the trigger caller
const (
	SkipNotFound      = "not_found"
	SkipNotOwner      = "not_owner"
	SkipCollaborative = "collaborative"
)

// IneligibleReason returns why the playlist cannot be generated for userID,
// or "" when it is eligible. Playlists with more than one contributor are
// never generated.
func (p *Playlist) IneligibleReason(userID string) string {
	if p.UserID != userID {
		return SkipNotOwner
	}
	// ContributorCount is the only policy input; IsCollaborative is the
	// platform flag and a collaborative playlist with a single contributor
	// stays eligible.
	if p.ContributorCount > 1 {
		return SkipCollaborative
	}
	return ""
}
