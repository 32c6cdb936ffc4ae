package model

import (
	"time"

	"gorm.io/datatypes"
)

// Analysis stores the theme extraction and convergence outcome of a run.
type Analysis struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	PlaylistID  string         `gorm:"size:36;not null;index" json:"playlistId"`
	Extractions datatypes.JSON `json:"extractions"`
	Convergence datatypes.JSON `json:"convergence,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

func (Analysis) TableName() string {
	return "analyses"
}

// ObjectMention is one object extracted from one track.
type ObjectMention struct {
	Object    string `json:"object"`
	Tier      Tier   `json:"tier"`
	Reasoning string `json:"reasoning,omitempty"`
}

// TrackExtraction is the extractor output for one track.
type TrackExtraction struct {
	TrackID   string          `json:"trackId"`
	TrackName string          `json:"trackName"`
	Objects   []ObjectMention `json:"objects"`
}

// Candidate is a ranked convergence candidate. Rank starts at 1.
type Candidate struct {
	Rank       int    `json:"rank"`
	Object     string `json:"object"`
	Reasoning  string `json:"reasoning,omitempty"`
	Score      int    `json:"score"`
	TrackCount int    `json:"trackCount"`
}

// ConvergenceResult is the outcome of selecting one object for a playlist.
type ConvergenceResult struct {
	Candidates     []Candidate `json:"candidates"`
	SelectedIndex  int         `json:"selectedIndex"`
	CollisionNotes string      `json:"collisionNotes,omitempty"`
}

// Selected returns the chosen candidate.
func (r *ConvergenceResult) Selected() Candidate {
	return r.Candidates[r.SelectedIndex]
}
