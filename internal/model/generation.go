package model

import (
	"time"

	"gorm.io/datatypes"
)

// Generation is one attempt at producing a cover for a playlist.
type Generation struct {
	ID             string           `gorm:"primaryKey;size:36" json:"id"`
	PlaylistID     string           `gorm:"size:36;not null;index" json:"playlistId"`
	JobID          *string          `gorm:"size:36;index" json:"jobId,omitempty"`
	JobPosition    int              `gorm:"not null;default:0" json:"jobPosition"`
	StyleID        string           `gorm:"size:36;not null" json:"styleId"`
	SymbolicObject string           `gorm:"size:255" json:"symbolicObject,omitempty"`
	Prompt         string           `gorm:"type:text" json:"prompt,omitempty"`
	Status         GenerationStatus `gorm:"size:20;not null;index" json:"status"`
	ErrorMessage   string           `gorm:"type:text" json:"errorMessage,omitempty"`
	R2Key          *string          `gorm:"size:255" json:"r2Key,omitempty"`
	CoverPHash     *string          `gorm:"column:cover_phash;size:16" json:"coverPhash,omitempty"`
	DurationMs     int64            `json:"durationMs"`
	CostUSD        float64          `gorm:"column:cost_usd" json:"costUsd"`
	CostBreakdown  datatypes.JSON   `json:"-"`
	TriggerType    TriggerType      `gorm:"size:20;not null" json:"triggerType"`
	AnalysisID     *string          `gorm:"size:36" json:"analysisId,omitempty"`
	CreatedAt      time.Time        `gorm:"index" json:"createdAt"`
	CompletedAt    *time.Time       `json:"completedAt,omitempty"`
}

func (Generation) TableName() string {
	return "generations"
}

// CostItem is one entry of Generation.CostBreakdown.
type CostItem struct {
	Step    string  `json:"step"`
	Model   string  `json:"model"`
	Tokens  *int    `json:"tokens,omitempty"`
	CostUSD float64 `json:"cost_usd"`
}
