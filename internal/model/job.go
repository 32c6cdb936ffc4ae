package model

import "time"

// Job groups the playlists processed by one trigger. At most one
// non-terminal Job exists per user.
type Job struct {
	ID          string      `gorm:"primaryKey;size:36" json:"id"`
	UserID      string      `gorm:"size:64;not null;index" json:"userId"`
	Status      JobStatus   `gorm:"size:20;not null;index" json:"status"`
	TriggerType TriggerType `gorm:"size:20;not null" json:"triggerType"`
	StyleID     string      `gorm:"size:36;not null" json:"styleId"`
	StartedAt   time.Time   `json:"startedAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

func (Job) TableName() string {
	return "jobs"
}
