package model

import "time"

// ClaimedObject records the symbolic object a playlist's cover is built on.
// The current claim is the row with SupersededAt == nil.
type ClaimedObject struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	PlaylistID       string     `gorm:"size:36;not null;index" json:"playlistId"`
	ObjectName       string     `gorm:"size:255;not null" json:"objectName"`
	AestheticContext string     `gorm:"type:text" json:"aestheticContext,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	SupersededAt     *time.Time `gorm:"index" json:"supersededAt,omitempty"`
}

func (ClaimedObject) TableName() string {
	return "claimed_objects"
}
