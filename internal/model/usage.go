package model

import "time"

// UsageEvent is an append-only cost ledger row. Rows are never updated.
type UsageEvent struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	UserID        string    `gorm:"size:64;not null;index" json:"userId"`
	GenerationID  *string   `gorm:"size:36;index" json:"generationId,omitempty"`
	ActionType    string    `gorm:"size:40;not null" json:"actionType"`
	Model         string    `gorm:"size:120" json:"model"`
	CostUSD       float64   `gorm:"column:cost_usd" json:"costUsd"`
	TokensIn      int       `json:"tokensIn"`
	TokensOut     int       `json:"tokensOut"`
	DurationMs    int64     `json:"durationMs"`
	TriggerSource string    `gorm:"size:20" json:"triggerSource"`
	Status        string    `gorm:"size:20;not null" json:"status"`
	ErrorMessage  string    `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt     time.Time `gorm:"index" json:"createdAt"`
}

func (UsageEvent) TableName() string {
	return "usage_events"
}
