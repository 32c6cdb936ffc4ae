package model

import "strings"

// Style is a read-only cover style managed by the dashboard.
type Style struct {
	ID             string  `gorm:"primaryKey;size:36" json:"id"`
	Name           string  `gorm:"size:120;not null" json:"name"`
	PromptTemplate string  `gorm:"type:text;not null" json:"promptTemplate"`
	ImageModel     *string `gorm:"size:120" json:"imageModel,omitempty"`
}

func (Style) TableName() string {
	return "styles"
}

// ObjectPlaceholder is replaced with the symbolic object in PromptTemplate.
const ObjectPlaceholder = "{object}"

// Prompt composes the image prompt for object.
func (s *Style) Prompt(object string) string {
	if strings.Contains(s.PromptTemplate, ObjectPlaceholder) {
		return strings.ReplaceAll(s.PromptTemplate, ObjectPlaceholder, object)
	}
	return s.PromptTemplate + ", " + object
}

// Model returns the style's image model or fallback.
func (s *Style) Model(fallback string) string {
	if s.ImageModel != nil && *s.ImageModel != "" {
		return *s.ImageModel
	}
	return fallback
}

// User is the subset of the account row this service reads.
type User struct {
	ID                  string  `gorm:"primaryKey;size:64" json:"id"`
	SpotifyUserID       string  `gorm:"size:64" json:"spotifyUserId"`
	DefaultStyleID      *string `gorm:"size:36" json:"defaultStyleId,omitempty"`
	CronEnabled         bool    `json:"cronEnabled"`
	SpotifyRefreshToken string  `gorm:"type:text" json:"-"`
}

func (User) TableName() string {
	return "users"
}
