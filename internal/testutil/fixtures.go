package testutil

import (
	"testing"
	"time"

	"github.com/coverloop/api/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TestUser inserts a user with cron enabled.
func TestUser(t *testing.T, db *gorm.DB, id string) *model.User {
	t.Helper()
	user := &model.User{ID: id, SpotifyUserID: "sp-" + id, CronEnabled: true}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

// TestStyle inserts a style using the {object} placeholder.
func TestStyle(t *testing.T, db *gorm.DB) *model.Style {
	t.Helper()
	style := &model.Style{
		ID:             uuid.NewString(),
		Name:           "Linocut",
		PromptTemplate: "linocut print of a {object}",
	}
	if err := db.Create(style).Error; err != nil {
		t.Fatalf("Failed to create test style: %v", err)
	}
	return style
}

// TestPlaylist inserts an idle playlist owned by userID.
func TestPlaylist(t *testing.T, db *gorm.DB, userID string, contributors int) *model.Playlist {
	t.Helper()
	id := uuid.NewString()
	playlist := &model.Playlist{
		ID:               id,
		UserID:           userID,
		SpotifyID:        "sp-" + id[:8],
		Name:             "Playlist " + id[:8],
		Status:           model.PlaylistStatusIdle,
		ContributorCount: contributors,
		IsCollaborative:  contributors > 1,
		AutoRegenerate:   true,
	}
	if err := db.Create(playlist).Error; err != nil {
		t.Fatalf("Failed to create test playlist: %v", err)
	}
	return playlist
}

// TestGeneration inserts a generation for playlistID with the given status.
func TestGeneration(t *testing.T, db *gorm.DB, playlistID string, status model.GenerationStatus, phash *string) *model.Generation {
	t.Helper()
	now := time.Now()
	generation := &model.Generation{
		ID:          uuid.NewString(),
		PlaylistID:  playlistID,
		StyleID:     "style",
		Status:      status,
		CoverPHash:  phash,
		TriggerType: model.TriggerManual,
		CreatedAt:   now,
	}
	if status.IsTerminal() {
		generation.CompletedAt = &now
	}
	if err := db.Create(generation).Error; err != nil {
		t.Fatalf("Failed to create test generation: %v", err)
	}
	return generation
}
