package repository

import (
	"context"
	"errors"
	"time"

	"github.com/coverloop/api/internal/model"
	"gorm.io/gorm"
)

type ClaimRepository struct {
	db *gorm.DB
}

func NewClaimRepository(db *gorm.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

// Current returns the playlist's unsuperseded claim, or nil when it has none.
func (r *ClaimRepository) Current(ctx context.Context, playlistID string) (*model.ClaimedObject, error) {
	var claim model.ClaimedObject
	err := r.db.WithContext(ctx).
		Where("playlist_id = ? AND superseded_at IS NULL", playlistID).
		Order("created_at DESC").
		First(&claim).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

func (r *ClaimRepository) Create(ctx context.Context, claim *model.ClaimedObject) error {
	return r.db.WithContext(ctx).Create(claim).Error
}

// SupersedeAll stamps superseded_at on every current claim of the playlist.
func (r *ClaimRepository) SupersedeAll(ctx context.Context, playlistID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.ClaimedObject{}).
		Where("playlist_id = ? AND superseded_at IS NULL", playlistID).
		Update("superseded_at", at).Error
}

// ListByPlaylist returns the claim history, newest first.
func (r *ClaimRepository) ListByPlaylist(ctx context.Context, playlistID string) ([]*model.ClaimedObject, error) {
	var claims []*model.ClaimedObject
	err := r.db.WithContext(ctx).
		Where("playlist_id = ?", playlistID).
		Order("created_at DESC").
		Find(&claims).Error
	return claims, err
}
