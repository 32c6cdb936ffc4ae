package repository

import (
	"context"
	"time"

	"github.com/coverloop/api/internal/model"
	"gorm.io/gorm"
)

type GenerationRepository struct {
	db *gorm.DB
}

func NewGenerationRepository(db *gorm.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) Create(ctx context.Context, generation *model.Generation) error {
	return r.db.WithContext(ctx).Create(generation).Error
}

func (r *GenerationRepository) GetByID(ctx context.Context, id string) (*model.Generation, error) {
	var generation model.Generation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&generation).Error; err != nil {
		return nil, notFound(err)
	}
	return &generation, nil
}

// GetForJobTarget returns the generation created for playlistID by jobID.
func (r *GenerationRepository) GetForJobTarget(ctx context.Context, jobID, playlistID string) (*model.Generation, error) {
	var generation model.Generation
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND playlist_id = ?", jobID, playlistID).
		Order("created_at DESC").
		First(&generation).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &generation, nil
}

// ListByJob returns the generations of a job in queue order.
func (r *GenerationRepository) ListByJob(ctx context.Context, jobID string) ([]*model.Generation, error) {
	var generations []*model.Generation
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("job_position ASC").
		Find(&generations).Error
	return generations, err
}

// StartProcessing moves a pending generation to processing. It reports
// false when the generation was no longer pending.
func (r *GenerationRepository) StartProcessing(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Generation{}).
		Where("id = ? AND status = ?", id, model.GenerationStatusPending).
		Update("status", model.GenerationStatusProcessing)
	return res.RowsAffected > 0, res.Error
}

func (r *GenerationRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&model.Generation{}).Where("id = ?", id).Updates(fields).Error
}

// CancelOpen cancels the pending or processing generations of a job for the
// given playlists and returns how many changed.
func (r *GenerationRepository) CancelOpen(ctx context.Context, jobID string, playlistIDs []string, at time.Time) (int64, error) {
	if len(playlistIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&model.Generation{}).
		Where("job_id = ? AND playlist_id IN ? AND status IN ?", jobID, playlistIDs,
			[]model.GenerationStatus{model.GenerationStatusPending, model.GenerationStatusProcessing}).
		Updates(map[string]interface{}{
			"status":        model.GenerationStatusCancelled,
			"error_message": "job cancelled",
			"completed_at":  at,
		})
	return res.RowsAffected, res.Error
}

// ListByPlaylist returns the playlist's generations, newest first.
func (r *GenerationRepository) ListByPlaylist(ctx context.Context, playlistID string, limit int) ([]*model.Generation, error) {
	var generations []*model.Generation
	query := r.db.WithContext(ctx).Where("playlist_id = ?", playlistID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&generations).Error
	return generations, err
}

// ListPriorCovers returns completed generations of the playlist that carry a
// cover hash, excluding excludeID.
func (r *GenerationRepository) ListPriorCovers(ctx context.Context, playlistID, excludeID string) ([]*model.Generation, error) {
	var generations []*model.Generation
	err := r.db.WithContext(ctx).
		Where("playlist_id = ? AND id <> ? AND status = ? AND cover_phash IS NOT NULL",
			playlistID, excludeID, model.GenerationStatusCompleted).
		Order("created_at DESC").
		Find(&generations).Error
	return generations, err
}

// LatestCompleted returns the playlist's most recent completed generation.
func (r *GenerationRepository) LatestCompleted(ctx context.Context, playlistID string) (*model.Generation, error) {
	var generation model.Generation
	err := r.db.WithContext(ctx).
		Where("playlist_id = ? AND status = ?", playlistID, model.GenerationStatusCompleted).
		Order("completed_at DESC").
		First(&generation).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &generation, nil
}
