package repository

import (
	"context"
	"time"

	"github.com/coverloop/api/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PlaylistRepository struct {
	db *gorm.DB
}

func NewPlaylistRepository(db *gorm.DB) *PlaylistRepository {
	return &PlaylistRepository{db: db}
}

func (r *PlaylistRepository) Create(ctx context.Context, playlist *model.Playlist) error {
	return r.db.WithContext(ctx).Create(playlist).Error
}

func (r *PlaylistRepository) GetByID(ctx context.Context, id string) (*model.Playlist, error) {
	var playlist model.Playlist
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&playlist).Error; err != nil {
		return nil, notFound(err)
	}
	return &playlist, nil
}

// GetByIDs returns the playlists found among ids, keyed by id.
func (r *PlaylistRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*model.Playlist, error) {
	var playlists []*model.Playlist
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&playlists).Error; err != nil {
		return nil, err
	}
	out := make(map[string]*model.Playlist, len(playlists))
	for _, p := range playlists {
		out[p.ID] = p
	}
	return out, nil
}

// ListAutoRegenerate returns the user's playlists opted into cron runs.
func (r *PlaylistRepository) ListAutoRegenerate(ctx context.Context, userID string) ([]*model.Playlist, error) {
	var playlists []*model.Playlist
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND auto_regenerate = ?", userID, true).
		Order("id").
		Find(&playlists).Error
	return playlists, err
}

// MarkQueued attaches the playlist to a job at the given queue position.
func (r *PlaylistRepository) MarkQueued(ctx context.Context, id, jobID string, position int) error {
	return r.db.WithContext(ctx).Model(&model.Playlist{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         model.PlaylistStatusQueued,
			"job_id":         jobID,
			"queue_position": position,
			"progress_data":  nil,
		}).Error
}

// StartProcessing moves a queued playlist of jobID to processing. It
// reports false when the playlist was released in the meantime.
func (r *PlaylistRepository) StartProcessing(ctx context.Context, id, jobID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Playlist{}).
		Where("id = ? AND job_id = ? AND status = ?", id, jobID, model.PlaylistStatusQueued).
		Update("status", model.PlaylistStatusProcessing)
	return res.RowsAffected > 0, res.Error
}

func (r *PlaylistRepository) UpdateStatus(ctx context.Context, id string, status model.PlaylistStatus) error {
	return r.db.WithContext(ctx).Model(&model.Playlist{}).Where("id = ?", id).
		Update("status", status).Error
}

func (r *PlaylistRepository) SaveProgress(ctx context.Context, id string, data []byte) error {
	return r.db.WithContext(ctx).Model(&model.Playlist{}).Where("id = ?", id).
		Update("progress_data", datatypes.JSON(data)).Error
}

// Release returns the playlist to idle, detached from its job with progress
// cleared. generatedAt is stamped when non-nil.
func (r *PlaylistRepository) Release(ctx context.Context, id string, generatedAt *time.Time) error {
	fields := map[string]interface{}{
		"status":        model.PlaylistStatusIdle,
		"job_id":        nil,
		"progress_data": nil,
	}
	if generatedAt != nil {
		fields["last_generated_at"] = *generatedAt
	}
	return r.db.WithContext(ctx).Model(&model.Playlist{}).Where("id = ?", id).Updates(fields).Error
}

// ResetQueued releases every still-queued playlist of a job and returns the
// ids it touched.
func (r *PlaylistRepository) ResetQueued(ctx context.Context, jobID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Playlist{}).
		Where("job_id = ? AND status = ?", jobID, model.PlaylistStatusQueued).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	err = r.db.WithContext(ctx).Model(&model.Playlist{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"status":        model.PlaylistStatusIdle,
			"job_id":        nil,
			"progress_data": nil,
		}).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
