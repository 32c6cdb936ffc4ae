package repository

import (
	"context"
	"time"

	"github.com/coverloop/api/internal/model"
	"gorm.io/gorm"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *model.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

// GetActiveByUser returns the user's processing job, or ErrNotFound.
func (r *JobRepository) GetActiveByUser(ctx context.Context, userID string) (*model.Job, error) {
	var job model.Job
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.JobStatusProcessing).
		Order("started_at DESC").
		First(&job).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

// Finish moves a processing job to status and stamps completed_at. It
// reports false when the job was no longer processing.
func (r *JobRepository) Finish(ctx context.Context, id string, status model.JobStatus, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":       status,
			"completed_at": at,
		})
	return res.RowsAffected > 0, res.Error
}
