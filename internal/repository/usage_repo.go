package repository

import (
	"context"

	"github.com/coverloop/api/internal/model"
	"gorm.io/gorm"
)

// UsageRepository appends to the usage ledger. Rows are never updated.
type UsageRepository struct {
	db *gorm.DB
}

func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) Create(ctx context.Context, event *model.UsageEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// ListByGeneration returns the generation's events in creation order.
func (r *UsageRepository) ListByGeneration(ctx context.Context, generationID string) ([]*model.UsageEvent, error) {
	var events []*model.UsageEvent
	err := r.db.WithContext(ctx).
		Where("generation_id = ?", generationID).
		Order("created_at ASC, id ASC").
		Find(&events).Error
	return events, err
}
