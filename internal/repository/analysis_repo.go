package repository

import (
	"context"

	"github.com/coverloop/api/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AnalysisRepository struct {
	db *gorm.DB
}

func NewAnalysisRepository(db *gorm.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

func (r *AnalysisRepository) Create(ctx context.Context, analysis *model.Analysis) error {
	return r.db.WithContext(ctx).Create(analysis).Error
}

func (r *AnalysisRepository) GetByID(ctx context.Context, id string) (*model.Analysis, error) {
	var analysis model.Analysis
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&analysis).Error; err != nil {
		return nil, notFound(err)
	}
	return &analysis, nil
}

func (r *AnalysisRepository) SaveConvergence(ctx context.Context, id string, data []byte) error {
	return r.db.WithContext(ctx).Model(&model.Analysis{}).Where("id = ?", id).
		Update("convergence", datatypes.JSON(data)).Error
}
