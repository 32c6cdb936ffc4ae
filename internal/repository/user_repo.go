package repository

import (
	"context"

	"github.com/coverloop/api/internal/model"
	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// ListCronEnabled returns users opted into scheduled regeneration.
func (r *UserRepository) ListCronEnabled(ctx context.Context) ([]*model.User, error) {
	var users []*model.User
	err := r.db.WithContext(ctx).Where("cron_enabled = ?", true).Order("id").Find(&users).Error
	return users, err
}

type StyleRepository struct {
	db *gorm.DB
}

func NewStyleRepository(db *gorm.DB) *StyleRepository {
	return &StyleRepository{db: db}
}

func (r *StyleRepository) GetByID(ctx context.Context, id string) (*model.Style, error) {
	var style model.Style
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&style).Error; err != nil {
		return nil, notFound(err)
	}
	return &style, nil
}
