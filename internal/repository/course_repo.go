package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/astra-go-api/internal/models"
)

// CourseRepository manages per-course singletons: categories and the course configuration.
type CourseRepository interface {
	FindCategory(ctx context.Context, courseID uint, name string) (models.Category, error)
	GetCategory(ctx context.Context, id uint) (models.Category, error)
	CreateCategory(ctx context.Context, category *models.Category) error
	GetConfig(ctx context.Context, courseID uint) (models.CourseConfig, error)
	CreateConfig(ctx context.Context, cfg *models.CourseConfig) error
}

type courseRepository struct {
	db *gorm.DB
}

// NewCourseRepository instantiates the repository.
func NewCourseRepository(db *gorm.DB) CourseRepository {
	return &courseRepository{db: db}
}

func (r *courseRepository) FindCategory(ctx context.Context, courseID uint, name string) (models.Category, error) {
	var category models.Category
	if err := r.db.WithContext(ctx).
		Where("course_id = ? AND name = ?", courseID, name).
		First(&category).Error; err != nil {
		return models.Category{}, err
	}
	return category, nil
}

func (r *courseRepository) GetCategory(ctx context.Context, id uint) (models.Category, error) {
	var category models.Category
	if err := r.db.WithContext(ctx).First(&category, id).Error; err != nil {
		return models.Category{}, err
	}
	return category, nil
}

func (r *courseRepository) CreateCategory(ctx context.Context, category *models.Category) error {
	return r.db.WithContext(ctx).Create(category).Error
}

func (r *courseRepository) GetConfig(ctx context.Context, courseID uint) (models.CourseConfig, error) {
	var cfg models.CourseConfig
	if err := r.db.WithContext(ctx).Where("course_id = ?", courseID).First(&cfg).Error; err != nil {
		return models.CourseConfig{}, err
	}
	return cfg, nil
}

func (r *courseRepository) CreateConfig(ctx context.Context, cfg *models.CourseConfig) error {
	return r.db.WithContext(ctx).Create(cfg).Error
}
