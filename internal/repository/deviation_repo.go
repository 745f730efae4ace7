package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/astra-go-api/internal/models"
)

// DeviationRepository stores per-student deadline and submission limit overrides.
type DeviationRepository interface {
	FindDeadline(ctx context.Context, exerciseID, userID uint) (*models.DeadlineDeviation, error)
	FindLimit(ctx context.Context, exerciseID, userID uint) (*models.SubmissionLimitDeviation, error)
	ListDeadlines(ctx context.Context, exerciseID uint) ([]models.DeadlineDeviation, error)
	ListLimits(ctx context.Context, exerciseID uint) ([]models.SubmissionLimitDeviation, error)
	UpsertDeadline(ctx context.Context, deviation *models.DeadlineDeviation) error
	UpsertLimit(ctx context.Context, deviation *models.SubmissionLimitDeviation) error
	DeleteDeadline(ctx context.Context, exerciseID, userID uint) error
	DeleteLimit(ctx context.Context, exerciseID, userID uint) error
}

type deviationRepository struct {
	db *gorm.DB
}

// NewDeviationRepository instantiates the repository.
func NewDeviationRepository(db *gorm.DB) DeviationRepository {
	return &deviationRepository{db: db}
}

// FindDeadline returns nil without error when the student has no deviation.
func (r *deviationRepository) FindDeadline(ctx context.Context, exerciseID, userID uint) (*models.DeadlineDeviation, error) {
	var deviation models.DeadlineDeviation
	result := r.db.WithContext(ctx).
		Where("exercise_id = ? AND user_id = ?", exerciseID, userID).
		Limit(1).Find(&deviation)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &deviation, nil
}

// FindLimit returns nil without error when the student has no deviation.
func (r *deviationRepository) FindLimit(ctx context.Context, exerciseID, userID uint) (*models.SubmissionLimitDeviation, error) {
	var deviation models.SubmissionLimitDeviation
	result := r.db.WithContext(ctx).
		Where("exercise_id = ? AND user_id = ?", exerciseID, userID).
		Limit(1).Find(&deviation)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &deviation, nil
}

func (r *deviationRepository) ListDeadlines(ctx context.Context, exerciseID uint) ([]models.DeadlineDeviation, error) {
	var deviations []models.DeadlineDeviation
	if err := r.db.WithContext(ctx).Where("exercise_id = ?", exerciseID).Order("user_id ASC").Find(&deviations).Error; err != nil {
		return nil, err
	}
	return deviations, nil
}

func (r *deviationRepository) ListLimits(ctx context.Context, exerciseID uint) ([]models.SubmissionLimitDeviation, error) {
	var deviations []models.SubmissionLimitDeviation
	if err := r.db.WithContext(ctx).Where("exercise_id = ?", exerciseID).Order("user_id ASC").Find(&deviations).Error; err != nil {
		return nil, err
	}
	return deviations, nil
}

func (r *deviationRepository) UpsertDeadline(ctx context.Context, deviation *models.DeadlineDeviation) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "exercise_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"extra_minutes", "without_late_penalty", "updated_at"}),
	}).Create(deviation).Error
}

func (r *deviationRepository) UpsertLimit(ctx context.Context, deviation *models.SubmissionLimitDeviation) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "exercise_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"extra_submissions", "updated_at"}),
	}).Create(deviation).Error
}

func (r *deviationRepository) DeleteDeadline(ctx context.Context, exerciseID, userID uint) error {
	result := r.db.WithContext(ctx).
		Where("exercise_id = ? AND user_id = ?", exerciseID, userID).
		Delete(&models.DeadlineDeviation{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *deviationRepository) DeleteLimit(ctx context.Context, exerciseID, userID uint) error {
	result := r.db.WithContext(ctx).
		Where("exercise_id = ? AND user_id = ?", exerciseID, userID).
		Delete(&models.SubmissionLimitDeviation{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
