package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/astra-go-api/internal/models"
)

// RoundRepository defines data operations for exercise rounds.
type RoundRepository interface {
	GetByID(ctx context.Context, id uint) (models.ExerciseRound, error)
	ListByCourse(ctx context.Context, courseID uint) ([]models.ExerciseRound, error)
	ListByRemoteKey(ctx context.Context, courseID uint, remoteKey string) ([]models.ExerciseRound, error)
	Create(ctx context.Context, round *models.ExerciseRound) error
	Update(ctx context.Context, round *models.ExerciseRound) error
	UpdateMaxPoints(ctx context.Context, id uint, maxPoints int) error
}

type roundRepository struct {
	db *gorm.DB
}

// NewRoundRepository instantiates the repository.
func NewRoundRepository(db *gorm.DB) RoundRepository {
	return &roundRepository{db: db}
}

func (r *roundRepository) GetByID(ctx context.Context, id uint) (models.ExerciseRound, error) {
	var round models.ExerciseRound
	if err := r.db.WithContext(ctx).First(&round, id).Error; err != nil {
		return models.ExerciseRound{}, err
	}
	return round, nil
}

func (r *roundRepository) ListByCourse(ctx context.Context, courseID uint) ([]models.ExerciseRound, error) {
	var rounds []models.ExerciseRound
	if err := r.db.WithContext(ctx).
		Where("course_id = ?", courseID).
		Order("ordinal ASC, id ASC").
		Find(&rounds).Error; err != nil {
		return nil, err
	}
	return rounds, nil
}

// ListByRemoteKey returns every round sharing the key, oldest first. More than one row means a duplicate.
func (r *roundRepository) ListByRemoteKey(ctx context.Context, courseID uint, remoteKey string) ([]models.ExerciseRound, error) {
	var rounds []models.ExerciseRound
	if err := r.db.WithContext(ctx).
		Where("course_id = ? AND remote_key = ?", courseID, remoteKey).
		Order("id ASC").
		Find(&rounds).Error; err != nil {
		return nil, err
	}
	return rounds, nil
}

func (r *roundRepository) Create(ctx context.Context, round *models.ExerciseRound) error {
	return r.db.WithContext(ctx).Create(round).Error
}

func (r *roundRepository) Update(ctx context.Context, round *models.ExerciseRound) error {
	return r.db.WithContext(ctx).Save(round).Error
}

func (r *roundRepository) UpdateMaxPoints(ctx context.Context, id uint, maxPoints int) error {
	return r.db.WithContext(ctx).Model(&models.ExerciseRound{}).
		Where("id = ?", id).
		UpdateColumn("max_points", maxPoints).
		Error
}
