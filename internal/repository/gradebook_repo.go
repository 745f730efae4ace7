package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/astra-go-api/internal/models"
)

// GradebookRepository keeps the local mirror of what was last pushed to the gradebook and calendar.
type GradebookRepository interface {
	ListRoundGrades(ctx context.Context, roundID uint, userIDs []uint) ([]models.RoundGrade, error)
	SaveRoundGrades(ctx context.Context, grades []models.RoundGrade) error
	GetItem(ctx context.Context, roundID uint) (*models.GradebookItem, error)
	SaveItem(ctx context.Context, item *models.GradebookItem) error
	GetEvent(ctx context.Context, roundID uint, eventType string) (*models.CalendarEvent, error)
	SaveEvent(ctx context.Context, event *models.CalendarEvent) error
	DeleteEvent(ctx context.Context, roundID uint, eventType string) error
}

type gradebookRepository struct {
	db *gorm.DB
}

// NewGradebookRepository instantiates the repository.
func NewGradebookRepository(db *gorm.DB) GradebookRepository {
	return &gradebookRepository{db: db}
}

// ListRoundGrades returns stored round grades; an empty userIDs selects every student of the round.
func (r *gradebookRepository) ListRoundGrades(ctx context.Context, roundID uint, userIDs []uint) ([]models.RoundGrade, error) {
	query := r.db.WithContext(ctx).Where("round_id = ?", roundID)
	if len(userIDs) > 0 {
		query = query.Where("user_id IN ?", userIDs)
	}
	var grades []models.RoundGrade
	if err := query.Order("user_id ASC").Find(&grades).Error; err != nil {
		return nil, err
	}
	return grades, nil
}

func (r *gradebookRepository) SaveRoundGrades(ctx context.Context, grades []models.RoundGrade) error {
	if len(grades) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "round_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"raw_grade", "pushed_at", "updated_at"}),
	}).Create(&grades).Error
}

func (r *gradebookRepository) GetItem(ctx context.Context, roundID uint) (*models.GradebookItem, error) {
	var item models.GradebookItem
	err := r.db.WithContext(ctx).Where("round_id = ?", roundID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *gradebookRepository) SaveItem(ctx context.Context, item *models.GradebookItem) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "round_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "max_points", "points_to_pass", "hidden", "updated_at"}),
	}).Create(item).Error
}

func (r *gradebookRepository) GetEvent(ctx context.Context, roundID uint, eventType string) (*models.CalendarEvent, error) {
	var event models.CalendarEvent
	err := r.db.WithContext(ctx).Where("round_id = ? AND event_type = ?", roundID, eventType).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gradebookRepository) SaveEvent(ctx context.Context, event *models.CalendarEvent) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "round_id"}, {Name: "event_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "timestamp", "visible", "updated_at"}),
	}).Create(event).Error
}

func (r *gradebookRepository) DeleteEvent(ctx context.Context, roundID uint, eventType string) error {
	return r.db.WithContext(ctx).
		Where("round_id = ? AND event_type = ?", roundID, eventType).
		Delete(&models.CalendarEvent{}).Error
}
