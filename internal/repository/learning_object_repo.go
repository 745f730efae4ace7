package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/astra-go-api/internal/models"
)

// LearningObjectRepository defines data operations for exercises and chapters.
type LearningObjectRepository interface {
	GetByID(ctx context.Context, id uint) (models.LearningObject, error)
	ListByRound(ctx context.Context, roundID uint) ([]models.LearningObject, error)
	ListGraded(ctx context.Context, roundID uint) ([]models.LearningObject, error)
	FindByRemoteKey(ctx context.Context, courseID uint, remoteKey string) (models.LearningObject, error)
	Create(ctx context.Context, object *models.LearningObject) error
	Update(ctx context.Context, object *models.LearningObject) error
	SetParent(ctx context.Context, id uint, parentID *uint) error
	Delete(ctx context.Context, id uint) error
}

type learningObjectRepository struct {
	db *gorm.DB
}

// NewLearningObjectRepository instantiates the repository.
func NewLearningObjectRepository(db *gorm.DB) LearningObjectRepository {
	return &learningObjectRepository{db: db}
}

func (r *learningObjectRepository) GetByID(ctx context.Context, id uint) (models.LearningObject, error) {
	var object models.LearningObject
	if err := r.db.WithContext(ctx).
		Preload("Round").
		Preload("Category").
		First(&object, id).Error; err != nil {
		return models.LearningObject{}, err
	}
	return object, nil
}

func (r *learningObjectRepository) ListByRound(ctx context.Context, roundID uint) ([]models.LearningObject, error) {
	var objects []models.LearningObject
	if err := r.db.WithContext(ctx).
		Preload("Category").
		Where("round_id = ?", roundID).
		Order("ordinal ASC, id ASC").
		Find(&objects).Error; err != nil {
		return nil, err
	}
	return objects, nil
}

// ListGraded returns the exercises of the round that count towards the round total:
// submittable, not hidden, and in a category that is not hidden.
func (r *learningObjectRepository) ListGraded(ctx context.Context, roundID uint) ([]models.LearningObject, error) {
	var objects []models.LearningObject
	if err := r.db.WithContext(ctx).
		Joins("JOIN categories ON categories.id = learning_objects.category_id").
		Where("learning_objects.round_id = ?", roundID).
		Where("learning_objects.kind = ?", models.KindExercise).
		Where("learning_objects.status <> ?", models.StatusHidden).
		Where("categories.status <> ?", models.StatusHidden).
		Order("learning_objects.ordinal ASC, learning_objects.id ASC").
		Find(&objects).Error; err != nil {
		return nil, err
	}
	return objects, nil
}

func (r *learningObjectRepository) FindByRemoteKey(ctx context.Context, courseID uint, remoteKey string) (models.LearningObject, error) {
	var object models.LearningObject
	if err := r.db.WithContext(ctx).
		Joins("JOIN exercise_rounds ON exercise_rounds.id = learning_objects.round_id").
		Where("exercise_rounds.course_id = ? AND learning_objects.remote_key = ?", courseID, remoteKey).
		Order("learning_objects.id ASC").
		First(&object).Error; err != nil {
		return models.LearningObject{}, err
	}
	return object, nil
}

func (r *learningObjectRepository) Create(ctx context.Context, object *models.LearningObject) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(object).Error
}

func (r *learningObjectRepository) Update(ctx context.Context, object *models.LearningObject) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(object).Error
}

func (r *learningObjectRepository) SetParent(ctx context.Context, id uint, parentID *uint) error {
	return r.db.WithContext(ctx).Model(&models.LearningObject{}).
		Where("id = ?", id).
		Update("parent_id", parentID).
		Error
}

// Delete removes the object together with its deviations, submissions and their file records.
// Children of the object lose their parent link.
func (r *learningObjectRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("exercise_id = ?", id).Delete(&models.DeadlineDeviation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("exercise_id = ?", id).Delete(&models.SubmissionLimitDeviation{}).Error; err != nil {
			return err
		}
		submissions := tx.Model(&models.Submission{}).Select("id").Where("exercise_id = ?", id)
		if err := tx.Where("submission_id IN (?)", submissions).Delete(&models.SubmittedFile{}).Error; err != nil {
			return err
		}
		if err := tx.Where("exercise_id = ?", id).Delete(&models.Submission{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.LearningObject{}).Where("parent_id = ?", id).Update("parent_id", nil).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.LearningObject{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
