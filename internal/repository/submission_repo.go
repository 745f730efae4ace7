package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/astra-go-api/internal/models"
)

// GradeRow is the best grade of one submitter in one exercise.
type GradeRow struct {
	ExerciseID  uint
	SubmitterID uint
	Grade       int
}

// SubmissionFilter allows narrowing submission listings.
type SubmissionFilter struct {
	ExerciseID  uint
	SubmitterID *uint
	Status      *string
}

// SubmissionRepository defines data operations for submissions and their files.
type SubmissionRepository interface {
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, error)
	ListForPair(ctx context.Context, exerciseID, submitterID uint) ([]models.Submission, error)
	CreateNext(ctx context.Context, submission *models.Submission, check func(counted int) error) error
	Update(ctx context.Context, submission *models.Submission) error
	TransitionStatus(ctx context.Context, id uint, from, to string) (bool, error)
	AddFiles(ctx context.Context, files []models.SubmittedFile) error
	Delete(ctx context.Context, id uint) error
	Best(ctx context.Context, exerciseID, submitterID uint) (models.Submission, error)
	MaxGrades(ctx context.Context, exerciseIDs []uint, submitterID *uint) ([]GradeRow, error)
	CountForExercises(ctx context.Context, exerciseIDs []uint) (int64, error)
	ListSubmitters(ctx context.Context, exerciseIDs []uint) ([]uint, error)
	ListWaitingBefore(ctx context.Context, cutoff time.Time) ([]models.Submission, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).Preload("Files").First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, error) {
	query := r.db.WithContext(ctx).Model(&models.Submission{}).
		Omit("submission_data", "grading_data").
		Where("exercise_id = ?", filter.ExerciseID)

	if filter.SubmitterID != nil {
		query = query.Where("submitter_id = ?", *filter.SubmitterID)
	}

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	var submissions []models.Submission
	if err := query.Order("submission_time DESC, id DESC").Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}

// ListForPair returns the submissions of one student in one exercise, oldest first.
func (r *submissionRepository) ListForPair(ctx context.Context, exerciseID, submitterID uint) ([]models.Submission, error) {
	var submissions []models.Submission
	if err := r.db.WithContext(ctx).
		Preload("Files").
		Where("exercise_id = ? AND submitter_id = ?", exerciseID, submitterID).
		Order("submission_time ASC, id ASC").
		Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}

// CreateNext assigns the next ordinal of the (exercise, submitter) pair and inserts the submission in one
// transaction. check receives the number of submissions that consume quota and may veto the insert.
func (r *submissionRepository) CreateNext(ctx context.Context, submission *models.Submission, check func(counted int) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var total int64
		if err := tx.Model(&models.Submission{}).
			Where("exercise_id = ? AND submitter_id = ?", submission.ExerciseID, submission.SubmitterID).
			Count(&total).Error; err != nil {
			return err
		}

		var counted int64
		if err := tx.Model(&models.Submission{}).
			Where("exercise_id = ? AND submitter_id = ?", submission.ExerciseID, submission.SubmitterID).
			Where("status <> ?", models.SubmissionStatusError).
			Count(&counted).Error; err != nil {
			return err
		}

		if check != nil {
			if err := check(int(counted)); err != nil {
				return err
			}
		}

		submission.Ordinal = int(total) + 1
		return tx.Create(submission).Error
	})
}

func (r *submissionRepository) Update(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Omit("Files").Save(submission).Error
}

// TransitionStatus moves the submission to status to only if it is currently in status from.
func (r *submissionRepository) TransitionStatus(ctx context.Context, id uint, from, to string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *submissionRepository) AddFiles(ctx context.Context, files []models.SubmittedFile) error {
	if len(files) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&files).Error
}

func (r *submissionRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("submission_id = ?", id).Delete(&models.SubmittedFile{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.Submission{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// Best returns the highest graded submission of the pair; ties go to the earliest submission.
func (r *submissionRepository) Best(ctx context.Context, exerciseID, submitterID uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).
		Omit("submission_data", "grading_data", "feedback", "assistant_feedback").
		Where("exercise_id = ? AND submitter_id = ?", exerciseID, submitterID).
		Order("grade DESC, submission_time ASC, id ASC").
		First(&submission).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

// MaxGrades returns the best grade per (exercise, submitter) for the given exercises, optionally for one submitter.
func (r *submissionRepository) MaxGrades(ctx context.Context, exerciseIDs []uint, submitterID *uint) ([]GradeRow, error) {
	if len(exerciseIDs) == 0 {
		return nil, nil
	}

	query := r.db.WithContext(ctx).Model(&models.Submission{}).
		Select("exercise_id, submitter_id, MAX(grade) AS grade").
		Where("exercise_id IN ?", exerciseIDs)
	if submitterID != nil {
		query = query.Where("submitter_id = ?", *submitterID)
	}

	var rows []GradeRow
	if err := query.Group("exercise_id, submitter_id").Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *submissionRepository) CountForExercises(ctx context.Context, exerciseIDs []uint) (int64, error) {
	if len(exerciseIDs) == 0 {
		return 0, nil
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("exercise_id IN ?", exerciseIDs).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *submissionRepository) ListSubmitters(ctx context.Context, exerciseIDs []uint) ([]uint, error) {
	if len(exerciseIDs) == 0 {
		return nil, nil
	}
	var ids []uint
	if err := r.db.WithContext(ctx).Model(&models.Submission{}).
		Distinct("submitter_id").
		Where("exercise_id IN ?", exerciseIDs).
		Order("submitter_id ASC").
		Pluck("submitter_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *submissionRepository) ListWaitingBefore(ctx context.Context, cutoff time.Time) ([]models.Submission, error) {
	var submissions []models.Submission
	if err := r.db.WithContext(ctx).
		Omit("submission_data", "grading_data", "feedback", "assistant_feedback").
		Where("status = ? AND submission_time < ?", models.SubmissionStatusWaiting, cutoff).
		Order("submission_time ASC").
		Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}
