package dto

import (
	"time"

	"github.com/noah-isme/astra-go-api/internal/models"
)

// DeadlineDeviationRequest grants a student extra time.
type DeadlineDeviationRequest struct {
	UserID             uint `json:"user_id" validate:"required,gt=0"`
	ExtraMinutes       int  `json:"extra_minutes" validate:"required,gt=0"`
	WithoutLatePenalty bool `json:"without_late_penalty"`
}

// SubmissionLimitDeviationRequest grants a student extra attempts.
type SubmissionLimitDeviationRequest struct {
	UserID           uint `json:"user_id" validate:"required,gt=0"`
	ExtraSubmissions int  `json:"extra_submissions" validate:"required,gt=0"`
}

// DeviationDeleteRequest identifies the student whose deviation is removed.
type DeviationDeleteRequest struct {
	UserID uint `query:"user_id" validate:"required,gt=0"`
}

// DeadlineDeviationResponse serialises a deadline deviation with its resolved deadline.
type DeadlineDeviationResponse struct {
	ExerciseID         uint      `json:"exercise_id"`
	UserID             uint      `json:"user_id"`
	ExtraMinutes       int       `json:"extra_minutes"`
	WithoutLatePenalty bool      `json:"without_late_penalty"`
	NewDeadline        time.Time `json:"new_deadline"`
}

// SubmissionLimitDeviationResponse serialises a submission limit deviation.
type SubmissionLimitDeviationResponse struct {
	ExerciseID       uint `json:"exercise_id"`
	UserID           uint `json:"user_id"`
	ExtraSubmissions int  `json:"extra_submissions"`
	EffectiveLimit   int  `json:"effective_limit"`
}

// NewDeadlineDeviationResponse converts a deviation using the round closing time.
func NewDeadlineDeviationResponse(model models.DeadlineDeviation, closing time.Time) DeadlineDeviationResponse {
	return DeadlineDeviationResponse{
		ExerciseID:         model.ExerciseID,
		UserID:             model.UserID,
		ExtraMinutes:       model.ExtraMinutes,
		WithoutLatePenalty: model.WithoutLatePenalty,
		NewDeadline:        model.NewDeadline(closing),
	}
}
