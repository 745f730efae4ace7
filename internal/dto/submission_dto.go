package dto

import (
	"time"

	"github.com/noah-isme/astra-go-api/internal/models"
)

// SubmissionCreateRequest carries the non-file options of a new submission. Other form fields are
// forwarded to the exercise service as submission data.
type SubmissionCreateRequest struct {
	Language string `form:"__lang" validate:"omitempty,max=8"`
}

// SubmissionGradeRequest is used by staff to grade or reject a submission manually.
type SubmissionGradeRequest struct {
	Status            *string `json:"status" validate:"omitempty,oneof=ready rejected"`
	Grade             *int    `json:"grade" validate:"omitempty,gte=0"`
	Feedback          *string `json:"feedback"`
	AssistantFeedback *string `json:"assistant_feedback"`
}

// SubmissionFilter describes query string filters for listing submissions of an exercise.
type SubmissionFilter struct {
	UserID *uint   `query:"user_id"`
	Status *string `query:"status" validate:"omitempty,oneof=initialized waiting ready error rejected"`
}

// AsyncGradeRequest is posted by the exercise service when asynchronous grading finishes.
// Points and MaxPoints are required unless Error is set.
type AsyncGradeRequest struct {
	Points         *int                   `json:"points" form:"points" validate:"omitempty,gte=0"`
	MaxPoints      *int                   `json:"max_points" form:"max_points" validate:"omitempty,gte=0"`
	Feedback       string                 `json:"feedback" form:"feedback"`
	GradingPayload map[string]interface{} `json:"grading_payload"`
	SubmissionData map[string]interface{} `json:"submission_data"`
	Error          bool                   `json:"error" form:"error"`
}

// SubmittedFileResponse describes a stored file of a submission.
type SubmittedFileResponse struct {
	ID        uint   `json:"id"`
	FieldName string `json:"field_name"`
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	Size      int64  `json:"size"`
}

// SubmissionResponse is returned to API clients when viewing submissions.
type SubmissionResponse struct {
	ID                 uint                    `json:"id"`
	ExerciseID         uint                    `json:"exercise_id"`
	SubmitterID        uint                    `json:"submitter_id"`
	Ordinal            int                     `json:"ordinal"`
	SubmissionTime     time.Time               `json:"submission_time"`
	Status             string                  `json:"status"`
	Grade              int                     `json:"grade"`
	ServicePoints      int                     `json:"service_points"`
	ServiceMaxPoints   int                     `json:"service_max_points"`
	LatePenaltyApplied bool                    `json:"late_penalty_applied"`
	GraderID           *uint                   `json:"grader_id,omitempty"`
	GradingTime        *time.Time              `json:"grading_time,omitempty"`
	Feedback           string                  `json:"feedback,omitempty"`
	AssistantFeedback  string                  `json:"assistant_feedback,omitempty"`
	Files              []SubmittedFileResponse `json:"files,omitempty"`
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	response := SubmissionResponse{
		ID:                 model.ID,
		ExerciseID:         model.ExerciseID,
		SubmitterID:        model.SubmitterID,
		Ordinal:            model.Ordinal,
		SubmissionTime:     model.SubmissionTime,
		Status:             model.Status,
		Grade:              model.Grade,
		ServicePoints:      model.ServicePoints,
		ServiceMaxPoints:   model.ServiceMaxPoints,
		LatePenaltyApplied: model.LatePenaltyApplied,
		GraderID:           model.GraderID,
		GradingTime:        model.GradingTime,
		Feedback:           model.Feedback,
		AssistantFeedback:  model.AssistantFeedback,
	}

	if len(model.Files) > 0 {
		files := make([]SubmittedFileResponse, 0, len(model.Files))
		for _, file := range model.Files {
			files = append(files, SubmittedFileResponse{
				ID:        file.ID,
				FieldName: file.FieldName,
				FileName:  file.FileName,
				MimeType:  file.MimeType,
				Size:      file.Size,
			})
		}
		response.Files = files
	}

	return response
}

// NewSubmissionResponseSlice converts submission models into DTOs.
func NewSubmissionResponseSlice(models []models.Submission) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(models))
	for _, submission := range models {
		responses = append(responses, NewSubmissionResponse(submission))
	}

	return responses
}
