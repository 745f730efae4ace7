package models

import (
	"time"

	"gorm.io/datatypes"
)

// Submission status values.
const (
	SubmissionStatusInitialized = "initialized"
	SubmissionStatusWaiting     = "waiting"
	SubmissionStatusReady       = "ready"
	SubmissionStatusError       = "error"
	SubmissionStatusRejected    = "rejected"
)

// Submission is one attempt of a student at an exercise.
type Submission struct {
	ID                 uint              `gorm:"primaryKey" json:"id"`
	ExerciseID         uint              `gorm:"not null;index:idx_submission_pair" json:"exercise_id"`
	SubmitterID        uint              `gorm:"not null;index:idx_submission_pair" json:"submitter_id"`
	Ordinal            int               `gorm:"not null" json:"ordinal"`
	SubmissionTime     time.Time         `gorm:"not null;index" json:"submission_time"`
	Status             string            `gorm:"size:16;not null" json:"status"`
	Grade              int               `gorm:"default:0" json:"grade"`
	ServicePoints      int               `gorm:"default:0" json:"service_points"`
	ServiceMaxPoints   int               `gorm:"default:0" json:"service_max_points"`
	LatePenaltyApplied bool              `gorm:"default:false" json:"late_penalty_applied"`
	GraderID           *uint             `json:"grader_id"`
	GradingTime        *time.Time        `json:"grading_time"`
	Feedback           string            `gorm:"type:text" json:"feedback,omitempty"`
	AssistantFeedback  string            `gorm:"type:text" json:"assistant_feedback,omitempty"`
	SubmissionData     datatypes.JSONMap `json:"submission_data,omitempty"`
	GradingData        datatypes.JSONMap `json:"grading_data,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	Files              []SubmittedFile   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"files,omitempty"`
}

// IsGraded reports whether the submission carries a final grade.
func (s Submission) IsGraded() bool {
	return s.Status == SubmissionStatusReady
}

// SubmittedFile is a file attached to a submission and kept in the file storage collaborator.
type SubmittedFile struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SubmissionID uint      `gorm:"not null;index" json:"submission_id"`
	FieldName    string    `gorm:"size:255;not null" json:"field_name"`
	FileName     string    `gorm:"size:255;not null" json:"file_name"`
	StorageKey   string    `gorm:"size:1024;not null" json:"storage_key"`
	MimeType     string    `gorm:"size:255" json:"mime_type"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
}
