package dto

import (
	"encoding/xml"
	"time"
)

// CourseSettingPayload carries the course configuration of a sync snapshot.
type CourseSettingPayload struct {
	APIKey          string `json:"api_key" xml:"api_key"`
	ConfigURL       string `json:"config_url" xml:"config_url"`
	Languages       string `json:"languages" xml:"languages"`
	ModuleNumbering string `json:"module_numbering" xml:"module_numbering" validate:"omitempty,oneof=none arabic roman hidden_arabic"`
}

// CategoryPayload is one category referenced by the round's learning objects.
type CategoryPayload struct {
	Name         string `json:"name" xml:"name" validate:"required,max=255"`
	Status       string `json:"status" xml:"status" validate:"omitempty,oneof=ready hidden"`
	PointsToPass int    `json:"points_to_pass" xml:"points_to_pass" validate:"gte=0"`
}

// RoundPayload is the exercise round of a sync snapshot.
type RoundPayload struct {
	RemoteKey              string    `json:"remote_key" xml:"remote_key" validate:"required,max=255"`
	Name                   string    `json:"name" xml:"name" validate:"required,max=255"`
	Introduction           string    `json:"introduction" xml:"introduction"`
	Status                 string    `json:"status" xml:"status" validate:"omitempty,oneof=ready hidden maintenance unlisted"`
	Ordinal                int       `json:"ordinal" xml:"ordinal" validate:"gte=0"`
	OpeningTime            time.Time `json:"opening_time" xml:"opening_time"`
	ClosingTime            time.Time `json:"closing_time" xml:"closing_time"`
	LateSubmissionAllowed  bool      `json:"late_submission_allowed" xml:"late_submission_allowed"`
	LateSubmissionDeadline time.Time `json:"late_submission_deadline" xml:"late_submission_deadline"`
	LateSubmissionPenalty  float64   `json:"late_submission_penalty" xml:"late_submission_penalty" validate:"gte=0,lte=1"`
	PointsToPass           int       `json:"points_to_pass" xml:"points_to_pass" validate:"gte=0"`
}

// LearningObjectPayload is one exercise or chapter. Parents are referenced by remote key and may
// appear after their children.
type LearningObjectPayload struct {
	RemoteKey             string `json:"remote_key" xml:"remote_key" validate:"required,max=255"`
	ParentRemoteKey       string `json:"parent_remote_key" xml:"parent_remote_key"`
	Kind                  string `json:"kind" xml:"kind" validate:"required,oneof=exercise chapter"`
	Category              string `json:"category" xml:"category" validate:"required"`
	Name                  string `json:"name" xml:"name" validate:"required,max=255"`
	ServiceURL            string `json:"service_url" xml:"service_url" validate:"omitempty,url"`
	Ordinal               int    `json:"ordinal" xml:"ordinal" validate:"gte=0"`
	Status                string `json:"status" xml:"status" validate:"omitempty,oneof=ready hidden maintenance unlisted"`
	MaxPoints             int    `json:"max_points" xml:"max_points" validate:"gte=0"`
	PointsToPass          int    `json:"points_to_pass" xml:"points_to_pass" validate:"gte=0"`
	MaxSubmissions        int    `json:"max_submissions" xml:"max_submissions"`
	MaxSubmissionFileSize int64  `json:"max_submission_file_size" xml:"max_submission_file_size" validate:"gte=0"`
	AllowAssistantViewing bool   `json:"allow_assistant_viewing" xml:"allow_assistant_viewing"`
	AllowAssistantGrading bool   `json:"allow_assistant_grading" xml:"allow_assistant_grading"`
	ContentURL            string `json:"content_url" xml:"content_url"`
	GeneratesTOC          bool   `json:"generates_toc" xml:"generates_toc"`
}

// StructureSyncRequest is one round of the course structure with everything it references.
type StructureSyncRequest struct {
	XMLName         xml.Name                `json:"-" xml:"round_sync"`
	CourseSetting   *CourseSettingPayload   `json:"course_setting" xml:"course_setting" validate:"omitempty"`
	Round           RoundPayload            `json:"round" xml:"round" validate:"required"`
	Categories      []CategoryPayload       `json:"categories" xml:"categories>category" validate:"dive"`
	LearningObjects []LearningObjectPayload `json:"learning_objects" xml:"learning_objects>learning_object" validate:"dive"`
}

// StructureSyncReport summarises what a synchronization changed.
type StructureSyncReport struct {
	RoundID   uint     `json:"round_id"`
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Hidden    int      `json:"hidden"`
	Deleted   int      `json:"deleted"`
	MaxPoints int      `json:"max_points"`
	Errors    []string `json:"errors,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}
