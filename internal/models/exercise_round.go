package models

import "time"

// ExerciseRound is a time-boxed collection of learning objects with a common deadline.
type ExerciseRound struct {
	ID                     uint      `gorm:"primaryKey" json:"id"`
	CourseID               uint      `gorm:"not null;index:idx_round_course_key" json:"course_id"`
	RemoteKey              string    `gorm:"size:255;not null;index:idx_round_course_key" json:"remote_key"`
	Name                   string    `gorm:"size:255;not null" json:"name"`
	Introduction           string    `gorm:"type:text" json:"introduction"`
	Status                 string    `gorm:"size:16;not null;default:ready" json:"status"`
	Ordinal                int       `gorm:"default:0" json:"ordinal"`
	OpeningTime            time.Time `json:"opening_time"`
	ClosingTime            time.Time `json:"closing_time"`
	LateSubmissionAllowed  bool      `gorm:"default:false" json:"late_submission_allowed"`
	LateSubmissionDeadline time.Time `json:"late_submission_deadline"`
	LateSubmissionPenalty  float64   `gorm:"default:0" json:"late_submission_penalty"`
	PointsToPass           int       `gorm:"default:0" json:"points_to_pass"`
	MaxPoints              int       `gorm:"default:0" json:"max_points"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// IsHidden reports whether the round is hidden from students.
func (r ExerciseRound) IsHidden() bool {
	return r.Status == StatusHidden
}

// IsUnderMaintenance reports whether the round temporarily rejects student work.
func (r ExerciseRound) IsUnderMaintenance() bool {
	return r.Status == StatusMaintenance
}
