package models

import "time"

// DeadlineDeviation grants one student extra time for one exercise.
type DeadlineDeviation struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	ExerciseID         uint      `gorm:"not null;uniqueIndex:idx_dl_deviation_pair" json:"exercise_id"`
	UserID             uint      `gorm:"not null;uniqueIndex:idx_dl_deviation_pair" json:"user_id"`
	ExtraMinutes       int       `gorm:"default:0" json:"extra_minutes"`
	WithoutLatePenalty bool      `gorm:"default:false" json:"without_late_penalty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// NewDeadline returns the extended deadline relative to the round closing time.
func (d DeadlineDeviation) NewDeadline(closing time.Time) time.Time {
	return closing.Add(time.Duration(d.ExtraMinutes) * time.Minute)
}

// SubmissionLimitDeviation grants one student extra attempts for one exercise.
type SubmissionLimitDeviation struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	ExerciseID       uint      `gorm:"not null;uniqueIndex:idx_limit_deviation_pair" json:"exercise_id"`
	UserID           uint      `gorm:"not null;uniqueIndex:idx_limit_deviation_pair" json:"user_id"`
	ExtraSubmissions int       `gorm:"default:0" json:"extra_submissions"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
