package models

import "time"

// RoundGrade is the last round total pushed to the gradebook for one student.
// A nil RawGrade records an explicit "no grade" push.
type RoundGrade struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CourseID  uint      `gorm:"not null;index" json:"course_id"`
	RoundID   uint      `gorm:"not null;uniqueIndex:idx_round_grade_user" json:"round_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_round_grade_user" json:"user_id"`
	RawGrade  *int      `json:"raw_grade"`
	PushedAt  time.Time `json:"pushed_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GradebookItem mirrors the grade item metadata last pushed for a round.
type GradebookItem struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CourseID     uint      `gorm:"not null;index" json:"course_id"`
	RoundID      uint      `gorm:"not null;uniqueIndex" json:"round_id"`
	Name         string    `gorm:"size:255" json:"name"`
	MaxPoints    int       `json:"max_points"`
	PointsToPass int       `json:"points_to_pass"`
	Hidden       bool      `json:"hidden"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CalendarEvent is the deadline event of an exercise round.
type CalendarEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CourseID  uint      `gorm:"not null;index" json:"course_id"`
	RoundID   uint      `gorm:"not null;uniqueIndex:idx_calendar_round_type" json:"round_id"`
	EventType string    `gorm:"size:32;not null;uniqueIndex:idx_calendar_round_type" json:"event_type"`
	Title     string    `gorm:"size:255" json:"title"`
	Timestamp time.Time `json:"timestamp"`
	Visible   bool      `json:"visible"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
