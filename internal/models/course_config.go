package models

import (
	"strings"
	"time"
)

// Module numbering styles used when naming exercise rounds.
const (
	NumberingNone         = "none"
	NumberingArabic       = "arabic"
	NumberingRoman        = "roman"
	NumberingHiddenArabic = "hidden_arabic"
)

// CourseConfig stores per-course settings for talking to the exercise service.
type CourseConfig struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	CourseID        uint      `gorm:"not null;uniqueIndex" json:"course_id"`
	APIKey          string    `gorm:"size:255" json:"-"`
	ConfigURL       string    `gorm:"size:1024" json:"config_url"`
	Languages       string    `gorm:"size:255" json:"languages"`
	ModuleNumbering string    `gorm:"size:16;default:arabic" json:"module_numbering"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// LanguageList splits the configured languages, e.g. "en|fi" or "en,fi".
func (c CourseConfig) LanguageList() []string {
	fields := strings.FieldsFunc(c.Languages, func(r rune) bool {
		return r == '|' || r == ',' || r == ' '
	})
	result := make([]string, 0, len(fields))
	for _, field := range fields {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
