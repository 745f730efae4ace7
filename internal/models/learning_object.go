package models

import "time"

// Learning object kinds.
const (
	KindExercise = "exercise"
	KindChapter  = "chapter"
)

// ExerciseSettings holds the payload of a submittable learning object.
type ExerciseSettings struct {
	MaxPoints             int   `gorm:"default:0" json:"max_points"`
	PointsToPass          int   `gorm:"default:0" json:"points_to_pass"`
	MaxSubmissions        int   `gorm:"default:0" json:"max_submissions"`
	MaxSubmissionFileSize int64 `gorm:"default:0" json:"max_submission_file_size"`
	AllowAssistantViewing bool  `gorm:"default:false" json:"allow_assistant_viewing"`
	AllowAssistantGrading bool  `gorm:"default:false" json:"allow_assistant_grading"`
}

// ChapterSettings holds the payload of a static content page.
type ChapterSettings struct {
	ContentURL   string `gorm:"size:1024" json:"content_url"`
	GeneratesTOC bool   `gorm:"default:false" json:"generates_toc"`
}

// LearningObject is the shared record of exercises and chapters. Kind selects which payload is meaningful.
type LearningObject struct {
	ID         uint             `gorm:"primaryKey" json:"id"`
	RoundID    uint             `gorm:"not null;index" json:"round_id"`
	CategoryID uint             `gorm:"not null;index" json:"category_id"`
	ParentID   *uint            `gorm:"index" json:"parent_id"`
	Kind       string           `gorm:"size:16;not null" json:"kind"`
	RemoteKey  string           `gorm:"size:255;not null;index" json:"remote_key"`
	Name       string           `gorm:"size:255;not null" json:"name"`
	ServiceURL string           `gorm:"size:1024" json:"service_url"`
	Ordinal    int              `gorm:"default:0" json:"ordinal"`
	Status     string           `gorm:"size:16;not null;default:ready" json:"status"`
	Exercise   ExerciseSettings `gorm:"embedded;embeddedPrefix:ex_" json:"exercise"`
	Chapter    ChapterSettings  `gorm:"embedded;embeddedPrefix:ch_" json:"chapter"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Round      ExerciseRound    `gorm:"foreignKey:RoundID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Category   Category         `gorm:"foreignKey:CategoryID" json:"-"`
}

// IsSubmittable reports whether students can submit solutions to the object.
func (l LearningObject) IsSubmittable() bool {
	return l.Kind == KindExercise
}

// IsHidden reports whether the object itself is hidden.
func (l LearningObject) IsHidden() bool {
	return l.Status == StatusHidden
}

// SubmissionLimit returns the base attempt limit; zero means unlimited.
func (l LearningObject) SubmissionLimit() int {
	if l.Exercise.MaxSubmissions <= 0 {
		return 0
	}
	return l.Exercise.MaxSubmissions
}

// SubmissionStoreLimit returns how many submissions are retained per student when attempts are unlimited; zero keeps all.
func (l LearningObject) SubmissionStoreLimit() int {
	if l.Exercise.MaxSubmissions < 0 {
		return -l.Exercise.MaxSubmissions
	}
	return 0
}
