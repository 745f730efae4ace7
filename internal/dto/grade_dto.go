package dto

// ExerciseGradeResponse is the best grade of a student in one exercise.
type ExerciseGradeResponse struct {
	ExerciseID   uint   `json:"exercise_id"`
	Name         string `json:"name"`
	Grade        int    `json:"grade"`
	MaxPoints    int    `json:"max_points"`
	Submitted    bool   `json:"submitted"`
	SubmissionID uint   `json:"submission_id,omitempty"`
}

// RoundGradeResponse is the round total of a student.
type RoundGradeResponse struct {
	RoundID   uint                    `json:"round_id"`
	UserID    uint                    `json:"user_id"`
	Grade     int                     `json:"grade"`
	MaxPoints int                     `json:"max_points"`
	Passed    bool                    `json:"passed"`
	Exercises []ExerciseGradeResponse `json:"exercises"`
}

// GradeSyncRequest selects the students whose round grades are rewritten.
type GradeSyncRequest struct {
	UserID     uint `json:"user_id"`
	NullIfNone bool `json:"null_if_none"`
}

// GradeSyncResponse reports how many gradebook entries changed.
type GradeSyncResponse struct {
	RoundID   uint `json:"round_id"`
	Pushed    int  `json:"pushed"`
	MaxPoints int  `json:"max_points"`
}
