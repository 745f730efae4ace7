// Package policy decides deadlines, late penalties, submission quotas and access for exercise attempts.
// Every function is pure: callers pass the round, exercise, deviations and the reference time explicitly.
package policy

import (
	"math"
	"time"

	"github.com/noah-isme/astra-go-api/internal/models"
)

// Reasons reported when a submission attempt is refused.
const (
	ReasonNotOpen     = "not_open"
	ReasonDeadline    = "deadline"
	ReasonLimit       = "limit"
	ReasonMaintenance = "maintenance"
)

// Deviations carries the per-student overrides of one (exercise, user) pair. Both fields are optional.
type Deviations struct {
	Deadline *models.DeadlineDeviation
	Limit    *models.SubmissionLimitDeviation
}

// Decision is the outcome of an access check.
type Decision struct {
	Allowed bool
	Reason  string
}

// IsRoundOpen reports openingTime <= t <= closingTime.
func IsRoundOpen(round models.ExerciseRound, t time.Time) bool {
	return !t.Before(round.OpeningTime) && !t.After(round.ClosingTime)
}

// IsLateWindowOpen reports whether t falls inside the late submission window of the round.
func IsLateWindowOpen(round models.ExerciseRound, t time.Time) bool {
	return round.LateSubmissionAllowed &&
		!t.Before(round.ClosingTime) && !t.After(round.LateSubmissionDeadline)
}

// HasStarted reports whether the round opened at or before t.
func HasStarted(round models.ExerciseRound, t time.Time) bool {
	return !t.Before(round.OpeningTime)
}

// HasExpired reports whether the closing time (or the late deadline when checkLate is set and late
// submissions are allowed) has passed at t.
func HasExpired(round models.ExerciseRound, t time.Time, checkLate bool) bool {
	if checkLate && round.LateSubmissionAllowed {
		return t.After(round.LateSubmissionDeadline)
	}
	return t.After(round.ClosingTime)
}

// StudentHasAccess reports whether a student may submit at t, honouring a deadline deviation.
func StudentHasAccess(round models.ExerciseRound, deviation *models.DeadlineDeviation, t time.Time) bool {
	if IsRoundOpen(round, t) || IsLateWindowOpen(round, t) {
		return true
	}
	if HasStarted(round, t) && deviation != nil {
		return !t.After(deviation.NewDeadline(round.ClosingTime))
	}
	return false
}

// EffectiveSubmissionLimit returns the attempt limit of the exercise for one student; zero means unlimited.
// A limit deviation only extends a bounded exercise.
func EffectiveSubmissionLimit(exercise models.LearningObject, deviation *models.SubmissionLimitDeviation) int {
	limit := exercise.SubmissionLimit()
	if limit != 0 && deviation != nil {
		return limit + deviation.ExtraSubmissions
	}
	return limit
}

// StudentHasSubmissionsLeft reports whether counted attempts stay below the effective limit.
// counted must exclude submissions that failed with status error.
func StudentHasSubmissionsLeft(exercise models.LearningObject, deviation *models.SubmissionLimitDeviation, counted int) bool {
	if exercise.SubmissionLimit() == 0 {
		return true
	}
	return counted < EffectiveSubmissionLimit(exercise, deviation)
}

// IsSubmissionAllowed combines the access and quota checks. Staff always pass.
func IsSubmissionAllowed(exercise models.LearningObject, round models.ExerciseRound, deviations Deviations, counted int, isStaff bool, t time.Time) Decision {
	if isStaff {
		return Decision{Allowed: true}
	}
	if round.IsUnderMaintenance() || exercise.Status == models.StatusMaintenance {
		return Decision{Reason: ReasonMaintenance}
	}
	if !StudentHasAccess(round, deviations.Deadline, t) {
		if !HasStarted(round, t) {
			return Decision{Reason: ReasonNotOpen}
		}
		return Decision{Reason: ReasonDeadline}
	}
	if !StudentHasSubmissionsLeft(exercise, deviations.Limit, counted) {
		return Decision{Reason: ReasonLimit}
	}
	return Decision{Allowed: true}
}

// LateSubmissionPointWorth returns the percentage (0-100) late submissions are worth.
func LateSubmissionPointWorth(round models.ExerciseRound) int {
	if !round.LateSubmissionAllowed {
		return 0
	}
	return int(math.Round((1.0 - round.LateSubmissionPenalty) * 100.0))
}

// IsPenalizedLate reports whether a submission made at t receives the late penalty.
// Only rounds that allow late submissions penalize, and a deviation may waive the penalty.
func IsPenalizedLate(round models.ExerciseRound, deviation *models.DeadlineDeviation, t time.Time) bool {
	if !round.LateSubmissionAllowed || !t.After(round.ClosingTime) {
		return false
	}
	if deviation != nil && deviation.WithoutLatePenalty && !t.After(deviation.NewDeadline(round.ClosingTime)) {
		return false
	}
	return true
}

// ApplyLatePenalty scales grade by the point worth percentage using integer truncation.
func ApplyLatePenalty(grade, pointWorth int) int {
	return grade * pointWorth / 100
}

// ScaleGrade converts service points into exercise points, rounded and clamped to [0, exerciseMax].
func ScaleGrade(points, serviceMax, exerciseMax int) int {
	if serviceMax <= 0 {
		return 0
	}
	scaled := int(math.Round(float64(points) / float64(serviceMax) * float64(exerciseMax)))
	if scaled < 0 {
		return 0
	}
	if scaled > exerciseMax {
		return exerciseMax
	}
	return scaled
}

// CheckFileSizes returns the name of the first file larger than the exercise allows, or "" if all fit.
func CheckFileSizes(exercise models.LearningObject, sizes map[string]int64) string {
	limit := exercise.Exercise.MaxSubmissionFileSize
	if limit <= 0 {
		return ""
	}
	for name, size := range sizes {
		if size > limit {
			return name
		}
	}
	return ""
}
