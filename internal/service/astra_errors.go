package service

import (
	"errors"
	"fmt"
)

var (
	// ErrExerciseNotFound indicates the learning object does not exist or is not submittable.
	ErrExerciseNotFound = errors.New("exercise not found")
	// ErrRoundNotFound indicates the exercise round does not exist.
	ErrRoundNotFound = errors.New("exercise round not found")
	// ErrDeviationNotFound indicates the deviation to delete does not exist.
	ErrDeviationNotFound = errors.New("deviation not found")
	// ErrInvalidHash indicates an async grading request carried a wrong HMAC.
	ErrInvalidHash = errors.New("invalid async hash")
	// ErrForbidden indicates the actor may not perform the action.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition indicates the submission cannot move to the requested status.
	ErrInvalidTransition = errors.New("invalid submission status transition")
	// ErrLockBusy indicates another request holds the submission lock of the same student and exercise.
	ErrLockBusy = errors.New("submission already in progress")
)

// ValidationError is a submission input problem detected before any remote call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// QuotaError rejects a submission because of the deadline, the attempt limit or round state.
type QuotaError struct {
	Reason string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("submission not allowed: %s", e.Reason)
}

// ConsistencyError reports a structure node that could not be stored during synchronization.
type ConsistencyError struct {
	RemoteKey string
	Message   string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("learning object %s: %s", e.RemoteKey, e.Message)
}
