package service

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/astra-go-api/internal/dto"
	"github.com/noah-isme/astra-go-api/internal/models"
	"github.com/noah-isme/astra-go-api/internal/policy"
	"github.com/noah-isme/astra-go-api/internal/repository"
)

// DeviationService manages per-student deadline and submission limit overrides.
type DeviationService interface {
	ListDeadlines(ctx context.Context, exerciseID uint) ([]dto.DeadlineDeviationResponse, error)
	GrantDeadline(ctx context.Context, exerciseID uint, payload dto.DeadlineDeviationRequest) (dto.DeadlineDeviationResponse, error)
	RevokeDeadline(ctx context.Context, exerciseID, userID uint) error
	ListLimits(ctx context.Context, exerciseID uint) ([]dto.SubmissionLimitDeviationResponse, error)
	GrantLimit(ctx context.Context, exerciseID uint, payload dto.SubmissionLimitDeviationRequest) (dto.SubmissionLimitDeviationResponse, error)
	RevokeLimit(ctx context.Context, exerciseID, userID uint) error
}

type deviationService struct {
	objects    repository.LearningObjectRepository
	deviations repository.DeviationRepository
	validator  *validator.Validate
	logger     zerolog.Logger
}

// NewDeviationService constructs a DeviationService.
func NewDeviationService(objects repository.LearningObjectRepository, deviations repository.DeviationRepository, validate *validator.Validate, logger zerolog.Logger) DeviationService {
	return &deviationService{
		objects:    objects,
		deviations: deviations,
		validator:  validate,
		logger:     logger.With().Str("component", "deviation_service").Logger(),
	}
}

func (s *deviationService) exercise(ctx context.Context, id uint) (models.LearningObject, error) {
	exercise, err := s.objects.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.LearningObject{}, ErrExerciseNotFound
		}
		return models.LearningObject{}, err
	}
	if !exercise.IsSubmittable() {
		return models.LearningObject{}, ErrExerciseNotFound
	}
	return exercise, nil
}

func (s *deviationService) ListDeadlines(ctx context.Context, exerciseID uint) ([]dto.DeadlineDeviationResponse, error) {
	exercise, err := s.exercise(ctx, exerciseID)
	if err != nil {
		return nil, err
	}
	deviations, err := s.deviations.ListDeadlines(ctx, exercise.ID)
	if err != nil {
		return nil, err
	}
	responses := make([]dto.DeadlineDeviationResponse, 0, len(deviations))
	for _, deviation := range deviations {
		responses = append(responses, dto.NewDeadlineDeviationResponse(deviation, exercise.Round.ClosingTime))
	}
	return responses, nil
}

func (s *deviationService) GrantDeadline(ctx context.Context, exerciseID uint, payload dto.DeadlineDeviationRequest) (dto.DeadlineDeviationResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.DeadlineDeviationResponse{}, err
	}
	exercise, err := s.exercise(ctx, exerciseID)
	if err != nil {
		return dto.DeadlineDeviationResponse{}, err
	}

	deviation := models.DeadlineDeviation{
		ExerciseID:         exercise.ID,
		UserID:             payload.UserID,
		ExtraMinutes:       payload.ExtraMinutes,
		WithoutLatePenalty: payload.WithoutLatePenalty,
	}
	if err := s.deviations.UpsertDeadline(ctx, &deviation); err != nil {
		return dto.DeadlineDeviationResponse{}, err
	}

	s.logger.Info().Uint("exercise_id", exercise.ID).Uint("user_id", payload.UserID).Int("extra_minutes", payload.ExtraMinutes).Msg("deadline deviation granted")
	return dto.NewDeadlineDeviationResponse(deviation, exercise.Round.ClosingTime), nil
}

func (s *deviationService) RevokeDeadline(ctx context.Context, exerciseID, userID uint) error {
	if err := s.deviations.DeleteDeadline(ctx, exerciseID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDeviationNotFound
		}
		return err
	}
	s.logger.Info().Uint("exercise_id", exerciseID).Uint("user_id", userID).Msg("deadline deviation revoked")
	return nil
}

func limitResponse(exercise models.LearningObject, deviation models.SubmissionLimitDeviation) dto.SubmissionLimitDeviationResponse {
	return dto.SubmissionLimitDeviationResponse{
		ExerciseID:       deviation.ExerciseID,
		UserID:           deviation.UserID,
		ExtraSubmissions: deviation.ExtraSubmissions,
		EffectiveLimit:   policy.EffectiveSubmissionLimit(exercise, &deviation),
	}
}

func (s *deviationService) ListLimits(ctx context.Context, exerciseID uint) ([]dto.SubmissionLimitDeviationResponse, error) {
	exercise, err := s.exercise(ctx, exerciseID)
	if err != nil {
		return nil, err
	}
	deviations, err := s.deviations.ListLimits(ctx, exercise.ID)
	if err != nil {
		return nil, err
	}
	responses := make([]dto.SubmissionLimitDeviationResponse, 0, len(deviations))
	for _, deviation := range deviations {
		responses = append(responses, limitResponse(exercise, deviation))
	}
	return responses, nil
}

func (s *deviationService) GrantLimit(ctx context.Context, exerciseID uint, payload dto.SubmissionLimitDeviationRequest) (dto.SubmissionLimitDeviationResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionLimitDeviationResponse{}, err
	}
	exercise, err := s.exercise(ctx, exerciseID)
	if err != nil {
		return dto.SubmissionLimitDeviationResponse{}, err
	}
	if exercise.SubmissionLimit() == 0 {
		return dto.SubmissionLimitDeviationResponse{}, &ValidationError{Field: "extra_submissions", Message: "exercise has no submission limit"}
	}

	deviation := models.SubmissionLimitDeviation{
		ExerciseID:       exercise.ID,
		UserID:           payload.UserID,
		ExtraSubmissions: payload.ExtraSubmissions,
	}
	if err := s.deviations.UpsertLimit(ctx, &deviation); err != nil {
		return dto.SubmissionLimitDeviationResponse{}, err
	}

	s.logger.Info().Uint("exercise_id", exercise.ID).Uint("user_id", payload.UserID).Int("extra_submissions", payload.ExtraSubmissions).Msg("submission limit deviation granted")
	return limitResponse(exercise, deviation), nil
}

func (s *deviationService) RevokeLimit(ctx context.Context, exerciseID, userID uint) error {
	if err := s.deviations.DeleteLimit(ctx, exerciseID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDeviationNotFound
		}
		return err
	}
	s.logger.Info().Uint("exercise_id", exerciseID).Uint("user_id", userID).Msg("submission limit deviation revoked")
	return nil
}
