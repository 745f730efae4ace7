package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/astra-go-api/internal/dto"
	"github.com/noah-isme/astra-go-api/internal/models"
	"github.com/noah-isme/astra-go-api/internal/observability"
	"github.com/noah-isme/astra-go-api/internal/repository"
)

// GradeService aggregates best submissions into exercise and round grades and keeps the gradebook in sync.
type GradeService interface {
	ExerciseGrade(ctx context.Context, exerciseID, userID uint) (dto.ExerciseGradeResponse, error)
	RoundGrade(ctx context.Context, roundID, userID uint) (dto.RoundGradeResponse, error)
	WriteRoundGrades(ctx context.Context, roundID, userID uint, nullIfNone bool) (int, error)
	UpdateRoundMaxPoints(ctx context.Context, roundID uint) (int, error)
}

type gradeService struct {
	rounds      repository.RoundRepository
	objects     repository.LearningObjectRepository
	submissions repository.SubmissionRepository
	gradebook   repository.GradebookRepository
	sink        GradebookSink
	cache       *redis.Client
	cacheTTL    time.Duration
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewGradeService constructs the grade aggregator. cache may be nil.
func NewGradeService(rounds repository.RoundRepository, objects repository.LearningObjectRepository, submissions repository.SubmissionRepository, gradebook repository.GradebookRepository, sink GradebookSink, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) GradeService {
	return &gradeService{
		rounds:      rounds,
		objects:     objects,
		submissions: submissions,
		gradebook:   gradebook,
		sink:        sink,
		cache:       cache,
		cacheTTL:    ttl,
		logger:      logger.With().Str("component", "grade_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/astra-go-api/internal/service/grades"),
		now:         time.Now,
	}
}

func (s *gradeService) ExerciseGrade(ctx context.Context, exerciseID, userID uint) (dto.ExerciseGradeResponse, error) {
	exercise, err := s.objects.GetByID(ctx, exerciseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ExerciseGradeResponse{}, ErrExerciseNotFound
		}
		return dto.ExerciseGradeResponse{}, err
	}
	if !exercise.IsSubmittable() {
		return dto.ExerciseGradeResponse{}, ErrExerciseNotFound
	}
	return s.exerciseGrade(ctx, exercise, userID)
}

func (s *gradeService) exerciseGrade(ctx context.Context, exercise models.LearningObject, userID uint) (dto.ExerciseGradeResponse, error) {
	response := dto.ExerciseGradeResponse{
		ExerciseID: exercise.ID,
		Name:       exercise.Name,
		MaxPoints:  exercise.Exercise.MaxPoints,
	}

	best, err := s.submissions.Best(ctx, exercise.ID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return response, nil
	}
	if err != nil {
		return dto.ExerciseGradeResponse{}, err
	}

	response.Grade = best.Grade
	response.Submitted = true
	response.SubmissionID = best.ID
	return response, nil
}

func roundGradeCacheKey(roundID, userID uint) string {
	return fmt.Sprintf("astra:round_grade:%d:%d", roundID, userID)
}

func (s *gradeService) RoundGrade(ctx context.Context, roundID, userID uint) (dto.RoundGradeResponse, error) {
	cacheKey := roundGradeCacheKey(roundID, userID)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var response dto.RoundGradeResponse
			if unmarshalErr := json.Unmarshal([]byte(cached), &response); unmarshalErr == nil {
				return response, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read round grade cache")
		}
	}

	round, err := s.rounds.GetByID(ctx, roundID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.RoundGradeResponse{}, ErrRoundNotFound
		}
		return dto.RoundGradeResponse{}, err
	}

	exercises, err := s.objects.ListGraded(ctx, roundID)
	if err != nil {
		return dto.RoundGradeResponse{}, err
	}

	response := dto.RoundGradeResponse{
		RoundID:   roundID,
		UserID:    userID,
		Exercises: make([]dto.ExerciseGradeResponse, 0, len(exercises)),
	}
	passed := true
	for _, exercise := range exercises {
		grade, err := s.exerciseGrade(ctx, exercise, userID)
		if err != nil {
			return dto.RoundGradeResponse{}, err
		}
		response.Grade += grade.Grade
		response.MaxPoints += exercise.Exercise.MaxPoints
		if grade.Grade < exercise.Exercise.PointsToPass {
			passed = false
		}
		response.Exercises = append(response.Exercises, grade)
	}
	response.Passed = passed && response.Grade >= round.PointsToPass

	if s.cache != nil {
		if payload, err := json.Marshal(response); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store round grade cache")
			}
		}
	}

	return response, nil
}

// WriteRoundGrades recomputes round totals and pushes only the entries that differ from the last push.
// userID zero selects every student with submissions in the round or a previously pushed grade. A
// single student without counted submissions gets zero, or an explicit empty grade when nullIfNone is set.
func (s *gradeService) WriteRoundGrades(ctx context.Context, roundID, userID uint, nullIfNone bool) (int, error) {
	ctx, span := s.tracer.Start(ctx, "gradebook.write_round_grades", trace.WithAttributes(
		attribute.Int64("gradebook.round_id", int64(roundID)),
		attribute.Int64("gradebook.user_id", int64(userID)),
	))
	defer span.End()

	round, err := s.rounds.GetByID(ctx, roundID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrRoundNotFound
		}
		return 0, err
	}

	exercises, err := s.objects.ListGraded(ctx, roundID)
	if err != nil {
		return 0, err
	}
	ids := make([]uint, 0, len(exercises))
	for _, exercise := range exercises {
		ids = append(ids, exercise.ID)
	}

	var filter *uint
	if userID != 0 {
		filter = &userID
	}
	rows, err := s.submissions.MaxGrades(ctx, ids, filter)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	desired := make(map[uint]*int)
	for _, row := range rows {
		total, ok := desired[row.SubmitterID]
		if !ok {
			total = new(int)
			desired[row.SubmitterID] = total
		}
		*total += row.Grade
	}
	if userID != 0 && len(desired) == 0 {
		if nullIfNone {
			desired[userID] = nil
		} else {
			desired[userID] = new(int)
		}
	}

	var userIDs []uint
	if userID != 0 {
		userIDs = []uint{userID}
	}
	stored, err := s.gradebook.ListRoundGrades(ctx, roundID, userIDs)
	if err != nil {
		return 0, err
	}
	previous := make(map[uint]*int, len(stored))
	for _, grade := range stored {
		previous[grade.UserID] = grade.RawGrade
	}

	// Students whose counted submissions disappeared, for example because an exercise was hidden,
	// drop to zero. An explicit empty grade stays empty.
	for user, last := range previous {
		if _, ok := desired[user]; !ok && last != nil {
			desired[user] = new(int)
		}
	}

	changed := make(map[uint]*int)
	for user, grade := range desired {
		last, seen := previous[user]
		if seen && sameGrade(last, grade) {
			continue
		}
		changed[user] = grade
	}

	s.invalidateRoundCache(ctx, roundID, userID)

	if len(changed) == 0 {
		span.SetAttributes(attribute.Bool("gradebook.unchanged", true))
		return 0, nil
	}

	if err := s.sink.PushGrades(ctx, round.CourseID, roundID, changed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gradebook_push_failed")
		s.logger.Error().Err(err).Uint("round_id", roundID).Msg("failed to push round grades")
		return 0, err
	}
	observability.GradebookPushes().WithLabelValues("grades").Inc()

	pushedAt := s.now()
	snapshot := make([]models.RoundGrade, 0, len(changed))
	for user, grade := range changed {
		snapshot = append(snapshot, models.RoundGrade{
			CourseID: round.CourseID,
			RoundID:  roundID,
			UserID:   user,
			RawGrade: grade,
			PushedAt: pushedAt,
		})
	}
	if err := s.gradebook.SaveRoundGrades(ctx, snapshot); err != nil {
		return 0, err
	}

	span.SetAttributes(attribute.Int("gradebook.pushed", len(changed)))
	return len(changed), nil
}

func sameGrade(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *gradeService) invalidateRoundCache(ctx context.Context, roundID, userID uint) {
	if s.cache == nil {
		return
	}
	if userID != 0 {
		if err := s.cache.Del(ctx, roundGradeCacheKey(roundID, userID)).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to invalidate round grade cache")
		}
		return
	}
	iter := s.cache.Scan(ctx, 0, fmt.Sprintf("astra:round_grade:%d:*", roundID), 100).Iterator()
	for iter.Next(ctx) {
		if err := s.cache.Del(ctx, iter.Val()).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to invalidate round grade cache")
		}
	}
	if err := iter.Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to scan round grade cache")
	}
}

// UpdateRoundMaxPoints recomputes the round's aggregate max points from its visible exercises and
// pushes the grade item when its metadata changed.
func (s *gradeService) UpdateRoundMaxPoints(ctx context.Context, roundID uint) (int, error) {
	round, err := s.rounds.GetByID(ctx, roundID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrRoundNotFound
		}
		return 0, err
	}

	exercises, err := s.objects.ListGraded(ctx, roundID)
	if err != nil {
		return 0, err
	}
	maxPoints := 0
	for _, exercise := range exercises {
		maxPoints += exercise.Exercise.MaxPoints
	}

	if maxPoints != round.MaxPoints {
		if err := s.rounds.UpdateMaxPoints(ctx, roundID, maxPoints); err != nil {
			return 0, err
		}
		round.MaxPoints = maxPoints
	}

	item := models.GradebookItem{
		CourseID:     round.CourseID,
		RoundID:      round.ID,
		Name:         round.Name,
		MaxPoints:    maxPoints,
		PointsToPass: round.PointsToPass,
		Hidden:       round.IsHidden(),
	}
	current, err := s.gradebook.GetItem(ctx, roundID)
	if err != nil {
		return 0, err
	}
	if current != nil && current.Name == item.Name && current.MaxPoints == item.MaxPoints &&
		current.PointsToPass == item.PointsToPass && current.Hidden == item.Hidden {
		return maxPoints, nil
	}

	if err := s.sink.PushItem(ctx, item); err != nil {
		s.logger.Error().Err(err).Uint("round_id", roundID).Msg("failed to push grade item")
		return 0, err
	}
	observability.GradebookPushes().WithLabelValues("item").Inc()

	if err := s.gradebook.SaveItem(ctx, &item); err != nil {
		return 0, err
	}
	return maxPoints, nil
}
