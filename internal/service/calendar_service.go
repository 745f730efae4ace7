package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/astra-go-api/internal/models"
	"github.com/noah-isme/astra-go-api/internal/repository"
)

// EventTypeDeadline is the calendar event type of a round's closing time.
const EventTypeDeadline = "deadline"

// CalendarService keeps the deadline event of each round in the calendar sink.
type CalendarService interface {
	UpdateRoundDeadline(ctx context.Context, round models.ExerciseRound) error
}

type calendarService struct {
	repo   repository.GradebookRepository
	sink   CalendarSink
	logger zerolog.Logger
}

// NewCalendarService constructs the calendar synchronizer.
func NewCalendarService(repo repository.GradebookRepository, sink CalendarSink, logger zerolog.Logger) CalendarService {
	return &calendarService{
		repo:   repo,
		sink:   sink,
		logger: logger.With().Str("component", "calendar_service").Logger(),
	}
}

// UpdateRoundDeadline upserts the deadline event. A round without a closing time loses its event.
func (s *calendarService) UpdateRoundDeadline(ctx context.Context, round models.ExerciseRound) error {
	existing, err := s.repo.GetEvent(ctx, round.ID, EventTypeDeadline)
	if err != nil {
		return err
	}

	if round.ClosingTime.IsZero() {
		if existing == nil {
			return nil
		}
		if err := s.sink.DeleteEvent(ctx, *existing); err != nil {
			return err
		}
		return s.repo.DeleteEvent(ctx, round.ID, EventTypeDeadline)
	}

	event := models.CalendarEvent{
		CourseID:  round.CourseID,
		RoundID:   round.ID,
		EventType: EventTypeDeadline,
		Title:     "Deadline: " + round.Name,
		Timestamp: round.ClosingTime,
		Visible:   round.Status != models.StatusHidden && round.Status != models.StatusUnlisted,
	}
	if existing != nil {
		if existing.Title == event.Title && existing.Timestamp.Equal(event.Timestamp) && existing.Visible == event.Visible {
			return nil
		}
	}

	if err := s.repo.SaveEvent(ctx, &event); err != nil {
		return err
	}
	if err := s.sink.UpsertEvent(ctx, event); err != nil {
		s.logger.Error().Err(err).Uint("round_id", round.ID).Msg("failed to publish deadline event")
		return err
	}
	return nil
}
