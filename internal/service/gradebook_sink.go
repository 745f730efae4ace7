package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/astra-go-api/internal/models"
)

// GradebookSink receives round totals and grade item metadata. A nil grade clears the student's entry.
type GradebookSink interface {
	PushGrades(ctx context.Context, courseID, roundID uint, grades map[uint]*int) error
	PushItem(ctx context.Context, item models.GradebookItem) error
}

// CalendarSink receives round deadline events.
type CalendarSink interface {
	UpsertEvent(ctx context.Context, event models.CalendarEvent) error
	DeleteEvent(ctx context.Context, event models.CalendarEvent) error
}

type gradebookEnvelope struct {
	Kind     string         `json:"kind"`
	CourseID uint           `json:"course_id"`
	RoundID  uint           `json:"round_id"`
	Grades   map[uint]*int  `json:"grades,omitempty"`
	Item     *gradebookItem `json:"item,omitempty"`
	Event    *calendarEvent `json:"event,omitempty"`
	SentAt   time.Time      `json:"sent_at"`
}

type gradebookItem struct {
	Name         string `json:"name"`
	MaxPoints    int    `json:"max_points"`
	PointsToPass int    `json:"points_to_pass"`
	Hidden       bool   `json:"hidden"`
	GradeType    string `json:"grade_type"`
}

type calendarEvent struct {
	ID        uint      `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	Visible   bool      `json:"visible"`
}

// NATSSink publishes gradebook and calendar writes to the host system over NATS.
type NATSSink struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewNATSSink builds a sink publishing on "<subject>.gradebook.*" and "<subject>.calendar.*".
func NewNATSSink(conn *nats.Conn, subject string, logger zerolog.Logger) *NATSSink {
	if subject == "" {
		subject = "astra"
	}
	return &NATSSink{
		conn:    conn,
		subject: subject,
		logger:  logger.With().Str("component", "nats_sink").Logger(),
	}
}

func (s *NATSSink) PushGrades(ctx context.Context, courseID, roundID uint, grades map[uint]*int) error {
	return s.publish(s.subject+".gradebook.grades", gradebookEnvelope{
		Kind:     "grades",
		CourseID: courseID,
		RoundID:  roundID,
		Grades:   grades,
	})
}

func (s *NATSSink) PushItem(ctx context.Context, item models.GradebookItem) error {
	gradeType := "value"
	if item.MaxPoints <= 0 {
		gradeType = "none"
	}
	return s.publish(s.subject+".gradebook.items", gradebookEnvelope{
		Kind:     "item",
		CourseID: item.CourseID,
		RoundID:  item.RoundID,
		Item: &gradebookItem{
			Name:         item.Name,
			MaxPoints:    item.MaxPoints,
			PointsToPass: item.PointsToPass,
			Hidden:       item.Hidden,
			GradeType:    gradeType,
		},
	})
}

func (s *NATSSink) UpsertEvent(ctx context.Context, event models.CalendarEvent) error {
	return s.publish(s.subject+".calendar.upsert", calendarEnvelope(event))
}

func (s *NATSSink) DeleteEvent(ctx context.Context, event models.CalendarEvent) error {
	return s.publish(s.subject+".calendar.delete", calendarEnvelope(event))
}

func calendarEnvelope(event models.CalendarEvent) gradebookEnvelope {
	return gradebookEnvelope{
		Kind:     "calendar",
		CourseID: event.CourseID,
		RoundID:  event.RoundID,
		Event: &calendarEvent{
			ID:        event.ID,
			Type:      event.EventType,
			Title:     event.Title,
			Timestamp: event.Timestamp,
			Visible:   event.Visible,
		},
	}
}

func (s *NATSSink) publish(subject string, envelope gradebookEnvelope) error {
	envelope.SentAt = time.Now().UTC()
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	if err := s.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	s.logger.Debug().Str("subject", subject).Uint("round_id", envelope.RoundID).Msg("gradebook event published")
	return nil
}

// LogSink only logs writes. Used when no broker is configured.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink builds a sink that records writes in the log.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "log_sink").Logger()}
}

func (s *LogSink) PushGrades(ctx context.Context, courseID, roundID uint, grades map[uint]*int) error {
	s.logger.Info().Uint("course_id", courseID).Uint("round_id", roundID).Int("students", len(grades)).Msg("round grades pushed")
	return nil
}

func (s *LogSink) PushItem(ctx context.Context, item models.GradebookItem) error {
	s.logger.Info().Uint("round_id", item.RoundID).Int("max_points", item.MaxPoints).Bool("hidden", item.Hidden).Msg("grade item pushed")
	return nil
}

func (s *LogSink) UpsertEvent(ctx context.Context, event models.CalendarEvent) error {
	s.logger.Info().Uint("round_id", event.RoundID).Time("timestamp", event.Timestamp).Msg("calendar event upserted")
	return nil
}

func (s *LogSink) DeleteEvent(ctx context.Context, event models.CalendarEvent) error {
	s.logger.Info().Uint("round_id", event.RoundID).Msg("calendar event deleted")
	return nil
}
