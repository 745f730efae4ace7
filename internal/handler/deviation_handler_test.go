package handler_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/astra-go-api/internal/dto"
	"github.com/noah-isme/astra-go-api/internal/handler"
	"github.com/noah-isme/astra-go-api/internal/middleware"
	"github.com/noah-isme/astra-go-api/internal/service"
)

type mockDeviationService struct {
	lastDeadline dto.DeadlineDeviationRequest
	lastLimit    dto.SubmissionLimitDeviationRequest
	revoked      []uint
	err          error
}

func (m *mockDeviationService) ListDeadlines(context.Context, uint) ([]dto.DeadlineDeviationResponse, error) {
	return []dto.DeadlineDeviationResponse{{ExerciseID: 3, UserID: 11, ExtraMinutes: 60}}, m.err
}

func (m *mockDeviationService) GrantDeadline(_ context.Context, exerciseID uint, payload dto.DeadlineDeviationRequest) (dto.DeadlineDeviationResponse, error) {
	m.lastDeadline = payload
	return dto.DeadlineDeviationResponse{ExerciseID: exerciseID, UserID: payload.UserID, ExtraMinutes: payload.ExtraMinutes}, m.err
}

func (m *mockDeviationService) RevokeDeadline(_ context.Context, _ uint, userID uint) error {
	m.revoked = append(m.revoked, userID)
	return m.err
}

func (m *mockDeviationService) ListLimits(context.Context, uint) ([]dto.SubmissionLimitDeviationResponse, error) {
	return nil, m.err
}

func (m *mockDeviationService) GrantLimit(_ context.Context, exerciseID uint, payload dto.SubmissionLimitDeviationRequest) (dto.SubmissionLimitDeviationResponse, error) {
	m.lastLimit = payload
	return dto.SubmissionLimitDeviationResponse{ExerciseID: exerciseID, UserID: payload.UserID, ExtraSubmissions: payload.ExtraSubmissions}, m.err
}

func (m *mockDeviationService) RevokeLimit(_ context.Context, _ uint, userID uint) error {
	m.revoked = append(m.revoked, userID)
	return m.err
}

func newDeviationApp(svc service.DeviationService, role string) *fiber.App {
	app := fiber.New()
	group := app.Group("/api/v2/astra", func(c *fiber.Ctx) error {
		c.Locals("user_id", uint(2))
		c.Locals("user_role", role)
		return c.Next()
	})
	handler.NewDeviationHandler(svc, zerolog.New(io.Discard)).Register(group, middleware.RequireStaff())
	return app
}

func TestDeviationHandlerGrantDeadline(t *testing.T) {
	svc := &mockDeviationService{}
	app := newDeviationApp(svc, "teacher")

	req := httptest.NewRequest(http.MethodPost, "/api/v2/astra/exercises/3/deviations/deadline", strings.NewReader(`{"user_id":11,"extra_minutes":90,"without_late_penalty":true}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.Equal(t, uint(11), svc.lastDeadline.UserID)
	require.Equal(t, 90, svc.lastDeadline.ExtraMinutes)
	require.True(t, svc.lastDeadline.WithoutLatePenalty)
}

func TestDeviationHandlerGrantLimitOnUnlimitedExercise(t *testing.T) {
	svc := &mockDeviationService{err: &service.ValidationError{Field: "exercise", Message: "exercise has no submission limit"}}
	app := newDeviationApp(svc, "admin")

	req := httptest.NewRequest(http.MethodPost, "/api/v2/astra/exercises/3/deviations/limit", strings.NewReader(`{"user_id":11,"extra_submissions":2}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestDeviationHandlerRevokeRequiresUser(t *testing.T) {
	svc := &mockDeviationService{}
	app := newDeviationApp(svc, "teacher")

	resp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/api/v2/astra/exercises/3/deviations/limit", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/api/v2/astra/exercises/3/deviations/limit?user_id=11", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, []uint{11}, svc.revoked)
}

func TestDeviationHandlerRevokeMissing(t *testing.T) {
	app := newDeviationApp(&mockDeviationService{err: service.ErrDeviationNotFound}, "teacher")

	resp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/api/v2/astra/exercises/3/deviations/deadline?user_id=11", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestDeviationHandlerStudentsDenied(t *testing.T) {
	app := newDeviationApp(&mockDeviationService{}, "student")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v2/astra/exercises/3/deviations/deadline", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}
