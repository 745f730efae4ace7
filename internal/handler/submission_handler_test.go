package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/astra-go-api/internal/dto"
	"github.com/noah-isme/astra-go-api/internal/handler"
	"github.com/noah-isme/astra-go-api/internal/service"
	"github.com/noah-isme/astra-go-api/pkg/exerciseservice"
)

type mockSubmissionService struct {
	lastActor    service.Actor
	lastExercise uint
	lastFields   map[string][]string
	lastFiles    []string
	lastFilter   dto.SubmissionFilter
	lastHash     string
	lastPayload  dto.AsyncGradeRequest
	lastGrade    dto.SubmissionGradeRequest
	response     dto.SubmissionResponse
	list         []dto.SubmissionResponse
	err          error
}

func (m *mockSubmissionService) Submit(_ context.Context, exerciseID uint, actor service.Actor, _ dto.SubmissionCreateRequest, form *multipart.Form) (dto.SubmissionResponse, error) {
	m.lastExercise = exerciseID
	m.lastActor = actor
	if form != nil {
		m.lastFields = form.Value
		for field := range form.File {
			m.lastFiles = append(m.lastFiles, field)
		}
	}
	return m.response, m.err
}

func (m *mockSubmissionService) Get(_ context.Context, _ uint, actor service.Actor) (dto.SubmissionResponse, error) {
	m.lastActor = actor
	return m.response, m.err
}

func (m *mockSubmissionService) List(_ context.Context, exerciseID uint, actor service.Actor, filter dto.SubmissionFilter) ([]dto.SubmissionResponse, error) {
	m.lastExercise = exerciseID
	m.lastActor = actor
	m.lastFilter = filter
	return m.list, m.err
}

func (m *mockSubmissionService) Grade(_ context.Context, _ uint, payload dto.SubmissionGradeRequest, actor service.Actor) (dto.SubmissionResponse, error) {
	m.lastGrade = payload
	m.lastActor = actor
	return m.response, m.err
}

func (m *mockSubmissionService) Regrade(_ context.Context, _ uint, actor service.Actor) (dto.SubmissionResponse, error) {
	m.lastActor = actor
	return m.response, m.err
}

func (m *mockSubmissionService) AsyncGrade(_ context.Context, _ uint, hash string, payload dto.AsyncGradeRequest) (dto.SubmissionResponse, error) {
	m.lastHash = hash
	m.lastPayload = payload
	return m.response, m.err
}

func (m *mockSubmissionService) AsyncNew(_ context.Context, exerciseID, _ uint, hash string, payload dto.AsyncGradeRequest) (dto.SubmissionResponse, error) {
	m.lastExercise = exerciseID
	m.lastHash = hash
	m.lastPayload = payload
	return m.response, m.err
}

func (m *mockSubmissionService) RecheckWaiting(context.Context) (int, error) {
	return 0, m.err
}

func newSubmissionApp(svc *mockSubmissionService, userID uint, role string) *fiber.App {
	logger := zerolog.New(io.Discard)
	app := fiber.New()
	group := app.Group("/api/v2/astra", func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		c.Locals("user_role", role)
		return c.Next()
	})
	handler.NewSubmissionHandler(svc, logger).Register(group)
	handler.NewAsyncHandler(svc, logger).Register(app.Group("/api/v1/astra/async"))
	return app
}

func submissionBody(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("answer", "42"))
	require.NoError(t, writer.WriteField("__lang", "fi"))
	part, err := writer.CreateFormFile("file1", "solution.py")
	require.NoError(t, err)
	_, err = part.Write([]byte("print(42)"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestSubmissionHandlerCreate(t *testing.T) {
	svc := &mockSubmissionService{response: dto.SubmissionResponse{ID: 5, ExerciseID: 3, Status: "ready", Grade: 8}}
	app := newSubmissionApp(svc, 11, "student")

	body, contentType := submissionBody(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v2/astra/exercises/3/submissions", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var response struct {
		Success bool                   `json:"success"`
		Data    dto.SubmissionResponse `json:"data"`
	}
	decodeResponse(t, resp, &response)
	require.True(t, response.Success)
	require.Equal(t, uint(5), response.Data.ID)

	require.Equal(t, uint(3), svc.lastExercise)
	require.Equal(t, service.Actor{ID: 11, Role: "student"}, svc.lastActor)
	require.Equal(t, []string{"42"}, svc.lastFields["answer"])
	require.Equal(t, []string{"file1"}, svc.lastFiles)
}

func TestSubmissionHandlerCreateRequiresMultipart(t *testing.T) {
	app := newSubmissionApp(&mockSubmissionService{}, 11, "student")

	req := httptest.NewRequest(http.MethodPost, "/api/v2/astra/exercises/3/submissions", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSubmissionHandlerQuotaResponseCarriesReason(t *testing.T) {
	svc := &mockSubmissionService{err: &service.QuotaError{Reason: "limit"}}
	app := newSubmissionApp(svc, 11, "student")

	body, contentType := submissionBody(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v2/astra/exercises/3/submissions", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	var response struct {
		Success bool `json:"success"`
		Details struct {
			Reason string `json:"reason"`
		} `json:"details"`
	}
	decodeResponse(t, resp, &response)
	require.False(t, response.Success)
	require.Equal(t, "limit", response.Details.Reason)
}

func TestSubmissionHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		statusCode int
	}{
		{name: "not_found", err: service.ErrSubmissionNotFound, statusCode: fiber.StatusNotFound},
		{name: "forbidden", err: service.ErrForbidden, statusCode: fiber.StatusForbidden},
		{name: "transition", err: service.ErrInvalidTransition, statusCode: fiber.StatusConflict},
		{name: "validation", err: &service.ValidationError{Field: "grade", Message: "exceeds max points"}, statusCode: fiber.StatusBadRequest},
		{name: "connection", err: &exerciseservice.ConnectionError{URL: "http://grader.test", Err: errors.New("refused")}, statusCode: fiber.StatusServiceUnavailable},
		{name: "service", err: &exerciseservice.ServiceError{Message: "bad feedback"}, statusCode: fiber.StatusBadGateway},
		{name: "generic", err: errors.New("boom"), statusCode: fiber.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newSubmissionApp(&mockSubmissionService{err: tc.err}, 2, "teacher")

			req := httptest.NewRequest(http.MethodPatch, "/api/v2/astra/submissions/9", strings.NewReader(`{"grade":5}`))
			req.Header.Set("Content-Type", "application/json")

			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, tc.statusCode, resp.StatusCode)
		})
	}
}

func TestSubmissionHandlerListFilters(t *testing.T) {
	svc := &mockSubmissionService{list: []dto.SubmissionResponse{{ID: 1}, {ID: 2}}}
	app := newSubmissionApp(svc, 2, "teacher")

	req := httptest.NewRequest(http.MethodGet, "/api/v2/astra/exercises/3/submissions?user_id=11&status=ready", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var response struct {
		Data []dto.SubmissionResponse `json:"data"`
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
	}
	decodeResponse(t, resp, &response)
	require.Len(t, response.Data, 2)
	require.Equal(t, 2, response.Meta.Count)
	require.NotNil(t, svc.lastFilter.UserID)
	require.Equal(t, uint(11), *svc.lastFilter.UserID)
	require.NotNil(t, svc.lastFilter.Status)
	require.Equal(t, "ready", *svc.lastFilter.Status)
}

func TestSubmissionHandlerRejectsBadIdentifier(t *testing.T) {
	app := newSubmissionApp(&mockSubmissionService{}, 2, "teacher")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v2/astra/submissions/abc", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAsyncHandlerGradeFromForm(t *testing.T) {
	svc := &mockSubmissionService{response: dto.SubmissionResponse{ID: 9, Status: "ready"}}
	app := newSubmissionApp(svc, 0, "")

	form := url.Values{}
	form.Set("points", "7.6")
	form.Set("max_points", "10")
	form.Set("feedback", "<p>Good</p>")
	form.Set("grading_payload", `{"tests":3}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/astra/async/grade/9?hash=abc", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	require.Equal(t, "abc", svc.lastHash)
	require.NotNil(t, svc.lastPayload.Points)
	require.Equal(t, 8, *svc.lastPayload.Points)
	require.Equal(t, 10, *svc.lastPayload.MaxPoints)
	require.Equal(t, "<p>Good</p>", svc.lastPayload.Feedback)
	require.Equal(t, float64(3), svc.lastPayload.GradingPayload["tests"])
}

func TestAsyncHandlerGradeFromJSON(t *testing.T) {
	svc := &mockSubmissionService{}
	app := newSubmissionApp(svc, 0, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/astra/async/grade/9?hash=abc", strings.NewReader(`{"error":true,"feedback":"crashed"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.True(t, svc.lastPayload.Error)
	require.Nil(t, svc.lastPayload.Points)
}

func TestAsyncHandlerInvalidHash(t *testing.T) {
	app := newSubmissionApp(&mockSubmissionService{err: service.ErrInvalidHash}, 0, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/astra/async/new/3/11?hash=wrong", strings.NewReader("points=1&max_points=2"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestAsyncHandlerRejectsInvalidPoints(t *testing.T) {
	app := newSubmissionApp(&mockSubmissionService{}, 0, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/astra/async/grade/9?hash=abc", strings.NewReader("points=lots"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(data, target))
}
