package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/astra-go-api/internal/config"
	"github.com/noah-isme/astra-go-api/internal/dto"
	"github.com/noah-isme/astra-go-api/internal/handler"
	"github.com/noah-isme/astra-go-api/internal/middleware"
	"github.com/noah-isme/astra-go-api/internal/models"
	"github.com/noah-isme/astra-go-api/internal/repository"
	"github.com/noah-isme/astra-go-api/internal/router"
	"github.com/noah-isme/astra-go-api/internal/service"
	"github.com/noah-isme/astra-go-api/pkg/exerciseservice"
	"github.com/noah-isme/astra-go-api/pkg/storage"
)

type astraApp struct {
	app    *fiber.App
	db     *gorm.DB
	grader *httptest.Server
	graded *atomic.Int32
}

func setupAstraApp(t *testing.T) *astraApp {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.CourseConfig{},
		&models.Category{},
		&models.ExerciseRound{},
		&models.LearningObject{},
		&models.Submission{},
		&models.SubmittedFile{},
		&models.DeadlineDeviation{},
		&models.SubmissionLimitDeviation{},
		&models.RoundGrade{},
		&models.GradebookItem{},
		&models.CalendarEvent{},
	))

	graded := &atomic.Int32{}
	grader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		graded.Add(1)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		points := 8
		if r.FormValue("answer") == "perfect" {
			points = 10
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"points": %d, "max_points": 10, "feedback": "<p>checked</p>"}`, points)
	}))
	t.Cleanup(grader.Close)

	files, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)
	sink := service.NewLogSink(logger)

	courseRepo := repository.NewCourseRepository(db)
	roundRepo := repository.NewRoundRepository(db)
	objectRepo := repository.NewLearningObjectRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	deviationRepo := repository.NewDeviationRepository(db)
	gradebookRepo := repository.NewGradebookRepository(db)

	gradeService := service.NewGradeService(roundRepo, objectRepo, submissionRepo, gradebookRepo, sink, nil, 0, logger)
	submissionService := service.NewSubmissionService(service.SubmissionDependencies{
		Objects:     objectRepo,
		Submissions: submissionRepo,
		Deviations:  deviationRepo,
		Courses:     courseRepo,
		Grades:      gradeService,
		Grader:      exerciseservice.New(exerciseservice.Config{WorkspaceRoot: t.TempDir()}, logger),
		Files:       files,
	}, validate, service.SubmissionConfig{SecretKey: "integration-secret", PublicURL: "http://astra.test"}, logger)
	structureService, err := service.NewStructureService(service.StructureDependencies{
		Courses:     courseRepo,
		Rounds:      roundRepo,
		Objects:     objectRepo,
		Submissions: submissionRepo,
		Grades:      gradeService,
		Calendar:    service.NewCalendarService(gradebookRepo, sink, logger),
	}, validate, logger)
	require.NoError(t, err)

	app := fiber.New()
	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, config.Config{AppName: "Test", JWTSecret: "secret"}, router.Dependencies{
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, logger),
		AsyncHandler:      handler.NewAsyncHandler(submissionService, logger),
		GradeHandler:      handler.NewGradeHandler(gradeService, logger),
		StructureHandler:  handler.NewStructureHandler(structureService, logger),
		DeviationHandler:  handler.NewDeviationHandler(service.NewDeviationService(objectRepo, deviationRepo, validate, logger), logger),
		DisableMetrics:    true,
		JWTMiddleware: func(c *fiber.Ctx) error {
			id, _ := strconv.ParseUint(c.Get("X-Test-User"), 10, 64)
			if id > 0 {
				c.Locals("user_id", uint(id))
				c.Locals("user_role", c.Get("X-Test-Role", "student"))
			}
			return c.Next()
		},
	})

	return &astraApp{app: app, db: db, grader: grader, graded: graded}
}

func (a *astraApp) do(t *testing.T, req *http.Request, userID uint, role string) *http.Response {
	t.Helper()
	req.Header.Set("X-Test-User", strconv.FormatUint(uint64(userID), 10))
	req.Header.Set("X-Test-Role", role)
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (a *astraApp) roundPayload(maxSubmissions int) string {
	return fmt.Sprintf(`{
  "course_setting": {"languages": "en"},
  "round": {"remote_key": "week-1", "name": "Basics", "ordinal": 1, "status": "ready",
    "opening_time": "2020-01-01T00:00:00Z", "closing_time": "2099-01-01T00:00:00Z", "points_to_pass": 15},
  "categories": [{"name": "Exercises"}],
  "learning_objects": [
    {"remote_key": "hello", "kind": "exercise", "category": "Exercises", "name": "Hello",
     "service_url": "%s/hello", "ordinal": 1, "max_points": 20, "max_submissions": %d}
  ]
}`, a.grader.URL, maxSubmissions)
}

func (a *astraApp) submit(t *testing.T, exerciseID, userID uint, answer string) *http.Response {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("answer", answer))
	part, err := writer.CreateFormFile("solution", "hello.py")
	require.NoError(t, err)
	_, err = part.Write([]byte("print('hello')"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v2/astra/exercises/%d/submissions", exerciseID), body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return a.do(t, req, userID, "student")
}

func decode[T any](t *testing.T, resp *http.Response, target *T) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target))
}

func TestAstraEndToEndFlow(t *testing.T) {
	a := setupAstraApp(t)

	// Step 1: teacher imports the round
	req := httptest.NewRequest(http.MethodPost, "/api/v2/astra/courses/1/sync", strings.NewReader(a.roundPayload(2)))
	req.Header.Set("Content-Type", "application/json")
	resp := a.do(t, req, 900, "teacher")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var syncResp struct {
		Data dto.StructureSyncReport `json:"data"`
	}
	decode(t, resp, &syncResp)
	require.Empty(t, syncResp.Data.Errors)
	require.Equal(t, 20, syncResp.Data.MaxPoints)

	var exercise models.LearningObject
	require.NoError(t, a.db.Where("remote_key = ?", "hello").First(&exercise).Error)

	// Step 2: student submits twice, the service scales 8/10 and 10/10 to the exercise's 20 points
	resp = a.submit(t, exercise.ID, 7, "almost")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var first struct {
		Data dto.SubmissionResponse `json:"data"`
	}
	decode(t, resp, &first)
	require.Equal(t, models.SubmissionStatusReady, first.Data.Status)
	require.Equal(t, 16, first.Data.Grade)
	require.Equal(t, 1, first.Data.Ordinal)

	resp = a.submit(t, exercise.ID, 7, "perfect")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	// Step 3: the attempt limit is enforced without calling the exercise service
	resp = a.submit(t, exercise.ID, 7, "again")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	require.Equal(t, int32(2), a.graded.Load())

	// Step 4: the student reads their own round grade but nobody else's
	resp = a.do(t, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v2/astra/rounds/%d/grades/7", syncResp.Data.RoundID), nil), 7, "student")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var roundResp struct {
		Data dto.RoundGradeResponse `json:"data"`
	}
	decode(t, resp, &roundResp)
	require.Equal(t, 20, roundResp.Data.Grade)
	require.True(t, roundResp.Data.Passed)

	resp = a.do(t, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v2/astra/rounds/%d/grades/7", syncResp.Data.RoundID), nil), 8, "student")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	// Step 5: teacher grants one extra attempt and the student may submit again
	req = httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v2/astra/exercises/%d/deviations/limit", exercise.ID), strings.NewReader(`{"user_id": 7, "extra_submissions": 1}`))
	req.Header.Set("Content-Type", "application/json")
	resp = a.do(t, req, 900, "teacher")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp = a.submit(t, exercise.ID, 7, "again")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	// Step 6: submissions already pushed the student's total, so a full sync has nothing new to send
	resp = a.do(t, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v2/astra/rounds/%d/grades/sync", syncResp.Data.RoundID), nil), 900, "teacher")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var gradeSync struct {
		Data dto.GradeSyncResponse `json:"data"`
	}
	decode(t, resp, &gradeSync)
	require.Equal(t, 20, gradeSync.Data.MaxPoints)
	require.Zero(t, gradeSync.Data.Pushed)

	// Step 7: the student's submission list never leaks other students
	resp = a.do(t, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v2/astra/exercises/%d/submissions", exercise.ID), nil), 8, "student")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var listResp struct {
		Data []dto.SubmissionResponse `json:"data"`
	}
	decode(t, resp, &listResp)
	require.Empty(t, listResp.Data)
}
