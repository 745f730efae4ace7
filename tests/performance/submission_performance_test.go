package performance_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/astra-go-api/internal/dto"
	"github.com/noah-isme/astra-go-api/internal/handler"
	"github.com/noah-isme/astra-go-api/internal/models"
	"github.com/noah-isme/astra-go-api/internal/repository"
	"github.com/noah-isme/astra-go-api/internal/service"
	"github.com/noah-isme/astra-go-api/pkg/exerciseservice"
	"github.com/noah-isme/astra-go-api/pkg/storage"
)

const (
	concurrentSubmitters = 12
	attemptLimit         = 3
)

func setupSubmissionApp(t *testing.T) (*fiber.App, uint) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:perf_submissions?mode=memory&cache=shared"), &gorm.Config{})
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
	))

	grader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(10 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"points": 1, "max_points": 1}`)
	}))
	t.Cleanup(grader.Close)

	now := time.Now().UTC()
	round := models.ExerciseRound{CourseID: 1, RemoteKey: "perf", Name: "Perf", Status: models.StatusReady, OpeningTime: now.Add(-time.Hour), ClosingTime: now.Add(time.Hour)}
	require.NoError(t, db.Create(&round).Error)
	category := models.Category{CourseID: 1, Name: "Exercises", Status: models.StatusReady}
	require.NoError(t, db.Create(&category).Error)
	require.NoError(t, db.Create(&models.CourseConfig{CourseID: 1, Languages: "en"}).Error)
	exercise := models.LearningObject{
		RoundID:    round.ID,
		CategoryID: category.ID,
		Kind:       models.KindExercise,
		RemoteKey:  "perf-ex",
		Name:       "Concurrency",
		ServiceURL: grader.URL + "/ex",
		Status:     models.StatusReady,
		Exercise:   models.ExerciseSettings{MaxPoints: 10, MaxSubmissions: attemptLimit},
	}
	require.NoError(t, db.Create(&exercise).Error)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	files, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)

	logger := zerolog.Nop()
	validate := validator.New(validator.WithRequiredStructEnabled())
	submissionRepo := repository.NewSubmissionRepository(db)
	objectRepo := repository.NewLearningObjectRepository(db)
	grades := service.NewGradeService(repository.NewRoundRepository(db), objectRepo, submissionRepo, repository.NewGradebookRepository(db), service.NewLogSink(logger), redisClient, time.Minute, logger)
	submissions := service.NewSubmissionService(service.SubmissionDependencies{
		Objects:     objectRepo,
		Submissions: submissionRepo,
		Deviations:  repository.NewDeviationRepository(db),
		Courses:     repository.NewCourseRepository(db),
		Grades:      grades,
		Grader:      exerciseservice.New(exerciseservice.Config{WorkspaceRoot: t.TempDir()}, logger),
		Files:       files,
		Locker:      service.NewRedisPairLocker(redisClient, time.Minute),
	}, validate, service.SubmissionConfig{SecretKey: "perf-secret", PublicURL: "http://astra.test"}, logger)

	app := fiber.New()
	group := app.Group("/api/v2/astra", func(c *fiber.Ctx) error {
		c.Locals("user_id", uint(42))
		c.Locals("user_role", "student")
		return c.Next()
	})
	handler.NewSubmissionHandler(submissions, logger).Register(group)

	return app, exercise.ID
}

func submissionRequest(t *testing.T, exerciseID uint) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("solution", "main.go")
	require.NoError(t, err)
	_, err = part.Write([]byte("package main"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v2/astra/exercises/%d/submissions", exerciseID), body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestConcurrentSubmissionsRespectLimitP95Under2s(t *testing.T) {
	app, exerciseID := setupSubmissionApp(t)

	requests := make([]*http.Request, concurrentSubmitters)
	for i := range requests {
		requests[i] = submissionRequest(t, exerciseID)
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		durations []time.Duration
		statuses  = map[int]int{}
		ordinals  []int
	)

	for _, req := range requests {
		wg.Add(1)
		go func(req *http.Request) {
			defer wg.Done()
			start := time.Now()
			resp, err := app.Test(req, -1)
			elapsed := time.Since(start)
			if err != nil {
				t.Errorf("request failed: %v", err)
				return
			}
			defer resp.Body.Close()

			var payload struct {
				Data dto.SubmissionResponse `json:"data"`
			}
			data, _ := io.ReadAll(resp.Body)
			_ = json.Unmarshal(data, &payload)

			mu.Lock()
			defer mu.Unlock()
			durations = append(durations, elapsed)
			statuses[resp.StatusCode]++
			if resp.StatusCode == fiber.StatusCreated {
				ordinals = append(ordinals, payload.Data.Ordinal)
			}
		}(req)
	}
	wg.Wait()

	require.Equal(t, attemptLimit, statuses[fiber.StatusCreated])
	require.Equal(t, concurrentSubmitters-attemptLimit, statuses[fiber.StatusForbidden])

	sort.Ints(ordinals)
	require.Equal(t, []int{1, 2, 3}, ordinals)

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	if p95 := percentile(durations, 0.95); p95 > 2*time.Second {
		t.Fatalf("expected submission P95 <= 2s, got %s", p95)
	}
}

func percentile(values []time.Duration, pct float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	index := int(math.Ceil(pct*float64(len(values)))) - 1
	if index < 0 {
		index = 0
	}
	if index >= len(values) {
		index = len(values) - 1
	}
	return values[index]
}
