package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/astra-go-api/internal/models"
	"github.com/noah-isme/astra-go-api/internal/repository"
	"github.com/noah-isme/astra-go-api/pkg/exerciseservice"
	"github.com/noah-isme/astra-go-api/pkg/storage"
)

const harnessSecret = "test-secret"

type recordingSink struct {
	mu      sync.Mutex
	grades  []map[uint]*int
	items   []models.GradebookItem
	events  []models.CalendarEvent
	deletes []models.CalendarEvent
}

func (r *recordingSink) PushGrades(ctx context.Context, courseID, roundID uint, grades map[uint]*int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := make(map[uint]*int, len(grades))
	for user, grade := range grades {
		copied[user] = grade
	}
	r.grades = append(r.grades, copied)
	return nil
}

func (r *recordingSink) PushItem(ctx context.Context, item models.GradebookItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	return nil
}

func (r *recordingSink) UpsertEvent(ctx context.Context, event models.CalendarEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) DeleteEvent(ctx context.Context, event models.CalendarEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes = append(r.deletes, event)
	return nil
}

func (r *recordingSink) lastGrades() map[uint]*int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.grades) == 0 {
		return nil
	}
	return r.grades[len(r.grades)-1]
}

type gradedUpload struct {
	params exerciseservice.URLParams
	fields map[string][]string
	files  map[string]string
	apiKey string
}

type astraGrader struct {
	mu       sync.Mutex
	feedback exerciseservice.Feedback
	err      error
	uploads  []gradedUpload
	pending  exerciseservice.URLParams
}

func (g *astraGrader) BuildServiceURL(params exerciseservice.URLParams) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = params
	return params.ServiceURL + "?submission_url=" + params.SubmissionURL, nil
}

func (g *astraGrader) Upload(ctx context.Context, req exerciseservice.UploadRequest) (exerciseservice.Feedback, error) {
	files := make(map[string]string, len(req.Files))
	for _, file := range req.Files {
		content, err := io.ReadAll(file.Content)
		_ = file.Content.Close()
		if err != nil {
			return exerciseservice.Feedback{}, err
		}
		files[file.FieldName] = string(content)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.uploads = append(g.uploads, gradedUpload{params: g.pending, fields: req.Fields, files: files, apiKey: req.APIKey})
	if g.err != nil {
		return exerciseservice.Feedback{}, g.err
	}
	return g.feedback, nil
}

func (g *astraGrader) uploadCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.uploads)
}

type astraHarness struct {
	db          *gorm.DB
	sink        *recordingSink
	grader      *astraGrader
	files       storage.Store
	grades      GradeService
	submissions SubmissionService
	round       models.ExerciseRound
	category    models.Category
	now         time.Time
}

func setupAstraDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:astra_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Category{},
		&models.ExerciseRound{},
		&models.LearningObject{},
		&models.Submission{},
		&models.SubmittedFile{},
		&models.DeadlineDeviation{},
		&models.SubmissionLimitDeviation{},
		&models.CourseConfig{},
		&models.RoundGrade{},
		&models.GradebookItem{},
		&models.CalendarEvent{},
	))
	return db
}

func newAstraHarness(t *testing.T) *astraHarness {
	t.Helper()
	db := setupAstraDB(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	round := models.ExerciseRound{
		CourseID:    1,
		RemoteKey:   "round-1",
		Name:        "Round 1",
		Status:      models.StatusReady,
		OpeningTime: now.Add(-24 * time.Hour),
		ClosingTime: now.Add(24 * time.Hour),
	}
	require.NoError(t, db.Create(&round).Error)
	category := models.Category{CourseID: 1, Name: "Assignments", Status: models.StatusReady}
	require.NoError(t, db.Create(&category).Error)
	require.NoError(t, db.Create(&models.CourseConfig{CourseID: 1, APIKey: "course-key", Languages: "en|fi"}).Error)

	sink := &recordingSink{}
	grader := &astraGrader{feedback: exerciseservice.Feedback{Status: "ready", Points: 5, MaxPoints: 10, HTML: "<p>ok</p>"}}
	files, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)

	logger := zerolog.Nop()
	grades := NewGradeService(
		repository.NewRoundRepository(db),
		repository.NewLearningObjectRepository(db),
		repository.NewSubmissionRepository(db),
		repository.NewGradebookRepository(db),
		sink,
		nil,
		0,
		logger,
	)

	submissions := NewSubmissionService(SubmissionDependencies{
		Objects:     repository.NewLearningObjectRepository(db),
		Submissions: repository.NewSubmissionRepository(db),
		Deviations:  repository.NewDeviationRepository(db),
		Courses:     repository.NewCourseRepository(db),
		Grades:      grades,
		Grader:      grader,
		Files:       files,
		Locker:      NewLocalPairLocker(),
	}, validator.New(), SubmissionConfig{
		SecretKey:      harnessSecret,
		PublicURL:      "http://astra.test",
		WaitingTimeout: 30 * time.Minute,
	}, logger)
	submissions.(*submissionService).now = func() time.Time { return now }

	return &astraHarness{
		db:          db,
		sink:        sink,
		grader:      grader,
		files:       files,
		grades:      grades,
		submissions: submissions,
		round:       round,
		category:    category,
		now:         now,
	}
}

func (h *astraHarness) addExercise(t *testing.T, key string, settings models.ExerciseSettings) models.LearningObject {
	t.Helper()
	exercise := models.LearningObject{
		RoundID:    h.round.ID,
		CategoryID: h.category.ID,
		Kind:       models.KindExercise,
		RemoteKey:  key,
		Name:       "Exercise " + key,
		ServiceURL: "http://grader.test/" + key,
		Status:     models.StatusReady,
		Exercise:   settings,
	}
	require.NoError(t, repository.NewLearningObjectRepository(h.db).Create(context.Background(), &exercise))
	return exercise
}

func (h *astraHarness) setNow(now time.Time) {
	h.now = now
	h.submissions.(*submissionService).now = func() time.Time { return now }
}

func submissionForm(t *testing.T, fields map[string]string, files map[string]string) *multipart.Form {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	for field, content := range files {
		part, err := writer.CreateFormFile(field, field+".py")
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	form, err := multipart.NewReader(body, writer.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)
	return form
}
