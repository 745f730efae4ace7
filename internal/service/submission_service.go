package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/astra-go-api/internal/dto"
	"github.com/noah-isme/astra-go-api/internal/models"
	"github.com/noah-isme/astra-go-api/internal/observability"
	"github.com/noah-isme/astra-go-api/internal/policy"
	"github.com/noah-isme/astra-go-api/internal/repository"
	"github.com/noah-isme/astra-go-api/pkg/exerciseservice"
	"github.com/noah-isme/astra-go-api/pkg/storage"
)

// ErrSubmissionNotFound indicates a submission could not be found.
var ErrSubmissionNotFound = errors.New("submission not found")

// languageField is the form field selecting the feedback language. It is not forwarded as submission data.
const languageField = "__lang"

// Canonical course roles carried by Actor.
const (
	roleAdmin     = "admin"
	roleTeacher   = "teacher"
	roleAssistant = "assistant"
)

// Actor identifies the authenticated user performing an operation.
type Actor struct {
	ID   uint
	Role string
}

// IsStaff reports whether the actor manages the course and bypasses deadlines and limits.
func (a Actor) IsStaff() bool {
	return a.Role == roleTeacher || a.Role == roleAdmin
}

// IsAssistant reports whether the actor is a course assistant.
func (a Actor) IsAssistant() bool {
	return a.Role == roleAssistant
}

// SubmissionConfig carries the settings of the grading workflow.
type SubmissionConfig struct {
	SecretKey      string
	PublicURL      string
	WaitingTimeout time.Duration
}

// SubmissionService orchestrates submission workflows.
type SubmissionService interface {
	Submit(ctx context.Context, exerciseID uint, actor Actor, payload dto.SubmissionCreateRequest, form *multipart.Form) (dto.SubmissionResponse, error)
	Get(ctx context.Context, id uint, actor Actor) (dto.SubmissionResponse, error)
	List(ctx context.Context, exerciseID uint, actor Actor, filter dto.SubmissionFilter) ([]dto.SubmissionResponse, error)
	Grade(ctx context.Context, id uint, payload dto.SubmissionGradeRequest, actor Actor) (dto.SubmissionResponse, error)
	Regrade(ctx context.Context, id uint, actor Actor) (dto.SubmissionResponse, error)
	AsyncGrade(ctx context.Context, submissionID uint, hash string, payload dto.AsyncGradeRequest) (dto.SubmissionResponse, error)
	AsyncNew(ctx context.Context, exerciseID, userID uint, hash string, payload dto.AsyncGradeRequest) (dto.SubmissionResponse, error)
	RecheckWaiting(ctx context.Context) (int, error)
}

type submissionService struct {
	objects     repository.LearningObjectRepository
	submissions repository.SubmissionRepository
	deviations  repository.DeviationRepository
	courses     repository.CourseRepository
	grades      GradeService
	grader      exerciseservice.Grader
	files       storage.Store
	locker      PairLocker
	validator   *validator.Validate
	cfg         SubmissionConfig
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// SubmissionDependencies groups the collaborators of the submission service.
type SubmissionDependencies struct {
	Objects     repository.LearningObjectRepository
	Submissions repository.SubmissionRepository
	Deviations  repository.DeviationRepository
	Courses     repository.CourseRepository
	Grades      GradeService
	Grader      exerciseservice.Grader
	Files       storage.Store
	Locker      PairLocker
}

// NewSubmissionService constructs a SubmissionService instance.
func NewSubmissionService(deps SubmissionDependencies, validate *validator.Validate, cfg SubmissionConfig, logger zerolog.Logger) SubmissionService {
	locker := deps.Locker
	if locker == nil {
		locker = NewLocalPairLocker()
	}
	return &submissionService{
		objects:     deps.Objects,
		submissions: deps.Submissions,
		deviations:  deps.Deviations,
		courses:     deps.Courses,
		grades:      deps.Grades,
		grader:      deps.Grader,
		files:       deps.Files,
		locker:      locker,
		validator:   validate,
		cfg:         cfg,
		logger:      logger.With().Str("component", "submission_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/astra-go-api/internal/service/submissions"),
		now:         time.Now,
	}
}

func (s *submissionService) loadExercise(ctx context.Context, id uint) (models.LearningObject, error) {
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

func visibleToStudents(exercise models.LearningObject) bool {
	return !exercise.IsHidden() && !exercise.Round.IsHidden() && !exercise.Category.IsHidden()
}

func (s *submissionService) loadDeviations(ctx context.Context, exerciseID, userID uint) (policy.Deviations, error) {
	deadline, err := s.deviations.FindDeadline(ctx, exerciseID, userID)
	if err != nil {
		return policy.Deviations{}, err
	}
	limit, err := s.deviations.FindLimit(ctx, exerciseID, userID)
	if err != nil {
		return policy.Deviations{}, err
	}
	return policy.Deviations{Deadline: deadline, Limit: limit}, nil
}

func (s *submissionService) Submit(ctx context.Context, exerciseID uint, actor Actor, payload dto.SubmissionCreateRequest, form *multipart.Form) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submission.create", trace.WithAttributes(
		attribute.Int64("submission.exercise_id", int64(exerciseID)),
		attribute.Int64("submission.user_id", int64(actor.ID)),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	exercise, err := s.loadExercise(ctx, exerciseID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if !actor.IsStaff() && !visibleToStudents(exercise) {
		return dto.SubmissionResponse{}, ErrExerciseNotFound
	}

	headers := formFiles(form)
	sizes := make(map[string]int64, len(headers))
	for _, header := range headers {
		if header.file.Size > sizes[header.field] {
			sizes[header.field] = header.file.Size
		}
	}
	if field := policy.CheckFileSizes(exercise, sizes); field != "" {
		span.SetStatus(codes.Error, "file_too_large")
		return dto.SubmissionResponse{}, &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("file exceeds the maximum size of %d bytes", exercise.Exercise.MaxSubmissionFileSize),
		}
	}

	deviations, err := s.loadDeviations(ctx, exercise.ID, actor.ID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	submission := models.Submission{
		ExerciseID:     exercise.ID,
		SubmitterID:    actor.ID,
		SubmissionTime: s.now(),
		Status:         models.SubmissionStatusInitialized,
		SubmissionData: formData(form),
	}
	if err := s.record(ctx, &submission, func(counted int) error {
		decision := policy.IsSubmissionAllowed(exercise, exercise.Round, deviations, counted, actor.IsStaff(), submission.SubmissionTime)
		if !decision.Allowed {
			return &QuotaError{Reason: decision.Reason}
		}
		return nil
	}); err != nil {
		span.RecordError(err)
		return dto.SubmissionResponse{}, err
	}

	if err := s.storeFiles(ctx, &submission, headers); err != nil {
		s.markError(ctx, &submission, "storing submitted files failed")
		return dto.SubmissionResponse{}, err
	}

	s.logger.Info().Uint("submission_id", submission.ID).Uint("exercise_id", exercise.ID).Int("ordinal", submission.Ordinal).Msg("submission created")

	gradeErr := s.upload(ctx, &submission, exercise, deviations.Deadline, payload.Language)

	s.pruneExcess(ctx, exercise, actor.ID)
	s.refreshGradebook(ctx, exercise.RoundID, actor.ID)

	if gradeErr != nil {
		return dto.SubmissionResponse{}, gradeErr
	}
	return s.response(ctx, submission.ID)
}

// record assigns the ordinal and inserts the submission while holding the pair lock.
func (s *submissionService) record(ctx context.Context, submission *models.Submission, check func(counted int) error) error {
	unlock, err := s.locker.Lock(ctx, submission.ExerciseID, submission.SubmitterID)
	if err != nil {
		return err
	}
	defer unlock()

	return s.submissions.CreateNext(ctx, submission, check)
}

type formFile struct {
	field string
	file  *multipart.FileHeader
}

func formFiles(form *multipart.Form) []formFile {
	if form == nil {
		return nil
	}
	var files []formFile
	for field, headers := range form.File {
		for _, header := range headers {
			files = append(files, formFile{field: field, file: header})
		}
	}
	return files
}

func formData(form *multipart.Form) datatypes.JSONMap {
	data := datatypes.JSONMap{}
	if form == nil {
		return data
	}
	for key, values := range form.Value {
		if key == languageField || len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			data[key] = values[0]
			continue
		}
		list := make([]interface{}, 0, len(values))
		for _, value := range values {
			list = append(list, value)
		}
		data[key] = list
	}
	return data
}

func fieldsFromData(data datatypes.JSONMap) map[string][]string {
	fields := make(map[string][]string, len(data))
	for key, value := range data {
		switch v := value.(type) {
		case []interface{}:
			for _, item := range v {
				fields[key] = append(fields[key], fmt.Sprint(item))
			}
		case nil:
		default:
			fields[key] = []string{fmt.Sprint(v)}
		}
	}
	return fields
}

func (s *submissionService) storeFiles(ctx context.Context, submission *models.Submission, headers []formFile) error {
	if len(headers) == 0 {
		return nil
	}

	records := make([]models.SubmittedFile, 0, len(headers))
	for _, header := range headers {
		record, err := s.storeFile(ctx, submission.ID, header)
		if err != nil {
			s.discardFiles(ctx, records)
			return err
		}
		records = append(records, record)
	}

	if err := s.submissions.AddFiles(ctx, records); err != nil {
		s.discardFiles(ctx, records)
		return err
	}
	submission.Files = records
	return nil
}

// discardFiles removes files stored for a submission whose file records were never written.
func (s *submissionService) discardFiles(ctx context.Context, records []models.SubmittedFile) {
	for _, record := range records {
		if err := s.files.Delete(ctx, record.StorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn().Err(err).Str("storage_key", record.StorageKey).Msg("failed to discard stored file")
		}
	}
}

func (s *submissionService) storeFile(ctx context.Context, submissionID uint, header formFile) (models.SubmittedFile, error) {
	reader, err := header.file.Open()
	if err != nil {
		return models.SubmittedFile{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer reader.Close()

	mime, err := mimetype.DetectReader(reader)
	if err != nil {
		return models.SubmittedFile{}, fmt.Errorf("failed to detect file type: %w", err)
	}
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return models.SubmittedFile{}, fmt.Errorf("failed to rewind file: %w", err)
	}

	key, err := s.files.Store(ctx, storage.SubmissionKey(submissionID, header.file.Filename), reader)
	if err != nil {
		return models.SubmittedFile{}, fmt.Errorf("failed to store file: %w", err)
	}

	return models.SubmittedFile{
		SubmissionID: submissionID,
		FieldName:    header.field,
		FileName:     header.file.Filename,
		StorageKey:   key,
		MimeType:     mime.String(),
		Size:         header.file.Size,
	}, nil
}

func (s *submissionService) openFiles(ctx context.Context, records []models.SubmittedFile) ([]exerciseservice.File, error) {
	files := make([]exerciseservice.File, 0, len(records))
	for _, record := range records {
		content, err := s.files.Retrieve(ctx, record.StorageKey)
		if err != nil {
			for _, opened := range files {
				_ = opened.Content.Close()
			}
			return nil, fmt.Errorf("failed to open stored file %s: %w", record.FileName, err)
		}
		files = append(files, exerciseservice.File{
			FieldName: record.FieldName,
			FileName:  record.FileName,
			Size:      record.Size,
			Content:   content,
		})
	}
	return files, nil
}

func (s *submissionService) callbackURL(submission models.Submission) string {
	hash := policy.AsyncHash(s.cfg.SecretKey, submission.SubmitterID, submission.ExerciseID)
	return fmt.Sprintf("%s/api/v1/astra/async/grade/%d?hash=%s", s.cfg.PublicURL, submission.ID, hash)
}

func (s *submissionService) postURL(exerciseID uint) string {
	return fmt.Sprintf("%s/api/v2/astra/exercises/%d/submissions", s.cfg.PublicURL, exerciseID)
}

// upload performs the grading exchange. Failures mark the submission as error and are returned.
func (s *submissionService) upload(ctx context.Context, submission *models.Submission, exercise models.LearningObject, deviation *models.DeadlineDeviation, language string) error {
	ctx, span := s.tracer.Start(ctx, "submission.grade", trace.WithAttributes(
		attribute.Int64("submission.id", int64(submission.ID)),
		attribute.Int64("submission.exercise_id", int64(exercise.ID)),
	))
	defer span.End()

	var course *models.CourseConfig
	if cfg, err := s.courses.GetConfig(ctx, exercise.Round.CourseID); err == nil {
		course = &cfg
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		span.RecordError(err)
		s.markError(ctx, submission, "course configuration is not available")
		return err
	}
	apiKey := ""
	if course != nil {
		apiKey = course.APIKey
	}

	serviceURL, err := s.grader.BuildServiceURL(exerciseservice.URLParams{
		ServiceURL:    exercise.ServiceURL,
		SubmissionURL: s.callbackURL(*submission),
		PostURL:       s.postURL(exercise.ID),
		MaxPoints:     exercise.Exercise.MaxPoints,
		UserIDs:       []uint{submission.SubmitterID},
		Ordinal:       submission.Ordinal,
		Language:      policy.CheckCourseLanguage(course, language),
	})
	if err != nil {
		s.markError(ctx, submission, err.Error())
		return &exerciseservice.ServiceError{URL: exercise.ServiceURL, Message: err.Error()}
	}

	files, err := s.openFiles(ctx, submission.Files)
	if err != nil {
		s.markError(ctx, submission, "submitted files are not available")
		return err
	}

	started := time.Now()
	feedback, err := s.grader.Upload(ctx, exerciseservice.UploadRequest{
		URL:         serviceURL,
		Fields:      fieldsFromData(submission.SubmissionData),
		Files:       files,
		APIKey:      apiKey,
		MaxFileSize: exercise.Exercise.MaxSubmissionFileSize,
	})
	observability.GradingLatency().Observe(time.Since(started).Seconds())

	if err != nil {
		kind := failureKind(err)
		observability.GradingRequests().WithLabelValues("failed").Inc()
		observability.GradingFailures().WithLabelValues(kind).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		s.logger.Error().
			Err(err).
			Str("url", serviceURL).
			Str("kind", kind).
			Uint("submission_id", submission.ID).
			Uint("exercise_id", exercise.ID).
			Msg("grading exchange failed")
		s.markError(ctx, submission, err.Error())

		var tooLarge *exerciseservice.FileTooLargeError
		if errors.As(err, &tooLarge) {
			return &ValidationError{Field: tooLarge.FieldName, Message: tooLarge.Error()}
		}
		return err
	}

	if feedback.Async {
		submission.Status = models.SubmissionStatusWaiting
		if err := s.submissions.Update(ctx, submission); err != nil {
			return err
		}
		observability.GradingRequests().WithLabelValues("waiting").Inc()
		span.SetAttributes(attribute.Bool("submission.async", true))
		return nil
	}

	s.applyGrade(submission, exercise, deviation, feedback.Points, feedback.MaxPoints)
	submission.Feedback = feedback.HTML
	if feedback.GradingData != nil {
		submission.GradingData = datatypes.JSONMap(feedback.GradingData)
	}
	if err := s.submissions.Update(ctx, submission); err != nil {
		return err
	}
	observability.GradingRequests().WithLabelValues("graded").Inc()
	span.SetAttributes(attribute.Int("submission.grade", submission.Grade))
	return nil
}

func failureKind(err error) string {
	var connErr *exerciseservice.ConnectionError
	var tooLarge *exerciseservice.FileTooLargeError
	switch {
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &tooLarge):
		return "validation"
	default:
		return "service"
	}
}

// applyGrade scales service points to the exercise scale and applies the late penalty.
func (s *submissionService) applyGrade(submission *models.Submission, exercise models.LearningObject, deviation *models.DeadlineDeviation, points, maxPoints int) {
	grade := policy.ScaleGrade(points, maxPoints, exercise.Exercise.MaxPoints)
	submission.LatePenaltyApplied = false
	if policy.IsPenalizedLate(exercise.Round, deviation, submission.SubmissionTime) {
		grade = policy.ApplyLatePenalty(grade, policy.LateSubmissionPointWorth(exercise.Round))
		submission.LatePenaltyApplied = true
	}

	gradedAt := s.now()
	submission.Grade = grade
	submission.ServicePoints = points
	submission.ServiceMaxPoints = maxPoints
	submission.Status = models.SubmissionStatusReady
	submission.GradingTime = &gradedAt
}

func (s *submissionService) markError(ctx context.Context, submission *models.Submission, message string) {
	submission.Status = models.SubmissionStatusError
	if message != "" {
		submission.GradingData = datatypes.JSONMap{"error": message}
	}
	if err := s.submissions.Update(ctx, submission); err != nil {
		s.logger.Error().Err(err).Uint("submission_id", submission.ID).Msg("failed to mark submission as error")
	}
}

// pruneExcess removes the oldest submissions beyond the exercise's store limit.
func (s *submissionService) pruneExcess(ctx context.Context, exercise models.LearningObject, userID uint) {
	limit := exercise.SubmissionStoreLimit()
	if limit <= 0 {
		return
	}

	submissions, err := s.submissions.ListForPair(ctx, exercise.ID, userID)
	if err != nil {
		s.logger.Warn().Err(err).Uint("exercise_id", exercise.ID).Msg("failed to list submissions for pruning")
		return
	}

	excess := len(submissions) - limit
	for i := 0; i < excess; i++ {
		old := submissions[i]
		if err := s.submissions.Delete(ctx, old.ID); err != nil {
			s.logger.Warn().Err(err).Uint("submission_id", old.ID).Msg("failed to remove old submission")
			continue
		}
		for _, file := range old.Files {
			if err := s.files.Delete(ctx, file.StorageKey); err != nil {
				s.logger.Warn().Err(err).Str("storage_key", file.StorageKey).Msg("failed to remove stored file")
			}
		}
	}
	if excess > 0 {
		s.logger.Info().Uint("exercise_id", exercise.ID).Uint("user_id", userID).Int("removed", excess).Msg("old submissions removed")
	}
}

func (s *submissionService) refreshGradebook(ctx context.Context, roundID, userID uint) {
	if s.grades == nil {
		return
	}
	if _, err := s.grades.WriteRoundGrades(ctx, roundID, userID, false); err != nil {
		s.logger.Error().Err(err).Uint("round_id", roundID).Uint("user_id", userID).Msg("failed to write round grades")
	}
}

func (s *submissionService) response(ctx context.Context, id uint) (dto.SubmissionResponse, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}
	return dto.NewSubmissionResponse(submission), nil
}

func canView(actor Actor, exercise models.LearningObject, submitterID uint) bool {
	switch {
	case actor.IsStaff():
		return true
	case actor.IsAssistant():
		return exercise.Exercise.AllowAssistantViewing
	default:
		return actor.ID == submitterID
	}
}

func canGrade(actor Actor, exercise models.LearningObject) bool {
	if actor.IsStaff() {
		return true
	}
	return actor.IsAssistant() && exercise.Exercise.AllowAssistantGrading
}

func (s *submissionService) loadSubmission(ctx context.Context, id uint) (models.Submission, models.LearningObject, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, models.LearningObject{}, ErrSubmissionNotFound
		}
		return models.Submission{}, models.LearningObject{}, err
	}
	exercise, err := s.loadExercise(ctx, submission.ExerciseID)
	if err != nil {
		return models.Submission{}, models.LearningObject{}, err
	}
	return submission, exercise, nil
}

func (s *submissionService) Get(ctx context.Context, id uint, actor Actor) (dto.SubmissionResponse, error) {
	submission, exercise, err := s.loadSubmission(ctx, id)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if !canView(actor, exercise, submission.SubmitterID) {
		return dto.SubmissionResponse{}, ErrSubmissionNotFound
	}
	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) List(ctx context.Context, exerciseID uint, actor Actor, filter dto.SubmissionFilter) ([]dto.SubmissionResponse, error) {
	if err := s.validator.Struct(filter); err != nil {
		return nil, err
	}

	exercise, err := s.loadExercise(ctx, exerciseID)
	if err != nil {
		return nil, err
	}

	repoFilter := repository.SubmissionFilter{ExerciseID: exercise.ID, SubmitterID: filter.UserID, Status: filter.Status}
	if !actor.IsStaff() && !(actor.IsAssistant() && exercise.Exercise.AllowAssistantViewing) {
		self := actor.ID
		repoFilter.SubmitterID = &self
	}

	submissions, err := s.submissions.List(ctx, repoFilter)
	if err != nil {
		return nil, err
	}
	return dto.NewSubmissionResponseSlice(submissions), nil
}

// Grade lets staff override the grade and feedback, or reject a graded submission.
func (s *submissionService) Grade(ctx context.Context, id uint, payload dto.SubmissionGradeRequest, actor Actor) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submission.manual_grade", trace.WithAttributes(
		attribute.Int64("submission.id", int64(id)),
		attribute.Int64("submission.actor_id", int64(actor.ID)),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	submission, exercise, err := s.loadSubmission(ctx, id)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if !canGrade(actor, exercise) {
		return dto.SubmissionResponse{}, ErrForbidden
	}

	rejecting := payload.Status != nil && *payload.Status == models.SubmissionStatusRejected
	switch {
	case rejecting:
		if submission.Status != models.SubmissionStatusReady {
			return dto.SubmissionResponse{}, ErrInvalidTransition
		}
		submission.Status = models.SubmissionStatusRejected
		submission.Grade = 0
	case payload.Grade != nil:
		if *payload.Grade > exercise.Exercise.MaxPoints {
			return dto.SubmissionResponse{}, &ValidationError{Field: "grade", Message: fmt.Sprintf("grade exceeds the exercise maximum of %d", exercise.Exercise.MaxPoints)}
		}
		if submission.Status == models.SubmissionStatusRejected {
			return dto.SubmissionResponse{}, ErrInvalidTransition
		}
		submission.Grade = *payload.Grade
		submission.Status = models.SubmissionStatusReady
	case payload.Status != nil && *payload.Status != submission.Status:
		return dto.SubmissionResponse{}, ErrInvalidTransition
	}

	if payload.Feedback != nil {
		submission.Feedback = strings.TrimSpace(*payload.Feedback)
	}
	if payload.AssistantFeedback != nil {
		submission.AssistantFeedback = strings.TrimSpace(*payload.AssistantFeedback)
	}

	gradedAt := s.now()
	graderID := actor.ID
	submission.GraderID = &graderID
	submission.GradingTime = &gradedAt

	if err := s.submissions.Update(ctx, &submission); err != nil {
		span.RecordError(err)
		return dto.SubmissionResponse{}, err
	}

	s.logger.Info().Uint("submission_id", submission.ID).Uint("grader_id", actor.ID).Str("status", submission.Status).Msg("submission graded manually")
	s.refreshGradebook(ctx, exercise.RoundID, submission.SubmitterID)

	return dto.NewSubmissionResponse(submission), nil
}

// Regrade resets the submission and uploads its stored files to the exercise service again.
func (s *submissionService) Regrade(ctx context.Context, id uint, actor Actor) (dto.SubmissionResponse, error) {
	submission, exercise, err := s.loadSubmission(ctx, id)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if !canGrade(actor, exercise) {
		return dto.SubmissionResponse{}, ErrForbidden
	}

	deviation, err := s.deviations.FindDeadline(ctx, exercise.ID, submission.SubmitterID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	submission.Status = models.SubmissionStatusInitialized
	if err := s.submissions.Update(ctx, &submission); err != nil {
		return dto.SubmissionResponse{}, err
	}

	s.logger.Info().Uint("submission_id", submission.ID).Uint("actor_id", actor.ID).Msg("submission regrade requested")

	gradeErr := s.upload(ctx, &submission, exercise, deviation, "")
	s.refreshGradebook(ctx, exercise.RoundID, submission.SubmitterID)
	if gradeErr != nil {
		return dto.SubmissionResponse{}, gradeErr
	}
	return s.response(ctx, submission.ID)
}

// AsyncGrade stores the result the exercise service delivers for a submission graded asynchronously.
func (s *submissionService) AsyncGrade(ctx context.Context, submissionID uint, hash string, payload dto.AsyncGradeRequest) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submission.async_grade", trace.WithAttributes(
		attribute.Int64("submission.id", int64(submissionID)),
	))
	defer span.End()

	submission, exercise, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if !policy.VerifyAsyncHash(s.cfg.SecretKey, submission.SubmitterID, submission.ExerciseID, hash) {
		span.SetStatus(codes.Error, "invalid_hash")
		return dto.SubmissionResponse{}, ErrInvalidHash
	}
	if err := s.validateAsync(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}
	if !acceptsAsyncResult(submission.Status) {
		span.SetStatus(codes.Error, "invalid_transition")
		s.logger.Warn().Uint("submission_id", submission.ID).Str("status", submission.Status).Msg("ignoring grading result for finished submission")
		return dto.SubmissionResponse{}, ErrInvalidTransition
	}

	if err := s.applyAsyncResult(ctx, &submission, exercise, payload); err != nil {
		span.RecordError(err)
		return dto.SubmissionResponse{}, err
	}

	s.refreshGradebook(ctx, exercise.RoundID, submission.SubmitterID)
	return dto.NewSubmissionResponse(submission), nil
}

// acceptsAsyncResult reports whether a grading callback may still change the submission. Graded,
// failed and rejected submissions only change again after a regrade resets them to initialized.
func acceptsAsyncResult(status string) bool {
	return status == models.SubmissionStatusWaiting || status == models.SubmissionStatusInitialized
}

func (s *submissionService) validateAsync(payload dto.AsyncGradeRequest) error {
	if err := s.validator.Struct(payload); err != nil {
		return err
	}
	if !payload.Error && (payload.Points == nil || payload.MaxPoints == nil) {
		return &ValidationError{Field: "points", Message: "points and max_points are required"}
	}
	return nil
}

func (s *submissionService) applyAsyncResult(ctx context.Context, submission *models.Submission, exercise models.LearningObject, payload dto.AsyncGradeRequest) error {
	submission.Feedback = payload.Feedback
	if payload.GradingPayload != nil {
		submission.GradingData = datatypes.JSONMap(payload.GradingPayload)
	}

	if payload.Error {
		submission.Status = models.SubmissionStatusError
		observability.GradingFailures().WithLabelValues("service").Inc()
		return s.submissions.Update(ctx, submission)
	}

	deviation, err := s.deviations.FindDeadline(ctx, exercise.ID, submission.SubmitterID)
	if err != nil {
		return err
	}
	s.applyGrade(submission, exercise, deviation, *payload.Points, *payload.MaxPoints)
	observability.GradingRequests().WithLabelValues("graded").Inc()
	return s.submissions.Update(ctx, submission)
}

// AsyncNew records a submission the exercise service created and graded on its own.
// Submissions that the student was not allowed to make are stored as rejected.
func (s *submissionService) AsyncNew(ctx context.Context, exerciseID, userID uint, hash string, payload dto.AsyncGradeRequest) (dto.SubmissionResponse, error) {
	if !policy.VerifyAsyncHash(s.cfg.SecretKey, userID, exerciseID, hash) {
		return dto.SubmissionResponse{}, ErrInvalidHash
	}
	if err := s.validateAsync(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	exercise, err := s.loadExercise(ctx, exerciseID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	deviations, err := s.loadDeviations(ctx, exercise.ID, userID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	submission := models.Submission{
		ExerciseID:     exercise.ID,
		SubmitterID:    userID,
		SubmissionTime: s.now(),
		Status:         models.SubmissionStatusInitialized,
		SubmissionData: datatypes.JSONMap(payload.SubmissionData),
	}
	allowed := true
	if err := s.record(ctx, &submission, func(counted int) error {
		allowed = policy.IsSubmissionAllowed(exercise, exercise.Round, deviations, counted, false, submission.SubmissionTime).Allowed
		return nil
	}); err != nil {
		return dto.SubmissionResponse{}, err
	}

	if err := s.applyAsyncResult(ctx, &submission, exercise, payload); err != nil {
		return dto.SubmissionResponse{}, err
	}
	if !allowed && submission.Status == models.SubmissionStatusReady {
		submission.Status = models.SubmissionStatusRejected
		submission.Grade = 0
		if err := s.submissions.Update(ctx, &submission); err != nil {
			return dto.SubmissionResponse{}, err
		}
	}

	s.pruneExcess(ctx, exercise, userID)
	s.refreshGradebook(ctx, exercise.RoundID, userID)
	return dto.NewSubmissionResponse(submission), nil
}

// RecheckWaiting marks submissions waiting for an asynchronous result longer than the waiting
// timeout as error so that staff can regrade them.
func (s *submissionService) RecheckWaiting(ctx context.Context) (int, error) {
	if s.cfg.WaitingTimeout <= 0 {
		return 0, nil
	}

	stale, err := s.submissions.ListWaitingBefore(ctx, s.now().Add(-s.cfg.WaitingTimeout))
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, submission := range stale {
		moved, err := s.submissions.TransitionStatus(ctx, submission.ID, models.SubmissionStatusWaiting, models.SubmissionStatusError)
		if err != nil {
			s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("failed to expire waiting submission")
			continue
		}
		if moved {
			marked++
			observability.GradingFailures().WithLabelValues("timeout").Inc()
			s.logger.Warn().Uint("submission_id", submission.ID).Uint("exercise_id", submission.ExerciseID).Msg("asynchronous grading timed out")
		}
	}
	return marked, nil
}
