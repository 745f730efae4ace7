package service

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/astra-go-api/internal/dto"
	"github.com/noah-isme/astra-go-api/internal/models"
	"github.com/noah-isme/astra-go-api/internal/observability"
	"github.com/noah-isme/astra-go-api/internal/policy"
	"github.com/noah-isme/astra-go-api/internal/repository"
)

//go:embed schema/round_sync.schema.json
var roundSyncSchema []byte

const roundSyncSchemaURL = "round_sync.schema.json"

// ErrMalformedStructure indicates a sync payload that could not be decoded.
var ErrMalformedStructure = errors.New("malformed structure payload")

// StructureService imports course structure snapshots, one round at a time.
type StructureService interface {
	Sync(ctx context.Context, courseID uint, contentType string, body []byte) (dto.StructureSyncReport, error)
}

type structureService struct {
	courses   repository.CourseRepository
	rounds    repository.RoundRepository
	objects   repository.LearningObjectRepository
	counter   repository.SubmissionRepository
	grades    GradeService
	calendar  CalendarService
	validator *validator.Validate
	schema    *jsonschema.Schema
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// StructureDependencies groups the collaborators of the structure synchronizer.
type StructureDependencies struct {
	Courses     repository.CourseRepository
	Rounds      repository.RoundRepository
	Objects     repository.LearningObjectRepository
	Submissions repository.SubmissionRepository
	Grades      GradeService
	Calendar    CalendarService
}

// NewStructureService constructs the synchronizer and compiles the payload schema.
func NewStructureService(deps StructureDependencies, validate *validator.Validate, logger zerolog.Logger) (StructureService, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(roundSyncSchemaURL, bytes.NewReader(roundSyncSchema)); err != nil {
		return nil, fmt.Errorf("load sync schema: %w", err)
	}
	schema, err := compiler.Compile(roundSyncSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile sync schema: %w", err)
	}

	return &structureService{
		courses:   deps.Courses,
		rounds:    deps.Rounds,
		objects:   deps.Objects,
		counter:   deps.Submissions,
		grades:    deps.Grades,
		calendar:  deps.Calendar,
		validator: validate,
		schema:    schema,
		logger:    logger.With().Str("component", "structure_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/astra-go-api/internal/service/structure"),
	}, nil
}

func (s *structureService) decode(contentType string, body []byte) (dto.StructureSyncRequest, error) {
	var request dto.StructureSyncRequest
	if strings.Contains(strings.ToLower(contentType), "xml") {
		if err := xml.Unmarshal(body, &request); err != nil {
			return request, &ValidationError{Field: "body", Message: fmt.Sprintf("%s: %v", ErrMalformedStructure, err)}
		}
		return request, nil
	}

	var document interface{}
	if err := json.Unmarshal(body, &document); err != nil {
		return request, &ValidationError{Field: "body", Message: fmt.Sprintf("%s: %v", ErrMalformedStructure, err)}
	}
	if err := s.schema.Validate(document); err != nil {
		return request, &ValidationError{Field: "body", Message: err.Error()}
	}
	if err := json.Unmarshal(body, &request); err != nil {
		return request, &ValidationError{Field: "body", Message: fmt.Sprintf("%s: %v", ErrMalformedStructure, err)}
	}
	return request, nil
}

// syncRun carries the state of one synchronization.
type syncRun struct {
	courseID   uint
	report     dto.StructureSyncReport
	categories map[string]uint
	arena      map[string]uint
	links      []pendingLink
	seen       map[uint]bool
	// movedFrom holds rounds that lost learning objects to the synchronized round.
	movedFrom map[uint]bool
}

type pendingLink struct {
	objectID  uint
	remoteKey string
	parentKey string
}

func (r *syncRun) fail(err error) {
	r.report.Errors = append(r.report.Errors, err.Error())
	observability.SyncOperations().WithLabelValues("failed").Inc()
}

func (s *structureService) Sync(ctx context.Context, courseID uint, contentType string, body []byte) (dto.StructureSyncReport, error) {
	ctx, span := s.tracer.Start(ctx, "structure.sync", trace.WithAttributes(
		attribute.Int64("structure.course_id", int64(courseID)),
	))
	defer span.End()

	request, err := s.decode(contentType, body)
	if err != nil {
		span.SetStatus(codes.Error, "malformed")
		return dto.StructureSyncReport{}, err
	}
	if err := s.validator.Struct(request); err != nil {
		return dto.StructureSyncReport{}, err
	}

	run := &syncRun{
		courseID:   courseID,
		categories: make(map[string]uint),
		arena:      make(map[string]uint),
		seen:       make(map[uint]bool),
		movedFrom:  make(map[uint]bool),
	}

	config, err := s.ensureCourseConfig(ctx, courseID, request.CourseSetting)
	if err != nil {
		return dto.StructureSyncReport{}, err
	}

	for _, category := range request.Categories {
		if _, err := s.ensureCategory(ctx, run, category); err != nil {
			return dto.StructureSyncReport{}, err
		}
	}

	round, err := s.upsertRound(ctx, run, request.Round, config.ModuleNumbering)
	if err != nil {
		span.RecordError(err)
		return dto.StructureSyncReport{}, err
	}
	run.report.RoundID = round.ID
	span.SetAttributes(attribute.Int64("structure.round_id", int64(round.ID)))

	for _, payload := range request.LearningObjects {
		if err := s.upsertLearningObject(ctx, run, round, payload); err != nil {
			var consistency *ConsistencyError
			if errors.As(err, &consistency) {
				s.logger.Warn().Err(err).Uint("round_id", round.ID).Msg("learning object skipped")
				run.fail(err)
				continue
			}
			return dto.StructureSyncReport{}, err
		}
	}

	if err := s.resolveParents(ctx, run); err != nil {
		return dto.StructureSyncReport{}, err
	}

	if err := s.hideOrDeleteUnseen(ctx, run, round); err != nil {
		return dto.StructureSyncReport{}, err
	}

	s.finish(ctx, run, round)

	observability.SyncOperations().WithLabelValues("created").Add(float64(run.report.Created))
	observability.SyncOperations().WithLabelValues("updated").Add(float64(run.report.Updated))
	observability.SyncOperations().WithLabelValues("hidden").Add(float64(run.report.Hidden))
	observability.SyncOperations().WithLabelValues("deleted").Add(float64(run.report.Deleted))

	s.logger.Info().
		Uint("course_id", courseID).
		Uint("round_id", round.ID).
		Int("created", run.report.Created).
		Int("updated", run.report.Updated).
		Int("hidden", run.report.Hidden).
		Int("deleted", run.report.Deleted).
		Int("errors", len(run.report.Errors)).
		Msg("structure synchronized")

	return run.report, nil
}

// ensureCourseConfig creates the course configuration on first sync and never overwrites it afterwards.
func (s *structureService) ensureCourseConfig(ctx context.Context, courseID uint, setting *dto.CourseSettingPayload) (models.CourseConfig, error) {
	config, err := s.courses.GetConfig(ctx, courseID)
	if err == nil {
		return config, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.CourseConfig{}, err
	}
	if setting == nil {
		return models.CourseConfig{CourseID: courseID, ModuleNumbering: models.NumberingArabic}, nil
	}

	config = models.CourseConfig{
		CourseID:        courseID,
		APIKey:          setting.APIKey,
		ConfigURL:       setting.ConfigURL,
		Languages:       setting.Languages,
		ModuleNumbering: setting.ModuleNumbering,
	}
	if config.ModuleNumbering == "" {
		config.ModuleNumbering = models.NumberingArabic
	}
	if err := s.courses.CreateConfig(ctx, &config); err != nil {
		return models.CourseConfig{}, err
	}
	return config, nil
}

// ensureCategory finds the category by name or creates it. Existing categories are left untouched.
func (s *structureService) ensureCategory(ctx context.Context, run *syncRun, payload dto.CategoryPayload) (uint, error) {
	if id, ok := run.categories[payload.Name]; ok {
		return id, nil
	}

	category, err := s.courses.FindCategory(ctx, run.courseID, payload.Name)
	if err == nil {
		run.categories[payload.Name] = category.ID
		return category.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}

	category = models.Category{
		CourseID:     run.courseID,
		Name:         payload.Name,
		Status:       statusOrReady(payload.Status),
		PointsToPass: payload.PointsToPass,
	}
	if err := s.courses.CreateCategory(ctx, &category); err != nil {
		return 0, err
	}
	run.categories[payload.Name] = category.ID
	return category.ID, nil
}

func statusOrReady(status string) string {
	if status == "" {
		return models.StatusReady
	}
	return status
}

func (s *structureService) upsertRound(ctx context.Context, run *syncRun, payload dto.RoundPayload, numbering string) (models.ExerciseRound, error) {
	existing, err := s.rounds.ListByRemoteKey(ctx, run.courseID, payload.RemoteKey)
	if err != nil {
		return models.ExerciseRound{}, err
	}
	if len(existing) > 1 {
		warning := fmt.Sprintf("%d rounds share remote key %s; updating the oldest", len(existing), payload.RemoteKey)
		s.logger.Warn().Uint("course_id", run.courseID).Str("remote_key", payload.RemoteKey).Int("rounds", len(existing)).Msg("duplicate round remote key")
		run.report.Warnings = append(run.report.Warnings, warning)
	}

	var round models.ExerciseRound
	if len(existing) > 0 {
		round = existing[0]
	}
	round.CourseID = run.courseID
	round.RemoteKey = payload.RemoteKey
	round.Name = policy.UpdateNameWithOrder(payload.Name, payload.Ordinal, numbering)
	round.Introduction = payload.Introduction
	round.Status = statusOrReady(payload.Status)
	round.Ordinal = payload.Ordinal
	round.OpeningTime = payload.OpeningTime
	round.ClosingTime = payload.ClosingTime
	round.LateSubmissionAllowed = payload.LateSubmissionAllowed
	round.LateSubmissionDeadline = payload.LateSubmissionDeadline
	round.LateSubmissionPenalty = payload.LateSubmissionPenalty
	round.PointsToPass = payload.PointsToPass

	if round.ID == 0 {
		if err := s.rounds.Create(ctx, &round); err != nil {
			return models.ExerciseRound{}, err
		}
		run.report.Created++
		return round, nil
	}
	if err := s.rounds.Update(ctx, &round); err != nil {
		return models.ExerciseRound{}, err
	}
	run.report.Updated++
	return round, nil
}

func (s *structureService) upsertLearningObject(ctx context.Context, run *syncRun, round models.ExerciseRound, payload dto.LearningObjectPayload) error {
	if _, dup := run.arena[payload.RemoteKey]; dup {
		return &ConsistencyError{RemoteKey: payload.RemoteKey, Message: "appears more than once in the payload"}
	}
	if payload.ParentRemoteKey == payload.RemoteKey {
		return &ConsistencyError{RemoteKey: payload.RemoteKey, Message: "is its own parent"}
	}

	categoryID, err := s.ensureCategory(ctx, run, dto.CategoryPayload{Name: payload.Category})
	if err != nil {
		return err
	}

	object, err := s.objects.FindByRemoteKey(ctx, run.courseID, payload.RemoteKey)
	created := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !created {
		return err
	}
	if !created && object.Kind != payload.Kind {
		return &ConsistencyError{RemoteKey: payload.RemoteKey, Message: fmt.Sprintf("cannot change kind from %s to %s", object.Kind, payload.Kind)}
	}

	if !created && object.RoundID != round.ID {
		run.movedFrom[object.RoundID] = true
	}
	object.RoundID = round.ID
	object.CategoryID = categoryID
	object.Kind = payload.Kind
	object.RemoteKey = payload.RemoteKey
	object.Name = payload.Name
	object.ServiceURL = payload.ServiceURL
	object.Ordinal = payload.Ordinal
	object.Status = statusOrReady(payload.Status)
	switch payload.Kind {
	case models.KindExercise:
		object.Exercise = models.ExerciseSettings{
			MaxPoints:             payload.MaxPoints,
			PointsToPass:          payload.PointsToPass,
			MaxSubmissions:        payload.MaxSubmissions,
			MaxSubmissionFileSize: payload.MaxSubmissionFileSize,
			AllowAssistantViewing: payload.AllowAssistantViewing,
			AllowAssistantGrading: payload.AllowAssistantGrading,
		}
	case models.KindChapter:
		object.Chapter = models.ChapterSettings{
			ContentURL:   payload.ContentURL,
			GeneratesTOC: payload.GeneratesTOC,
		}
	}

	if created {
		object.ParentID = nil
		if err := s.objects.Create(ctx, &object); err != nil {
			return &ConsistencyError{RemoteKey: payload.RemoteKey, Message: err.Error()}
		}
		run.report.Created++
	} else {
		if err := s.objects.Update(ctx, &object); err != nil {
			return &ConsistencyError{RemoteKey: payload.RemoteKey, Message: err.Error()}
		}
		run.report.Updated++
	}

	run.arena[payload.RemoteKey] = object.ID
	run.seen[object.ID] = true
	run.links = append(run.links, pendingLink{objectID: object.ID, remoteKey: payload.RemoteKey, parentKey: payload.ParentRemoteKey})
	return nil
}

// resolveParents patches parent links once every object of the payload is stored. Parents are looked
// up among the objects of this payload only; anything else is reported and the link cleared.
func (s *structureService) resolveParents(ctx context.Context, run *syncRun) error {
	parents := make(map[uint]uint, len(run.links))
	for _, link := range run.links {
		if link.parentKey == "" {
			if err := s.objects.SetParent(ctx, link.objectID, nil); err != nil {
				return err
			}
			continue
		}

		parentID, ok := run.arena[link.parentKey]
		if !ok {
			s.unlink(ctx, run, link, "parent "+link.parentKey+" not found in the round")
			continue
		}
		if createsCycle(parents, link.objectID, parentID) {
			s.unlink(ctx, run, link, "parent "+link.parentKey+" creates a cycle")
			continue
		}

		parents[link.objectID] = parentID
		id := parentID
		if err := s.objects.SetParent(ctx, link.objectID, &id); err != nil {
			return err
		}
	}
	return nil
}

func (s *structureService) unlink(ctx context.Context, run *syncRun, link pendingLink, message string) {
	run.fail(&ConsistencyError{RemoteKey: link.remoteKey, Message: message})
	if err := s.objects.SetParent(ctx, link.objectID, nil); err != nil {
		s.logger.Error().Err(err).Uint("object_id", link.objectID).Msg("failed to clear parent link")
	}
}

func createsCycle(parents map[uint]uint, objectID, parentID uint) bool {
	current := parentID
	for steps := 0; steps <= len(parents); steps++ {
		if current == objectID {
			return true
		}
		next, ok := parents[current]
		if !ok {
			return false
		}
		current = next
	}
	return true
}

// hideOrDeleteUnseen removes objects of the round missing from the payload. Objects whose subtree has
// submissions are hidden instead; their descendants are left as they are.
func (s *structureService) hideOrDeleteUnseen(ctx context.Context, run *syncRun, round models.ExerciseRound) error {
	objects, err := s.objects.ListByRound(ctx, round.ID)
	if err != nil {
		return err
	}

	children := make(map[uint][]uint)
	byID := make(map[uint]models.LearningObject, len(objects))
	for _, object := range objects {
		byID[object.ID] = object
		if object.ParentID != nil {
			children[*object.ParentID] = append(children[*object.ParentID], object.ID)
		}
	}

	var unseen []models.LearningObject
	for _, object := range objects {
		if !run.seen[object.ID] {
			unseen = append(unseen, object)
		}
	}
	depth := func(object models.LearningObject) int {
		d := 0
		for current := object; current.ParentID != nil && d <= len(objects); d++ {
			parent, ok := byID[*current.ParentID]
			if !ok {
				break
			}
			current = parent
		}
		return d
	}
	sort.SliceStable(unseen, func(i, j int) bool { return depth(unseen[i]) > depth(unseen[j]) })

	deleted := make(map[uint]bool)
	for _, object := range unseen {
		subtree := collectSubtree(object.ID, children, deleted)
		count, err := s.counter.CountForExercises(ctx, subtree)
		if err != nil {
			return err
		}

		if count == 0 {
			if err := s.objects.Delete(ctx, object.ID); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			deleted[object.ID] = true
			run.report.Deleted++
			continue
		}

		if object.IsHidden() {
			continue
		}
		object.Status = models.StatusHidden
		object.Round = models.ExerciseRound{}
		object.Category = models.Category{}
		if err := s.objects.Update(ctx, &object); err != nil {
			return err
		}
		run.report.Hidden++
	}
	return nil
}

func collectSubtree(rootID uint, children map[uint][]uint, deleted map[uint]bool) []uint {
	ids := []uint{rootID}
	stack := []uint{rootID}
	visited := map[uint]bool{rootID: true}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, child := range children[current] {
			if visited[child] || deleted[child] {
				continue
			}
			visited[child] = true
			ids = append(ids, child)
			stack = append(stack, child)
		}
	}
	return ids
}

// finish refreshes derived state: max points and grade items and round grades of the synchronized round
// and of rounds that lost objects to it, then the deadline event.
func (s *structureService) finish(ctx context.Context, run *syncRun, round models.ExerciseRound) {
	if s.grades != nil {
		maxPoints, err := s.grades.UpdateRoundMaxPoints(ctx, round.ID)
		if err != nil {
			s.warn(run, "grade item update failed", err)
		}
		run.report.MaxPoints = maxPoints

		if _, err := s.grades.WriteRoundGrades(ctx, round.ID, 0, false); err != nil {
			s.warn(run, "round grade update failed", err)
		}
		for roundID := range run.movedFrom {
			if _, err := s.grades.UpdateRoundMaxPoints(ctx, roundID); err != nil {
				s.warn(run, "previous round grade item update failed", err)
			}
			if _, err := s.grades.WriteRoundGrades(ctx, roundID, 0, false); err != nil {
				s.warn(run, "previous round grade update failed", err)
			}
		}
	}
	if s.calendar != nil {
		if err := s.calendar.UpdateRoundDeadline(ctx, round); err != nil {
			s.warn(run, "deadline event update failed", err)
		}
	}
}

func (s *structureService) warn(run *syncRun, message string, err error) {
	s.logger.Error().Err(err).Uint("round_id", run.report.RoundID).Msg(message)
	run.report.Warnings = append(run.report.Warnings, fmt.Sprintf("%s: %v", message, err))
}
