package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/astra-go-api/internal/dto"
	"github.com/noah-isme/astra-go-api/internal/service"
	"github.com/noah-isme/astra-go-api/internal/utils"
)

// GradeHandler exposes round and exercise grades and the gradebook sync.
type GradeHandler struct {
	service service.GradeService
	logger  zerolog.Logger
}

// NewGradeHandler builds a grade handler.
func NewGradeHandler(service service.GradeService, logger zerolog.Logger) *GradeHandler {
	return &GradeHandler{
		service: service,
		logger:  logger.With().Str("component", "grade_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group. The gradebook sync is guarded by staffOnly.
func (h *GradeHandler) Register(router fiber.Router, staffOnly fiber.Handler) {
	router.Post("/rounds/:id/grades/sync", staffOnly, h.sync)
	router.Get("/rounds/:id/grades/:userId", h.roundGrade)
	router.Get("/exercises/:id/grades/:userId", h.exerciseGrade)
}

// gradeSubject resolves the student whose grades are read. Students may only read their own.
func gradeSubject(c *fiber.Ctx) (uint, error) {
	userID, err := parseUintParam(c, "userId")
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	actor := actorFromContext(c)
	if !actor.IsStaff() && !actor.IsAssistant() && actor.ID != userID {
		return 0, fiber.NewError(fiber.StatusForbidden, "insufficient permissions")
	}
	return userID, nil
}

func sendFiberError(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return utils.SendError(c, fiberErr.Code, fiberErr.Message)
	}
	return utils.SendError(c, fiber.StatusBadRequest, err.Error())
}

func (h *GradeHandler) roundGrade(c *fiber.Ctx) error {
	roundID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	userID, err := gradeSubject(c)
	if err != nil {
		return sendFiberError(c, err)
	}

	grade, err := h.service.RoundGrade(withRequestContext(c), roundID, userID)
	if err != nil {
		return respondError(c, *requestLogger(h.logger, c), err)
	}
	return utils.SendSuccess(c, "round grade retrieved", grade)
}

func (h *GradeHandler) exerciseGrade(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	userID, err := gradeSubject(c)
	if err != nil {
		return sendFiberError(c, err)
	}

	grade, err := h.service.ExerciseGrade(withRequestContext(c), exerciseID, userID)
	if err != nil {
		return respondError(c, *requestLogger(h.logger, c), err)
	}
	return utils.SendSuccess(c, "exercise grade retrieved", grade)
}

func (h *GradeHandler) sync(c *fiber.Ctx) error {
	roundID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.GradeSyncRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	ctx := withRequestContext(c)
	maxPoints, err := h.service.UpdateRoundMaxPoints(ctx, roundID)
	if err != nil {
		return respondError(c, *requestLogger(h.logger, c), err)
	}
	pushed, err := h.service.WriteRoundGrades(ctx, roundID, payload.UserID, payload.NullIfNone)
	if err != nil {
		return respondError(c, *requestLogger(h.logger, c), err)
	}

	return utils.SendSuccess(c, "round grades synchronized", dto.GradeSyncResponse{
		RoundID:   roundID,
		Pushed:    pushed,
		MaxPoints: maxPoints,
	})
}
