package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/astra-go-api/internal/dto"
	"github.com/noah-isme/astra-go-api/internal/service"
	"github.com/noah-isme/astra-go-api/internal/utils"
)

// DeviationHandler lets staff grant and revoke per-student deadline and submission limit exceptions.
type DeviationHandler struct {
	service service.DeviationService
	logger  zerolog.Logger
}

// NewDeviationHandler builds a deviation handler.
func NewDeviationHandler(service service.DeviationService, logger zerolog.Logger) *DeviationHandler {
	return &DeviationHandler{
		service: service,
		logger:  logger.With().Str("component", "deviation_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group behind the staffOnly guard.
func (h *DeviationHandler) Register(router fiber.Router, staffOnly fiber.Handler) {
	router.Get("/exercises/:id/deviations/deadline", staffOnly, h.listDeadlines)
	router.Post("/exercises/:id/deviations/deadline", staffOnly, h.grantDeadline)
	router.Delete("/exercises/:id/deviations/deadline", staffOnly, h.revokeDeadline)
	router.Get("/exercises/:id/deviations/limit", staffOnly, h.listLimits)
	router.Post("/exercises/:id/deviations/limit", staffOnly, h.grantLimit)
	router.Delete("/exercises/:id/deviations/limit", staffOnly, h.revokeLimit)
}

func (h *DeviationHandler) listDeadlines(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	deviations, err := h.service.ListDeadlines(withRequestContext(c), exerciseID)
	if err != nil {
		return respondError(c, *requestLogger(h.logger, c), err)
	}
	return utils.SendSuccess(c, "deadline deviations retrieved", deviations)
}

func (h *DeviationHandler) grantDeadline(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.DeadlineDeviationRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	deviation, err := h.service.GrantDeadline(withRequestContext(c), exerciseID, payload)
	if err != nil {
		return respondError(c, *requestLogger(h.logger, c), err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "deadline deviation granted", deviation)
}

func (h *DeviationHandler) revokeDeadline(c *fiber.Ctx) error {
	exerciseID, userID, err := parseDeviationTarget(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.RevokeDeadline(withRequestContext(c), exerciseID, userID); err != nil {
		return respondError(c, *requestLogger(h.logger, c), err)
	}
	return utils.SendSuccess(c, "deadline deviation revoked", nil)
}

func (h *DeviationHandler) listLimits(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	deviations, err := h.service.ListLimits(withRequestContext(c), exerciseID)
	if err != nil {
		return respondError(c, *requestLogger(h.logger, c), err)
	}
	return utils.SendSuccess(c, "submission limit deviations retrieved", deviations)
}

func (h *DeviationHandler) grantLimit(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.SubmissionLimitDeviationRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	deviation, err := h.service.GrantLimit(withRequestContext(c), exerciseID, payload)
	if err != nil {
		return respondError(c, *requestLogger(h.logger, c), err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission limit deviation granted", deviation)
}

func (h *DeviationHandler) revokeLimit(c *fiber.Ctx) error {
	exerciseID, userID, err := parseDeviationTarget(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.RevokeLimit(withRequestContext(c), exerciseID, userID); err != nil {
		return respondError(c, *requestLogger(h.logger, c), err)
	}
	return utils.SendSuccess(c, "submission limit deviation revoked", nil)
}

func parseDeviationTarget(c *fiber.Ctx) (uint, uint, error) {
	exerciseID, err := parseUintParam(c, "id")
	if err != nil {
		return 0, 0, err
	}
	var query dto.DeviationDeleteRequest
	if err := c.QueryParser(&query); err != nil || query.UserID == 0 {
		return 0, 0, errInvalidUserID
	}
	return exerciseID, query.UserID, nil
}
