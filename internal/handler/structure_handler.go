package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/astra-go-api/internal/service"
	"github.com/noah-isme/astra-go-api/internal/utils"
)

// StructureHandler imports course structure snapshots.
type StructureHandler struct {
	service service.StructureService
	logger  zerolog.Logger
}

// NewStructureHandler builds a structure sync handler.
func NewStructureHandler(service service.StructureService, logger zerolog.Logger) *StructureHandler {
	return &StructureHandler{
		service: service,
		logger:  logger.With().Str("component", "structure_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group behind the staffOnly guard.
func (h *StructureHandler) Register(router fiber.Router, staffOnly fiber.Handler) {
	router.Post("/courses/:courseId/sync", staffOnly, h.sync)
}

func (h *StructureHandler) sync(c *fiber.Ctx) error {
	courseID, err := parseUintParam(c, "courseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	if len(c.Body()) == 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "request body is empty")
	}

	report, err := h.service.Sync(withRequestContext(c), courseID, c.Get(fiber.HeaderContentType), c.Body())
	if err != nil {
		return respondError(c, *requestLogger(h.logger, c), err)
	}

	message := "structure synchronized"
	if len(report.Errors) > 0 {
		message = "structure synchronized with errors"
	}
	return utils.SendSuccess(c, message, report)
}
