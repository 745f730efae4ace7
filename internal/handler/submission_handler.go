package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/astra-go-api/internal/dto"
	"github.com/noah-isme/astra-go-api/internal/service"
	"github.com/noah-isme/astra-go-api/internal/utils"
)

// SubmissionHandler manages submission endpoints.
type SubmissionHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance.
func NewSubmissionHandler(service service.SubmissionService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
		logger:  logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *SubmissionHandler) Register(router fiber.Router) {
	router.Post("/exercises/:id/submissions", h.create)
	router.Get("/exercises/:id/submissions", h.list)
	router.Get("/submissions/:id", h.get)
	router.Patch("/submissions/:id", h.grade)
	router.Post("/submissions/:id/regrade", h.regrade)
}

func (h *SubmissionHandler) create(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	form, err := c.MultipartForm()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "multipart form expected")
	}

	payload := dto.SubmissionCreateRequest{Language: c.FormValue("__lang", c.Query("lang"))}
	submission, err := h.service.Submit(withRequestContext(c), exerciseID, actorFromContext(c), payload, form)
	if err != nil {
		return respondError(c, *requestLogger(h.logger, c), err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission created", submission)
}

func (h *SubmissionHandler) list(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	filter := dto.SubmissionFilter{}
	userID, err := parseQueryUint(c, "user_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid user_id")
	}
	filter.UserID = userID
	if status := c.Query("status"); status != "" {
		filter.Status = &status
	}

	submissions, err := h.service.List(withRequestContext(c), exerciseID, actorFromContext(c), filter)
	if err != nil {
		return respondError(c, *requestLogger(h.logger, c), err)
	}

	return utils.OK(c, submissions, "submissions retrieved", fiber.Map{"count": len(submissions)})
}

func (h *SubmissionHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Get(withRequestContext(c), id, actorFromContext(c))
	if err != nil {
		return respondError(c, *requestLogger(h.logger, c), err)
	}

	return utils.SendSuccess(c, "submission retrieved", submission)
}

func (h *SubmissionHandler) grade(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.SubmissionGradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	submission, err := h.service.Grade(withRequestContext(c), id, payload, actorFromContext(c))
	if err != nil {
		return respondError(c, *requestLogger(h.logger, c), err)
	}

	return utils.SendSuccess(c, "submission graded", submission)
}

func (h *SubmissionHandler) regrade(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Regrade(withRequestContext(c), id, actorFromContext(c))
	if err != nil {
		return respondError(c, *requestLogger(h.logger, c), err)
	}

	return utils.SendSuccess(c, "submission regraded", submission)
}
