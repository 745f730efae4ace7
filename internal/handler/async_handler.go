package handler

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/astra-go-api/internal/dto"
	"github.com/noah-isme/astra-go-api/internal/service"
	"github.com/noah-isme/astra-go-api/internal/utils"
)

// AsyncHandler receives grading results posted back by exercise services. Requests are authenticated by
// the hash query parameter instead of a bearer token.
type AsyncHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewAsyncHandler builds the asynchronous grading callback handler.
func NewAsyncHandler(service service.SubmissionService, logger zerolog.Logger) *AsyncHandler {
	return &AsyncHandler{
		service: service,
		logger:  logger.With().Str("component", "async_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *AsyncHandler) Register(router fiber.Router) {
	router.Post("/grade/:submissionId", h.grade)
	router.Post("/new/:exerciseId/:userId", h.create)
}

func (h *AsyncHandler) grade(c *fiber.Ctx) error {
	submissionID, err := parseUintParam(c, "submissionId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	payload, err := parseAsyncPayload(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.AsyncGrade(withRequestContext(c), submissionID, c.Query("hash"), payload)
	if err != nil {
		return respondError(c, *requestLogger(h.logger, c), err)
	}

	return utils.SendSuccess(c, "grade stored", submission)
}

func (h *AsyncHandler) create(c *fiber.Ctx) error {
	exerciseID, err := parseUintParam(c, "exerciseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	userID, err := parseUintParam(c, "userId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	payload, err := parseAsyncPayload(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.AsyncNew(withRequestContext(c), exerciseID, userID, c.Query("hash"), payload)
	if err != nil {
		return respondError(c, *requestLogger(h.logger, c), err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission stored", submission)
}

// parseAsyncPayload accepts JSON bodies and the form posts most exercise services send.
func parseAsyncPayload(c *fiber.Ctx) (dto.AsyncGradeRequest, error) {
	var payload dto.AsyncGradeRequest
	if strings.Contains(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEApplicationJSON) {
		if err := c.BodyParser(&payload); err != nil {
			return payload, fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		return payload, nil
	}

	var err error
	if payload.Points, err = formInt(c, "points"); err != nil {
		return payload, err
	}
	if payload.MaxPoints, err = formInt(c, "max_points"); err != nil {
		return payload, err
	}
	payload.Feedback = c.FormValue("feedback")
	if value := strings.TrimSpace(c.FormValue("error")); value != "" {
		payload.Error, _ = strconv.ParseBool(value)
	}
	if raw := strings.TrimSpace(c.FormValue("grading_payload")); raw != "" {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			data = map[string]interface{}{"raw": raw}
		}
		payload.GradingPayload = data
	}
	if raw := strings.TrimSpace(c.FormValue("submission_data")); raw != "" {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &data); err == nil {
			payload.SubmissionData = data
		}
	}
	return payload, nil
}

func formInt(c *fiber.Ctx, key string) (*int, error) {
	value := strings.TrimSpace(c.FormValue(key))
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid "+key)
	}
	result := int(math.Round(parsed))
	return &result, nil
}
