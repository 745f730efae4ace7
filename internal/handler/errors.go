package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/astra-go-api/internal/service"
	"github.com/noah-isme/astra-go-api/internal/utils"
	"github.com/noah-isme/astra-go-api/pkg/exerciseservice"
)

// quotaResponse is returned when a submission is refused; Reason tells limit, deadline and not_open apart.
type quotaResponse struct {
	Reason string `json:"reason"`
}

// respondError maps service errors to HTTP responses. Unknown errors are logged and hidden.
func respondError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	var (
		validationErrors validator.ValidationErrors
		validationErr    *service.ValidationError
		quotaErr         *service.QuotaError
		consistencyErr   *service.ConsistencyError
		connectionErr    *exerciseservice.ConnectionError
		serviceErr       *exerciseservice.ServiceError
	)

	switch {
	case errors.Is(err, service.ErrExerciseNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "exercise not found")
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrRoundNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "exercise round not found")
	case errors.Is(err, service.ErrDeviationNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "deviation not found")
	case errors.Is(err, service.ErrInvalidHash):
		return utils.SendError(c, fiber.StatusForbidden, "invalid hash")
	case errors.Is(err, service.ErrForbidden):
		return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
	case errors.Is(err, service.ErrInvalidTransition):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrLockBusy):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	case errors.As(err, &validationErr):
		return utils.SendError(c, fiber.StatusBadRequest, validationErr.Error())
	case errors.As(err, &quotaErr):
		return utils.Fail(c, fiber.StatusForbidden, quotaErr.Error(), quotaResponse{Reason: quotaErr.Reason})
	case errors.As(err, &consistencyErr):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, consistencyErr.Error())
	case errors.As(err, &connectionErr):
		logger.Warn().Err(err).Msg("exercise service unavailable")
		return utils.SendError(c, fiber.StatusServiceUnavailable, "exercise service unavailable")
	case errors.As(err, &serviceErr):
		logger.Warn().Err(err).Msg("exercise service error")
		return utils.SendError(c, fiber.StatusBadGateway, serviceErr.Error())
	default:
		logger.Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
