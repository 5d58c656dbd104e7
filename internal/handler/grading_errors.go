package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// sendServiceError maps service errors onto HTTP statuses. Anything unknown is logged and
// reported as failed with the given message.
func sendServiceError(c *fiber.Ctx, logger zerolog.Logger, err error, failure string) error {
	if field, ok := rejectedField(err); ok {
		return utils.SendFieldError(c, fiber.StatusBadRequest, field, err.Error())
	}

	switch {
	case errors.Is(err, service.ErrNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrForbidden):
		return utils.SendError(c, fiber.StatusForbidden, strings.TrimPrefix(err.Error(), service.ErrForbidden.Error()+": "))
	case errors.Is(err, service.ErrInvalidBranch):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrLockLimitExceeded):
		return utils.SendError(c, fiber.StatusBadRequest, "lock limit exceeded")
	default:
		requestLogger(logger, c).Error().Err(err).Str("path", c.Path()).Msg(failure)
		return utils.SendError(c, fiber.StatusInternalServerError, failure)
	}
}

func parseCorrectionRound(c *fiber.Ctx) (int, error) {
	round, err := parseQueryInt(c, "correction-round")
	if err != nil || round < 0 {
		return 0, errors.New("invalid correction round")
	}
	return round, nil
}

func parseQueryBool(c *fiber.Ctx, key string, fallback bool) (bool, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return fallback, nil
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, errors.New("invalid boolean")
}
