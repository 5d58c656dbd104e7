package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/service"
)

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}

// parseUintParam reads a positive entity id from the route.
func parseUintParam(c *fiber.Ctx, name string) (uint, error) {
	parsed, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || parsed == 0 {
		return 0, errors.New("invalid identifier")
	}
	return uint(parsed), nil
}

func userIDFromContext(c *fiber.Ctx) uint {
	switch id := c.Locals("user_id").(type) {
	case uint:
		return id
	case int:
		if id > 0 {
			return uint(id)
		}
	}
	return 0
}

// activityActorFromContext builds the caller of a workflow. The system role is reserved for
// scheduled work and never granted to HTTP callers.
func activityActorFromContext(c *fiber.Ctx) service.ActivityActor {
	role := middleware.CurrentRole(c)
	if role == service.RoleSystem {
		role = ""
	}
	return service.ActivityActor{ID: userIDFromContext(c), Role: role}
}

// requestLogger tags log lines with the request correlation id and the calling user.
func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	if c == nil {
		return &base
	}
	ctx := base.With()
	if correlation := middleware.GetCorrelationID(c); correlation != "" {
		ctx = ctx.Str("correlation_id", correlation)
	}
	if id := userIDFromContext(c); id != 0 {
		ctx = ctx.Uint("user_id", id)
	}
	logger := ctx.Logger()
	return &logger
}

// rejectedField returns the request field a validation failure refers to.
func rejectedField(err error) (string, bool) {
	var fieldErr *service.ValidationError
	if errors.As(err, &fieldErr) {
		return fieldErr.Field, true
	}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		if len(validationErrors) == 0 {
			return "", true
		}
		return toSnake(validationErrors[0].Field()), true
	}
	return "", errors.Is(err, service.ErrValidation)
}

func toSnake(name string) string {
	var b strings.Builder
	prevUpper := true
	for _, r := range name {
		upper := r >= 'A' && r <= 'Z'
		if upper {
			if !prevUpper {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		prevUpper = upper
		b.WriteRune(r)
	}
	return b.String()
}
