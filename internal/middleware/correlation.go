package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Header names carrying a correlation id. Build agents send BuildIDHeader so the result,
// its audit entries and its live event share the id of the build that produced them.
const (
	CorrelationHeader = "X-Correlation-ID"
	BuildIDHeader     = "X-Build-ID"
)

const correlationLocal = "correlation_id"

var correlationSources = []string{CorrelationHeader, "X-Request-ID", BuildIDHeader}

type correlationKey struct{}

// CorrelationID tags every request with an id, reusing one supplied by the caller.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := ""
		for _, header := range correlationSources {
			if id = strings.TrimSpace(c.Get(header)); id != "" {
				break
			}
		}
		if id == "" {
			id = uuid.NewString()
		}

		c.Locals(correlationLocal, id)
		c.Set(CorrelationHeader, id)
		c.SetUserContext(ContextWithCorrelation(c.UserContext(), id))
		return c.Next()
	}
}

// BuildID names a build of one commit, e.g. "sort-alice@abc123".
func BuildID(repository, commit string) string {
	if commit == "" {
		return repository
	}
	return repository + "@" + commit
}

// CorrelationIDFromContext returns the id bound by CorrelationID or ContextWithCorrelation.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// GetCorrelationID returns the id of the active request.
func GetCorrelationID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if id, ok := c.Locals(correlationLocal).(string); ok {
		return id
	}
	return CorrelationIDFromContext(c.UserContext())
}

// ContextWithCorrelation binds id to ctx. Work started outside a request, such as a
// scheduled lifecycle task, uses it so its audit entries can be traced.
func ContextWithCorrelation(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}
