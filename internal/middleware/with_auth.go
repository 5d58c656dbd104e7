package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/utils"
)

// Auth role constants understood by WithAuth. Roles are ranked so that a higher role
// passes every guard of a lower one.
const (
	AuthRoleAny        = "any"
	AuthRoleStudent    = "student"
	AuthRoleTutor      = "tutor"
	AuthRoleInstructor = "instructor"
	AuthRoleAdmin      = "admin"
)

var roleRank = map[string]int{
	AuthRoleStudent:    1,
	AuthRoleTutor:      2,
	AuthRoleInstructor: 3,
	AuthRoleAdmin:      4,
}

// AuthOptions configures the WithAuth helper.
type AuthOptions struct {
	Role        string
	RequireUser bool
}

// CanonicalRole maps role aliases onto the ranked roles. Unknown roles are returned lower-cased.
func CanonicalRole(role string) string {
	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case "teaching_assistant":
		return AuthRoleTutor
	case "teacher", "editor":
		return AuthRoleInstructor
	}
	return role
}

// WithAuth wraps a handler with authentication and minimum role guards.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	role := strings.ToLower(strings.TrimSpace(opts.Role))
	if role == "" {
		role = AuthRoleAny
	}

	requireUser := opts.RequireUser
	if !requireUser && role != AuthRoleAny {
		requireUser = true
	}

	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id")
		if requireUser && userID == nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}
		if role == AuthRoleAny {
			return handler(c)
		}

		if !RoleAtLeast(CurrentRole(c), role) {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return handler(c)
	}
}
