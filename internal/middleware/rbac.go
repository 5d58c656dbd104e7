package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/utils"
)

// RequireMinRole guards a whole route group: the caller's role must rank at least as high
// as minimum. Unknown roles rank below students.
func RequireMinRole(minimum string) fiber.Handler {
	minimum = CanonicalRole(minimum)
	return func(c *fiber.Ctx) error {
		if !RoleAtLeast(CurrentRole(c), minimum) {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}

// CurrentRole returns the canonical role bound by the token middleware.
func CurrentRole(c *fiber.Ctx) string {
	switch v := c.Locals("user_role").(type) {
	case nil:
		return ""
	case string:
		return CanonicalRole(v)
	case fmt.Stringer:
		return CanonicalRole(v.String())
	default:
		return CanonicalRole(strings.TrimSpace(fmt.Sprint(v)))
	}
}

// RoleAtLeast reports whether role passes a guard for minimum.
func RoleAtLeast(role, minimum string) bool {
	if minimum == AuthRoleAny {
		return true
	}
	return roleRank[CanonicalRole(role)] >= roleRank[CanonicalRole(minimum)] && roleRank[CanonicalRole(role)] > 0
}
