package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestRequireMinRole(t *testing.T) {
	cases := []struct {
		role   interface{}
		status int
	}{
		{"admin", fiber.StatusOK},
		{"Teacher", fiber.StatusOK},
		{"instructor", fiber.StatusOK},
		{"teaching_assistant", fiber.StatusForbidden},
		{"student", fiber.StatusForbidden},
		{"guest", fiber.StatusForbidden},
		{nil, fiber.StatusForbidden},
	}

	for _, tc := range cases {
		app := fiber.New()
		app.Use(func(c *fiber.Ctx) error {
			if tc.role != nil {
				c.Locals("user_role", tc.role)
			}
			return c.Next()
		})
		app.Use(RequireMinRole(AuthRoleInstructor))
		app.Get("/activity", func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusOK)
		})

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/activity", nil))
		require.NoError(t, err)
		require.Equal(t, tc.status, resp.StatusCode, "role %v", tc.role)
	}
}

func TestRoleAtLeast(t *testing.T) {
	require.True(t, RoleAtLeast("tutor", AuthRoleStudent))
	require.True(t, RoleAtLeast("editor", AuthRoleTutor))
	require.False(t, RoleAtLeast("student", AuthRoleTutor))
	require.False(t, RoleAtLeast("", AuthRoleStudent))
	require.True(t, RoleAtLeast("", AuthRoleAny))
}
