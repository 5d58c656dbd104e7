package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestCISharedSecret(t *testing.T) {
	app := fiber.New()
	app.Post("/new-result", CISharedSecret("s3cret"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	cases := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{"missing", "", "", fiber.StatusUnauthorized},
		{"wrong", CIHeader, "nope", fiber.StatusForbidden},
		{"token header", CIHeader, "s3cret", fiber.StatusOK},
		{"authorization header", fiber.HeaderAuthorization, "s3cret", fiber.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/new-result", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}
