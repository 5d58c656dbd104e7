package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTProtectedExposesClaims(t *testing.T) {
	app := fiber.New()
	var gotID interface{}
	var gotRole, gotLogin interface{}
	app.Get("/", JWTProtected("secret"), func(c *fiber.Ctx) error {
		gotID = c.Locals("user_id")
		gotRole = c.Locals("user_role")
		gotLogin = c.Locals("user_login")
		return c.SendStatus(fiber.StatusOK)
	})

	token := signToken(t, "secret", jwt.MapClaims{
		"sub":   "42",
		"role":  "Teacher",
		"login": "prof",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, uint(42), gotID)
	require.Equal(t, AuthRoleInstructor, gotRole)
	require.Equal(t, "prof", gotLogin)
}

func TestJWTProtectedRejectsInvalidTokens(t *testing.T) {
	app := fiber.New()
	app.Get("/", JWTProtected("secret"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	for _, header := range []string{"", "Token abc", "Bearer " + signToken(t, "other", jwt.MapClaims{"sub": 1})} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	}
}

func TestJWTProtectedReadsSSOClaims(t *testing.T) {
	app := fiber.New()
	var gotID, gotRole, gotLogin interface{}
	app.Get("/", JWTProtected("secret"), func(c *fiber.Ctx) error {
		gotID, gotRole, gotLogin = c.Locals("user_id"), c.Locals("user_role"), c.Locals("user_login")
		return c.SendStatus(fiber.StatusOK)
	})

	token := signToken(t, "secret", jwt.MapClaims{
		"user_id":            float64(7),
		"roles":              []interface{}{"", "Tutor"},
		"preferred_username": " alice ",
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, uint(7), gotID)
	require.Equal(t, AuthRoleTutor, gotRole)
	require.Equal(t, "alice", gotLogin)
}

func TestJWTProtectedRejectsExpiredAndUnsignedTokens(t *testing.T) {
	app := fiber.New()
	app.Get("/", JWTProtected("secret"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	expired := signToken(t, "secret", jwt.MapClaims{"sub": "1", "exp": time.Now().Add(-time.Hour).Unix()})
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for _, token := range []string{expired, unsigned} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	}
}
