package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestCorrelationIDPrefersExplicitHeaders(t *testing.T) {
	app := fiber.New()
	var fromLocals, fromContext string
	app.Use(CorrelationID())
	app.Post("/new-result", func(c *fiber.Ctx) error {
		fromLocals = GetCorrelationID(c)
		fromContext = CorrelationIDFromContext(c.UserContext())
		return c.SendStatus(fiber.StatusOK)
	})

	cases := []struct {
		headers map[string]string
		want    string
	}{
		{map[string]string{CorrelationHeader: "req-1", BuildIDHeader: "sort-alice@abc"}, "req-1"},
		{map[string]string{BuildIDHeader: "sort-alice@abc"}, "sort-alice@abc"},
		{map[string]string{"X-Request-ID": " req-2 "}, "req-2"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/new-result", nil)
		for key, value := range tc.headers {
			req.Header.Set(key, value)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, tc.want, resp.Header.Get(CorrelationHeader))
		require.Equal(t, tc.want, fromLocals)
		require.Equal(t, tc.want, fromContext)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/new-result", nil))
	require.NoError(t, err)
	require.Len(t, resp.Header.Get(CorrelationHeader), 36)
}

func TestContextWithCorrelation(t *testing.T) {
	ctx := ContextWithCorrelation(context.Background(), " task:exercise-3-due ")
	require.Equal(t, "task:exercise-3-due", CorrelationIDFromContext(ctx))
	require.Equal(t, "", CorrelationIDFromContext(ContextWithCorrelation(context.Background(), " ")))
	require.Equal(t, "sort-alice@abc", BuildID("sort-alice", "abc"))
	require.Equal(t, "sort-alice", BuildID("sort-alice", ""))
}

func TestRateLimitBucketsBuildsPerRepository(t *testing.T) {
	app := fiber.New()
	app.Post("/new-result", RateLimit("build-results", 1, time.Minute, ByBuildSource), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	post := func(build string) int {
		req := httptest.NewRequest(http.MethodPost, "/new-result", nil)
		req.Header.Set(BuildIDHeader, build)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	require.Equal(t, fiber.StatusOK, post("sort-alice@abc"))
	require.Equal(t, fiber.StatusTooManyRequests, post("sort-alice@def"))
	require.Equal(t, fiber.StatusOK, post("sort-bob@abc"))
}

func TestByUserFallsBackToAddress(t *testing.T) {
	app := fiber.New()
	var keys []string
	app.Get("/", func(c *fiber.Ctx) error {
		keys = append(keys, ByUser(c))
		c.Locals("user_id", uint(9))
		keys = append(keys, ByUser(c))
		return nil
	})

	_, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(keys[0], "ip:"))
	require.Equal(t, "user:9", keys[1])
}
