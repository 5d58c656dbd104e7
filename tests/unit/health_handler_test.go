package unit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/handler"
)

type healthPayload struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    handler.HealthResponse `json:"data"`
}

func getHealth(t *testing.T, cfg config.Config, probes map[string]handler.HealthProbe) (int, healthPayload) {
	t.Helper()
	app := fiber.New()
	app.Get("/api/v1/health", handler.HealthCheck(cfg, probes))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload healthPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp.StatusCode, payload
}

func TestHealthCheckReportsNodeRole(t *testing.T) {
	cfg := config.Config{AppName: "GEMA Grader", AppEnv: "test", SchedulerEnabled: true}

	status, payload := getHealth(t, cfg, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.True(t, payload.Success)
	assert.Equal(t, "ok", payload.Data.Status)
	assert.Equal(t, "GEMA Grader", payload.Data.Service)
	assert.Equal(t, "test", payload.Data.Environment)
	assert.True(t, payload.Data.SchedulerEnabled)
	assert.False(t, payload.Data.LogArchive)
	assert.Empty(t, payload.Data.Dependencies)
	assert.WithinDuration(t, time.Now().UTC(), payload.Data.Timestamp, 2*time.Second)
}

func TestHealthCheckDegradesOnFailingProbe(t *testing.T) {
	cfg := config.Config{AppName: "GEMA Grader", CloudinaryCloudName: "demo", CloudinaryAPIKey: "k", CloudinaryAPISecret: "s"}
	probes := map[string]handler.HealthProbe{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}

	status, payload := getHealth(t, cfg, probes)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.False(t, payload.Success)
	assert.Equal(t, "degraded", payload.Data.Status)
	assert.True(t, payload.Data.LogArchive)
	assert.Equal(t, map[string]string{"database": "ok", "redis": "connection refused"}, payload.Data.Dependencies)

	delete(probes, "redis")
	status, payload = getHealth(t, cfg, probes)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", payload.Data.Status)
}
