package handler

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// HealthProbe checks one backing service such as the database or Redis.
type HealthProbe func(ctx context.Context) error

// HealthResponse reports the liveness of the grader and which optional parts this node runs.
type HealthResponse struct {
	Status           string            `json:"status"`
	Timestamp        time.Time         `json:"timestamp"`
	Service          string            `json:"service"`
	Environment      string            `json:"environment"`
	SchedulerEnabled bool              `json:"scheduler_enabled"`
	LogArchive       bool              `json:"log_archive"`
	Dependencies     map[string]string `json:"dependencies,omitempty"`
}

const probeTimeout = 2 * time.Second

// HealthCheck reports 503 as soon as one probe fails, so load balancers stop routing build
// reports to a node that cannot store them.
func HealthCheck(cfg config.Config, probes map[string]HealthProbe) fiber.Handler {
	names := make([]string, 0, len(probes))
	for name := range probes {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *fiber.Ctx) error {
		response := HealthResponse{
			Status:           "ok",
			Timestamp:        time.Now().UTC(),
			Service:          cfg.AppName,
			Environment:      cfg.AppEnv,
			SchedulerEnabled: cfg.SchedulerEnabled,
			LogArchive:       cfg.ArchiveEnabled(),
		}
		if len(names) == 0 {
			return utils.SendSuccess(c, "service healthy", response)
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), probeTimeout)
		defer cancel()

		response.Dependencies = make(map[string]string, len(names))
		for _, name := range names {
			if err := probes[name](ctx); err != nil {
				response.Dependencies[name] = err.Error()
				response.Status = "degraded"
				continue
			}
			response.Dependencies[name] = "ok"
		}

		if response.Status != "ok" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(utils.APIResponse{
				Success: false,
				Data:    response,
				Message: "service degraded",
			})
		}
		return utils.SendSuccess(c, "service healthy", response)
	}
}
