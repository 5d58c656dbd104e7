package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	BuildResultHandler   *handler.BuildResultHandler
	AssessmentHandler    *handler.AssessmentHandler
	ResultHandler        *handler.ResultHandler
	ParticipationHandler *handler.ParticipationHandler
	ExerciseHandler      *handler.ExerciseHandler
	ActivityHandler      *handler.ActivityHandler
	ResultStreamHandler  *handler.ResultStreamHandler
	JWTMiddleware        fiber.Handler
	CIMiddleware         fiber.Handler
	HealthProbes         map[string]handler.HealthProbe
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler(cfg.MetricsToken))

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	// Build agents report results with the shared CI secret instead of a user token.
	if deps.BuildResultHandler != nil {
		ciMiddleware := deps.CIMiddleware
		if ciMiddleware == nil {
			ciMiddleware = middleware.CISharedSecret(cfg.CISharedSecret)
		}
		public := api.Group("/public/programming-exercises",
			middleware.RateLimit("build-results", 120, time.Minute, middleware.ByBuildSource),
			ciMiddleware,
		)
		deps.BuildResultHandler.Register(public)
	}

	exercises := api.Group("/programming-exercises", jwtMiddleware)
	if deps.ExerciseHandler != nil {
		deps.ExerciseHandler.Register(exercises)
	}
	if deps.AssessmentHandler != nil {
		deps.AssessmentHandler.RegisterExercises(exercises)
	}

	if deps.AssessmentHandler != nil {
		submissions := api.Group("/programming-submissions", jwtMiddleware)
		deps.AssessmentHandler.RegisterSubmissions(submissions)
	}

	participations := api.Group("/participations", jwtMiddleware)
	if deps.ParticipationHandler != nil {
		deps.ParticipationHandler.Register(participations)
	}
	if deps.AssessmentHandler != nil {
		deps.AssessmentHandler.RegisterParticipations(participations)
	}
	if deps.ResultStreamHandler != nil {
		deps.ResultStreamHandler.Register(participations)
	}
	if deps.ResultHandler != nil {
		deps.ResultHandler.RegisterParticipations(participations)
		results := api.Group("/results", jwtMiddleware)
		deps.ResultHandler.Register(results)
	}

	if deps.ActivityHandler != nil {
		activity := api.Group("/admin/activity-logs", jwtMiddleware,
			middleware.RequireMinRole(middleware.AuthRoleInstructor),
		)
		deps.ActivityHandler.Register(activity)
	}
}
