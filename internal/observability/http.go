package observability

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler serves the grading and build runner collectors. A non-empty scrapeToken
// must be presented as a bearer token, so the endpoint can sit next to the public
// webhook without leaking per-exercise counters.
func MetricsHandler(scrapeToken string) fiber.Handler {
	RegisterMetrics()
	metrics := adaptor.HTTPHandler(promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	scrapeToken = strings.TrimSpace(scrapeToken)
	if scrapeToken == "" {
		return metrics
	}
	return func(c *fiber.Ctx) error {
		presented := strings.TrimSpace(strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer "))
		if subtle.ConstantTimeCompare([]byte(presented), []byte(scrapeToken)) != 1 {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		return metrics(c)
	}
}
