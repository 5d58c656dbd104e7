package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/gema-grader/internal/utils"
)

// RateKey derives the bucket a request is counted against.
type RateKey func(c *fiber.Ctx) string

// ByUser counts requests per authenticated user and falls back to the client address.
func ByUser(c *fiber.Ctx) string {
	if id, ok := c.Locals("user_id").(uint); ok && id != 0 {
		return fmt.Sprintf("user:%d", id)
	}
	return "ip:" + c.IP()
}

// ByBuildSource counts build reports per student repository, so one looping pipeline
// cannot starve the results of other repositories behind the same CI host.
func ByBuildSource(c *fiber.Ctx) string {
	build := strings.TrimSpace(c.Get(BuildIDHeader))
	if repository, _, found := strings.Cut(build, "@"); found && repository != "" {
		return "repo:" + repository
	}
	if build != "" {
		return "repo:" + build
	}
	return "ip:" + c.IP()
}

// RateLimit allows max requests per window and bucket.
func RateLimit(name string, max int, window time.Duration, key RateKey) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}
	if key == nil {
		key = ByUser
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return name + ":" + key(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.SendError(c, fiber.StatusTooManyRequests, name+" rate limit reached")
		},
	})
}
