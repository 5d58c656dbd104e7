package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/utils"
)

// CIHeader carries the shared secret of the continuous integration system.
const CIHeader = "X-CI-Token"

// CISharedSecret admits build-result notifications that present the shared secret either
// in the X-CI-Token header or as the raw Authorization header value.
func CISharedSecret(secret string) fiber.Handler {
	expected := []byte(secret)
	return func(c *fiber.Ctx) error {
		presented := strings.TrimSpace(c.Get(CIHeader))
		if presented == "" {
			presented = strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		}
		if secret == "" || presented == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "ci token missing")
		}
		if subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			return utils.SendError(c, fiber.StatusForbidden, "invalid ci token")
		}
		return c.Next()
	}
}
