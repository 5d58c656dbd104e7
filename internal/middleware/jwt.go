package middleware

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-grader/internal/utils"
)

// Claim names accepted for each part of the principal, in order of preference. Tokens
// issued by the course platform use sub/role/login, SSO tokens use the alternatives.
var (
	userIDClaims = []string{"sub", "user_id", "id"}
	roleClaims   = []string{"role", "roles"}
	loginClaims  = []string{"login", "preferred_username"}
)

// principal is the authenticated caller as described by the token.
type principal struct {
	userID uint
	hasID  bool
	role   string
	login  string
}

// JWTProtected validates HMAC-signed bearer tokens and exposes user_id, user_role and
// user_login to the handlers. The login is matched against repository members.
func JWTProtected(secret string) fiber.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(30*time.Second),
	)
	key := []byte(secret)

	return func(c *fiber.Ctx) error {
		raw, err := bearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}

		claims := jwt.MapClaims{}
		token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil || !token.Valid {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		p := principalFromClaims(claims)
		if p.hasID {
			c.Locals("user_id", p.userID)
		}
		if p.role != "" {
			c.Locals("user_role", CanonicalRole(p.role))
		}
		if p.login != "" {
			c.Locals("user_login", p.login)
		}
		return c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("authorization header missing")
	}
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", fmt.Errorf("invalid authorization header")
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", fmt.Errorf("invalid token")
	}
	return token, nil
}

func principalFromClaims(claims jwt.MapClaims) principal {
	var p principal
	for _, name := range userIDClaims {
		if id, err := parseUserID(claims[name]); err == nil {
			p.userID, p.hasID = id, true
			break
		}
	}
	for _, name := range roleClaims {
		if p.role = firstString(claims[name]); p.role != "" {
			p.role = strings.ToLower(p.role)
			break
		}
	}
	for _, name := range loginClaims {
		if p.login = firstString(claims[name]); p.login != "" {
			break
		}
	}
	return p
}

func parseUserID(value interface{}) (uint, error) {
	switch v := value.(type) {
	case float64:
		if v < 0 || v != float64(uint(v)) {
			return 0, fmt.Errorf("invalid subject %v", v)
		}
		return uint(v), nil
	case string:
		parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, err
		}
		return uint(parsed), nil
	case nil:
		return 0, fmt.Errorf("subject missing")
	default:
		return 0, fmt.Errorf("unsupported subject type %T", value)
	}
}

// firstString accepts a plain string or the first non-empty string of a list claim.
func firstString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
