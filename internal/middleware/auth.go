package middleware

import (
	"slices"

	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/vestfoldfylke/azf-nettsperre/internal/config"
	"github.com/vestfoldfylke/azf-nettsperre/internal/dto"
)

// JWTProtected validates an Entra ID bearer token against the tenant signing
// keys and then checks its issuer and audience.
func JWTProtected(cfg *config.Config) fiber.Handler {
	return jwtware.New(jwtware.Config{
		JWKSetURLs:     []string{cfg.JWKSURL()},
		SuccessHandler: RequireClaims(cfg.Issuers(), cfg.Audience),
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return unauthorized(c, "Unauthorized: invalid or expired token")
		},
	})
}

// RequireClaims rejects a verified token whose issuer is not in issuers or
// whose audience does not include audience.
func RequireClaims(issuers []string, audience string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := tokenClaims(c)
		if !ok {
			return unauthorized(c, "Unauthorized")
		}

		iss, err := claims.GetIssuer()
		if err != nil || !slices.Contains(issuers, iss) {
			return unauthorized(c, "Unauthorized: unexpected token issuer")
		}
		aud, err := claims.GetAudience()
		if err != nil || !slices.Contains([]string(aud), audience) {
			return unauthorized(c, "Unauthorized: unexpected token audience")
		}
		return c.Next()
	}
}

// CallerUPN returns the principal name of the authenticated caller, or "".
func CallerUPN(c *fiber.Ctx) string {
	claims, ok := tokenClaims(c)
	if !ok {
		return ""
	}
	for _, key := range []string{"upn", "preferred_username", "unique_name"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func tokenClaims(c *fiber.Ctx) (jwt.MapClaims, bool) {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok || token == nil {
		return nil, false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	return claims, ok
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
		Error: true, Message: msg,
	})
}
