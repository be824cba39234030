package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/vestfoldfylke/azf-nettsperre/internal/config"
)

var (
	corsHeaders = []string{fiber.HeaderOrigin, fiber.HeaderContentType, fiber.HeaderAuthorization, fiber.HeaderAccept, adminTokenHeader}
	corsMethods = []string{fiber.MethodGet, fiber.MethodPost, fiber.MethodPut, fiber.MethodOptions}
)

// CORS lets the block frontend call the API. Browsers may send credentials
// only when the allowed origins are listed explicitly.
func CORS(cfg *config.Config) fiber.Handler {
	origins := strings.TrimSpace(cfg.CORSOrigins)
	if origins == "" {
		origins = "*"
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     strings.Join(corsHeaders, ", "),
		AllowMethods:     strings.Join(corsMethods, ", "),
		AllowCredentials: origins != "*",
		ExposeHeaders:    fiber.HeaderXRequestID,
		MaxAge:           int(cfg.CORSMaxAge.Seconds()),
	})
}
