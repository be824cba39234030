package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vestfoldfylke/azf-nettsperre/internal/config"
	"github.com/vestfoldfylke/azf-nettsperre/internal/handlers"
	"github.com/vestfoldfylke/azf-nettsperre/internal/middleware"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	auth fiber.Handler,
	gatherer prometheus.Gatherer,
	healthHandler *handlers.HealthHandler,
	blockHandler *handlers.BlockHandler,
	directoryHandler *handlers.DirectoryHandler,
	jobsHandler *handlers.JobsHandler,
) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := app.Group("/api")

	// General API rate limiter: 120 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               120,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	// Health (public)
	api.Get("/health", healthHandler.Check)

	// Blocks (JWT required) - auth is applied to individual routes so the
	// public health route stays reachable.
	api.Post("/blocks", auth, blockHandler.Submit)
	api.Put("/blocks", auth, blockHandler.Update)
	api.Post("/blocks/:id/:action", auth, blockHandler.Action)
	api.Get("/blocks/:status/:upn/:school", auth, blockHandler.List)
	api.Get("/history/:teacher/:course/:school", auth, blockHandler.History)

	// Directory lookups
	api.Get("/groups/owned/:upn", auth, directoryHandler.OwnedGroups)
	api.Get("/groups/:groupId/members/:onlyStudents?", auth, directoryHandler.GroupMembers)
	api.Get("/users/:upn", auth, directoryHandler.User)
	api.Post("/permissions/validate", auth, directoryHandler.ValidatePermission)

	// Manual job triggers (admin token, no user token)
	jobs := api.Group("/jobs", middleware.AdminToken(cfg.AdminToken))
	jobs.Post("/activate", jobsHandler.Activate)
	jobs.Post("/deactivate", jobsHandler.Deactivate)
	jobs.Post("/archive", jobsHandler.Archive)
}
