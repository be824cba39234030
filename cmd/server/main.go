package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/vestfoldfylke/azf-nettsperre/internal/app"
	"github.com/vestfoldfylke/azf-nettsperre/internal/config"
	"github.com/vestfoldfylke/azf-nettsperre/internal/dto"
	"github.com/vestfoldfylke/azf-nettsperre/internal/handlers"
	"github.com/vestfoldfylke/azf-nettsperre/internal/logging"
	"github.com/vestfoldfylke/azf-nettsperre/internal/middleware"
	"github.com/vestfoldfylke/azf-nettsperre/internal/routes"
	"github.com/vestfoldfylke/azf-nettsperre/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Structured logging (JSON to stdout)
	base, err := logging.Setup(os.Stdout, cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, base)
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	defer a.Close()

	if initSentry(cfg) {
		defer sentry.Flush(2 * time.Second)
	}

	server := newServer(cfg, a)

	// Lifecycle and archive jobs share the server's lifetime.
	sched := scheduler.New(scheduler.Options{Logger: a.Logger}, a.Jobs()...)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port, "backend", cfg.StoreBackend)
		listenErr <- server.Listen(":" + cfg.Port)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down server...")
	case err = <-listenErr:
		stop()
	}

	if shutdownErr := server.ShutdownWithTimeout(10 * time.Second); shutdownErr != nil {
		slog.Error("server shutdown error", "error", shutdownErr)
	}
	<-schedDone

	slog.Info("server stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// initSentry enables error tracking when SENTRY_DSN is set and reports
// whether it is active.
func initSentry(cfg *config.Config) bool {
	if cfg.SentryDSN == "" {
		return false
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		EnableTracing:    true,
		TracesSampleRate: 0.2,
		Environment:      cfg.AppEnv,
	}); err != nil {
		slog.Error("sentry init failed", "error", err)
		return false
	}
	return true
}

func newServer(cfg *config.Config, a *app.App) *fiber.App {
	server := fiber.New(fiber.Config{
		BodyLimit:    4 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	server.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))
	server.Use(recover.New())
	server.Use(requestid.New())
	server.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	server.Use(middleware.CORS(cfg))
	server.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		return c.Next()
	})

	routes.Setup(server, cfg, middleware.JWTProtected(cfg), a.Registry,
		handlers.NewHealthHandler(a.Ping, cfg.StoreBackend),
		handlers.NewBlockHandler(a.Blocks),
		handlers.NewDirectoryHandler(a.Users),
		handlers.NewJobsHandler(a.Engine, a.Mover, cfg.ArchiveLimit),
	)
	return server
}

// customErrorHandler answers errors no handler turned into a response. Only
// client errors expose their message.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	if code >= fiber.StatusInternalServerError {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(dto.ErrorResponse{Error: true, Message: message})
}
