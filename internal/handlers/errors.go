package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/vestfoldfylke/azf-nettsperre/internal/dto"
	"github.com/vestfoldfylke/azf-nettsperre/internal/graph"
	"github.com/vestfoldfylke/azf-nettsperre/internal/services"
	"github.com/vestfoldfylke/azf-nettsperre/internal/store"
)

// respondError maps service errors onto status codes. Server errors are
// logged and answered with fallback instead of the error text.
func respondError(c *fiber.Ctx, err error, fallback string) error {
	code := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrValidation):
		code = fiber.StatusBadRequest
	case errors.Is(err, services.ErrForbidden):
		code = fiber.StatusForbidden
	case errors.Is(err, services.ErrBlockNotFound), errors.Is(err, store.ErrNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, services.ErrBlockClosed), errors.Is(err, store.ErrConflict):
		code = fiber.StatusConflict
	case graph.IsNotFound(err):
		code = fiber.StatusNotFound
	}

	message := err.Error()
	if code >= fiber.StatusInternalServerError {
		slog.Error(fallback, "method", c.Method(), "path", c.Path(), "error", err)
		message = fallback
	}
	return c.Status(code).JSON(dto.ErrorResponse{Error: true, Message: message})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error: true, Message: message,
	})
}
