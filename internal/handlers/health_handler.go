package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/vestfoldfylke/azf-nettsperre/internal/dto"
)

type HealthHandler struct {
	ping    func() error
	backend string
}

func NewHealthHandler(ping func() error, backend string) *HealthHandler {
	return &HealthHandler{ping: ping, backend: backend}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	dbStatus := "ok"
	if err := h.ping(); err != nil {
		dbStatus = "unhealthy: " + err.Error()
	}

	return c.JSON(dto.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		DB:        dbStatus,
		Backend:   h.backend,
	})
}
