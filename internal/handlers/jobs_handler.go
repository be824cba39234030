package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/vestfoldfylke/azf-nettsperre/internal/archive"
	"github.com/vestfoldfylke/azf-nettsperre/internal/lifecycle"
	"github.com/vestfoldfylke/azf-nettsperre/internal/models"
)

type CycleRunner interface {
	RunCycle(ctx context.Context, action lifecycle.Action) (*lifecycle.CycleResult, error)
}

type Archiver interface {
	Archive(ctx context.Context, filter archive.Filter, limit int) (*archive.Result, error)
}

// JobsHandler runs the scheduled jobs on demand.
type JobsHandler struct {
	engine       CycleRunner
	archiver     Archiver
	archiveLimit int
}

func NewJobsHandler(engine CycleRunner, archiver Archiver, archiveLimit int) *JobsHandler {
	return &JobsHandler{engine: engine, archiver: archiver, archiveLimit: archiveLimit}
}

func (h *JobsHandler) Activate(c *fiber.Ctx) error {
	return h.runCycle(c, lifecycle.Activate)
}

func (h *JobsHandler) Deactivate(c *fiber.Ctx) error {
	return h.runCycle(c, lifecycle.Deactivate)
}

func (h *JobsHandler) runCycle(c *fiber.Ctx, action lifecycle.Action) error {
	result, err := h.engine.RunCycle(c.UserContext(), action)
	if err != nil {
		return respondError(c, err, "Failed to "+string(action)+" blocks")
	}
	return c.JSON(result)
}

// Archive accepts an optional statuses query parameter, a comma separated
// list of expired and deleted.
func (h *JobsHandler) Archive(c *fiber.Ctx) error {
	var filter archive.Filter
	if raw := c.Query("statuses"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := models.Status(strings.TrimSpace(part))
			if st != models.StatusExpired && st != models.StatusDeleted {
				return badRequest(c, "statuses may only contain expired and deleted")
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	limit := h.archiveLimit
	if n := c.QueryInt("limit", 0); n > 0 {
		limit = n
	}

	result, err := h.archiver.Archive(c.UserContext(), filter, limit)
	if err != nil {
		return respondError(c, err, "Failed to archive blocks")
	}
	return c.JSON(result)
}
