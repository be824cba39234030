package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/vestfoldfylke/azf-nettsperre/internal/dto"
	"github.com/vestfoldfylke/azf-nettsperre/internal/middleware"
	"github.com/vestfoldfylke/azf-nettsperre/internal/services"
)

type BlockHandler struct {
	blockService *services.BlockService
}

func NewBlockHandler(blockService *services.BlockService) *BlockHandler {
	return &BlockHandler{blockService: blockService}
}

func (h *BlockHandler) Submit(c *fiber.Ctx) error {
	var req dto.SubmitBlockRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.CreatedBy.UserPrincipalName == "" {
		req.CreatedBy.UserPrincipalName = middleware.CallerUPN(c)
	}

	block, err := h.blockService.Submit(c.UserContext(), &req)
	if err != nil {
		return respondError(c, err, "Failed to submit block")
	}
	return c.Status(fiber.StatusCreated).JSON(block)
}

func (h *BlockHandler) Update(c *fiber.Ctx) error {
	var req dto.UpdateBlockRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	resp, err := h.blockService.Update(c.UserContext(), &req)
	if err != nil {
		return respondError(c, err, "Failed to update block")
	}
	return c.JSON(resp)
}

// Action handles POST /blocks/:id/:action for delete and deactivate.
func (h *BlockHandler) Action(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "No id provided")
	}

	var (
		resp *dto.BlockActionResponse
		err  error
	)
	switch c.Params("action") {
	case "delete":
		resp, err = h.blockService.Delete(c.UserContext(), id)
	case "deactivate":
		resp, err = h.blockService.Deactivate(c.UserContext(), id)
	default:
		return badRequest(c, "Unknown action, expected delete or deactivate")
	}
	if err != nil {
		return respondError(c, err, "Failed to "+c.Params("action")+" block")
	}
	return c.JSON(resp)
}

func (h *BlockHandler) List(c *fiber.Ctx) error {
	blocks, err := h.blockService.List(c.UserContext(), c.Params("status"), c.Params("upn"), c.Params("school"))
	if err != nil {
		return respondError(c, err, "Failed to fetch blocks")
	}
	return c.JSON(blocks)
}

func (h *BlockHandler) History(c *fiber.Ctx) error {
	blocks, err := h.blockService.History(c.UserContext(), c.Params("teacher"), c.Params("course"), c.Params("school"))
	if err != nil {
		return respondError(c, err, "Failed to fetch history")
	}
	return c.JSON(blocks)
}
