package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/vestfoldfylke/azf-nettsperre/internal/dto"
	"github.com/vestfoldfylke/azf-nettsperre/internal/services"
)

type DirectoryHandler struct {
	directoryService *services.DirectoryService
}

func NewDirectoryHandler(directoryService *services.DirectoryService) *DirectoryHandler {
	return &DirectoryHandler{directoryService: directoryService}
}

func (h *DirectoryHandler) OwnedGroups(c *fiber.Ctx) error {
	groups, err := h.directoryService.OwnedGroups(c.UserContext(), c.Params("upn"))
	if err != nil {
		return respondError(c, err, "Failed to fetch owned groups")
	}
	return c.JSON(groups)
}

// GroupMembers lists a group's members. A trailing "true" limits the list to
// students.
func (h *DirectoryHandler) GroupMembers(c *fiber.Ctx) error {
	onlyStudents := false
	if raw := c.Params("onlyStudents"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest(c, "onlyStudents must be true or false")
		}
		onlyStudents = v
	}

	members, err := h.directoryService.GroupMembers(c.UserContext(), c.Params("groupId"), onlyStudents)
	if err != nil {
		return respondError(c, err, "Failed to fetch group members")
	}
	return c.JSON(members)
}

func (h *DirectoryHandler) User(c *fiber.Ctx) error {
	user, err := h.directoryService.User(c.UserContext(), c.Params("upn"))
	if err != nil {
		return respondError(c, err, "Failed to fetch user")
	}
	return c.JSON(user)
}

func (h *DirectoryHandler) ValidatePermission(c *fiber.Ctx) error {
	var req dto.ValidatePermissionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	resp, err := h.directoryService.ValidatePermission(c.UserContext(), &req)
	if err != nil {
		return respondError(c, err, "Failed to validate permission")
	}
	return c.JSON(resp)
}
