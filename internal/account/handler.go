package account

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Anychima/Rent-Flow-sub009/internal/middleware"
)

// Handler exposes account endpoints.
type Handler struct {
	svc *Service
}

// NewHandler constructs an account handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Me returns the role of the calling owner.
func (h *Handler) Me(c *fiber.Ctx) error {
	acc, err := h.svc.Get(c.UserContext(), middleware.ActorID(c))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to load account")
	}
	resp := fiber.Map{"owner_id": acc.OwnerID, "role": acc.Role}
	if !acc.UpdatedAt.IsZero() {
		resp["updated_at"] = acc.UpdatedAt
	}
	return c.JSON(resp)
}
