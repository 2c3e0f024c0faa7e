package routes

import (
    "github.com/gofiber/fiber/v2"

    "github.com/Anychima/Rent-Flow-sub009/internal/account"
)

// RegisterAccountRoutes wires account endpoints.
func RegisterAccountRoutes(r fiber.Router, h *account.Handler) {
    r.Get("/accounts/me", h.Me)
}
