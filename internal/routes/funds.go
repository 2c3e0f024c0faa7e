package routes

import (
    "github.com/gofiber/fiber/v2"

    "github.com/Anychima/Rent-Flow-sub009/internal/funds"
)

// RegisterFundsRoutes wires ledger top-up and balance endpoints.
func RegisterFundsRoutes(r fiber.Router, h *funds.Handler) {
    r.Post("/funds/deposits", h.Deposit)
    r.Get("/funds/balance", h.Balance)
}
