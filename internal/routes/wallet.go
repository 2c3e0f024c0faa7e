package routes

import (
    "github.com/gofiber/fiber/v2"

    "github.com/Anychima/Rent-Flow-sub009/internal/wallet"
)

// RegisterWalletRoutes wires wallet directory endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
    r.Post("/wallets", h.Connect)
    r.Get("/wallets", h.List)
    r.Get("/wallets/primary", h.Primary)
    r.Post("/wallets/:walletId/primary", h.SetPrimary)
}
