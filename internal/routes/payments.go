package routes

import (
    "github.com/gofiber/fiber/v2"

    "github.com/Anychima/Rent-Flow-sub009/internal/payment"
)

// RegisterPaymentRoutes wires lease payment endpoints.
func RegisterPaymentRoutes(r fiber.Router, h *payment.Handler) {
    r.Post("/leases/:leaseId/payments", h.RequestPayment)
}

// RegisterFundsWebhookRoutes wires the funds provider callback.
func RegisterFundsWebhookRoutes(r fiber.Router, h *payment.Handler) {
    r.Post("/funds/events", h.FundsEvent)
}
