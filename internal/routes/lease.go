package routes

import (
    "github.com/gofiber/fiber/v2"

    "github.com/Anychima/Rent-Flow-sub009/internal/lease"
)

// RegisterLeaseRoutes wires lease lifecycle endpoints.
func RegisterLeaseRoutes(r fiber.Router, h *lease.Handler) {
    r.Post("/leases", h.Create)
    r.Get("/leases/:leaseId", h.Get)
    r.Get("/leases/:leaseId/challenge", h.Challenge)
    r.Post("/leases/:leaseId/sign", h.Sign)
    r.Post("/leases/:leaseId/terminate", h.Terminate)
    r.Post("/leases/:leaseId/complete", h.Complete)
}
