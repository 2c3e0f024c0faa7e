package wallet

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/Anychima/Rent-Flow-sub009/internal/ethsig"
	"github.com/Anychima/Rent-Flow-sub009/internal/middleware"
)

// Handler exposes wallet directory HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type connectRequest struct {
	Address             string `json:"address"`
	CustodyType         string `json:"custody_type"`
	CustodialCredential string `json:"custodial_credential"`
	Primary             bool   `json:"primary"`
}

type walletResponse struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Address     string `json:"address"`
	CustodyType string `json:"custody_type"`
	IsPrimary   bool   `json:"is_primary"`
}

func toResponse(w Wallet) walletResponse {
	return walletResponse{
		ID:          w.ID,
		OwnerID:     w.OwnerID,
		Address:     w.Address.Hex(),
		CustodyType: string(w.CustodyType),
		IsPrimary:   w.IsPrimary,
	}
}

// Connect registers a wallet for the calling owner.
func (h *Handler) Connect(c *fiber.Ctx) error {
	var req connectRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	addr, err := ethsig.ParseAddress(req.Address)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	custody, err := ParseCustodyType(req.CustodyType)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.Connect(c.UserContext(), ConnectInput{
		OwnerID:             middleware.ActorID(c),
		Address:             addr,
		CustodyType:         custody,
		CustodialCredential: req.CustodialCredential,
		MakePrimary:         req.Primary,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateAddress), errors.Is(err, ErrPrimaryConflict):
			return fiber.NewError(http.StatusConflict, err.Error())
		case errors.Is(err, ErrInvalidWallet):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.Status(http.StatusCreated).JSON(toResponse(w))
}

// List returns the caller's wallets.
func (h *Handler) List(c *fiber.Ctx) error {
	wallets, err := h.service.List(c.UserContext(), middleware.ActorID(c))
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]walletResponse, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, toResponse(w))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"wallets": out})
}

// Primary returns the caller's primary wallet.
func (h *Handler) Primary(c *fiber.Ctx) error {
	w, err := h.service.Resolve(c.UserContext(), middleware.ActorID(c))
	if err != nil {
		if errors.Is(err, ErrNoWalletConnected) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(toResponse(w))
}

// SetPrimary switches the caller's primary wallet.
func (h *Handler) SetPrimary(c *fiber.Ctx) error {
	w, err := h.service.SetPrimary(c.UserContext(), middleware.ActorID(c), c.Params("walletId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(toResponse(w))
}
