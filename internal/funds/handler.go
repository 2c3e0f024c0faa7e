package funds

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/Anychima/Rent-Flow-sub009/internal/ledger"
	"github.com/Anychima/Rent-Flow-sub009/internal/middleware"
	"github.com/Anychima/Rent-Flow-sub009/internal/money"
)

// Handler exposes deposit and balance endpoints over the ledger.
type Handler struct {
	transferer *LedgerTransferer
	scale      int32
}

// NewHandler constructs a funds handler.
func NewHandler(transferer *LedgerTransferer, scale int32) *Handler {
	return &Handler{transferer: transferer, scale: scale}
}

// Deposit credits the calling owner's account.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req DepositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.ClientTxID) == "" {
		return fiber.NewError(http.StatusBadRequest, "client_tx_id is required")
	}
	amount, err := money.ParseMinor(req.Amount, h.scale)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	owner := middleware.ActorID(c)
	balance, err := h.transferer.Deposit(c.UserContext(), owner, req.ClientTxID, amount)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, "deposit failed")
	}
	return c.Status(http.StatusCreated).JSON(h.toResponse(owner, balance))
}

// Balance returns the calling owner's balance. Owners without an account hold zero.
func (h *Handler) Balance(c *fiber.Ctx) error {
	owner := middleware.ActorID(c)
	balance, err := h.transferer.Balance(c.UserContext(), owner)
	if err != nil && !errors.Is(err, ledger.ErrAccountNotFound) {
		return fiber.NewError(http.StatusInternalServerError, "balance lookup failed")
	}
	return c.JSON(h.toResponse(owner, balance))
}

func (h *Handler) toResponse(owner string, balance int64) BalanceResponse {
	return BalanceResponse{
		OwnerID:      owner,
		Balance:      money.FormatMinor(balance, h.scale),
		BalanceMinor: balance,
	}
}
