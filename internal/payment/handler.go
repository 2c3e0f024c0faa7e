package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Anychima/Rent-Flow-sub009/internal/funds"
	"github.com/Anychima/Rent-Flow-sub009/internal/lease"
	"github.com/Anychima/Rent-Flow-sub009/internal/middleware"
)

const signatureHeader = "X-Signature"

// Handler exposes the payment endpoints of a lease and the funds webhook.
type Handler struct {
	gate      *Gate
	publisher funds.Publisher
	secret    []byte
	logger    *slog.Logger
}

// NewHandler builds the payment handler. Webhook events are handed to
// publisher and applied asynchronously by the gate's consumer.
func NewHandler(gate *Gate, publisher funds.Publisher, webhookSecret string, logger *slog.Logger) *Handler {
	return &Handler{gate: gate, publisher: publisher, secret: []byte(webhookSecret), logger: logger}
}

// RequestPayment starts the outstanding transfers of a lease for the calling tenant.
func (h *Handler) RequestPayment(c *fiber.Ctx) error {
	l, handles, err := h.gate.RequestPayment(c.UserContext(), c.Params("leaseId"), middleware.ActorID(c))
	if err != nil {
		return mapError(err)
	}
	if handles == nil {
		handles = []funds.TransferHandle{}
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"lease_id":       l.ID,
		"status":         l.Status,
		"payment_status": l.PaymentStatus,
		"transfers":      handles,
	})
}

type webhookEvent struct {
	ID         string               `json:"id"`
	LeaseID    string               `json:"lease_id"`
	Outcome    funds.Outcome        `json:"outcome"`
	Covers     []funds.TransferKind `json:"covers"`
	TransferID string               `json:"transfer_id"`
	OccurredAt *time.Time           `json:"occurred_at"`
}

// FundsEvent accepts a transfer outcome from the funds provider. The body
// must carry an HMAC-SHA256 of itself, hex encoded, in X-Signature.
func (h *Handler) FundsEvent(c *fiber.Ctx) error {
	if len(h.secret) == 0 {
		return fiber.NewError(http.StatusServiceUnavailable, "funds webhook not configured")
	}
	body := c.Body()
	if !h.validSignature(c.Get(signatureHeader), body) {
		return fiber.NewError(http.StatusUnauthorized, "invalid webhook signature")
	}

	var in webhookEvent
	if err := json.Unmarshal(body, &in); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	ev := funds.Event{
		ID:         strings.TrimSpace(in.ID),
		LeaseID:    strings.TrimSpace(in.LeaseID),
		Outcome:    funds.Outcome(strings.ToLower(string(in.Outcome))),
		Covers:     in.Covers,
		TransferID: in.TransferID,
		OccurredAt: time.Now().UTC(),
	}
	if in.OccurredAt != nil {
		ev.OccurredAt = in.OccurredAt.UTC()
	}
	if ev.ID == "" {
		return fiber.NewError(http.StatusBadRequest, "event id is required")
	}
	if err := ev.Validate(); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	if err := h.publisher.Publish(c.UserContext(), ev); err != nil {
		h.logger.Error("funds event enqueue failed", "event_id", ev.ID, "lease_id", ev.LeaseID, "error", err)
		return fiber.NewError(http.StatusServiceUnavailable, "event queue unavailable")
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"event_id": ev.ID, "accepted": true})
}

func (h *Handler) validSignature(header string, body []byte) bool {
	provided, err := hex.DecodeString(strings.TrimSpace(header))
	if err != nil || len(provided) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	_, _ = mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, lease.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, lease.ErrNotParty):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, lease.ErrLeaseFinalized), errors.Is(err, lease.ErrInvalidTransition):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrFundsTransferFailed):
		return fiber.NewError(http.StatusPaymentRequired, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, "payment request failed")
	}
}
