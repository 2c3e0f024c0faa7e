package lease

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Anychima/Rent-Flow-sub009/internal/challenge"
	"github.com/Anychima/Rent-Flow-sub009/internal/custody"
	"github.com/Anychima/Rent-Flow-sub009/internal/ethsig"
	"github.com/Anychima/Rent-Flow-sub009/internal/middleware"
	"github.com/Anychima/Rent-Flow-sub009/internal/money"
	"github.com/Anychima/Rent-Flow-sub009/internal/signature"
	"github.com/Anychima/Rent-Flow-sub009/internal/wallet"
)

// Handler exposes lease HTTP endpoints.
type Handler struct {
	service *Service
	scale   int32
}

// NewHandler builds a lease handler. Amounts cross the wire as decimal
// strings with scale fractional digits.
func NewHandler(service *Service, scale int32) *Handler {
	return &Handler{service: service, scale: scale}
}

type createRequest struct {
	ID                  string `json:"id"`
	TenantOwnerID       string `json:"tenant_owner_id"`
	LandlordAddress     string `json:"landlord_address"`
	TenantAddress       string `json:"tenant_address"`
	DocumentFingerprint string `json:"document_fingerprint"`
	MonthlyRent         string `json:"monthly_rent"`
	SecurityDeposit     string `json:"security_deposit"`
	StartDate           string `json:"start_date"`
	EndDate             string `json:"end_date"`
	PaymentRequired     bool   `json:"payment_required"`
}

type signRequest struct {
	Role      string `json:"role"`
	Signature string `json:"signature"`
}

type leaseResponse struct {
	ID                  string     `json:"id"`
	Status              Status     `json:"status"`
	LandlordOwnerID     string     `json:"landlord_owner_id"`
	TenantOwnerID       string     `json:"tenant_owner_id,omitempty"`
	LandlordAddress     string     `json:"landlord_address"`
	TenantAddress       string     `json:"tenant_address,omitempty"`
	DocumentFingerprint string     `json:"document_fingerprint"`
	MonthlyRent         string     `json:"monthly_rent"`
	SecurityDeposit     string     `json:"security_deposit"`
	StartDate           time.Time  `json:"start_date"`
	EndDate             time.Time  `json:"end_date"`
	LandlordSigned      bool       `json:"landlord_signed"`
	TenantSigned        bool       `json:"tenant_signed"`
	LandlordSignature   string     `json:"landlord_signature,omitempty"`
	TenantSignature     string     `json:"tenant_signature,omitempty"`
	LandlordSignedAt    *time.Time `json:"landlord_signed_at,omitempty"`
	TenantSignedAt      *time.Time `json:"tenant_signed_at,omitempty"`
	PaymentRequired     bool       `json:"payment_required"`
	PaymentStatus       string     `json:"payment_status"`
	SettledTransfers    []string   `json:"settled_transfers"`
	FullySignedAt       *time.Time `json:"fully_signed_at,omitempty"`
	ActivatedAt         *time.Time `json:"activated_at,omitempty"`
	TerminatedAt        *time.Time `json:"terminated_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

func (h *Handler) toResponse(l Lease) leaseResponse {
	resp := leaseResponse{
		ID:                  l.ID,
		Status:              l.Status,
		LandlordOwnerID:     l.LandlordOwnerID,
		TenantOwnerID:       l.TenantOwnerID,
		LandlordAddress:     l.LandlordAddress.Hex(),
		DocumentFingerprint: l.DocumentFingerprint.Hex(),
		MonthlyRent:         money.FormatMinor(l.MonthlyRent, h.scale),
		SecurityDeposit:     money.FormatMinor(l.SecurityDeposit, h.scale),
		StartDate:           l.StartDate,
		EndDate:             l.EndDate,
		LandlordSigned:      l.LandlordSigned,
		TenantSigned:        l.TenantSigned,
		LandlordSignedAt:    l.LandlordSignedAt,
		TenantSignedAt:      l.TenantSignedAt,
		PaymentRequired:     l.PaymentRequired,
		PaymentStatus:       string(l.PaymentStatus),
		SettledTransfers:    []string{},
		FullySignedAt:       l.FullySignedAt,
		ActivatedAt:         l.ActivatedAt,
		TerminatedAt:        l.TerminatedAt,
		CompletedAt:         l.CompletedAt,
	}
	if !l.TenantAddress.IsZero() {
		resp.TenantAddress = l.TenantAddress.Hex()
	}
	if l.LandlordSigned {
		resp.LandlordSignature = ethsig.EncodeSignature(l.LandlordSignature)
	}
	if l.TenantSigned {
		resp.TenantSignature = ethsig.EncodeSignature(l.TenantSignature)
	}
	for _, k := range l.SettledTransfers {
		resp.SettledTransfers = append(resp.SettledTransfers, string(k))
	}
	return resp
}

// Create drafts a lease with the caller as landlord.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	in, err := h.parseCreate(req)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	in.LandlordOwnerID = middleware.ActorID(c)

	l, err := h.service.Create(c.UserContext(), in)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(h.toResponse(l))
}

func (h *Handler) parseCreate(req createRequest) (CreateInput, error) {
	in := CreateInput{
		ID:              req.ID,
		TenantOwnerID:   strings.TrimSpace(req.TenantOwnerID),
		PaymentRequired: req.PaymentRequired,
	}
	var err error
	if req.LandlordAddress != "" {
		if in.LandlordAddress, err = ethsig.ParseAddress(req.LandlordAddress); err != nil {
			return CreateInput{}, err
		}
	}
	if req.TenantAddress != "" {
		if in.TenantAddress, err = ethsig.ParseAddress(req.TenantAddress); err != nil {
			return CreateInput{}, err
		}
	}
	if in.DocumentFingerprint, err = ethsig.ParseHash(req.DocumentFingerprint); err != nil {
		return CreateInput{}, err
	}
	if in.MonthlyRent, err = h.parseAmount(req.MonthlyRent); err != nil {
		return CreateInput{}, err
	}
	if in.SecurityDeposit, err = h.parseAmount(req.SecurityDeposit); err != nil {
		return CreateInput{}, err
	}
	if in.StartDate, err = time.Parse(time.RFC3339, req.StartDate); err != nil {
		return CreateInput{}, err
	}
	if in.EndDate, err = time.Parse(time.RFC3339, req.EndDate); err != nil {
		return CreateInput{}, err
	}
	return in, nil
}

func (h *Handler) parseAmount(s string) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return money.ParseMinor(s, h.scale)
}

// Get returns a lease.
func (h *Handler) Get(c *fiber.Ctx) error {
	l, err := h.service.Get(c.UserContext(), c.Params("leaseId"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(h.toResponse(l))
}

// Challenge returns the message the caller must sign for ?role=.
func (h *Handler) Challenge(c *fiber.Ctx) error {
	role, err := challenge.ParseRole(c.Query("role"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	msg, err := h.service.Challenge(c.UserContext(), c.Params("leaseId"), role)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{
		"lease_id": c.Params("leaseId"),
		"role":     role,
		"message":  string(msg),
		"digest":   ethsig.HashMessage(msg).Hex(),
	})
}

// Sign records the caller's signature for the requested role.
func (h *Handler) Sign(c *fiber.Ctx) error {
	var req signRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	role, err := challenge.ParseRole(req.Role)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	var sig []byte
	if strings.TrimSpace(req.Signature) != "" {
		if sig, err = ethsig.DecodeSignature(req.Signature); err != nil {
			return mapError(signature.ErrInvalidEncoding)
		}
	}

	l, err := h.service.Sign(c.UserContext(), SignInput{
		LeaseID:       c.Params("leaseId"),
		Role:          role,
		SignerOwnerID: middleware.ActorID(c),
		Signature:     sig,
	})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(h.toResponse(l))
}

// Terminate ends an active lease.
func (h *Handler) Terminate(c *fiber.Ctx) error {
	l, err := h.service.Terminate(c.UserContext(), c.Params("leaseId"), middleware.ActorID(c))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(h.toResponse(l))
}

// Complete closes a lease past its end date.
func (h *Handler) Complete(c *fiber.Ctx) error {
	l, err := h.service.Complete(c.UserContext(), c.Params("leaseId"), middleware.ActorID(c))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(h.toResponse(l))
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTerms), errors.Is(err, challenge.ErrInvalidRole),
		errors.Is(err, challenge.ErrMalformedTerms):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotParty):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, signature.ErrAlreadySigned),
		errors.Is(err, ErrLeaseFinalized), errors.Is(err, ErrInvalidTransition):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrLeaseNotEnded):
		return fiber.NewError(http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, signature.ErrMismatch), errors.Is(err, signature.ErrInvalidEncoding),
		errors.Is(err, custody.ErrSignatureRequired), errors.Is(err, challenge.ErrIdentityUnbound):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, wallet.ErrNoWalletConnected):
		return fiber.NewError(http.StatusFailedDependency, err.Error())
	case errors.Is(err, custody.ErrAuthFailed):
		return fiber.NewError(http.StatusBadGateway, err.Error())
	case errors.Is(err, custody.ErrServiceUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, "lease operation failed")
	}
}
