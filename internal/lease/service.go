package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Anychima/Rent-Flow-sub009/internal/challenge"
	"github.com/Anychima/Rent-Flow-sub009/internal/custody"
	"github.com/Anychima/Rent-Flow-sub009/internal/ethsig"
	"github.com/Anychima/Rent-Flow-sub009/internal/notification"
	"github.com/Anychima/Rent-Flow-sub009/internal/signature"
	"github.com/Anychima/Rent-Flow-sub009/internal/wallet"
)

// WalletResolver returns an owner's primary wallet.
type WalletResolver interface {
	Resolve(ctx context.Context, ownerID string) (wallet.Wallet, error)
}

// ActivationGate decides what happens once both parties signed.
type ActivationGate interface {
	IsPaymentRequired(l Lease) bool
	OnFullySigned(ctx context.Context, l Lease) (Lease, error)
}

// Service drives the lease signing protocol.
type Service struct {
	repo     Repository
	wallets  WalletResolver
	signer   custody.Signer
	verifier *signature.Verifier
	gate     ActivationGate
	notifier notification.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNotifier sends lease lifecycle notifications through n.
func WithNotifier(n notification.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// NewService wires the lease service.
func NewService(repo Repository, wallets WalletResolver, signer custody.Signer, gate ActivationGate, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:     repo,
		wallets:  wallets,
		signer:   signer,
		verifier: signature.NewVerifier(),
		gate:     gate,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput describes a draft lease. A zero LandlordAddress is filled from
// the landlord's primary wallet; a zero TenantAddress is bound by the first
// valid tenant signature.
type CreateInput struct {
	ID                  string
	LandlordOwnerID     string
	TenantOwnerID       string
	LandlordAddress     ethsig.Address
	TenantAddress       ethsig.Address
	DocumentFingerprint ethsig.Hash
	MonthlyRent         int64
	SecurityDeposit     int64
	StartDate           time.Time
	EndDate             time.Time
	PaymentRequired     bool
}

// Create stores a new lease in draft.
func (s *Service) Create(ctx context.Context, in CreateInput) (Lease, error) {
	in.ID = strings.TrimSpace(in.ID)
	if in.LandlordOwnerID == "" {
		return Lease{}, fmt.Errorf("%w: landlord owner required", ErrInvalidTerms)
	}
	if in.LandlordOwnerID == in.TenantOwnerID {
		return Lease{}, fmt.Errorf("%w: landlord and tenant must differ", ErrInvalidTerms)
	}
	if in.LandlordAddress.IsZero() {
		w, err := s.wallets.Resolve(ctx, in.LandlordOwnerID)
		if err != nil {
			return Lease{}, err
		}
		in.LandlordAddress = w.Address
	}
	if in.LandlordAddress == in.TenantAddress {
		return Lease{}, fmt.Errorf("%w: landlord and tenant identities must differ", ErrInvalidTerms)
	}

	now := s.now()
	l := Lease{
		ID:                  in.ID,
		LandlordOwnerID:     in.LandlordOwnerID,
		TenantOwnerID:       in.TenantOwnerID,
		LandlordAddress:     in.LandlordAddress,
		TenantAddress:       in.TenantAddress,
		TenantPreset:        !in.TenantAddress.IsZero(),
		DocumentFingerprint: in.DocumentFingerprint,
		MonthlyRent:         in.MonthlyRent,
		SecurityDeposit:     in.SecurityDeposit,
		StartDate:           in.StartDate.UTC().Truncate(time.Second),
		EndDate:             in.EndDate.UTC().Truncate(time.Second),
		Status:              StatusDraft,
		PaymentRequired:     in.PaymentRequired,
		PaymentStatus:       PaymentNotRequired,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if _, err := challenge.Build(l.Terms(), challenge.RoleLandlord); err != nil {
		return Lease{}, fmt.Errorf("%w: %v", ErrInvalidTerms, err)
	}
	if s.gate != nil && s.gate.IsPaymentRequired(l) {
		l.PaymentStatus = PaymentOutstanding
	} else {
		l.PaymentRequired = false
	}

	if err := s.repo.Create(ctx, l); err != nil {
		return Lease{}, err
	}
	s.logger.Info("lease drafted",
		slog.String("lease_id", l.ID),
		slog.String("landlord_owner_id", l.LandlordOwnerID),
		slog.Bool("payment_required", l.PaymentRequired),
	)
	return l, nil
}

// Get returns a lease by id.
func (s *Service) Get(ctx context.Context, id string) (Lease, error) {
	return s.repo.Get(ctx, id)
}

// Challenge returns the bytes role must sign for the lease as it stands now.
func (s *Service) Challenge(ctx context.Context, id string, role challenge.Role) ([]byte, error) {
	l, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.IsFinal() {
		return nil, ErrLeaseFinalized
	}
	return challenge.Build(l.Terms(), role)
}

// SignInput is one party's attempt to sign a lease.
type SignInput struct {
	LeaseID       string
	Role          challenge.Role
	SignerOwnerID string
	// Signature is required for self-custodied wallets and optional for
	// custodial ones.
	Signature []byte
}

// Sign obtains, verifies and records a signature for in.Role. A rejected
// signature leaves the lease untouched.
func (s *Service) Sign(ctx context.Context, in SignInput) (Lease, error) {
	if !in.Role.Valid() {
		return Lease{}, fmt.Errorf("%w: %q", challenge.ErrInvalidRole, in.Role)
	}
	current, err := s.repo.Get(ctx, in.LeaseID)
	if err != nil {
		return Lease{}, err
	}
	if err := authorizeSigner(current, in.Role, in.SignerOwnerID); err != nil {
		return Lease{}, err
	}

	w, err := s.wallets.Resolve(ctx, in.SignerOwnerID)
	if err != nil {
		return Lease{}, err
	}
	msg, err := challenge.Build(current.Terms(), in.Role)
	if err != nil {
		return Lease{}, err
	}
	sig, err := s.signer.Sign(ctx, custody.Request{
		Role:      in.Role,
		Wallet:    w,
		Challenge: msg,
		Signature: in.Signature,
	})
	if err != nil {
		return Lease{}, err
	}

	// Reject bad signatures without taking the lease lock.
	pre, err := s.verifier.Verify(current.Subject(), in.Role, sig)
	if err == nil {
		err = signedByWallet(pre, w)
	}
	if err != nil {
		s.logRejected(ctx, in, err)
		return Lease{}, err
	}

	var (
		result      signature.Result
		fullySigned bool
	)
	updated, err := s.repo.Update(ctx, in.LeaseID, func(l *Lease) error {
		if err := authorizeSigner(*l, in.Role, in.SignerOwnerID); err != nil {
			return err
		}
		res, err := s.verifier.Verify(l.Subject(), in.Role, sig)
		if err != nil {
			return err
		}
		if err := signedByWallet(res, w); err != nil {
			return err
		}
		result = res
		fullySigned, err = l.ApplySignature(in.Role, sig, res, in.SignerOwnerID, s.now())
		return err
	})
	if err != nil {
		s.logRejected(ctx, in, err)
		return Lease{}, err
	}

	s.logger.Info("lease signed",
		slog.String("lease_id", updated.ID),
		slog.String("role", string(in.Role)),
		slog.String("signer", result.Address.Hex()),
		slog.Bool("tenant_bound", result.BindsTenant),
		slog.String("status", string(updated.Status)),
	)
	s.notify(ctx, notification.KindLeaseSigned, in.SignerOwnerID, updated)

	if fullySigned && s.gate != nil {
		activated, err := s.gate.OnFullySigned(ctx, updated)
		if err != nil {
			// The signature is recorded; activation is retried through the payment path.
			s.logger.Error("lease activation deferred",
				slog.String("lease_id", updated.ID),
				slog.Any("error", err),
			)
		}
		if activated.ID != "" {
			updated = activated
		}
	}
	return updated, nil
}

// Terminate ends an active lease at the request of either party.
func (s *Service) Terminate(ctx context.Context, id, actorID string) (Lease, error) {
	updated, err := s.repo.Update(ctx, id, func(l *Lease) error {
		if l.IsFinal() {
			return ErrLeaseFinalized
		}
		if !l.IsParty(actorID) {
			return ErrNotParty
		}
		return l.Terminate(s.now())
	})
	if err != nil {
		return Lease{}, err
	}
	s.logger.Info("lease terminated", slog.String("lease_id", id), slog.String("actor_id", actorID))
	s.notify(ctx, notification.KindLeaseTerminated, actorID, updated)
	return updated, nil
}

// Complete closes an active lease once its end date has passed.
func (s *Service) Complete(ctx context.Context, id, actorID string) (Lease, error) {
	updated, err := s.repo.Update(ctx, id, func(l *Lease) error {
		if l.IsFinal() {
			return ErrLeaseFinalized
		}
		if !l.IsParty(actorID) {
			return ErrNotParty
		}
		return l.Complete(s.now())
	})
	if err != nil {
		return Lease{}, err
	}
	s.logger.Info("lease completed", slog.String("lease_id", id), slog.String("actor_id", actorID))
	s.notify(ctx, notification.KindLeaseCompleted, actorID, updated)
	return updated, nil
}

// authorizeSigner checks the caller may speak for role. The landlord role
// belongs to the drafting owner. The tenant role is open until a tenant
// signs, unless the lease carries a tenant invite.
// signedByWallet rejects a signature recovered to a key other than the
// signer's connected wallet.
func signedByWallet(res signature.Result, w wallet.Wallet) error {
	if res.Address != w.Address {
		return fmt.Errorf("%w: recovered %s, caller's wallet is %s", signature.ErrMismatch, res.Address.Hex(), w.Address.Hex())
	}
	return nil
}

func authorizeSigner(l Lease, role challenge.Role, ownerID string) error {
	if l.IsFinal() {
		return ErrLeaseFinalized
	}
	if ownerID == "" {
		return ErrNotParty
	}
	switch role {
	case challenge.RoleLandlord:
		if ownerID != l.LandlordOwnerID {
			return ErrNotParty
		}
	case challenge.RoleTenant:
		if ownerID == l.LandlordOwnerID {
			return ErrNotParty
		}
		if !l.TenantSigned && l.TenantOwnerID != "" && ownerID != l.TenantOwnerID {
			return ErrNotParty
		}
	}
	return nil
}

func (s *Service) logRejected(ctx context.Context, in SignInput, err error) {
	level := slog.LevelWarn
	if !isProtocolError(err) {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "lease signature rejected",
		slog.String("lease_id", in.LeaseID),
		slog.String("role", string(in.Role)),
		slog.String("owner_id", in.SignerOwnerID),
		slog.Any("error", err),
	)
}

func isProtocolError(err error) bool {
	for _, target := range []error{
		signature.ErrMismatch, signature.ErrAlreadySigned, signature.ErrInvalidEncoding,
		ErrLeaseFinalized, ErrNotParty, ErrInvalidTransition,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *Service) notify(ctx context.Context, kind string, actorID string, l Lease) {
	if s.notifier == nil {
		return
	}
	for _, dest := range []string{l.LandlordOwnerID, l.TenantOwnerID} {
		if dest == "" || dest == actorID {
			continue
		}
		msg := notification.Message{
			Kind:        kind,
			Destination: dest,
			Body:        fmt.Sprintf("lease %s is now %s", l.ID, l.Status),
		}
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.logger.Warn("notification failed", slog.String("lease_id", l.ID), slog.Any("error", err))
		}
	}
}
