package lease

import (
	"fmt"
	"time"

	"github.com/Anychima/Rent-Flow-sub009/internal/challenge"
	"github.com/Anychima/Rent-Flow-sub009/internal/funds"
	"github.com/Anychima/Rent-Flow-sub009/internal/signature"
)

// ApplySignature records a verified signature for role. It reports whether
// the lease just became fully signed.
func (l *Lease) ApplySignature(role challenge.Role, sig []byte, res signature.Result, signerOwnerID string, now time.Time) (bool, error) {
	if l.IsFinal() {
		return false, ErrLeaseFinalized
	}
	if l.Status != StatusDraft && l.Status != StatusPartiallySigned {
		return false, fmt.Errorf("%w: cannot sign a %s lease", ErrInvalidTransition, l.Status)
	}

	at := now
	switch role {
	case challenge.RoleLandlord:
		if l.LandlordSigned {
			return false, signature.ErrAlreadySigned
		}
		l.LandlordSigned = true
		l.LandlordSignature = cloneBytes(sig)
		l.LandlordSignedAt = &at
	case challenge.RoleTenant:
		if l.TenantSigned {
			return false, signature.ErrAlreadySigned
		}
		if res.BindsTenant {
			l.TenantAddress = res.Address
		}
		if l.TenantOwnerID == "" {
			l.TenantOwnerID = signerOwnerID
		}
		l.TenantSigned = true
		l.TenantSignature = cloneBytes(sig)
		l.TenantSignedAt = &at
	default:
		return false, fmt.Errorf("%w: %q", challenge.ErrInvalidRole, role)
	}

	l.UpdatedAt = now
	if l.LandlordSigned && l.TenantSigned {
		l.Status = StatusFullySigned
		l.FullySignedAt = &at
		return true, nil
	}
	l.Status = StatusPartiallySigned
	return false, nil
}

// Activate moves a fully signed lease to active. It reports false when the
// lease was already active.
func (l *Lease) Activate(now time.Time) (bool, error) {
	switch l.Status {
	case StatusActive:
		return false, nil
	case StatusFullySigned:
	case StatusTerminated, StatusCompleted:
		return false, ErrLeaseFinalized
	default:
		return false, fmt.Errorf("%w: cannot activate a %s lease", ErrInvalidTransition, l.Status)
	}
	if len(l.OutstandingTransfers()) > 0 {
		return false, fmt.Errorf("%w: payment outstanding", ErrInvalidTransition)
	}
	at := now
	l.Status = StatusActive
	l.ActivatedAt = &at
	l.UpdatedAt = now
	return true, nil
}

// ClaimPromotion marks the tenant's role promotion as taken for an active
// lease. Only the first claim succeeds.
func (l *Lease) ClaimPromotion(now time.Time) bool {
	if l.Status != StatusActive || l.RolePromotedAt != nil {
		return false
	}
	at := now
	l.RolePromotedAt = &at
	l.UpdatedAt = now
	return true
}

// ReleasePromotion undoes ClaimPromotion after the promotion call failed.
func (l *Lease) ReleasePromotion(now time.Time) {
	l.RolePromotedAt = nil
	l.UpdatedAt = now
}

// RecordSettlement marks kinds as paid. An empty kinds settles every
// required transfer.
func (l *Lease) RecordSettlement(kinds []funds.TransferKind, now time.Time) error {
	if l.IsFinal() {
		return ErrLeaseFinalized
	}
	if len(kinds) == 0 {
		kinds = l.RequiredTransfers()
	}
	for _, k := range kinds {
		if !l.settled(k) {
			l.SettledTransfers = append(l.SettledTransfers, k)
		}
	}
	if l.PaymentRequired && len(l.OutstandingTransfers()) == 0 {
		l.PaymentStatus = PaymentSettled
	}
	l.UpdatedAt = now
	return nil
}

// MarkPayment records a non-final payment state. A settled lease keeps its status.
func (l *Lease) MarkPayment(status PaymentStatus, now time.Time) error {
	if l.IsFinal() {
		return ErrLeaseFinalized
	}
	if !l.PaymentRequired || l.PaymentStatus == PaymentSettled {
		return nil
	}
	l.PaymentStatus = status
	l.UpdatedAt = now
	return nil
}

// Terminate ends an active lease early.
func (l *Lease) Terminate(now time.Time) error {
	if l.IsFinal() {
		return ErrLeaseFinalized
	}
	if l.Status != StatusActive {
		return fmt.Errorf("%w: cannot terminate a %s lease", ErrInvalidTransition, l.Status)
	}
	at := now
	l.Status = StatusTerminated
	l.TerminatedAt = &at
	l.UpdatedAt = now
	return nil
}

// Complete closes an active lease whose end date has passed.
func (l *Lease) Complete(now time.Time) error {
	if l.IsFinal() {
		return ErrLeaseFinalized
	}
	if l.Status != StatusActive {
		return fmt.Errorf("%w: cannot complete a %s lease", ErrInvalidTransition, l.Status)
	}
	if now.Before(l.EndDate) {
		return fmt.Errorf("%w: ends %s", ErrLeaseNotEnded, l.EndDate.UTC().Format(time.RFC3339))
	}
	at := now
	l.Status = StatusCompleted
	l.CompletedAt = &at
	l.UpdatedAt = now
	return nil
}
