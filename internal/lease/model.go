package lease

import (
	"errors"
	"time"

	"github.com/Anychima/Rent-Flow-sub009/internal/challenge"
	"github.com/Anychima/Rent-Flow-sub009/internal/ethsig"
	"github.com/Anychima/Rent-Flow-sub009/internal/funds"
	"github.com/Anychima/Rent-Flow-sub009/internal/signature"
)

// Status is the lifecycle position of a lease.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPartiallySigned Status = "partially_signed"
	StatusFullySigned     Status = "fully_signed"
	StatusActive          Status = "active"
	StatusTerminated      Status = "terminated"
	StatusCompleted       Status = "completed"
)

// PaymentStatus tracks the upfront transfers a lease may require.
type PaymentStatus string

const (
	PaymentNotRequired PaymentStatus = "not_required"
	PaymentOutstanding PaymentStatus = "outstanding"
	PaymentPending     PaymentStatus = "pending"
	PaymentFailed      PaymentStatus = "failed"
	PaymentSettled     PaymentStatus = "settled"
)

var (
	ErrNotFound          = errors.New("lease not found")
	ErrAlreadyExists     = errors.New("lease already exists")
	ErrInvalidTerms      = errors.New("invalid lease terms")
	ErrInvalidTransition = errors.New("invalid lease transition")
	ErrNotParty          = errors.New("caller is not a party to the lease")
	ErrLeaseNotEnded     = errors.New("lease has not reached its end date")
	ErrLeaseFinalized    = errors.New("lease is finalized")
)

// Lease is the authoritative record of one rental agreement.
type Lease struct {
	ID              string
	LandlordOwnerID string
	TenantOwnerID   string
	LandlordAddress ethsig.Address
	TenantAddress   ethsig.Address
	// TenantPreset is set when the tenant identity was fixed at creation and
	// is part of the signed terms. A tenant bound by its first signature is not.
	TenantPreset        bool
	DocumentFingerprint ethsig.Hash
	MonthlyRent         int64
	SecurityDeposit     int64
	StartDate           time.Time
	EndDate             time.Time

	LandlordSigned    bool
	TenantSigned      bool
	LandlordSignature []byte
	TenantSignature   []byte
	LandlordSignedAt  *time.Time
	TenantSignedAt    *time.Time

	Status           Status
	PaymentRequired  bool
	PaymentStatus    PaymentStatus
	SettledTransfers []funds.TransferKind

	FullySignedAt  *time.Time
	ActivatedAt    *time.Time
	RolePromotedAt *time.Time
	TerminatedAt   *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Terms returns the fields both parties sign. A tenant bound after creation
// is left out, so the challenge stays the same whichever party signs first.
func (l Lease) Terms() challenge.Terms {
	var tenant ethsig.Address
	if l.TenantPreset {
		tenant = l.TenantAddress
	}
	return challenge.Terms{
		LeaseID:             l.ID,
		Landlord:            l.LandlordAddress,
		Tenant:              tenant,
		DocumentFingerprint: l.DocumentFingerprint,
		MonthlyRent:         l.MonthlyRent,
		SecurityDeposit:     l.SecurityDeposit,
		StartDate:           l.StartDate,
		EndDate:             l.EndDate,
	}
}

// Subject is the view of the lease the signature verifier reads.
func (l Lease) Subject() signature.Subject {
	s := signature.Subject{
		Terms:             l.Terms(),
		LandlordSignature: l.LandlordSignature,
		TenantSignature:   l.TenantSignature,
	}
	if !l.TenantPreset {
		s.BoundTenant = l.TenantAddress
	}
	return s
}

// IsFinal reports whether the lease reached a terminal state.
func (l Lease) IsFinal() bool {
	return l.Status == StatusTerminated || l.Status == StatusCompleted
}

// IsParty reports whether ownerID is the landlord or the tenant.
func (l Lease) IsParty(ownerID string) bool {
	return ownerID != "" && (ownerID == l.LandlordOwnerID || ownerID == l.TenantOwnerID)
}

// RequiredTransfers lists the upfront payments activation waits for.
func (l Lease) RequiredTransfers() []funds.TransferKind {
	if !l.PaymentRequired {
		return nil
	}
	var kinds []funds.TransferKind
	if l.SecurityDeposit > 0 {
		kinds = append(kinds, funds.KindSecurityDeposit)
	}
	if l.MonthlyRent > 0 {
		kinds = append(kinds, funds.KindFirstMonthRent)
	}
	return kinds
}

// OutstandingTransfers lists required transfers that have not settled.
func (l Lease) OutstandingTransfers() []funds.TransferKind {
	var out []funds.TransferKind
	for _, k := range l.RequiredTransfers() {
		if !l.settled(k) {
			out = append(out, k)
		}
	}
	return out
}

// AmountFor returns the amount due for kind.
func (l Lease) AmountFor(kind funds.TransferKind) int64 {
	switch kind {
	case funds.KindSecurityDeposit:
		return l.SecurityDeposit
	case funds.KindFirstMonthRent:
		return l.MonthlyRent
	}
	return 0
}

func (l Lease) settled(kind funds.TransferKind) bool {
	for _, k := range l.SettledTransfers {
		if k == kind {
			return true
		}
	}
	return false
}

// clone deep-copies every reference field so a mutation of the copy never
// leaks into the stored record.
func (l Lease) clone() Lease {
	out := l
	out.LandlordSignature = cloneBytes(l.LandlordSignature)
	out.TenantSignature = cloneBytes(l.TenantSignature)
	out.SettledTransfers = append([]funds.TransferKind(nil), l.SettledTransfers...)
	for _, p := range []**time.Time{
		&out.LandlordSignedAt, &out.TenantSignedAt, &out.FullySignedAt, &out.ActivatedAt,
		&out.RolePromotedAt, &out.TerminatedAt, &out.CompletedAt,
	} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
