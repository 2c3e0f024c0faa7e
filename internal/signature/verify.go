// Package signature verifies lease signatures by public key recovery.
package signature

import (
	"errors"
	"fmt"

	"github.com/Anychima/Rent-Flow-sub009/internal/challenge"
	"github.com/Anychima/Rent-Flow-sub009/internal/ethsig"
)

var (
	// ErrInvalidEncoding indicates the signature could not be parsed or recovered.
	ErrInvalidEncoding = errors.New("invalid signature encoding")
	// ErrMismatch indicates the recovered identity differs from the recorded one.
	ErrMismatch = errors.New("signature does not match recorded identity")
	// ErrAlreadySigned indicates the role's signature is already recorded.
	ErrAlreadySigned = errors.New("role already signed")
)

// Subject is the part of a lease record verification reads.
type Subject struct {
	Terms challenge.Terms
	// BoundTenant is the tenant identity recorded by a first signature when
	// Terms leaves the tenant unset. Both roles keep signing Terms as is.
	BoundTenant       ethsig.Address
	LandlordSignature []byte
	TenantSignature   []byte
}

// Result describes a successful verification.
type Result struct {
	Address ethsig.Address
	// BindsTenant is set when the tenant identity was unset and the recovered
	// identity should be recorded as the tenant.
	BindsTenant bool
}

// Verifier checks signatures against the canonical challenge. It holds no
// state and is safe for concurrent use.
type Verifier struct{}

// NewVerifier returns a Verifier.
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify recovers the signer of sig over the challenge for (subject, role)
// and checks it against the identity recorded for that role. Checks run in a
// fixed order: encoding, recovery, identity, write-once. A foreign identity is
// therefore reported as a mismatch even when the role has already signed.
func (v *Verifier) Verify(subject Subject, role challenge.Role, sig []byte) (Result, error) {
	if !role.Valid() {
		return Result{}, fmt.Errorf("%w: %q", challenge.ErrInvalidRole, role)
	}
	if len(sig) != ethsig.SignatureLength {
		return Result{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidEncoding, ethsig.SignatureLength, len(sig))
	}

	msg, err := challenge.Build(subject.Terms, role)
	if err != nil {
		return Result{}, err
	}
	recovered, err := ethsig.RecoverAddress(msg, sig)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}

	var (
		expected ethsig.Address
		existing []byte
		res      = Result{Address: recovered}
	)
	switch role {
	case challenge.RoleLandlord:
		expected, existing = subject.Terms.Landlord, subject.LandlordSignature
	case challenge.RoleTenant:
		expected, existing = subject.Terms.Tenant, subject.TenantSignature
		if expected.IsZero() {
			expected = subject.BoundTenant
		}
		res.BindsTenant = expected.IsZero() && len(existing) == 0
	}

	if !res.BindsTenant && recovered != expected {
		return Result{}, fmt.Errorf("%w: recovered %s for %s", ErrMismatch, recovered.Hex(), role)
	}
	if len(existing) > 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrAlreadySigned, role)
	}
	return res, nil
}
