// Package challenge builds the canonical byte sequence a lease party signs.
//
// The encoding is line oriented and versioned so that wallets can display it
// as-is. Every field a party agrees to is present, string fields are quoted,
// addresses and digests are lowercase hex and dates are second-precision UTC,
// so the signer and the verifier always derive identical bytes.
package challenge

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Anychima/Rent-Flow-sub009/internal/ethsig"
)

// Header opens every challenge and pins the encoding version.
const Header = "RentFlow Lease Agreement v1"

// Role identifies which party a signature speaks for.
type Role string

const (
	RoleLandlord Role = "LANDLORD"
	RoleTenant   Role = "TENANT"
)

var (
	// ErrIdentityUnbound is returned when an identity the role requires is unset.
	ErrIdentityUnbound = errors.New("signing identity not bound")
	// ErrInvalidRole is returned for roles other than LANDLORD and TENANT.
	ErrInvalidRole = errors.New("invalid role")
	// ErrMalformedTerms is returned when the terms cannot be encoded unambiguously.
	ErrMalformedTerms = errors.New("malformed lease terms")
)

// ParseRole accepts a role in any letter case.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleLandlord:
		return RoleLandlord, nil
	case RoleTenant:
		return RoleTenant, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleLandlord || r == RoleTenant
}

// Terms are the lease fields covered by a signature.
type Terms struct {
	LeaseID             string         `yaml:"lease_id"`
	Landlord            ethsig.Address `yaml:"landlord"`
	Tenant              ethsig.Address `yaml:"tenant"`
	DocumentFingerprint ethsig.Hash    `yaml:"document_fingerprint"`
	MonthlyRent         int64          `yaml:"monthly_rent"`
	SecurityDeposit     int64          `yaml:"security_deposit"`
	StartDate           time.Time      `yaml:"start_date"`
	EndDate             time.Time      `yaml:"end_date"`
}

// Build returns the challenge for terms signed in role.
func Build(t Terms, role Role) ([]byte, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if err := validate(t); err != nil {
		return nil, err
	}
	if t.Landlord.IsZero() {
		return nil, fmt.Errorf("%w: landlord", ErrIdentityUnbound)
	}

	var b strings.Builder
	b.WriteString(Header)
	field(&b, "lease_id", strconv.Quote(t.LeaseID))
	field(&b, "landlord", lowerHex(t.Landlord))
	field(&b, "tenant", lowerHex(t.Tenant))
	field(&b, "document", t.DocumentFingerprint.Hex())
	field(&b, "monthly_rent", strconv.FormatInt(t.MonthlyRent, 10))
	field(&b, "security_deposit", strconv.FormatInt(t.SecurityDeposit, 10))
	field(&b, "start_date", formatDate(t.StartDate))
	field(&b, "end_date", formatDate(t.EndDate))
	field(&b, "role", string(role))
	return []byte(b.String()), nil
}

// Digest is the personal-message hash of the challenge for terms and role.
func Digest(t Terms, role Role) (ethsig.Hash, error) {
	msg, err := Build(t, role)
	if err != nil {
		return ethsig.Hash{}, err
	}
	return ethsig.HashMessage(msg), nil
}

func validate(t Terms) error {
	switch {
	case t.LeaseID == "" || !utf8.ValidString(t.LeaseID):
		return fmt.Errorf("%w: lease id", ErrMalformedTerms)
	case t.DocumentFingerprint.IsZero():
		return fmt.Errorf("%w: document fingerprint", ErrMalformedTerms)
	case t.MonthlyRent < 0 || t.SecurityDeposit < 0:
		return fmt.Errorf("%w: negative amount", ErrMalformedTerms)
	case !t.EndDate.After(t.StartDate):
		return fmt.Errorf("%w: end date must follow start date", ErrMalformedTerms)
	}
	return nil
}

func field(b *strings.Builder, key, value string) {
	b.WriteByte('\n')
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(value)
}

func lowerHex(a ethsig.Address) string {
	return strings.ToLower(a.Hex())
}

func formatDate(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}
