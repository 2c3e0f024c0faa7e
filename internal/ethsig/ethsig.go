// Package ethsig provides secp256k1 personal-message signatures with public key
// recovery, the primitive both lease parties use to authorize terms.
package ethsig

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

const (
	// AddressLength is the byte length of a signing identity.
	AddressLength = 20
	// HashLength is the byte length of a Keccak-256 digest.
	HashLength = 32
	// SignatureLength is the byte length of an R||S||V signature.
	SignatureLength = 65

	messagePrefix = "\x19Ethereum Signed Message:\n"
)

var (
	// ErrInvalidSignature is returned when a signature cannot be parsed or
	// no public key can be recovered from it.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidAddress is returned for malformed address strings.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrInvalidHash is returned for malformed digest strings.
	ErrInvalidHash = errors.New("invalid hash")
	// ErrInvalidKey is returned for malformed private keys.
	ErrInvalidKey = errors.New("invalid private key")
)

// Address is a 20-byte identity derived from a secp256k1 public key.
type Address [AddressLength]byte

// ParseAddress decodes a 0x-prefixed hex address. Mixed case is accepted
// without enforcing the checksum.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := decodeHex(s)
	if err != nil || len(raw) != AddressLength {
		return a, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	copy(a[:], raw)
	return a, nil
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Hex returns the EIP-55 checksummed form.
func (a Address) Hex() string {
	lower := hex.EncodeToString(a[:])
	digest := Keccak256([]byte(lower))
	out := []byte(lower)
	for i := range out {
		if out[i] < 'a' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] -= 'a' - 'A'
		}
	}
	return "0x" + string(out)
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return a.Hex()
}

// MarshalText encodes the address in checksummed hex.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText decodes a hex address. An empty value yields the zero address.
func (a *Address) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = Address{}
		return nil
	}
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Hash is a 32-byte Keccak-256 digest.
type Hash [HashLength]byte

// ParseHash decodes a 0x-prefixed hex digest.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := decodeHex(s)
	if err != nil || len(raw) != HashLength {
		return h, fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	copy(h[:], raw)
	return h, nil
}

// IsZero reports whether the digest is unset.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Hex returns the lowercase 0x-prefixed encoding.
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// String implements fmt.Stringer.
func (h Hash) String() string {
	return h.Hex()
}

// MarshalText encodes the digest in hex.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText decodes a hex digest.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Keccak256 hashes the concatenation of data with legacy Keccak-256.
func Keccak256(data ...[]byte) Hash {
	var h Hash
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	d.Sum(h[:0])
	return h
}

// HashMessage returns the personal-message digest of msg.
func HashMessage(msg []byte) Hash {
	prefix := messagePrefix + strconv.Itoa(len(msg))
	return Keccak256([]byte(prefix), msg)
}

// GenerateKey creates a fresh secp256k1 private key.
func GenerateKey() (*secp256k1.PrivateKey, error) {
	return secp256k1.GeneratePrivateKey()
}

// ParsePrivateKey decodes a hex encoded 32-byte private key.
func ParsePrivateKey(s string) (*secp256k1.PrivateKey, error) {
	raw, err := decodeHex(s)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(raw); overflow || scalar.IsZero() {
		return nil, ErrInvalidKey
	}
	return secp256k1.NewPrivateKey(&scalar), nil
}

// EncodePrivateKey returns the 0x-prefixed hex form of key.
func EncodePrivateKey(key *secp256k1.PrivateKey) string {
	return "0x" + hex.EncodeToString(key.Serialize())
}

// PubkeyToAddress derives the identity of a public key.
func PubkeyToAddress(pub *secp256k1.PublicKey) Address {
	var a Address
	digest := Keccak256(pub.SerializeUncompressed()[1:])
	copy(a[:], digest[HashLength-AddressLength:])
	return a
}

// Sign produces a 65-byte R||S||V signature over the personal-message digest
// of msg, with V in {27, 28}.
func Sign(key *secp256k1.PrivateKey, msg []byte) []byte {
	digest := HashMessage(msg)
	compact := ecdsa.SignCompact(key, digest[:], false)
	sig := make([]byte, SignatureLength)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return sig
}

// RecoverAddress returns the identity that produced sig over msg.
func RecoverAddress(msg, sig []byte) (Address, error) {
	if len(sig) != SignatureLength {
		return Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return Address{}, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, sig[64])
	}

	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(sig[32:64]); overflow || s.IsOverHalfOrder() {
		return Address{}, fmt.Errorf("%w: non-canonical s", ErrInvalidSignature)
	}

	compact := make([]byte, SignatureLength)
	compact[0] = 27 + v
	copy(compact[1:], sig[:64])

	digest := HashMessage(msg)
	pub, _, err := ecdsa.RecoverCompact(compact, digest[:])
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return PubkeyToAddress(pub), nil
}

// DecodeSignature parses a hex encoded signature, with or without 0x.
func DecodeSignature(s string) ([]byte, error) {
	raw, err := decodeHex(s)
	if err != nil || len(raw) != SignatureLength {
		return nil, ErrInvalidSignature
	}
	return raw, nil
}

// EncodeSignature returns the 0x-prefixed hex form of sig.
func EncodeSignature(sig []byte) string {
	return "0x" + hex.EncodeToString(sig)
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}
