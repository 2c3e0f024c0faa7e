// Package custody adapts the two wallet custody models to one signing interface.
package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Anychima/Rent-Flow-sub009/internal/challenge"
	"github.com/Anychima/Rent-Flow-sub009/internal/wallet"
)

var (
	// ErrSignatureRequired indicates a self-custodied wallet was asked to sign
	// without a locally produced signature.
	ErrSignatureRequired = errors.New("signature required for self-custodied wallet")
	// ErrServiceUnavailable indicates the custodial signing service failed or timed out.
	ErrServiceUnavailable = errors.New("custody service unavailable")
	// ErrAuthFailed indicates the custodial service rejected the wallet credential.
	ErrAuthFailed = errors.New("custody authentication failed")
)

// Request is one signing attempt for a lease role.
type Request struct {
	Role      challenge.Role
	Wallet    wallet.Wallet
	Challenge []byte
	// Signature is a signature the caller already holds. It is passed
	// through unchanged regardless of custody type.
	Signature []byte
}

// Signer produces or forwards the signature for a request.
type Signer interface {
	Sign(ctx context.Context, req Request) ([]byte, error)
}

// RemoteSigner is the custodial key-holding service.
type RemoteSigner interface {
	RemoteSign(ctx context.Context, credential string, challenge []byte) ([]byte, error)
}

// Adapter dispatches on the wallet's custody type so callers never branch on it.
type Adapter struct {
	signers map[wallet.CustodyType]Signer
	logger  *slog.Logger
}

// NewAdapter wires the custodial backend. Remote calls are bounded by timeout.
func NewAdapter(remote RemoteSigner, timeout time.Duration, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		signers: map[wallet.CustodyType]Signer{
			wallet.CustodyCustodial:     &custodialSigner{remote: remote, timeout: timeout},
			wallet.CustodySelfCustodied: selfCustodiedSigner{},
		},
		logger: logger,
	}
}

// Sign returns the signature for req.
func (a *Adapter) Sign(ctx context.Context, req Request) ([]byte, error) {
	if !req.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", challenge.ErrInvalidRole, req.Role)
	}
	if len(req.Signature) > 0 {
		return req.Signature, nil
	}
	signer, ok := a.signers[req.Wallet.CustodyType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown custody type %q", wallet.ErrInvalidWallet, req.Wallet.CustodyType)
	}
	sig, err := signer.Sign(ctx, req)
	if err != nil {
		a.logger.Warn("signature request failed",
			slog.String("wallet_id", req.Wallet.ID),
			slog.String("custody_type", string(req.Wallet.CustodyType)),
			slog.String("role", string(req.Role)),
			slog.Any("error", err),
		)
		return nil, err
	}
	return sig, nil
}

type custodialSigner struct {
	remote  RemoteSigner
	timeout time.Duration
}

func (s *custodialSigner) Sign(ctx context.Context, req Request) ([]byte, error) {
	if s.remote == nil {
		return nil, fmt.Errorf("%w: no custodial backend configured", ErrServiceUnavailable)
	}
	if req.Wallet.CustodialCredential == "" {
		return nil, ErrAuthFailed
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	sig, err := s.remote.RemoteSign(ctx, req.Wallet.CustodialCredential, req.Challenge)
	if err != nil {
		if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrServiceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if len(sig) == 0 {
		return nil, fmt.Errorf("%w: empty signature", ErrServiceUnavailable)
	}
	return sig, nil
}

// selfCustodiedSigner never signs: the key stays with the party, so the only
// valid path is the pass-through in Adapter.Sign.
type selfCustodiedSigner struct{}

func (selfCustodiedSigner) Sign(context.Context, Request) ([]byte, error) {
	return nil, ErrSignatureRequired
}
