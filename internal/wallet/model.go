package wallet

import (
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/Anychima/Rent-Flow-sub009/internal/ethsig"
)

// CustodyType names the backend that holds a wallet's key material.
type CustodyType string

const (
    // CustodyCustodial wallets are signed for by a remote key-holding service.
    CustodyCustodial CustodyType = "custodial"
    // CustodySelfCustodied wallets sign locally; signatures arrive pre-made.
    CustodySelfCustodied CustodyType = "self_custodied"
)

var (
    // ErrNoWalletConnected indicates the owner has no primary wallet.
    ErrNoWalletConnected = errors.New("no wallet connected")
    // ErrNotFound indicates the wallet does not exist for the owner.
    ErrNotFound = errors.New("wallet not found")
    // ErrInvalidWallet indicates the wallet record violates its invariants.
    ErrInvalidWallet = errors.New("invalid wallet")
    // ErrDuplicateAddress indicates the owner already registered the address.
    ErrDuplicateAddress = errors.New("wallet address already connected")
    // ErrPrimaryConflict indicates another primary wallet was stored for the
    // owner while this one was being inserted.
    ErrPrimaryConflict = errors.New("owner primary wallet changed concurrently")
)

// ParseCustodyType accepts the stored custody names.
func ParseCustodyType(s string) (CustodyType, error) {
    switch CustodyType(strings.ToLower(strings.TrimSpace(s))) {
    case CustodyCustodial:
        return CustodyCustodial, nil
    case CustodySelfCustodied:
        return CustodySelfCustodied, nil
    default:
        return "", fmt.Errorf("%w: unknown custody type %q", ErrInvalidWallet, s)
    }
}

// Wallet is one signing identity owned by one party.
type Wallet struct {
    ID                  string
    OwnerID             string
    Address             ethsig.Address
    CustodyType         CustodyType
    CustodialCredential string
    IsPrimary           bool
    CreatedAt           time.Time
}

// Validate checks the custody/credential pairing and identity fields.
func (w Wallet) Validate() error {
    if strings.TrimSpace(w.OwnerID) == "" {
        return fmt.Errorf("%w: owner id is required", ErrInvalidWallet)
    }
    if w.Address.IsZero() {
        return fmt.Errorf("%w: address is required", ErrInvalidWallet)
    }
    switch w.CustodyType {
    case CustodyCustodial:
        if w.CustodialCredential == "" {
            return fmt.Errorf("%w: custodial wallets require a credential", ErrInvalidWallet)
        }
    case CustodySelfCustodied:
        if w.CustodialCredential != "" {
            return fmt.Errorf("%w: self-custodied wallets must not carry a credential", ErrInvalidWallet)
        }
    default:
        return fmt.Errorf("%w: unknown custody type %q", ErrInvalidWallet, w.CustodyType)
    }
    return nil
}
