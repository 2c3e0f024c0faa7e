package ledger

import (
	"context"
	"errors"
)

var (
	// ErrInsufficientFunds occurs when the source account lacks available balance
	// to cover a requested posting.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates the provided client transaction identifier
	// already exists and therefore the operation should be treated as idempotent.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrAccountNotFound is returned when a posting references an unknown account code.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidAmount rejects zero and negative postings.
	ErrInvalidAmount = errors.New("amount must be positive")
)

const (
	// StatusCompleted represents a posted transaction.
	StatusCompleted = "completed"
	// KindDeposit tags external top-ups.
	KindDeposit = "deposit"
	// FundingSuspenseAccountCode is the contra account external deposits are drawn from.
	// It is the only account allowed to carry a negative balance.
	FundingSuspenseAccountCode = "suspense:funding"
)

// PartyAccountCode is the ledger account holding an owner's spendable funds.
func PartyAccountCode(ownerID string) string {
	return "party:" + ownerID
}

// EscrowAccountCode is the ledger account holding a lease's security deposit.
func EscrowAccountCode(leaseID string) string {
	return "escrow:lease:" + leaseID
}

// TransactionResult captures the outcome of a ledger posting.
type TransactionResult struct {
	TransactionID string
	FromBalance   int64
	ToBalance     int64
}

// Ledger defines the contract implemented by ledger backends (e.g. Postgres).
type Ledger interface {
	EnsureAccount(ctx context.Context, code string) error
	Balance(ctx context.Context, code string) (int64, error)
	Transfer(ctx context.Context, fromCode, toCode, kind, clientTxID string, amount int64) (TransactionResult, error)
	Deposit(ctx context.Context, code, clientTxID string, amount int64) (TransactionResult, error)
}
