package funds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Anychima/Rent-Flow-sub009/internal/ledger"
)

// LedgerTransferer settles lease payments as ledger postings and publishes
// the outcome. Security deposits are held in the lease's escrow account; rent
// goes straight to the payee.
type LedgerTransferer struct {
	ledger    ledger.Ledger
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewLedgerTransferer wires a transferer to a ledger backend and an event publisher.
func NewLedgerTransferer(l ledger.Ledger, publisher Publisher, logger *slog.Logger) *LedgerTransferer {
	return &LedgerTransferer{
		ledger:    l,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// InitiateTransfer posts the transfer described by req. A repeated request
// for the same lease and kind does not post twice; it reports success again.
// Business outcomes (settled, declined) are published as events and reflected
// in the handle; only infrastructure failures are returned as errors.
func (t *LedgerTransferer) InitiateTransfer(ctx context.Context, req TransferRequest) (TransferHandle, error) {
	if err := req.Validate(); err != nil {
		return TransferHandle{}, err
	}

	from := ledger.PartyAccountCode(req.Payer)
	to := ledger.PartyAccountCode(req.Payee)
	if req.Kind == KindSecurityDeposit {
		to = ledger.EscrowAccountCode(req.LeaseID)
	}
	for _, code := range []string{from, to} {
		if err := t.ledger.EnsureAccount(ctx, code); err != nil {
			return TransferHandle{}, fmt.Errorf("ensure account %s: %w", code, err)
		}
	}

	handle := TransferHandle{LeaseID: req.LeaseID, Kind: req.Kind, Amount: req.Amount}
	res, err := t.ledger.Transfer(ctx, from, to, string(req.Kind), req.ClientTxID(), req.Amount)
	switch {
	case err == nil, errors.Is(err, ledger.ErrDuplicateTransaction):
		handle.Status = OutcomeSucceeded
		handle.ID = res.TransactionID
	case errors.Is(err, ledger.ErrInsufficientFunds):
		handle.Status = OutcomeFailed
		handle.ID = uuid.NewString()
	default:
		return TransferHandle{}, fmt.Errorf("post %s for lease %s: %w", req.Kind, req.LeaseID, err)
	}

	ev := Event{
		ID:         uuid.NewString(),
		LeaseID:    req.LeaseID,
		Outcome:    handle.Status,
		Covers:     []TransferKind{req.Kind},
		TransferID: handle.ID,
		OccurredAt: t.now(),
	}
	if err := t.publisher.Publish(ctx, ev); err != nil {
		return handle, fmt.Errorf("publish funds event: %w", err)
	}

	t.logger.Info("funds transfer processed",
		"lease_id", req.LeaseID,
		"kind", req.Kind,
		"amount", req.Amount,
		"outcome", handle.Status,
		"event_id", ev.ID,
	)
	return handle, nil
}

// Deposit tops up an owner's ledger account from an external source.
func (t *LedgerTransferer) Deposit(ctx context.Context, ownerID, clientTxID string, amount int64) (int64, error) {
	code := ledger.PartyAccountCode(ownerID)
	if err := t.ledger.EnsureAccount(ctx, code); err != nil {
		return 0, err
	}
	res, err := t.ledger.Deposit(ctx, code, clientTxID, amount)
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return 0, err
	}
	return res.ToBalance, nil
}

// Balance reports an owner's spendable balance.
func (t *LedgerTransferer) Balance(ctx context.Context, ownerID string) (int64, error) {
	return t.ledger.Balance(ctx, ledger.PartyAccountCode(ownerID))
}
