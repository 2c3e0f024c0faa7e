// Package funds executes lease transfers on the ledger and delivers their
// outcomes as events.
package funds

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TransferKind names an upfront payment a lease may require.
type TransferKind string

const (
	KindSecurityDeposit TransferKind = "security_deposit"
	KindFirstMonthRent  TransferKind = "first_month_rent"
)

// Valid reports whether k is a known transfer kind.
func (k TransferKind) Valid() bool {
	return k == KindSecurityDeposit || k == KindFirstMonthRent
}

// Outcome is the settlement state reported for a transfer.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomePending   Outcome = "pending"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSucceeded, OutcomeFailed, OutcomePending:
		return true
	}
	return false
}

var (
	// ErrInvalidRequest rejects transfer requests missing a lease, party or amount.
	ErrInvalidRequest = errors.New("invalid transfer request")
	// ErrInvalidEvent rejects events without a lease id or with an unknown outcome.
	ErrInvalidEvent = errors.New("invalid funds event")
	// ErrQueueClosed is returned when publishing to a stopped queue.
	ErrQueueClosed = errors.New("funds queue closed")
)

// TransferRequest asks for one lease payment to be moved from payer to payee.
type TransferRequest struct {
	LeaseID string
	Kind    TransferKind
	Payer   string
	Payee   string
	Amount  int64
}

// Validate checks the request is complete.
func (r TransferRequest) Validate() error {
	switch {
	case r.LeaseID == "":
		return fmt.Errorf("%w: lease id required", ErrInvalidRequest)
	case !r.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, r.Kind)
	case r.Payer == "" || r.Payee == "":
		return fmt.Errorf("%w: payer and payee required", ErrInvalidRequest)
	case r.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	return nil
}

// ClientTxID is the idempotency key for the ledger posting of r.
func (r TransferRequest) ClientTxID() string {
	return r.LeaseID + ":" + string(r.Kind)
}

// TransferHandle identifies an initiated transfer.
type TransferHandle struct {
	ID      string       `json:"id"`
	LeaseID string       `json:"lease_id"`
	Kind    TransferKind `json:"kind"`
	Amount  int64        `json:"amount"`
	Status  Outcome      `json:"status"`
}

// Event reports a transfer outcome for a lease. An empty Covers on a
// succeeded event means every transfer the lease requires is settled.
type Event struct {
	ID         string         `json:"id"`
	LeaseID    string         `json:"lease_id"`
	Outcome    Outcome        `json:"outcome"`
	Covers     []TransferKind `json:"covers,omitempty"`
	TransferID string         `json:"transfer_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Validate checks the event can be routed.
func (e Event) Validate() error {
	if e.LeaseID == "" {
		return fmt.Errorf("%w: lease id required", ErrInvalidEvent)
	}
	if !e.Outcome.Valid() {
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidEvent, e.Outcome)
	}
	for _, k := range e.Covers {
		if !k.Valid() {
			return fmt.Errorf("%w: unknown transfer kind %q", ErrInvalidEvent, k)
		}
	}
	return nil
}

// EventHandler processes one event. Returning an error leaves the event
// unacknowledged so it is delivered again.
type EventHandler func(ctx context.Context, ev Event) error

// Publisher emits funds events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Consumer delivers funds events to a handler until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, handle EventHandler) error
}

// Deduper records which event ids were already processed.
type Deduper interface {
	// Claim returns false if key was claimed before.
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}
