// Package payment gates lease activation on the upfront transfers a lease requires.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Anychima/Rent-Flow-sub009/internal/account"
	"github.com/Anychima/Rent-Flow-sub009/internal/funds"
	"github.com/Anychima/Rent-Flow-sub009/internal/lease"
	"github.com/Anychima/Rent-Flow-sub009/internal/notification"
)

// ErrFundsTransferFailed is returned when a required transfer could not be initiated.
var ErrFundsTransferFailed = errors.New("funds transfer failed")

// FundsTransfer initiates one lease transfer.
type FundsTransfer interface {
	InitiateTransfer(ctx context.Context, req funds.TransferRequest) (funds.TransferHandle, error)
}

// RolePromoter grants account roles. Repeated calls for the same owner and
// role must be harmless.
type RolePromoter interface {
	PromoteRole(ctx context.Context, ownerID, role string) error
}

// Gate activates fully signed leases once payment is settled and promotes the tenant.
type Gate struct {
	leases   lease.Repository
	funds    FundsTransfer
	promoter RolePromoter
	dedup    funds.Deduper
	notifier notification.Notifier
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Config carries the gate's collaborators.
type Config struct {
	Leases   lease.Repository
	Funds    FundsTransfer
	Promoter RolePromoter
	Deduper  funds.Deduper
	Notifier notification.Notifier
	// Timeout bounds each InitiateTransfer call.
	Timeout time.Duration
	Logger  *slog.Logger
	Now     func() time.Time
}

// NewGate builds a gate.
func NewGate(cfg Config) *Gate {
	g := &Gate{
		leases:   cfg.Leases,
		funds:    cfg.Funds,
		promoter: cfg.Promoter,
		dedup:    cfg.Deduper,
		notifier: cfg.Notifier,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.now == nil {
		g.now = func() time.Time { return time.Now().UTC() }
	}
	if g.dedup == nil {
		g.dedup = funds.NewMemoryDeduper()
	}
	return g
}

// IsPaymentRequired reports whether activation of l waits for transfers.
func (g *Gate) IsPaymentRequired(l lease.Lease) bool {
	return len(l.RequiredTransfers()) > 0
}

// OnFullySigned activates l right away when nothing is owed.
func (g *Gate) OnFullySigned(ctx context.Context, l lease.Lease) (lease.Lease, error) {
	return g.settle(ctx, l.ID, nil)
}

// OnFundsEvent applies a transfer outcome to its lease. Events with an id
// already processed are ignored.
func (g *Gate) OnFundsEvent(ctx context.Context, ev funds.Event) (lease.Lease, error) {
	if err := ev.Validate(); err != nil {
		return lease.Lease{}, err
	}
	if ev.ID != "" {
		first, err := g.dedup.Claim(ctx, ev.ID)
		if err != nil {
			return lease.Lease{}, fmt.Errorf("dedup funds event: %w", err)
		}
		if !first {
			g.logger.Info("duplicate funds event ignored", "event_id", ev.ID, "lease_id", ev.LeaseID)
			return g.leases.Get(ctx, ev.LeaseID)
		}
	}

	var (
		l   lease.Lease
		err error
	)
	switch ev.Outcome {
	case funds.OutcomeSucceeded:
		l, err = g.settle(ctx, ev.LeaseID, func(cur *lease.Lease) error {
			return cur.RecordSettlement(ev.Covers, g.now())
		})
	case funds.OutcomeFailed:
		l, err = g.leases.Update(ctx, ev.LeaseID, func(cur *lease.Lease) error {
			return cur.MarkPayment(lease.PaymentFailed, g.now())
		})
		if err == nil && l.PaymentStatus == lease.PaymentFailed {
			g.notify(ctx, notification.KindPaymentFailed, l.TenantOwnerID, l)
		}
	case funds.OutcomePending:
		l, err = g.leases.Update(ctx, ev.LeaseID, func(cur *lease.Lease) error {
			return cur.MarkPayment(lease.PaymentPending, g.now())
		})
	}
	if err != nil {
		if ev.ID != "" && !isPermanent(err) {
			if relErr := g.dedup.Release(ctx, ev.ID); relErr != nil {
				g.logger.Warn("funds event release failed", "event_id", ev.ID, "error", relErr)
			}
		}
		return lease.Lease{}, err
	}
	g.logger.Info("funds event applied",
		"event_id", ev.ID,
		"lease_id", ev.LeaseID,
		"outcome", ev.Outcome,
		"status", l.Status,
		"payment_status", l.PaymentStatus,
	)
	return l, nil
}

// RequestPayment initiates every outstanding transfer of a fully signed
// lease on behalf of its tenant. Transfers that time out leave the lease pending; their outcome
// arrives later as a funds event.
func (g *Gate) RequestPayment(ctx context.Context, leaseID, payerID string) (lease.Lease, []funds.TransferHandle, error) {
	l, err := g.leases.Get(ctx, leaseID)
	if err != nil {
		return lease.Lease{}, nil, err
	}
	if l.IsFinal() {
		return lease.Lease{}, nil, lease.ErrLeaseFinalized
	}
	if payerID == "" || payerID != l.TenantOwnerID {
		return lease.Lease{}, nil, lease.ErrNotParty
	}
	if !g.IsPaymentRequired(l) || l.Status == lease.StatusActive {
		l, err = g.settle(ctx, leaseID, nil)
		return l, nil, err
	}
	if l.Status != lease.StatusFullySigned {
		return lease.Lease{}, nil, fmt.Errorf("%w: payment opens once both parties signed", lease.ErrInvalidTransition)
	}
	if g.funds == nil {
		return lease.Lease{}, nil, fmt.Errorf("%w: no funds backend configured", ErrFundsTransferFailed)
	}

	if l.PaymentStatus == lease.PaymentFailed {
		// A retry reopens the payment; later outcomes apply on top of it.
		if l, err = g.leases.Update(ctx, l.ID, func(cur *lease.Lease) error {
			return cur.MarkPayment(lease.PaymentOutstanding, g.now())
		}); err != nil {
			return lease.Lease{}, nil, err
		}
	}

	var handles []funds.TransferHandle
	for _, kind := range l.OutstandingTransfers() {
		h, err := g.initiate(ctx, funds.TransferRequest{
			LeaseID: l.ID,
			Kind:    kind,
			Payer:   l.TenantOwnerID,
			Payee:   l.LandlordOwnerID,
			Amount:  l.AmountFor(kind),
		})
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				g.logger.Warn("funds transfer pending after timeout", "lease_id", l.ID, "kind", kind)
				handles = append(handles, funds.TransferHandle{LeaseID: l.ID, Kind: kind, Amount: l.AmountFor(kind), Status: funds.OutcomePending})
				continue
			}
			g.markFailed(ctx, l.ID)
			return lease.Lease{}, handles, fmt.Errorf("%w: %s: %v", ErrFundsTransferFailed, kind, err)
		}
		handles = append(handles, h)
		if h.Status == funds.OutcomeFailed {
			g.markFailed(ctx, l.ID)
			return lease.Lease{}, handles, fmt.Errorf("%w: %s was declined", ErrFundsTransferFailed, kind)
		}
	}

	// Outcomes may already have been applied by the event consumer; only an
	// untouched outstanding lease moves to pending.
	updated, err := g.leases.Update(ctx, l.ID, func(cur *lease.Lease) error {
		if cur.Status != lease.StatusFullySigned || cur.PaymentStatus != lease.PaymentOutstanding {
			return nil
		}
		return cur.MarkPayment(lease.PaymentPending, g.now())
	})
	if err != nil {
		return lease.Lease{}, handles, err
	}
	return updated, handles, nil
}

func (g *Gate) markFailed(ctx context.Context, leaseID string) {
	if _, err := g.leases.Update(ctx, leaseID, func(cur *lease.Lease) error {
		return cur.MarkPayment(lease.PaymentFailed, g.now())
	}); err != nil {
		g.logger.Warn("payment status update failed", "lease_id", leaseID, "error", err)
	}
}

// Run applies events from consumer until ctx is cancelled. Events for
// finalized or unknown leases are acknowledged and dropped.
func (g *Gate) Run(ctx context.Context, consumer funds.Consumer) error {
	return consumer.Consume(ctx, func(ctx context.Context, ev funds.Event) error {
		_, err := g.OnFundsEvent(ctx, ev)
		if err != nil && isPermanent(err) {
			g.logger.Warn("funds event discarded", "event_id", ev.ID, "lease_id", ev.LeaseID, "error", err)
			return nil
		}
		return err
	})
}

func (g *Gate) initiate(ctx context.Context, req funds.TransferRequest) (funds.TransferHandle, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	return g.funds.InitiateTransfer(ctx, req)
}

// settle applies mutate, activates the lease when it is fully signed and
// nothing is owed, and promotes the tenant exactly once. The promotion is
// claimed on the lease row in the same update that observes it active, and
// released again if the promotion call fails so a redelivery can retry.
func (g *Gate) settle(ctx context.Context, leaseID string, mutate func(*lease.Lease) error) (lease.Lease, error) {
	var activated, claimed bool
	l, err := g.leases.Update(ctx, leaseID, func(cur *lease.Lease) error {
		if cur.IsFinal() {
			return lease.ErrLeaseFinalized
		}
		if mutate != nil {
			if err := mutate(cur); err != nil {
				return err
			}
		}
		if cur.Status == lease.StatusFullySigned && len(cur.OutstandingTransfers()) == 0 {
			var err error
			if activated, err = cur.Activate(g.now()); err != nil {
				return err
			}
		}
		claimed = cur.ClaimPromotion(g.now())
		return nil
	})
	if err != nil {
		return lease.Lease{}, err
	}
	if activated {
		g.logger.Info("lease activated", "lease_id", l.ID, "tenant_owner_id", l.TenantOwnerID)
		g.notify(ctx, notification.KindLeaseActivated, l.LandlordOwnerID, l)
		g.notify(ctx, notification.KindLeaseActivated, l.TenantOwnerID, l)
	}
	if !claimed {
		return l, nil
	}

	if err := g.promote(ctx, l.TenantOwnerID); err != nil {
		g.logger.Error("tenant role promotion failed", "lease_id", l.ID, "owner_id", l.TenantOwnerID, "error", err)
		released, relErr := g.leases.Update(ctx, leaseID, func(cur *lease.Lease) error {
			cur.ReleasePromotion(g.now())
			return nil
		})
		if relErr != nil {
			g.logger.Error("promotion claim release failed", "lease_id", l.ID, "error", relErr)
			return l, err
		}
		return released, err
	}
	return l, nil
}

func (g *Gate) promote(ctx context.Context, ownerID string) error {
	if g.promoter == nil {
		return nil
	}
	return g.promoter.PromoteRole(ctx, ownerID, account.RoleTenant)
}

func (g *Gate) notify(ctx context.Context, kind, dest string, l lease.Lease) {
	if g.notifier == nil || dest == "" {
		return
	}
	msg := notification.Message{Kind: kind, Destination: dest, Body: fmt.Sprintf("lease %s is now %s", l.ID, l.Status)}
	if err := g.notifier.Send(ctx, msg); err != nil {
		g.logger.Warn("notification failed", "lease_id", l.ID, "error", err)
	}
}

func isPermanent(err error) bool {
	return errors.Is(err, lease.ErrLeaseFinalized) ||
		errors.Is(err, lease.ErrNotFound) ||
		errors.Is(err, funds.ErrInvalidEvent)
}
