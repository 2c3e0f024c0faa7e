package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Anychima/Rent-Flow-sub009/internal/account"
	"github.com/Anychima/Rent-Flow-sub009/internal/challenge"
	"github.com/Anychima/Rent-Flow-sub009/internal/custody"
	"github.com/Anychima/Rent-Flow-sub009/internal/ethsig"
	"github.com/Anychima/Rent-Flow-sub009/internal/funds"
	"github.com/Anychima/Rent-Flow-sub009/internal/lease"
	"github.com/Anychima/Rent-Flow-sub009/internal/ledger"
	"github.com/Anychima/Rent-Flow-sub009/internal/logging"
	"github.com/Anychima/Rent-Flow-sub009/internal/middleware"
	"github.com/Anychima/Rent-Flow-sub009/internal/wallet"
)

type countingPromoter struct {
	mu    sync.Mutex
	calls map[string]int
	fail  error
	inner *account.Service
}

func (p *countingPromoter) PromoteRole(ctx context.Context, ownerID, role string) error {
	p.mu.Lock()
	p.calls[ownerID]++
	fail := p.fail
	p.mu.Unlock()
	if fail != nil {
		return fail
	}
	return p.inner.PromoteRole(ctx, ownerID, role)
}

func (p *countingPromoter) count(owner string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[owner]
}

type blockingFunds struct{}

func (blockingFunds) InitiateTransfer(ctx context.Context, _ funds.TransferRequest) (funds.TransferHandle, error) {
	<-ctx.Done()
	return funds.TransferHandle{}, ctx.Err()
}

type harness struct {
	t          *testing.T
	leases     *lease.Service
	repo       lease.Repository
	gate       *Gate
	promoter   *countingPromoter
	accounts   *account.Service
	transferer *funds.LedgerTransferer
	queue      *recordingQueue
	keys       map[string]*secp256k1.PrivateKey
}

// recordingQueue stores published events so tests decide when to deliver them.
type recordingQueue struct {
	mu     sync.Mutex
	events []funds.Event
}

func (q *recordingQueue) Publish(_ context.Context, ev funds.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
	return nil
}

func (q *recordingQueue) drain() []funds.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logging.Discard()
	repo := lease.NewMemoryRepository()
	accounts := account.NewService(account.NewMemoryRepository(), log)
	promoter := &countingPromoter{calls: map[string]int{}, inner: accounts}
	queue := &recordingQueue{}
	transferer := funds.NewLedgerTransferer(ledger.NewInMemory(), queue, log)
	gate := NewGate(Config{
		Leases:   repo,
		Funds:    transferer,
		Promoter: promoter,
		Deduper:  funds.NewMemoryDeduper(),
		Timeout:  time.Second,
		Logger:   log,
	})
	wallets := wallet.NewService(wallet.NewMemoryRepository(), log)
	svc := lease.NewService(repo, wallets, custody.NewAdapter(nil, 0, log), gate, log)

	h := &harness{
		t: t, leases: svc, repo: repo, gate: gate, promoter: promoter, accounts: accounts,
		transferer: transferer, queue: queue, keys: map[string]*secp256k1.PrivateKey{},
	}
	for _, owner := range []string{"landlord-1", "tenant-1"} {
		key, err := ethsig.GenerateKey()
		require.NoError(t, err)
		h.keys[owner] = key
		_, err = wallets.Connect(context.Background(), wallet.ConnectInput{
			OwnerID: owner, Address: ethsig.PubkeyToAddress(key.PubKey()), CustodyType: wallet.CustodySelfCustodied,
		})
		require.NoError(t, err)
	}
	return h
}

func (h *harness) draft(id string, paymentRequired bool) {
	h.t.Helper()
	_, err := h.leases.Create(context.Background(), lease.CreateInput{
		ID:                  id,
		LandlordOwnerID:     "landlord-1",
		TenantOwnerID:       "tenant-1",
		DocumentFingerprint: ethsig.Keccak256([]byte(id)),
		MonthlyRent:         2500,
		SecurityDeposit:     5000,
		StartDate:           time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:             time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		PaymentRequired:     paymentRequired,
	})
	require.NoError(h.t, err)
}

func (h *harness) sign(id, owner string, role challenge.Role) lease.Lease {
	h.t.Helper()
	ctx := context.Background()
	msg, err := h.leases.Challenge(ctx, id, role)
	require.NoError(h.t, err)
	l, err := h.leases.Sign(ctx, lease.SignInput{LeaseID: id, Role: role, SignerOwnerID: owner, Signature: ethsig.Sign(h.keys[owner], msg)})
	require.NoError(h.t, err)
	return l
}

func (h *harness) signBoth(id string) lease.Lease {
	h.sign(id, "landlord-1", challenge.RoleLandlord)
	return h.sign(id, "tenant-1", challenge.RoleTenant)
}

func TestScenarioL1ActivatesWithoutPayment(t *testing.T) {
	h := newHarness(t)
	h.draft("L1", false)

	l := h.sign("L1", "landlord-1", challenge.RoleLandlord)
	assert.Equal(t, lease.StatusPartiallySigned, l.Status)

	l = h.sign("L1", "tenant-1", challenge.RoleTenant)
	assert.Equal(t, lease.StatusActive, l.Status)
	assert.NotNil(t, l.ActivatedAt)
	assert.NotNil(t, l.RolePromotedAt)
	assert.Equal(t, 1, h.promoter.count("tenant-1"))

	acc, err := h.accounts.Get(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, account.RoleTenant, acc.Role)
}

func TestScenarioL2ActivatesOnFundsEvent(t *testing.T) {
	h := newHarness(t)
	h.draft("L2", true)
	assert.True(t, h.gate.IsPaymentRequired(mustGet(t, h, "L2")))

	l := h.signBoth("L2")
	assert.Equal(t, lease.StatusFullySigned, l.Status)
	assert.Equal(t, 0, h.promoter.count("tenant-1"))

	l, err := h.gate.OnFundsEvent(context.Background(), funds.Event{ID: "ev-1", LeaseID: "L2", Outcome: funds.OutcomeSucceeded})
	require.NoError(t, err)
	assert.Equal(t, lease.StatusActive, l.Status)
	assert.Equal(t, lease.PaymentSettled, l.PaymentStatus)
	assert.Equal(t, 1, h.promoter.count("tenant-1"))
}

func TestDuplicateSucceededEventPromotesOnce(t *testing.T) {
	h := newHarness(t)
	h.draft("L2", true)
	h.signBoth("L2")
	ctx := context.Background()

	ev := funds.Event{ID: "ev-1", LeaseID: "L2", Outcome: funds.OutcomeSucceeded}
	_, err := h.gate.OnFundsEvent(ctx, ev)
	require.NoError(t, err)
	_, err = h.gate.OnFundsEvent(ctx, ev)
	require.NoError(t, err)

	// Same outcome redelivered under a fresh id.
	ev.ID = "ev-2"
	l, err := h.gate.OnFundsEvent(ctx, ev)
	require.NoError(t, err)

	assert.Equal(t, lease.StatusActive, l.Status)
	assert.Equal(t, 1, h.promoter.count("tenant-1"))
}

func TestConcurrentSucceededEventsPromoteOnce(t *testing.T) {
	h := newHarness(t)
	h.draft("L2", true)
	h.signBoth("L2")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.gate.OnFundsEvent(context.Background(), funds.Event{LeaseID: "L2", Outcome: funds.OutcomeSucceeded})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, h.promoter.count("tenant-1"))
}

func TestPartialAndFailedOutcomesKeepLeaseFullySigned(t *testing.T) {
	h := newHarness(t)
	h.draft("L2", true)
	h.signBoth("L2")
	ctx := context.Background()

	l, err := h.gate.OnFundsEvent(ctx, funds.Event{ID: "ev-1", LeaseID: "L2", Outcome: funds.OutcomeSucceeded, Covers: []funds.TransferKind{funds.KindSecurityDeposit}})
	require.NoError(t, err)
	assert.Equal(t, lease.StatusFullySigned, l.Status)
	assert.Equal(t, []funds.TransferKind{funds.KindFirstMonthRent}, l.OutstandingTransfers())

	l, err = h.gate.OnFundsEvent(ctx, funds.Event{ID: "ev-2", LeaseID: "L2", Outcome: funds.OutcomeFailed, Covers: []funds.TransferKind{funds.KindFirstMonthRent}})
	require.NoError(t, err)
	assert.Equal(t, lease.StatusFullySigned, l.Status)
	assert.Equal(t, lease.PaymentFailed, l.PaymentStatus)

	l, err = h.gate.OnFundsEvent(ctx, funds.Event{ID: "ev-3", LeaseID: "L2", Outcome: funds.OutcomeSucceeded, Covers: []funds.TransferKind{funds.KindFirstMonthRent}})
	require.NoError(t, err)
	assert.Equal(t, lease.StatusActive, l.Status)
	assert.Equal(t, 1, h.promoter.count("tenant-1"))
}

func TestRequestPaymentThroughLedger(t *testing.T) {
	h := newHarness(t)
	h.draft("L2", true)
	h.signBoth("L2")
	ctx := context.Background()

	_, err := h.transferer.Deposit(ctx, "tenant-1", "top-up", 7500)
	require.NoError(t, err)

	_, _, err = h.gate.RequestPayment(ctx, "L2", "landlord-1")
	assert.ErrorIs(t, err, lease.ErrNotParty)

	l, handles, err := h.gate.RequestPayment(ctx, "L2", "tenant-1")
	require.NoError(t, err)
	require.Len(t, handles, 2)
	assert.Equal(t, lease.PaymentPending, l.PaymentStatus)
	assert.Equal(t, lease.StatusFullySigned, l.Status)

	for _, ev := range h.queue.drain() {
		l, err = h.gate.OnFundsEvent(ctx, ev)
		require.NoError(t, err)
	}
	assert.Equal(t, lease.StatusActive, l.Status)
	assert.Equal(t, 1, h.promoter.count("tenant-1"))

	escrow, err := h.transferer.Balance(ctx, "landlord-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2500, escrow)
}

func TestRequestPaymentInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	h.draft("L2", true)
	h.signBoth("L2")
	ctx := context.Background()

	_, handles, err := h.gate.RequestPayment(ctx, "L2", "tenant-1")
	assert.ErrorIs(t, err, ErrFundsTransferFailed)
	require.Len(t, handles, 1)
	assert.Equal(t, funds.OutcomeFailed, handles[0].Status)

	l := mustGet(t, h, "L2")
	assert.Equal(t, lease.StatusFullySigned, l.Status)
	assert.Equal(t, lease.PaymentFailed, l.PaymentStatus)

	for _, ev := range h.queue.drain() {
		_, err := h.gate.OnFundsEvent(ctx, ev)
		require.NoError(t, err)
	}
	l = mustGet(t, h, "L2")
	assert.Equal(t, lease.PaymentFailed, l.PaymentStatus)
	assert.Equal(t, 0, h.promoter.count("tenant-1"))
}

// gateFeed hands published events straight to the gate, as a consumer that
// runs ahead of RequestPayment would.
type gateFeed struct {
	gate *Gate
}

func (f *gateFeed) Publish(ctx context.Context, ev funds.Event) error {
	_, err := f.gate.OnFundsEvent(ctx, ev)
	return err
}

func newFedGate(t *testing.T, h *harness) (*Gate, *funds.LedgerTransferer) {
	t.Helper()
	log := logging.Discard()
	feed := &gateFeed{}
	transferer := funds.NewLedgerTransferer(ledger.NewInMemory(), feed, log)
	gate := NewGate(Config{
		Leases:   h.repo,
		Funds:    transferer,
		Promoter: h.promoter,
		Timeout:  time.Second,
		Logger:   log,
	})
	feed.gate = gate
	return gate, transferer
}

func TestDeclinedTransferAppliedBeforeReturnStaysFailed(t *testing.T) {
	h := newHarness(t)
	h.draft("L2", true)
	h.signBoth("L2")
	ctx := context.Background()
	gate, _ := newFedGate(t, h)

	l, _, err := gate.RequestPayment(ctx, "L2", "tenant-1")
	if !errors.Is(err, ErrFundsTransferFailed) {
		t.Fatalf("expected ErrFundsTransferFailed, got %v", err)
	}
	assert.Empty(t, l.ID)

	stored := mustGet(t, h, "L2")
	assert.Equal(t, lease.StatusFullySigned, stored.Status)
	assert.Equal(t, lease.PaymentFailed, stored.PaymentStatus)
	assert.Equal(t, 0, h.promoter.count("tenant-1"))
}

func TestRetryAfterDeclineActivates(t *testing.T) {
	h := newHarness(t)
	h.draft("L2", true)
	h.signBoth("L2")
	ctx := context.Background()
	gate, transferer := newFedGate(t, h)

	_, _, err := gate.RequestPayment(ctx, "L2", "tenant-1")
	require.ErrorIs(t, err, ErrFundsTransferFailed)

	_, err = transferer.Deposit(ctx, "tenant-1", "top-up", 7500)
	require.NoError(t, err)

	l, handles, err := gate.RequestPayment(ctx, "L2", "tenant-1")
	require.NoError(t, err)
	require.Len(t, handles, 2)
	assert.Equal(t, lease.StatusActive, l.Status)
	assert.Equal(t, lease.PaymentSettled, l.PaymentStatus)
	assert.Equal(t, 1, h.promoter.count("tenant-1"))
}

func TestRequestPaymentTimeoutLeavesLeasePending(t *testing.T) {
	h := newHarness(t)
	h.draft("L2", true)
	h.signBoth("L2")
	h.gate.funds = blockingFunds{}
	h.gate.timeout = 20 * time.Millisecond

	start := time.Now()
	l, handles, err := h.gate.RequestPayment(context.Background(), "L2", "tenant-1")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, lease.PaymentPending, l.PaymentStatus)
	for _, hd := range handles {
		assert.Equal(t, funds.OutcomePending, hd.Status)
	}
}

func TestPaymentOnFinalizedLease(t *testing.T) {
	h := newHarness(t)
	h.draft("L1", false)
	h.signBoth("L1")
	ctx := context.Background()
	terminated, err := h.leases.Terminate(ctx, "L1", "landlord-1")
	require.NoError(t, err)

	_, err = h.gate.OnFundsEvent(ctx, funds.Event{ID: "ev-1", LeaseID: "L1", Outcome: funds.OutcomeSucceeded})
	assert.ErrorIs(t, err, lease.ErrLeaseFinalized)
	_, err = h.gate.OnFundsEvent(ctx, funds.Event{ID: "ev-2", LeaseID: "L1", Outcome: funds.OutcomeFailed})
	assert.ErrorIs(t, err, lease.ErrLeaseFinalized)
	_, _, err = h.gate.RequestPayment(ctx, "L1", "tenant-1")
	assert.ErrorIs(t, err, lease.ErrLeaseFinalized)

	assert.Equal(t, terminated, mustGet(t, h, "L1"))
}

func TestPromotionFailureIsRetried(t *testing.T) {
	h := newHarness(t)
	h.draft("L2", true)
	h.signBoth("L2")
	ctx := context.Background()

	h.promoter.fail = errors.New("account service down")
	ev := funds.Event{ID: "ev-1", LeaseID: "L2", Outcome: funds.OutcomeSucceeded}
	_, err := h.gate.OnFundsEvent(ctx, ev)
	require.Error(t, err)
	l := mustGet(t, h, "L2")
	assert.Equal(t, lease.StatusActive, l.Status)
	assert.Nil(t, l.RolePromotedAt)

	h.promoter.fail = nil
	l, err = h.gate.OnFundsEvent(ctx, ev)
	require.NoError(t, err)
	assert.NotNil(t, l.RolePromotedAt)
	assert.Equal(t, 2, h.promoter.count("tenant-1"))

	_, err = h.gate.OnFundsEvent(ctx, funds.Event{ID: "ev-9", LeaseID: "L2", Outcome: funds.OutcomeSucceeded})
	require.NoError(t, err)
	assert.Equal(t, 2, h.promoter.count("tenant-1"))
}

func TestRunConsumesQueue(t *testing.T) {
	h := newHarness(t)
	h.draft("L2", true)
	h.signBoth("L2")

	q := funds.NewChannelQueue(8, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.gate.Run(ctx, q)

	require.NoError(t, q.Publish(ctx, funds.Event{ID: "ev-1", LeaseID: "L2", Outcome: funds.OutcomeSucceeded}))
	require.NoError(t, q.Publish(ctx, funds.Event{ID: "ev-2", LeaseID: "missing", Outcome: funds.OutcomeSucceeded}))

	require.Eventually(t, func() bool {
		return mustGet(t, h, "L2").Status == lease.StatusActive
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.promoter.count("tenant-1"))
}

func TestFundsWebhookVerifiesSignature(t *testing.T) {
	h := newHarness(t)
	queue := &recordingQueue{}
	handler := NewHandler(h.gate, queue, "whsec", logging.Discard())
	app := fiber.New()
	app.Post("/funds/events", handler.FundsEvent)

	body := []byte(`{"id":"ev-1","lease_id":"L2","outcome":"succeeded","covers":["security_deposit"]}`)
	mac := hmac.New(sha256.New, []byte("whsec"))
	mac.Write(body)

	send := func(sig string) int {
		req := httptest.NewRequest(http.MethodPost, "/funds/events", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Signature", sig)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusUnauthorized, send("deadbeef"))
	assert.Empty(t, queue.drain())

	assert.Equal(t, http.StatusAccepted, send(hex.EncodeToString(mac.Sum(nil))))
	events := queue.drain()
	require.Len(t, events, 1)
	assert.Equal(t, "L2", events[0].LeaseID)
	assert.Equal(t, []funds.TransferKind{funds.KindSecurityDeposit}, events[0].Covers)
}

func TestRequestPaymentHandlerMapsErrors(t *testing.T) {
	h := newHarness(t)
	h.draft("L2", true)
	handler := NewHandler(h.gate, &recordingQueue{}, "", logging.Discard())
	app := fiber.New()
	app.Post("/leases/:leaseId/payments", middleware.Actor(), handler.RequestPayment)

	send := func(id, actor string) int {
		req := httptest.NewRequest(http.MethodPost, "/leases/"+id+"/payments", nil)
		req.Header.Set("X-Actor-ID", actor)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusNotFound, send("missing", "tenant-1"))
	assert.Equal(t, http.StatusForbidden, send("L2", "landlord-1"))
	assert.Equal(t, http.StatusConflict, send("L2", "tenant-1"))
}

func mustGet(t *testing.T, h *harness, id string) lease.Lease {
	t.Helper()
	l, err := h.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return l
}
