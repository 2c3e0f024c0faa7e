package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Anychima/Rent-Flow-sub009/internal/config"
	"github.com/Anychima/Rent-Flow-sub009/internal/ethsig"
	"github.com/Anychima/Rent-Flow-sub009/internal/logging"
)

type client struct {
	t   *testing.T
	app *fiber.App
}

func (c client) do(method, path, actor string, body any, out any) int {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
	}
	resp, err := c.app.Test(req, -1)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func newTestApp(t *testing.T) client {
	t.Helper()
	app := fiber.New()
	worker, err := Setup(app, Deps{
		Cfg: config.Config{
			AppName:       "RentFlow",
			AppEnv:        "test",
			FundsStream:   "funds",
			FundsTimeout:  time.Second,
			CurrencyScale: 2,
		},
		Logger: logging.Discard(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = worker(ctx) }()
	return client{t: t, app: app}
}

func connect(c client, owner string) *secp256k1.PrivateKey {
	c.t.Helper()
	key, err := ethsig.GenerateKey()
	require.NoError(c.t, err)
	status := c.do(http.MethodPost, "/api/v1/wallets", owner, map[string]any{
		"address":      ethsig.PubkeyToAddress(key.PubKey()).Hex(),
		"custody_type": "self_custodied",
	}, nil)
	require.Equal(c.t, http.StatusCreated, status)
	return key
}

func sign(c client, leaseID, owner, role string, key *secp256k1.PrivateKey) map[string]any {
	c.t.Helper()
	var ch struct {
		Message string `json:"message"`
	}
	require.Equal(c.t, http.StatusOK, c.do(http.MethodGet, "/api/v1/leases/"+leaseID+"/challenge?role="+role, owner, nil, &ch))
	var out map[string]any
	status := c.do(http.MethodPost, "/api/v1/leases/"+leaseID+"/sign", owner, map[string]any{
		"role":      role,
		"signature": ethsig.EncodeSignature(ethsig.Sign(key, []byte(ch.Message))),
	}, &out)
	require.Equal(c.t, http.StatusOK, status)
	return out
}

func TestLeaseLifecycleOverHTTP(t *testing.T) {
	c := newTestApp(t)
	landlordKey := connect(c, "landlord-1")
	tenantKey := connect(c, "tenant-1")

	status := c.do(http.MethodPost, "/api/v1/leases", "landlord-1", map[string]any{
		"id":                   "L2",
		"tenant_owner_id":      "tenant-1",
		"document_fingerprint": ethsig.Keccak256([]byte("lease pdf")).Hex(),
		"monthly_rent":         "25.00",
		"security_deposit":     "50.00",
		"start_date":           "2026-01-01T00:00:00Z",
		"end_date":             "2027-01-01T00:00:00Z",
		"payment_required":     true,
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	out := sign(c, "L2", "landlord-1", "landlord", landlordKey)
	assert.Equal(t, "partially_signed", out["status"])
	out = sign(c, "L2", "tenant-1", "tenant", tenantKey)
	assert.Equal(t, "fully_signed", out["status"])

	// A second tenant signature is rejected without changing the lease.
	var ch struct {
		Message string `json:"message"`
	}
	c.do(http.MethodGet, "/api/v1/leases/L2/challenge?role=tenant", "tenant-1", nil, &ch)
	status = c.do(http.MethodPost, "/api/v1/leases/L2/sign", "tenant-1", map[string]any{
		"role":      "tenant",
		"signature": ethsig.EncodeSignature(ethsig.Sign(tenantKey, []byte(ch.Message))),
	}, nil)
	assert.Equal(t, http.StatusConflict, status)

	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/api/v1/funds/deposits", "tenant-1",
		map[string]any{"amount": "75.00", "client_tx_id": "top-up-1"}, nil))
	require.Equal(t, http.StatusAccepted, c.do(http.MethodPost, "/api/v1/leases/L2/payments", "tenant-1", nil, nil))

	require.Eventually(t, func() bool {
		var l map[string]any
		c.do(http.MethodGet, "/api/v1/leases/L2", "tenant-1", nil, &l)
		return l["status"] == "active"
	}, 2*time.Second, 10*time.Millisecond)

	var me map[string]any
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/v1/accounts/me", "tenant-1", nil, &me))
	assert.Equal(t, "tenant", me["role"])

	var bal map[string]any
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/v1/funds/balance", "tenant-1", nil, &bal))
	assert.Equal(t, "0.00", bal["balance"])
}

func TestRoutesRequireActor(t *testing.T) {
	c := newTestApp(t)
	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodGet, "/api/v1/wallets", "", nil, nil))
	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/healthz", "", nil, nil))
	// The webhook is disabled until a secret is configured.
	assert.Equal(t, http.StatusServiceUnavailable, c.do(http.MethodPost, "/api/v1/funds/events", "", map[string]any{}, nil))
}
