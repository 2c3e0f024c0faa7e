package wallet

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Anychima/Rent-Flow-sub009/internal/ethsig"
	"github.com/Anychima/Rent-Flow-sub009/internal/logging"
)

func newAddress(t *testing.T) ethsig.Address {
	t.Helper()
	key, err := ethsig.GenerateKey()
	require.NoError(t, err)
	return ethsig.PubkeyToAddress(key.PubKey())
}

func countPrimary(t *testing.T, svc *Service, owner string) int {
	t.Helper()
	wallets, err := svc.List(context.Background(), owner)
	require.NoError(t, err)
	n := 0
	for _, w := range wallets {
		if w.IsPrimary {
			n++
		}
	}
	return n
}

func TestResolveWithoutWallet(t *testing.T) {
	svc := NewService(NewMemoryRepository(), logging.Discard())
	_, err := svc.Resolve(context.Background(), "owner-1")
	assert.ErrorIs(t, err, ErrNoWalletConnected)
}

func TestFirstWalletBecomesPrimary(t *testing.T) {
	svc := NewService(NewMemoryRepository(), logging.Discard())
	ctx := context.Background()

	first, err := svc.Connect(ctx, ConnectInput{OwnerID: "owner-1", Address: newAddress(t), CustodyType: CustodySelfCustodied})
	require.NoError(t, err)
	assert.True(t, first.IsPrimary)

	second, err := svc.Connect(ctx, ConnectInput{OwnerID: "owner-1", Address: newAddress(t), CustodyType: CustodyCustodial, CustodialCredential: "cred"})
	require.NoError(t, err)
	assert.False(t, second.IsPrimary)

	resolved, err := svc.Resolve(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, resolved.ID)
}

func TestConnectAsPrimaryClearsPrevious(t *testing.T) {
	svc := NewService(NewMemoryRepository(), logging.Discard())
	ctx := context.Background()

	_, err := svc.Connect(ctx, ConnectInput{OwnerID: "o", Address: newAddress(t), CustodyType: CustodySelfCustodied})
	require.NoError(t, err)
	second, err := svc.Connect(ctx, ConnectInput{OwnerID: "o", Address: newAddress(t), CustodyType: CustodySelfCustodied, MakePrimary: true})
	require.NoError(t, err)

	resolved, err := svc.Resolve(ctx, "o")
	require.NoError(t, err)
	assert.Equal(t, second.ID, resolved.ID)
	assert.Equal(t, 1, countPrimary(t, svc, "o"))
}

func TestPrimaryUniquenessAcrossSwaps(t *testing.T) {
	svc := NewService(NewMemoryRepository(), logging.Discard())
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		w, err := svc.Connect(ctx, ConnectInput{OwnerID: "o", Address: newAddress(t), CustodyType: CustodySelfCustodied})
		require.NoError(t, err)
		ids = append(ids, w.ID)
	}
	other, err := svc.Connect(ctx, ConnectInput{OwnerID: "other", Address: newAddress(t), CustodyType: CustodySelfCustodied})
	require.NoError(t, err)

	for _, idx := range []int{2, 0, 3, 3, 1} {
		_, err := svc.SetPrimary(ctx, "o", ids[idx])
		require.NoError(t, err)
		assert.Equal(t, 1, countPrimary(t, svc, "o"))
		resolved, err := svc.Resolve(ctx, "o")
		require.NoError(t, err)
		assert.Equal(t, ids[idx], resolved.ID)
	}

	resolved, err := svc.Resolve(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, other.ID, resolved.ID)
}

func TestConcurrentSetPrimary(t *testing.T) {
	svc := NewService(NewMemoryRepository(), logging.Discard())
	ctx := context.Background()

	var ids []string
	for i := 0; i < 8; i++ {
		w, err := svc.Connect(ctx, ConnectInput{OwnerID: "o", Address: newAddress(t), CustodyType: CustodySelfCustodied})
		require.NoError(t, err)
		ids = append(ids, w.ID)
	}

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.SetPrimary(ctx, "o", ids[i%len(ids)]); err != nil {
				t.Errorf("set primary %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, countPrimary(t, svc, "o"))
}

func TestSetPrimaryRejectsForeignWallet(t *testing.T) {
	svc := NewService(NewMemoryRepository(), logging.Discard())
	ctx := context.Background()
	foreign, err := svc.Connect(ctx, ConnectInput{OwnerID: "a", Address: newAddress(t), CustodyType: CustodySelfCustodied})
	require.NoError(t, err)

	_, err = svc.SetPrimary(ctx, "b", foreign.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConnectValidation(t *testing.T) {
	svc := NewService(NewMemoryRepository(), logging.Discard())
	ctx := context.Background()
	addr := newAddress(t)

	cases := []ConnectInput{
		{OwnerID: "o", Address: addr, CustodyType: CustodyCustodial},
		{OwnerID: "o", Address: addr, CustodyType: CustodySelfCustodied, CustodialCredential: "leak"},
		{OwnerID: "", Address: addr, CustodyType: CustodySelfCustodied},
		{OwnerID: "o", CustodyType: CustodySelfCustodied},
		{OwnerID: "o", Address: addr, CustodyType: "hardware"},
	}
	for i, in := range cases {
		_, err := svc.Connect(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidWallet, fmt.Sprintf("case %d", i))
	}

	_, err := svc.Connect(ctx, ConnectInput{OwnerID: "o", Address: addr, CustodyType: CustodySelfCustodied})
	require.NoError(t, err)
	_, err = svc.Connect(ctx, ConnectInput{OwnerID: "o", Address: addr, CustodyType: CustodySelfCustodied})
	assert.ErrorIs(t, err, ErrDuplicateAddress)
}

// racingRepository stores a rival primary wallet right before the first
// Create, the way a concurrent first connect would, and reports the
// primary-index conflict for that insert.
type racingRepository struct {
	Repository
	rival   Wallet
	creates int
}

func (r *racingRepository) Create(ctx context.Context, w Wallet) error {
	r.creates++
	if r.creates == 1 && w.IsPrimary {
		if err := r.Repository.Create(ctx, r.rival); err != nil {
			return err
		}
		return ErrPrimaryConflict
	}
	return r.Repository.Create(ctx, w)
}

func TestConnectLosingFirstWalletRaceJoinsAsSecondary(t *testing.T) {
	ctx := context.Background()
	repo := &racingRepository{
		Repository: NewMemoryRepository(),
		rival:      Wallet{ID: "00000000-0000-0000-0000-000000000001", OwnerID: "o", Address: newAddress(t), CustodyType: CustodySelfCustodied, IsPrimary: true},
	}
	svc := NewService(repo, logging.Discard())

	w, err := svc.Connect(ctx, ConnectInput{OwnerID: "o", Address: newAddress(t), CustodyType: CustodySelfCustodied})
	if err != nil {
		t.Fatalf("connect after losing the primary race: %v", err)
	}
	assert.False(t, w.IsPrimary)
	assert.Equal(t, 2, repo.creates)

	resolved, err := svc.Resolve(ctx, "o")
	require.NoError(t, err)
	assert.Equal(t, repo.rival.ID, resolved.ID)
	assert.Equal(t, 1, countPrimary(t, svc, "o"))
}

func TestConnectExplicitPrimaryRetriesSwap(t *testing.T) {
	ctx := context.Background()
	repo := &racingRepository{
		Repository: NewMemoryRepository(),
		rival:      Wallet{ID: "00000000-0000-0000-0000-000000000001", OwnerID: "o", Address: newAddress(t), CustodyType: CustodySelfCustodied, IsPrimary: true},
	}
	svc := NewService(repo, logging.Discard())

	w, err := svc.Connect(ctx, ConnectInput{OwnerID: "o", Address: newAddress(t), CustodyType: CustodySelfCustodied, MakePrimary: true})
	require.NoError(t, err)
	assert.True(t, w.IsPrimary)

	resolved, err := svc.Resolve(ctx, "o")
	require.NoError(t, err)
	assert.Equal(t, w.ID, resolved.ID)
	assert.Equal(t, 1, countPrimary(t, svc, "o"))
}
