package wallet

import (
    "context"
    "sort"
    "sync"
)

type memoryRepository struct {
    mu      sync.RWMutex
    storage map[string]Wallet
}

// NewMemoryRepository constructs an in-memory repository for tests and development.
func NewMemoryRepository() Repository {
    return &memoryRepository{storage: make(map[string]Wallet)}
}

func (r *memoryRepository) Create(_ context.Context, wallet Wallet) error {
    r.mu.Lock()
    defer r.mu.Unlock()
    for _, existing := range r.storage {
        if existing.ID == wallet.ID {
            return ErrDuplicateAddress
        }
        if existing.OwnerID == wallet.OwnerID && existing.Address == wallet.Address {
            return ErrDuplicateAddress
        }
    }
    if wallet.IsPrimary {
        r.clearPrimaryLocked(wallet.OwnerID)
    }
    r.storage[wallet.ID] = wallet
    return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Wallet, error) {
    r.mu.RLock()
    defer r.mu.RUnlock()
    wallet, ok := r.storage[id]
    if !ok {
        return Wallet{}, ErrNotFound
    }
    return wallet, nil
}

func (r *memoryRepository) ListByOwner(_ context.Context, ownerID string) ([]Wallet, error) {
    r.mu.RLock()
    defer r.mu.RUnlock()
    var out []Wallet
    for _, w := range r.storage {
        if w.OwnerID == ownerID {
            out = append(out, w)
        }
    }
    sort.Slice(out, func(i, j int) bool {
        if out[i].CreatedAt.Equal(out[j].CreatedAt) {
            return out[i].ID < out[j].ID
        }
        return out[i].CreatedAt.Before(out[j].CreatedAt)
    })
    return out, nil
}

func (r *memoryRepository) Primary(_ context.Context, ownerID string) (Wallet, error) {
    r.mu.RLock()
    defer r.mu.RUnlock()
    for _, w := range r.storage {
        if w.OwnerID == ownerID && w.IsPrimary {
            return w, nil
        }
    }
    return Wallet{}, ErrNoWalletConnected
}

func (r *memoryRepository) SetPrimary(_ context.Context, ownerID, walletID string) (Wallet, error) {
    r.mu.Lock()
    defer r.mu.Unlock()
    target, ok := r.storage[walletID]
    if !ok || target.OwnerID != ownerID {
        return Wallet{}, ErrNotFound
    }
    r.clearPrimaryLocked(ownerID)
    target.IsPrimary = true
    r.storage[walletID] = target
    return target, nil
}

func (r *memoryRepository) clearPrimaryLocked(ownerID string) {
    for id, w := range r.storage {
        if w.OwnerID == ownerID && w.IsPrimary {
            w.IsPrimary = false
            r.storage[id] = w
        }
    }
}
