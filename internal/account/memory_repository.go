package account

import (
    "context"
    "sync"
    "time"
)

type memoryRepository struct {
    mu       sync.RWMutex
    accounts map[string]Account
}

// NewMemoryRepository builds an in-memory account store.
func NewMemoryRepository() Repository {
    return &memoryRepository{accounts: make(map[string]Account)}
}

func (r *memoryRepository) Get(_ context.Context, ownerID string) (Account, error) {
    r.mu.RLock()
    defer r.mu.RUnlock()
    acc, ok := r.accounts[ownerID]
    if !ok {
        return Account{}, ErrNotFound
    }
    return acc, nil
}

func (r *memoryRepository) SetRole(_ context.Context, ownerID, role string, at time.Time) (Account, bool, error) {
    r.mu.Lock()
    defer r.mu.Unlock()
    if acc, ok := r.accounts[ownerID]; ok && acc.Role == role {
        return acc, false, nil
    }
    acc := Account{OwnerID: ownerID, Role: role, UpdatedAt: at.UTC()}
    r.accounts[ownerID] = acc
    return acc, true, nil
}
