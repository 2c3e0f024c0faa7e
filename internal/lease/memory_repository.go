package lease

import (
	"context"
	"sync"
)

type memoryEntry struct {
	mu    sync.Mutex
	lease Lease
}

type memoryRepository struct {
	mu     sync.RWMutex
	leases map[string]*memoryEntry
}

// NewMemoryRepository builds an in-memory lease store. Each lease has its own
// lock so updates to different leases do not contend.
func NewMemoryRepository() Repository {
	return &memoryRepository{leases: make(map[string]*memoryEntry)}
}

func (r *memoryRepository) Create(_ context.Context, l Lease) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.leases[l.ID]; exists {
		return ErrAlreadyExists
	}
	r.leases[l.ID] = &memoryEntry{lease: l.clone()}
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Lease, error) {
	entry, ok := r.entry(id)
	if !ok {
		return Lease{}, ErrNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.lease.clone(), nil
}

func (r *memoryRepository) Update(ctx context.Context, id string, fn func(*Lease) error) (Lease, error) {
	entry, ok := r.entry(id)
	if !ok {
		return Lease{}, ErrNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Lease{}, err
	}

	working := entry.lease.clone()
	if err := fn(&working); err != nil {
		return Lease{}, err
	}
	working.ID = id
	entry.lease = working.clone()
	return working, nil
}

func (r *memoryRepository) entry(id string) (*memoryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.leases[id]
	return e, ok
}
