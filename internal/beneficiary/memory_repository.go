package beneficiary

import (
	"context"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu    sync.RWMutex
	items map[string]Beneficiary
}

// NewMemoryRepository builds an in-memory beneficiary store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{items: make(map[string]Beneficiary)}
}

func (r *memoryRepository) Create(_ context.Context, b Beneficiary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[b.ID] = b
	return nil
}

func (r *memoryRepository) FindOwned(_ context.Context, id, ownerID string) (Beneficiary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.items[id]
	if !ok || b.OwnerID != ownerID {
		return Beneficiary{}, ErrNotFound
	}
	return b, nil
}

func (r *memoryRepository) ListByOwner(_ context.Context, ownerID string) ([]Beneficiary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Beneficiary
	for _, b := range r.items {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) Delete(_ context.Context, id, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.items[id]
	if !ok || b.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(r.items, id)
	return nil
}
