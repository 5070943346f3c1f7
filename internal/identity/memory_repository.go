package identity

import (
	"context"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu     sync.RWMutex
	actors map[string]Actor
}

// NewMemoryRepository builds an in-memory actor store for tests and local development.
func NewMemoryRepository() Repository {
	return &memoryRepository{actors: make(map[string]Actor)}
}

func (r *memoryRepository) Create(_ context.Context, actor Actor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.actors {
		if existing.Username == actor.Username {
			return ErrExists
		}
	}
	r.actors[actor.ID] = actor
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actor, ok := r.actors[id]
	if !ok {
		return Actor{}, ErrNotFound
	}
	return actor, nil
}

func (r *memoryRepository) FindByUsername(_ context.Context, username string) (Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, actor := range r.actors {
		if actor.Username == username {
			return actor, nil
		}
	}
	return Actor{}, ErrNotFound
}

func (r *memoryRepository) List(_ context.Context) ([]Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Actor, 0, len(r.actors))
	for _, actor := range r.actors {
		out = append(out, actor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) SetApprovalPIN(_ context.Context, id string, hash []byte) error {
	return r.update(id, func(a *Actor) { a.ApprovalPINHash = hash })
}

func (r *memoryRepository) SetDisabled(_ context.Context, id string, disabled bool) error {
	return r.update(id, func(a *Actor) { a.Disabled = disabled })
}

func (r *memoryRepository) update(id string, fn func(*Actor)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	actor, ok := r.actors[id]
	if !ok {
		return ErrNotFound
	}
	fn(&actor)
	r.actors[id] = actor
	return nil
}
