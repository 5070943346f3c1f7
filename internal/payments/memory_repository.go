package payments

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/intlpay/payportal/internal/identity"
)

// OwnerLookup resolves payment owners for search matching and staff views.
type OwnerLookup interface {
	FindByID(ctx context.Context, id string) (identity.Actor, error)
}

type memoryRepository struct {
	mu       sync.RWMutex
	payments map[string]Payment
	owners   OwnerLookup
}

// NewMemoryRepository builds an in-memory payment store for tests and local
// development. owners may be nil, in which case search only matches SWIFT codes.
func NewMemoryRepository(owners OwnerLookup) Repository {
	return &memoryRepository{payments: make(map[string]Payment), owners: owners}
}

func (r *memoryRepository) Create(_ context.Context, p Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.payments[p.ID]; exists {
		return ErrVersionConflict
	}
	r.payments[p.ID] = p.clone()
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return project(p, false), nil
}

func (r *memoryRepository) FindOwned(ctx context.Context, id, ownerID string) (Payment, error) {
	return r.findOwned(id, ownerID, false)
}

func (r *memoryRepository) FindOwnedWithAccount(_ context.Context, id, ownerID string) (Payment, error) {
	return r.findOwned(id, ownerID, true)
}

func (r *memoryRepository) findOwned(id, ownerID string, withAccount bool) (Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok || p.OwnerID != ownerID {
		return Payment{}, ErrNotFound
	}
	return project(p, withAccount), nil
}

func (r *memoryRepository) ListByOwner(_ context.Context, ownerID string) ([]Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Payment
	for _, p := range r.payments {
		if p.OwnerID == ownerID {
			out = append(out, project(p, true))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *memoryRepository) UpdateWithAudit(_ context.Context, next Payment, expectedVersion int64, entries []AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.payments[next.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}

	updated := next.clone()
	updated.OwnerID = stored.OwnerID
	updated.BeneficiaryAccountEnc = stored.BeneficiaryAccountEnc
	updated.Audit = append(append([]AuditEntry(nil), stored.Audit...), entries...)
	updated.Version = expectedVersion + 1
	r.payments[next.ID] = updated
	return nil
}

func (r *memoryRepository) Search(ctx context.Context, f SearchFilter) ([]Payment, int, error) {
	r.mu.RLock()
	candidates := make([]Payment, 0, len(r.payments))
	for _, p := range r.payments {
		if f.Status != "" && NormalizeStatus(p.Status) != f.Status {
			continue
		}
		candidates = append(candidates, project(p, false))
	}
	r.mu.RUnlock()

	query := strings.ToLower(f.Query)
	var matched []Payment
	for _, p := range candidates {
		if query == "" || r.matches(ctx, p, query) {
			matched = append(matched, p)
		}
	}
	sortNewestFirst(matched)

	total := len(matched)
	if f.Offset >= total {
		return []Payment{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return matched[f.Offset:end], total, nil
}

func (r *memoryRepository) matches(ctx context.Context, p Payment, query string) bool {
	if strings.Contains(strings.ToLower(p.BeneficiarySwift), query) {
		return true
	}
	if r.owners == nil {
		return false
	}
	owner, err := r.owners.FindByID(ctx, p.OwnerID)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(owner.Username), query) ||
		strings.Contains(strings.ToLower(owner.FullName), query)
}

func (r *memoryRepository) ListAuthExpired(_ context.Context, now time.Time, limit int) ([]Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Payment
	for _, p := range r.payments {
		if p.Status == StatusPendingAuth && p.Auth != nil && !now.Before(p.Auth.ExpiresAt) {
			out = append(out, project(p, false))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Auth.ExpiresAt.Before(out[j].Auth.ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func project(p Payment, withAccount bool) Payment {
	out := p.clone()
	out.Status = NormalizeStatus(out.Status)
	if !withAccount {
		out.BeneficiaryAccountEnc = ""
	}
	return out
}

func sortNewestFirst(list []Payment) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
}
