package beneficiary

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Cipher encrypts account numbers at rest.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

// Service manages an owner's saved payees.
type Service struct {
	repo            Repository
	cipher          Cipher
	defaultProvider string
	logger          *slog.Logger
	now             func() time.Time
}

// NewService creates a beneficiary service.
func NewService(repo Repository, cipher Cipher, defaultProvider string, logger *slog.Logger) *Service {
	return &Service{repo: repo, cipher: cipher, defaultProvider: defaultProvider, logger: logger, now: time.Now}
}

// CreateInput captures a new payee.
type CreateInput struct {
	OwnerID  string
	Name     string
	Account  string
	Swift    string
	Provider string
}

// Create validates, encrypts and stores a new beneficiary.
func (s *Service) Create(ctx context.Context, in CreateInput) (View, error) {
	name, err := NormalizeName(in.Name)
	if err != nil {
		return View{}, err
	}
	if !ValidAccountNumber(in.Account) {
		return View{}, fmt.Errorf("%w: account", ErrValidation)
	}
	swift, err := NormalizeSwift(in.Swift)
	if err != nil {
		return View{}, err
	}
	provider, err := NormalizeProvider(in.Provider, s.defaultProvider)
	if err != nil {
		return View{}, err
	}

	enc, err := s.cipher.Encrypt(in.Account)
	if err != nil {
		return View{}, fmt.Errorf("encrypt account: %w", err)
	}

	b := Beneficiary{
		ID:         uuid.NewString(),
		OwnerID:    in.OwnerID,
		Name:       name,
		AccountEnc: enc,
		Swift:      swift,
		Provider:   provider,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return View{}, err
	}
	return View{ID: b.ID, Name: b.Name, Account: in.Account, Swift: b.Swift, Provider: b.Provider, CreatedAt: b.CreatedAt}, nil
}

// List returns the owner's beneficiaries, newest first. A record whose account
// cannot be decrypted is returned with AccountUnavailable set.
func (s *Service) List(ctx context.Context, ownerID string) ([]View, error) {
	items, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(items))
	for _, b := range items {
		v := View{ID: b.ID, Name: b.Name, Swift: b.Swift, Provider: b.Provider, CreatedAt: b.CreatedAt}
		account, err := s.cipher.Decrypt(b.AccountEnc)
		if err != nil {
			s.logger.Error("decrypt beneficiary account", "beneficiary_id", b.ID, "error", err)
			v.AccountUnavailable = true
		} else {
			v.Account = account
		}
		out = append(out, v)
	}
	return out, nil
}

// Delete removes a beneficiary owned by ownerID.
func (s *Service) Delete(ctx context.Context, id, ownerID string) error {
	return s.repo.Delete(ctx, id, ownerID)
}

// Resolve loads and decrypts a beneficiary for use as a payment snapshot.
func (s *Service) Resolve(ctx context.Context, id, ownerID string) (Payee, error) {
	b, err := s.repo.FindOwned(ctx, id, ownerID)
	if err != nil {
		return Payee{}, err
	}
	account, err := s.cipher.Decrypt(b.AccountEnc)
	if err != nil {
		return Payee{}, fmt.Errorf("decrypt account: %w", err)
	}
	return Payee{ID: b.ID, Name: b.Name, Account: account, Swift: b.Swift, Provider: b.Provider}, nil
}
