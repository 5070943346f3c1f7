package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrValidation indicates malformed actor input.
var ErrValidation = errors.New("invalid actor input")

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._\-]{3,64}$`)

// Service manages actor records. Credentials and sessions belong to the
// external identity provider; this service only tracks what authorization needs.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Provision creates an actor record for an identity issued elsewhere.
func (s *Service) Provision(ctx context.Context, in NewActor) (Actor, error) {
	username := strings.TrimSpace(in.Username)
	if !usernamePattern.MatchString(username) {
		return Actor{}, fmt.Errorf("%w: username", ErrValidation)
	}
	fullName := strings.TrimSpace(in.FullName)
	if fullName == "" || len(fullName) > 140 {
		return Actor{}, fmt.Errorf("%w: full name", ErrValidation)
	}
	if in.Role == "" {
		in.Role = RoleCustomer
	}
	if !in.Role.Valid() {
		return Actor{}, fmt.Errorf("%w: role", ErrValidation)
	}

	actor := Actor{
		ID:        uuid.NewString(),
		Username:  username,
		FullName:  fullName,
		Role:      in.Role,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, actor); err != nil {
		return Actor{}, err
	}
	return actor, nil
}

// Get returns a single actor.
func (s *Service) Get(ctx context.Context, id string) (Actor, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns all actors, newest first.
func (s *Service) List(ctx context.Context) ([]Actor, error) {
	return s.repo.List(ctx)
}

// SetDisabled enables or disables an actor. Disabled actors fail every
// authenticated request and the staff approval gate.
func (s *Service) SetDisabled(ctx context.Context, id string, disabled bool) (Actor, error) {
	if err := s.repo.SetDisabled(ctx, id, disabled); err != nil {
		return Actor{}, err
	}
	return s.repo.FindByID(ctx, id)
}
