// Package approval implements the second-factor PIN gate that staff must pass
// before verifying or submitting a payment.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"golang.org/x/crypto/bcrypt"

	"github.com/intlpay/payportal/internal/identity"
)

var (
	// ErrInvalidPin indicates the presented PIN did not match.
	ErrInvalidPin = errors.New("invalid approval pin")
	// ErrNoPinConfigured indicates the actor has no PIN provisioned.
	ErrNoPinConfigured = errors.New("approval pin not configured")
	// ErrInvalidRole indicates the actor is not staff/admin or is disabled.
	ErrInvalidRole = errors.New("actor not permitted to approve")
	// ErrPinLocked indicates too many recent failed attempts.
	ErrPinLocked = errors.New("approval pin temporarily locked")
)

var pinPattern = regexp.MustCompile(`^\d{4,6}$`)

// Gate checks role and approval PIN for staff mutations. It never mutates
// payment state.
type Gate struct {
	actors  identity.Repository
	limiter Limiter
	logger  *slog.Logger
	cost    int
}

// Option customises a Gate.
type Option func(*Gate)

// WithLimiter enables brute-force throttling of PIN attempts.
func WithLimiter(l Limiter) Option {
	return func(g *Gate) { g.limiter = l }
}

// WithHashCost overrides the bcrypt cost used when provisioning PINs.
func WithHashCost(cost int) Option {
	return func(g *Gate) { g.cost = cost }
}

// NewGate builds a gate over the actor repository.
func NewGate(actors identity.Repository, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{actors: actors, limiter: noopLimiter{}, logger: logger, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize returns the actor when it may perform a staff mutation with the
// presented PIN.
func (g *Gate) Authorize(ctx context.Context, actorID, pin string) (identity.Actor, error) {
	actor, err := g.actors.FindByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.Actor{}, ErrInvalidRole
		}
		return identity.Actor{}, fmt.Errorf("load actor: %w", err)
	}
	if !actor.Role.CanApprove() || actor.Disabled {
		return identity.Actor{}, ErrInvalidRole
	}
	if !actor.HasApprovalPIN() {
		return identity.Actor{}, ErrNoPinConfigured
	}

	locked, err := g.limiter.Locked(ctx, actor.ID)
	if err != nil {
		g.logger.Warn("pin limiter unavailable", "actor_id", actor.ID, "error", err)
	}
	if locked {
		return identity.Actor{}, ErrPinLocked
	}

	if !pinPattern.MatchString(pin) || bcrypt.CompareHashAndPassword(actor.ApprovalPINHash, []byte(pin)) != nil {
		if err := g.limiter.Fail(ctx, actor.ID); err != nil {
			g.logger.Warn("record pin failure", "actor_id", actor.ID, "error", err)
		}
		g.logger.Info("approval pin rejected", "actor_id", actor.ID)
		return identity.Actor{}, ErrInvalidPin
	}

	if err := g.limiter.Reset(ctx, actor.ID); err != nil {
		g.logger.Warn("reset pin limiter", "actor_id", actor.ID, "error", err)
	}
	return actor, nil
}

// Provision hashes and stores a new approval PIN for a staff or admin actor.
func (g *Gate) Provision(ctx context.Context, actorID, pin string) error {
	if !pinPattern.MatchString(pin) {
		return fmt.Errorf("%w: must be 4-6 digits", ErrInvalidPin)
	}
	actor, err := g.actors.FindByID(ctx, actorID)
	if err != nil {
		return err
	}
	if !actor.Role.CanApprove() {
		return ErrInvalidRole
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), g.cost)
	if err != nil {
		return err
	}
	if err := g.actors.SetApprovalPIN(ctx, actorID, hash); err != nil {
		return err
	}
	return g.limiter.Reset(ctx, actorID)
}
