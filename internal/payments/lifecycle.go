package payments

import (
	"crypto/subtle"
	"fmt"
	"time"
)

// Transition is the outcome of applying a lifecycle event: the next record and
// the audit entries to append with it. A transition without audit entries is a
// no-op and must not be persisted.
type Transition struct {
	Next  Payment
	Audit []AuditEntry
}

// Changed reports whether the transition needs persisting.
func (t Transition) Changed() bool {
	return len(t.Audit) > 0
}

func unchanged(p Payment) Transition {
	return Transition{Next: p}
}

func apply(p Payment, now time.Time, entries ...AuditEntry) Transition {
	p.Audit = append(p.Audit, entries...)
	p.UpdatedAt = now
	return Transition{Next: p, Audit: entries}
}

// StartAuthWindow opens the customer confirmation window on a created payment.
func StartAuthWindow(p Payment, token string, ttl time.Duration, now time.Time) (Transition, error) {
	p = p.clone()
	p.Status = NormalizeStatus(p.Status)
	if p.Status != StatusCreated {
		return unchanged(p), fmt.Errorf("%w: start auth window from %s", ErrInvalidStateTransition, p.Status)
	}
	if token == "" || ttl <= 0 {
		return unchanged(p), fmt.Errorf("%w: empty token or window", ErrValidation)
	}

	p.Status = StatusPendingAuth
	p.Auth = &AuthWindow{Token: token, ExpiresAt: now.Add(ttl)}
	return apply(p, now, AuditEntry{At: now, Action: ActionPendingAuth}), nil
}

// Approve confirms a pending payment with the presented one-time token. A
// mismatch or a lapsed window still yields a transition (to failed) together
// with ErrInvalidToken or ErrAuthWindowExpired; callers persist it and then
// report the error.
func Approve(p Payment, presented string, now time.Time, proofRef string) (Transition, error) {
	p = p.clone()
	p.Status = NormalizeStatus(p.Status)

	switch p.Status {
	case StatusPendingAuth:
	case StatusFailed, StatusSent:
		return unchanged(p), ErrAuthWindowExpired
	default:
		return unchanged(p), fmt.Errorf("%w: approve from %s", ErrInvalidStateTransition, p.Status)
	}

	if p.Auth == nil || !now.Before(p.Auth.ExpiresAt) {
		return fail(p, now, "auth expired"), ErrAuthWindowExpired
	}
	if !VerifyToken(p.Auth.Token, presented) {
		return fail(p, now, "invalid token"), ErrInvalidToken
	}
	if proofRef == "" {
		return unchanged(p), fmt.Errorf("%w: missing proof of payment reference", ErrValidation)
	}

	p.Status = StatusSent
	p.Auth = nil
	p.CompletedAt = timePtr(now)
	p.ProofRef = proofRef
	return apply(p, now, AuditEntry{At: now, Action: ActionSubmitSwift, Note: "ref " + proofRef}), nil
}

// Expire fails a pending payment whose window has lapsed. Any other payment is
// returned unchanged.
func Expire(p Payment, now time.Time) Transition {
	p = p.clone()
	p.Status = NormalizeStatus(p.Status)
	if p.Status != StatusPendingAuth || (p.Auth != nil && now.Before(p.Auth.ExpiresAt)) {
		return unchanged(p)
	}
	return fail(p, now, "auth expired")
}

func fail(p Payment, now time.Time, note string) Transition {
	p.Status = StatusFailed
	p.Auth = nil
	return apply(p, now, AuditEntry{At: now, Action: ActionFailed, Note: note})
}

// Verify moves a payment onto the staff track. The caller must have passed the
// approval gate.
func Verify(p Payment, actorID, note string, now time.Time) (Transition, error) {
	p = p.clone()
	p.Status = NormalizeStatus(p.Status)
	switch p.Status {
	case StatusCreated, StatusPendingAuth, StatusSent:
	default:
		return unchanged(p), fmt.Errorf("%w: verify from %s", ErrInvalidStateTransition, p.Status)
	}

	p.Status = StatusVerified
	p.Auth = nil
	p.VerifiedBy = actorID
	p.VerifiedAt = timePtr(now)
	return apply(p, now, AuditEntry{At: now, ActorID: actorID, Action: ActionVerified, Note: note}), nil
}

// Submit completes a verified payment. Retrying on a completed payment is a
// no-op. The caller must have passed the approval gate.
func Submit(p Payment, actorID string, now time.Time, proofRef string) (Transition, error) {
	p = p.clone()
	p.Status = NormalizeStatus(p.Status)
	switch p.Status {
	case StatusCompleted:
		return unchanged(p), nil
	case StatusVerified:
	default:
		return unchanged(p), fmt.Errorf("%w: submit from %s", ErrInvalidStateTransition, p.Status)
	}
	if proofRef == "" {
		return unchanged(p), fmt.Errorf("%w: missing proof of payment reference", ErrValidation)
	}

	p.Status = StatusCompleted
	p.Auth = nil
	p.SubmittedBy = actorID
	p.SubmittedAt = timePtr(now)
	p.CompletedAt = timePtr(now)
	p.ProofRef = proofRef
	return apply(p, now, AuditEntry{At: now, ActorID: actorID, Action: ActionSubmitSwift, Note: "ref " + proofRef}), nil
}

// Annotate appends a staff note without changing status.
func Annotate(p Payment, actorID, note string, now time.Time) Transition {
	p = p.clone()
	return apply(p, now, AuditEntry{At: now, ActorID: actorID, Action: ActionNote, Note: note})
}

// VerifyToken compares tokens in constant time.
func VerifyToken(stored, presented string) bool {
	if stored == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

// IsAuthPending reports whether the confirmation window is open at now.
func IsAuthPending(p Payment, now time.Time) bool {
	return NormalizeStatus(p.Status) == StatusPendingAuth && p.Auth != nil && now.Before(p.Auth.ExpiresAt)
}

// RemainingSeconds is the whole number of seconds left in the window, zero
// once expired regardless of the stored status.
func RemainingSeconds(p Payment, now time.Time) int {
	if p.Auth == nil {
		return 0
	}
	left := p.Auth.ExpiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left / time.Second)
}
