package payments

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuthWindow holds the one-time confirmation token. Present only while the
// payment is pending_auth.
type AuthWindow struct {
	Token     string
	ExpiresAt time.Time
}

// AuditEntry is one append-only record of a payment's history. An empty
// ActorID marks a system or customer-initiated entry.
type AuditEntry struct {
	At      time.Time `json:"at"`
	ActorID string    `json:"actor_id,omitempty"`
	Action  string    `json:"action"`
	Note    string    `json:"note,omitempty"`
}

// Payment is the persisted payment record. BeneficiaryAccountEnc is only
// populated by the privileged read paths.
type Payment struct {
	ID       string
	OwnerID  string
	Amount   decimal.Decimal
	Currency string
	Provider string

	BeneficiaryName       string
	BeneficiarySwift      string
	BeneficiaryAccountEnc string
	AccountLast4          string
	SavedBeneficiaryID    string

	Status Status
	Auth   *AuthWindow

	VerifiedBy  string
	VerifiedAt  *time.Time
	SubmittedBy string
	SubmittedAt *time.Time
	CompletedAt *time.Time
	ProofRef    string

	Audit     []AuditEntry
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p Payment) clone() Payment {
	out := p
	if p.Auth != nil {
		auth := *p.Auth
		out.Auth = &auth
	}
	out.Audit = append([]AuditEntry(nil), p.Audit...)
	return out
}

func timePtr(t time.Time) *time.Time {
	return &t
}
