package payments

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/intlpay/payportal/internal/identity"
)

// Summary is the owner-facing view of a payment. BeneficiaryAccount is the
// decrypted account number; AccountUnavailable is set when it could not be
// decrypted.
type Summary struct {
	ID                 string          `json:"id"`
	Status             Status          `json:"status"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	Provider           string          `json:"provider"`
	BeneficiaryName    string          `json:"beneficiary_name"`
	BeneficiarySwift   string          `json:"beneficiary_swift"`
	BeneficiaryAccount string          `json:"beneficiary_account,omitempty"`
	AccountUnavailable bool            `json:"account_unavailable,omitempty"`
	SavedBeneficiaryID string          `json:"saved_beneficiary_id,omitempty"`
	ProofRef           string          `json:"proof_ref,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

// StaffView is the staff-facing view of a payment. It never carries the
// account number, only its last four digits.
type StaffView struct {
	ID               string          `json:"id"`
	Status           Status          `json:"status"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Provider         string          `json:"provider"`
	BeneficiaryName  string          `json:"beneficiary_name"`
	BeneficiarySwift string          `json:"beneficiary_swift"`
	MaskedAccount    string          `json:"masked_account"`
	Owner            identity.Owner  `json:"owner"`
	VerifiedBy       string          `json:"verified_by,omitempty"`
	VerifiedAt       *time.Time      `json:"verified_at,omitempty"`
	SubmittedBy      string          `json:"submitted_by,omitempty"`
	SubmittedAt      *time.Time      `json:"submitted_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	ProofRef         string          `json:"proof_ref,omitempty"`
	Audit            []AuditEntry    `json:"audit"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Receipt holds the minimal proof-of-payment fields handed to the receipt
// renderer and mailer.
type Receipt struct {
	Reference        string          `json:"reference"`
	PaymentID        string          `json:"payment_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Provider         string          `json:"provider"`
	BeneficiaryName  string          `json:"beneficiary_name"`
	BeneficiarySwift string          `json:"beneficiary_swift"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      time.Time       `json:"completed_at"`
}

// AuthStatus reports the state of the customer confirmation window.
type AuthStatus struct {
	Pending          bool   `json:"pending"`
	RemainingSeconds int    `json:"remaining_seconds"`
	Token            string `json:"token,omitempty"`
}

// SearchInput is the raw staff search request.
type SearchInput struct {
	Status   string
	Query    string
	Page     string
	PageSize int
}

// SearchFilter is a validated search passed to the repository.
type SearchFilter struct {
	Status Status
	Query  string
	Offset int
	Limit  int
}

// SearchResult is one page of staff views plus the unpaged total.
type SearchResult struct {
	Items    []StaffView `json:"items"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

func toStaffView(p Payment, owner identity.Owner) StaffView {
	audit := p.Audit
	if audit == nil {
		audit = []AuditEntry{}
	}
	return StaffView{
		ID:               p.ID,
		Status:           p.Status,
		Amount:           p.Amount,
		Currency:         p.Currency,
		Provider:         p.Provider,
		BeneficiaryName:  p.BeneficiaryName,
		BeneficiarySwift: p.BeneficiarySwift,
		MaskedAccount:    MaskAccount(p.AccountLast4),
		Owner:            owner,
		VerifiedBy:       p.VerifiedBy,
		VerifiedAt:       p.VerifiedAt,
		SubmittedBy:      p.SubmittedBy,
		SubmittedAt:      p.SubmittedAt,
		CompletedAt:      p.CompletedAt,
		ProofRef:         p.ProofRef,
		Audit:            audit,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func toReceipt(p Payment) Receipt {
	r := Receipt{
		Reference:        p.ProofRef,
		PaymentID:        p.ID,
		Amount:           p.Amount,
		Currency:         p.Currency,
		Provider:         p.Provider,
		BeneficiaryName:  p.BeneficiaryName,
		BeneficiarySwift: p.BeneficiarySwift,
		CreatedAt:        p.CreatedAt,
	}
	if r.Reference == "" {
		r.Reference = p.ID
	}
	if p.CompletedAt != nil {
		r.CompletedAt = *p.CompletedAt
	}
	return r
}
