package payments

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"
)

// Instruction is what the settlement network receives for a payment.
type Instruction struct {
	PaymentID        string
	Reference        string
	Amount           decimal.Decimal
	Currency         string
	Provider         string
	BeneficiaryName  string
	BeneficiarySwift string
	AccountLast4     string
}

// Confirmation is the settlement network's acknowledgement.
type Confirmation struct {
	Status string
}

// Network submits payment instructions to a settlement rail.
//
// Submit is only called after the transition carrying Instruction.Reference
// has been committed, so each payment is submitted at most once by the
// service. Reference is the proof-of-payment reference and doubles as the
// idempotency key for any retries an implementation makes.
type Network interface {
	Submit(ctx context.Context, in Instruction) (Confirmation, error)
}

// SimulatedNetwork accepts every instruction.
type SimulatedNetwork struct{}

// Submit acknowledges the instruction.
func (SimulatedNetwork) Submit(_ context.Context, _ Instruction) (Confirmation, error) {
	return Confirmation{Status: "accepted"}, nil
}

// NewProofReference returns a 12 character uppercase hex proof-of-payment
// reference.
func NewProofReference() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

func instructionFor(p Payment) Instruction {
	return Instruction{
		PaymentID:        p.ID,
		Reference:        p.ProofRef,
		Amount:           p.Amount,
		Currency:         p.Currency,
		Provider:         p.Provider,
		BeneficiaryName:  p.BeneficiaryName,
		BeneficiarySwift: p.BeneficiarySwift,
		AccountLast4:     p.AccountLast4,
	}
}
