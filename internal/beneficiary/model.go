package beneficiary

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrNotFound covers unknown ids and ids owned by someone else.
	ErrNotFound = errors.New("beneficiary not found")
	// ErrValidation indicates malformed payee details.
	ErrValidation = errors.New("invalid beneficiary")
)

var (
	accountPattern  = regexp.MustCompile(`^\d{8,20}$`)
	swiftPattern    = regexp.MustCompile(`^[A-Z]{6}[A-Z0-9]{2}([A-Z0-9]{3})?$`)
	providerPattern = regexp.MustCompile(`^[A-Z0-9_\-]{2,32}$`)
)

// Beneficiary is a saved payee owned by one customer.
type Beneficiary struct {
	ID         string
	OwnerID    string
	Name       string
	AccountEnc string
	Swift      string
	Provider   string
	CreatedAt  time.Time
}

// Payee is a beneficiary with its account number decrypted, used to snapshot
// payee details onto a payment.
type Payee struct {
	ID       string
	Name     string
	Account  string
	Swift    string
	Provider string
}

// View is the owner-facing projection.
type View struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Account            string    `json:"account,omitempty"`
	AccountUnavailable bool      `json:"account_unavailable,omitempty"`
	Swift              string    `json:"swift"`
	Provider           string    `json:"provider"`
	CreatedAt          time.Time `json:"created_at"`
}

// NormalizeSwift uppercases and validates a SWIFT/BIC code.
func NormalizeSwift(raw string) (string, error) {
	swift := strings.ToUpper(strings.TrimSpace(raw))
	if !swiftPattern.MatchString(swift) {
		return "", fmt.Errorf("%w: swift", ErrValidation)
	}
	return swift, nil
}

// NormalizeProvider uppercases and validates a settlement rail name.
func NormalizeProvider(raw, fallback string) (string, error) {
	provider := strings.ToUpper(strings.TrimSpace(raw))
	if provider == "" {
		provider = fallback
	}
	if !providerPattern.MatchString(provider) {
		return "", fmt.Errorf("%w: provider", ErrValidation)
	}
	return provider, nil
}

// ValidAccountNumber reports whether raw is 8-20 digits.
func ValidAccountNumber(raw string) bool {
	return accountPattern.MatchString(raw)
}

// NormalizeName trims and validates a payee name of 1-140 characters.
func NormalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	n := len([]rune(name))
	if n < 1 || n > 140 || strings.ContainsAny(name, "<>{}") {
		return "", fmt.Errorf("%w: name", ErrValidation)
	}
	return name, nil
}
