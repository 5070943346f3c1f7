package payments

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	amountPattern = regexp.MustCompile(`^(?:0|[1-9]\d{0,9})(?:\.\d{1,2})?$`)
	notePattern   = regexp.MustCompile(`^[^<>{}]{0,200}$`)
	queryPattern  = regexp.MustCompile(`^[a-zA-Z0-9._\- ]{0,64}$`)
	pagePattern   = regexp.MustCompile(`^[1-9][0-9]{0,3}$`)
)

var allowedPageSizes = map[int]bool{10: true, 20: true, 50: true, 100: true}

// Policy carries the configurable business limits applied at creation time.
type Policy struct {
	MaxAmount       decimal.Decimal
	Currencies      []string
	DefaultProvider string
	AuthWindow      time.Duration
}

func (p Policy) currencyAllowed(c string) bool {
	for _, allowed := range p.Currencies {
		if allowed == c {
			return true
		}
	}
	return false
}

func invalid(field string) error {
	return fmt.Errorf("%w: %s", ErrValidation, field)
}

func parseAmount(raw string, max decimal.Decimal) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if !amountPattern.MatchString(raw) {
		return decimal.Decimal{}, invalid("amount")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil || amount.IsNegative() || amount.GreaterThan(max) {
		return decimal.Decimal{}, invalid("amount")
	}
	return amount, nil
}

// parseSearch bounds the staff search parameters. An empty page means 1 and
// a zero page size means 20.
func parseSearch(in SearchInput) (SearchFilter, int, int, error) {
	var f SearchFilter
	if raw := strings.TrimSpace(in.Status); raw != "" {
		status, ok := ParseStatus(raw)
		if !ok {
			return SearchFilter{}, 0, 0, invalid("status")
		}
		f.Status = status
	}

	query := strings.TrimSpace(in.Query)
	if !queryPattern.MatchString(query) {
		return SearchFilter{}, 0, 0, invalid("query")
	}
	f.Query = query

	page := 1
	if raw := strings.TrimSpace(in.Page); raw != "" {
		if !pagePattern.MatchString(raw) {
			return SearchFilter{}, 0, 0, invalid("page")
		}
		page, _ = strconv.Atoi(raw)
	}

	size := in.PageSize
	if size == 0 {
		size = 20
	}
	if !allowedPageSizes[size] {
		return SearchFilter{}, 0, 0, invalid("page size")
	}

	f.Limit = size
	f.Offset = (page - 1) * size
	return f, page, size, nil
}

func validNote(note string) bool {
	return notePattern.MatchString(note)
}

func last4(account string) string {
	if len(account) <= 4 {
		return account
	}
	return account[len(account)-4:]
}

// MaskAccount renders only the last four digits.
func MaskAccount(last4 string) string {
	if last4 == "" {
		return ""
	}
	return "••••" + last4
}
