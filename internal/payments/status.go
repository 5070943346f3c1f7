package payments

// Status is the lifecycle state of a payment.
type Status string

const (
	StatusCreated     Status = "created"
	StatusPendingAuth Status = "pending_auth"
	StatusSent        Status = "sent"
	StatusVerified    Status = "verified"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"

	// StatusLegacyPending is a deprecated alias of StatusCreated found on
	// records written before the auth window existed. It is never written;
	// NormalizeStatus rewrites it when records are read.
	StatusLegacyPending Status = "pending"
)

// NormalizeStatus maps legacy aliases onto their canonical status.
func NormalizeStatus(s Status) Status {
	if s == StatusLegacyPending {
		return StatusCreated
	}
	return s
}

// ParseStatus validates a caller-supplied status filter.
func ParseStatus(raw string) (Status, bool) {
	s := NormalizeStatus(Status(raw))
	switch s {
	case StatusCreated, StatusPendingAuth, StatusSent, StatusVerified, StatusCompleted, StatusFailed:
		return s, true
	}
	return "", false
}

// Settled reports whether a proof-of-payment exists for the status.
func (s Status) Settled() bool {
	return s == StatusSent || s == StatusCompleted
}

// Audit actions.
const (
	ActionCreated     = "created"
	ActionPendingAuth = "pending_auth"
	ActionVerified    = "verified"
	ActionSubmitSwift = "submit_swift"
	ActionFailed      = "failed"
	ActionNote        = "note"
)
