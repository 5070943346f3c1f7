package payments

import "errors"

var (
	// ErrValidation indicates malformed caller input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound covers both unknown ids and ids the caller does not own.
	ErrNotFound = errors.New("payment not found")
	// ErrInvalidStateTransition indicates the operation is not legal from the current status.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrAuthWindowExpired indicates a token presented after expiry or after the window was consumed.
	ErrAuthWindowExpired = errors.New("auth window expired")
	// ErrInvalidToken indicates a token mismatch while the window was open.
	ErrInvalidToken = errors.New("invalid auth token")
	// ErrVersionConflict is returned by repositories when a compare-and-swap loses a race.
	ErrVersionConflict = errors.New("payment version conflict")
)
