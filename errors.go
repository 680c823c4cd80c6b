package genqueue

import "errors"

var (
	// Store errors.
	ErrNoStore          = errors.New("genqueue: no store configured")
	ErrStoreUnavailable = errors.New("genqueue: store unreachable")

	// Not found errors.
	ErrJobNotFound     = errors.New("genqueue: job not found")
	ErrAccountNotFound = errors.New("genqueue: ledger account not found")

	// Conflict errors.
	ErrVersionConflict = errors.New("genqueue: job record was modified concurrently")

	// Validation errors.
	ErrInvalidPayload = errors.New("genqueue: invalid job payload")

	// State errors.
	ErrInvalidState        = errors.New("genqueue: invalid state transition")
	ErrMaxAttemptsExceeded = errors.New("genqueue: max attempts exceeded")

	// Ledger errors.
	ErrInsufficientBalance = errors.New("genqueue: insufficient balance")
	ErrInvalidAmount       = errors.New("genqueue: ledger amount must be positive")

	// Backend errors.
	ErrBackendUnavailable = errors.New("genqueue: generation backend unavailable")
)
