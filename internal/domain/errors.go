package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Request errors
	ErrInvalidRequest = errors.New("invalid purchase request")
	ErrOrderNotFound  = errors.New("order not found")

	// Lifecycle errors
	ErrInvalidTransition      = errors.New("order is no longer pending")
	ErrConflictingExternalRef = errors.New("order already carries a different external reference")

	// Ledger errors
	ErrAlreadyGranted = errors.New("settlement ledger entry already exists for order")

	// Reconciler errors
	ErrBadSignature    = errors.New("notification signature verification failed")
	ErrUnknownOperator = errors.New("operator is not on the allow-list")

	// Infrastructure errors (transient; the caller may retry the whole
	// settlement; idempotency makes the retry safe)
	ErrStoreUnavailable = errors.New("store unavailable")
)
