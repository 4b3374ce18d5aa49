/*
errors.go - Error types for the points ledger

ERROR CATEGORIES:
 1. Balance errors - A spend asks for more than the ledger holds
 2. Validation errors - Malformed grants
 3. Store errors - Idempotency conflicts, missing records

USAGE:

	alloc, err := ledger.Spend(500)
	var insufficient *points.InsufficientBalanceError
	if errors.As(err, &insufficient) {
	    fmt.Println(insufficient.Requested, insufficient.Available)
	}
*/
package points

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientBalance is returned when a spend exceeds the total balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidPayer is returned when a grant has an empty payer.
	ErrInvalidPayer = errors.New("payer is required")

	// ErrInvalidPoints is returned when an amount is not a whole number.
	ErrInvalidPoints = errors.New("points must be a whole number")

	// ErrDuplicateIdempotencyKey is returned when a grant with the same
	// idempotency key was already recorded.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrGrantNotFound is returned when a store update targets an unknown grant.
	ErrGrantNotFound = errors.New("grant not found")

	// ErrGrantOverdrawn is returned when a store update asks more of a grant
	// than it has left.
	ErrGrantOverdrawn = errors.New("grant has insufficient remaining points")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InsufficientBalanceError carries the attempted and available amounts.
// A spend that fails with it has not mutated the ledger.
type InsufficientBalanceError struct {
	Requested int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: requested %d, available %d", e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidPayer) ||
		errors.Is(err, ErrInvalidPoints)
}

// IsConflict returns true if the request collides with recorded state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey)
}
