/*
errors.go - Centralized error types for the commerce core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failure path of a purchase or topup returns one of these, so
  callers (the HTTP layer, tests) can tell the kinds apart with errors.Is.

ERROR CATEGORIES:
  1. Client errors - Validation, authorization, business rule violations
  2. Challenge errors - Wrong code, replay, expiry
  3. Store errors - Missing rows, lock contention, uniqueness violations

USAGE:
  if errors.Is(err, commerce.ErrInsufficientFunds) {
      var fe *commerce.InsufficientFundsError
      errors.As(err, &fe) // fe.Shortfall
  }

SEE ALSO:
  - api/handlers.go: Maps Kind(err) to HTTP status
*/
package commerce

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for bad input shape or range
	// (non-positive amount or quantity, mismatched challenge context).
	ErrValidation = errors.New("validation failed")

	// ErrForbidden is returned when AccessPolicy denies an action.
	ErrForbidden = errors.New("not allowed")

	// ErrNotFound is returned when a referenced user, book, purchase or
	// challenge doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientStock is returned when a reservation exceeds stock.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrDuplicatePurchase is returned when the user already owns the book.
	ErrDuplicatePurchase = errors.New("book already purchased")

	// ErrInvalidCode is returned when the submitted code doesn't match.
	// The challenge stays pending and may be retried.
	ErrInvalidCode = errors.New("invalid confirmation code")

	// ErrAlreadyConsumed is returned for any confirm against a consumed challenge.
	ErrAlreadyConsumed = errors.New("confirmation code already used")

	// ErrChallengeExpired is returned for a challenge past its expiry.
	ErrChallengeExpired = errors.New("confirmation code expired")

	// ErrConcurrencyConflict is returned when a row lock could not be acquired
	// in time or a version check failed. Safe to retry.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when a ledger entry with the same
	// idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrUsernameTaken is returned on registration with an existing username.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrUnauthenticated is returned when no valid caller identity is present.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string // "user", "book", "challenge", "purchase"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// AuthorizationError is an AccessPolicy denial.
type AuthorizationError struct {
	UserID UserID
	BookID BookID
	Action string // "view", "purchase", "download"
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s may not %s book %s", e.UserID, e.Action, e.BookID)
}

func (e *AuthorizationError) Unwrap() error { return ErrForbidden }

// InsufficientFundsError provides details about a balance shortage.
type InsufficientFundsError struct {
	UserID    UserID
	Available Money
	Requested Money
	Shortfall Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, requested %s, shortfall %s",
		e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// InsufficientStockError provides details about a stock shortage.
type InsufficientStockError struct {
	BookID    BookID
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for book %s: available %d, requested %d",
		e.BookID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// DuplicatePurchaseError points at the purchase that already exists.
type DuplicatePurchaseError struct {
	UserID     UserID
	BookID     BookID
	ExistingID PurchaseID
}

func (e *DuplicatePurchaseError) Error() string {
	if e.ExistingID == "" {
		return fmt.Sprintf("user %s already purchased book %s", e.UserID, e.BookID)
	}
	return fmt.Sprintf("user %s already purchased book %s (purchase: %s)", e.UserID, e.BookID, e.ExistingID)
}

func (e *DuplicatePurchaseError) Unwrap() error { return ErrDuplicatePurchase }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Kind returns the taxonomy name of err, used as the "code" field of API errors.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "authorization_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrDuplicatePurchase):
		return "duplicate_purchase"
	case errors.Is(err, ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, ErrAlreadyConsumed), errors.Is(err, ErrDuplicateIdempotencyKey):
		return "already_consumed"
	case errors.Is(err, ErrChallengeExpired):
		return "expired"
	case errors.Is(err, ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, ErrUsernameTaken):
		return "username_taken"
	default:
		return "internal_error"
	}
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to the request, not the server.
func IsClientError(err error) bool {
	switch Kind(err) {
	case "", "internal_error", "concurrency_conflict":
		return false
	}
	return true
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// RejectsChallenge reports whether a commit failure is final for the
// transaction the challenge guards. Wrong codes, context mismatches and
// lock contention leave the challenge pending.
func RejectsChallenge(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Field == "price"
	}
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrDuplicatePurchase) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound)
}
