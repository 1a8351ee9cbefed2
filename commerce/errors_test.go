package commerce_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/bookstore-engine/commerce"
)

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&commerce.ValidationError{Field: "quantity"}, "validation_error"},
		{&commerce.NotFoundError{Kind: "book", ID: "x"}, "not_found"},
		{&commerce.AuthorizationError{Action: "purchase"}, "authorization_error"},
		{&commerce.InsufficientFundsError{}, "insufficient_funds"},
		{&commerce.InsufficientStockError{}, "insufficient_stock"},
		{&commerce.DuplicatePurchaseError{}, "duplicate_purchase"},
		{commerce.ErrInvalidCode, "invalid_code"},
		{fmt.Errorf("challenge x: %w", commerce.ErrAlreadyConsumed), "already_consumed"},
		{commerce.ErrDuplicateIdempotencyKey, "already_consumed"},
		{fmt.Errorf("challenge x: %w", commerce.ErrChallengeExpired), "expired"},
		{fmt.Errorf("lock: %w", commerce.ErrConcurrencyConflict), "concurrency_conflict"},
		{commerce.ErrUsernameTaken, "username_taken"},
		{fmt.Errorf("%w: bad token", commerce.ErrUnauthenticated), "unauthenticated"},
		{errors.New("disk on fire"), "internal_error"},
		{nil, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, commerce.Kind(tt.err), "%v", tt.err)
	}
}

func TestErrorHelpers(t *testing.T) {
	conflict := fmt.Errorf("user u: %w", commerce.ErrConcurrencyConflict)
	assert.True(t, commerce.IsRetryable(conflict))
	assert.False(t, commerce.IsClientError(conflict))

	assert.True(t, commerce.IsClientError(&commerce.ValidationError{}))
	assert.False(t, commerce.IsClientError(errors.New("boom")))
	assert.True(t, commerce.IsNotFound(&commerce.NotFoundError{}))
}

func TestRejectsChallenge(t *testing.T) {
	// Business failures close the challenge.
	assert.True(t, commerce.RejectsChallenge(&commerce.InsufficientFundsError{}))
	assert.True(t, commerce.RejectsChallenge(&commerce.InsufficientStockError{}))
	assert.True(t, commerce.RejectsChallenge(&commerce.DuplicatePurchaseError{}))
	assert.True(t, commerce.RejectsChallenge(&commerce.AuthorizationError{}))
	assert.True(t, commerce.RejectsChallenge(&commerce.NotFoundError{}))
	assert.True(t, commerce.RejectsChallenge(&commerce.ValidationError{Field: "price"}))

	// Everything else leaves it pending.
	assert.False(t, commerce.RejectsChallenge(commerce.ErrInvalidCode))
	assert.False(t, commerce.RejectsChallenge(&commerce.ValidationError{Field: "challenge"}))
	assert.False(t, commerce.RejectsChallenge(fmt.Errorf("x: %w", commerce.ErrConcurrencyConflict)))
	assert.False(t, commerce.RejectsChallenge(errors.New("io")))
}
