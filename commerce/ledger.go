/*
ledger.go - LedgerAccount: the only writer of user balances

PURPOSE:
  Debits and credits a user's spendable balance inside a store transaction
  and records every change as an append-only LedgerEntry. The balance on the
  user row is the fast path for checks; the entries explain how it got there.

CRITICAL INVARIANTS:
  1. NON-NEGATIVE: User.Balance >= 0 after every committed Tx
  2. ATOMIC: A failed debit leaves the row untouched (no partial write)
  3. LINEARIZABLE: The user row is locked before it is read, so concurrent
     debits against one account serialize and cannot both overdraw it
  4. IDEMPOTENT: An entry's idempotency key is unique; replaying the same
     commit fails with ErrDuplicateIdempotencyKey

EXAMPLE FLOW:
  balance 50.00
  Debit(40.00)  -> balance 10.00, entry {debit, -40.00, after 10.00}
  Debit(20.00)  -> InsufficientFundsError{shortfall 10.00}, balance 10.00
  Credit(5.00)  -> balance 15.00, entry {credit, +5.00, after 15.00}

SEE ALSO:
  - store.go: Tx.LockUser / Tx.UpdateUser / Tx.AppendEntry
  - purchase/purchase.go, topup/topup.go: Callers
*/
package commerce

import (
	"context"
	"fmt"
)

// LedgerAccount applies balance changes through a Tx.
type LedgerAccount struct {
	clock Clock
}

// NewLedgerAccount creates a ledger account writer. A nil clock means SystemClock.
func NewLedgerAccount(clock Clock) *LedgerAccount {
	if clock == nil {
		clock = SystemClock
	}
	return &LedgerAccount{clock: clock}
}

// Debit subtracts amount from the user's balance.
// Returns ValidationError for a non-positive amount and
// InsufficientFundsError when amount exceeds the balance.
func (l *LedgerAccount) Debit(ctx context.Context, tx Tx, userID UserID, amount Money, ref EntryRef) (*LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be positive"}
	}

	user, err := tx.LockUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if amount.GreaterThan(user.Balance) {
		return nil, &InsufficientFundsError{
			UserID:    userID,
			Available: user.Balance,
			Requested: amount,
			Shortfall: amount.Sub(user.Balance),
		}
	}

	return l.apply(ctx, tx, user, EntryDebit, amount.Neg(), ref)
}

// Credit adds amount to the user's balance.
func (l *LedgerAccount) Credit(ctx context.Context, tx Tx, userID UserID, amount Money, ref EntryRef) (*LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be positive"}
	}

	user, err := tx.LockUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return l.apply(ctx, tx, user, EntryCredit, amount, ref)
}

func (l *LedgerAccount) apply(ctx context.Context, tx Tx, user *User, typ EntryType, delta Money, ref EntryRef) (*LedgerEntry, error) {
	now := l.clock()

	updated := *user
	updated.Balance = user.Balance.Add(delta)
	if updated.Balance.IsNegative() {
		return nil, fmt.Errorf("balance of user %s would become %s: %w", user.ID, updated.Balance, ErrInsufficientFunds)
	}
	updated.UpdatedAt = now

	if err := tx.UpdateUser(ctx, updated); err != nil {
		return nil, err
	}

	entry := LedgerEntry{
		ID:             EntryID(NewID()),
		UserID:         user.ID,
		Type:           typ,
		Delta:          delta,
		BalanceAfter:   updated.Balance,
		ReferenceID:    ref.ReferenceID,
		Reason:         ref.Reason,
		IdempotencyKey: ref.IdempotencyKey,
		CreatedAt:      now,
	}
	if err := tx.AppendEntry(ctx, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
