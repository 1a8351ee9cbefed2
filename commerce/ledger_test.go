package commerce_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookstore-engine/commerce"
)

// =============================================================================
// LEDGER ACCOUNT TESTS
// =============================================================================

func TestLedger_Debit_UpdatesBalanceAndAppendsEntry(t *testing.T) {
	// GIVEN: A user with 50.00
	s := newMemory()
	clock := newTestClock()
	seedUser(t, s, "alice", "50.00", commerce.ClassRestricted)
	ledger := commerce.NewLedgerAccount(clock.Now)
	ctx := context.Background()

	// WHEN: Debiting 40.00
	var entry *commerce.LedgerEntry
	err := s.WithTx(ctx, func(tx commerce.Tx) error {
		var err error
		entry, err = ledger.Debit(ctx, tx, "alice", money("40.00"), commerce.EntryRef{
			ReferenceID:    "purchase-1",
			IdempotencyKey: "debit:ch-1",
		})
		return err
	})

	// THEN: Balance is 10.00 and one debit entry is recorded
	require.NoError(t, err)
	assert.True(t, entry.Delta.Equal(money("-40")))
	assert.True(t, entry.BalanceAfter.Equal(money("10")))
	assert.Equal(t, commerce.EntryDebit, entry.Type)

	user, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(money("10")), "got %s", user.Balance)
	assert.Equal(t, int64(1), user.Version)

	entries, err := s.Entries(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "purchase-1", entries[0].ReferenceID)
}

func TestLedger_Debit_InsufficientFunds_NoWrite(t *testing.T) {
	// GIVEN: A user with 30.00
	s := newMemory()
	seedUser(t, s, "bob", "30.00", commerce.ClassRestricted)
	ledger := commerce.NewLedgerAccount(nil)
	ctx := context.Background()

	// WHEN: Debiting 40.00
	err := s.WithTx(ctx, func(tx commerce.Tx) error {
		_, err := ledger.Debit(ctx, tx, "bob", money("40.00"), commerce.EntryRef{})
		return err
	})

	// THEN: InsufficientFundsError with the shortfall, balance untouched
	var fundsErr *commerce.InsufficientFundsError
	require.ErrorAs(t, err, &fundsErr)
	assert.True(t, fundsErr.Shortfall.Equal(money("10")))
	assert.ErrorIs(t, err, commerce.ErrInsufficientFunds)

	user, _ := s.GetUser(ctx, "bob")
	assert.True(t, user.Balance.Equal(money("30")))
	entries, _ := s.Entries(ctx, "bob")
	assert.Empty(t, entries)
}

func TestLedger_Debit_ExactBalance_Allowed(t *testing.T) {
	s := newMemory()
	seedUser(t, s, "carol", "20.00", commerce.ClassRestricted)
	ledger := commerce.NewLedgerAccount(nil)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx commerce.Tx) error {
		_, err := ledger.Debit(ctx, tx, "carol", money("20.00"), commerce.EntryRef{})
		return err
	})

	require.NoError(t, err)
	user, _ := s.GetUser(ctx, "carol")
	assert.True(t, user.Balance.IsZero())
}

func TestLedger_NonPositiveAmount_Rejected(t *testing.T) {
	s := newMemory()
	seedUser(t, s, "dan", "20.00", commerce.ClassRestricted)
	ledger := commerce.NewLedgerAccount(nil)
	ctx := context.Background()

	for _, amount := range []string{"0", "-5"} {
		err := s.WithTx(ctx, func(tx commerce.Tx) error {
			_, err := ledger.Credit(ctx, tx, "dan", money(amount), commerce.EntryRef{})
			return err
		})
		var ve *commerce.ValidationError
		require.ErrorAs(t, err, &ve, "amount %s", amount)
		assert.Equal(t, "amount", ve.Field)
	}

	user, _ := s.GetUser(ctx, "dan")
	assert.True(t, user.Balance.Equal(money("20")))
}

func TestLedger_Credit_DuplicateIdempotencyKey_Rejected(t *testing.T) {
	// GIVEN: A credit already recorded under key credit:ch-1
	s := newMemory()
	seedUser(t, s, "erin", "0", commerce.ClassRestricted)
	ledger := commerce.NewLedgerAccount(nil)
	ctx := context.Background()

	credit := func() error {
		return s.WithTx(ctx, func(tx commerce.Tx) error {
			_, err := ledger.Credit(ctx, tx, "erin", money("15"), commerce.EntryRef{IdempotencyKey: "credit:ch-1"})
			return err
		})
	}
	require.NoError(t, credit())

	// WHEN: Crediting again with the same key
	err := credit()

	// THEN: Rejected and the balance is credited once
	assert.ErrorIs(t, err, commerce.ErrDuplicateIdempotencyKey)
	user, _ := s.GetUser(ctx, "erin")
	assert.True(t, user.Balance.Equal(money("15")))
}

func TestLedger_UnknownUser_NotFound(t *testing.T) {
	s := newMemory()
	ledger := commerce.NewLedgerAccount(nil)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx commerce.Tx) error {
		_, err := ledger.Credit(ctx, tx, "ghost", money("1"), commerce.EntryRef{})
		return err
	})
	assert.True(t, commerce.IsNotFound(err))
}
