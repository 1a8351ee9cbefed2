package topup_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookstore-engine/commerce"
	"github.com/warp/bookstore-engine/commerce/store"
	"github.com/warp/bookstore-engine/topup"
)

func money(s string) commerce.Money { return commerce.MustParseMoney(s) }

func setup(t *testing.T) (*store.Memory, *commerce.Challenges, *topup.Service) {
	t.Helper()
	mem := store.NewMemory()
	require.NoError(t, mem.CreateUser(context.Background(), commerce.User{
		ID: "alice", Username: "alice", Balance: money("10"), Class: commerce.ClassRestricted,
	}))
	clock := func() time.Time { return time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC) }
	challenges := commerce.NewChallenges(mem, commerce.ChallengeConfig{
		Codes:    func() (string, error) { return "0042", nil },
		Notifier: commerce.EchoNotifier{},
		Clock:    clock,
	})
	return mem, challenges, topup.NewService(mem, challenges, clock, nil)
}

func TestTopUp_TwoPhase_Credits(t *testing.T) {
	// GIVEN: alice has 10.00
	mem, _, svc := setup(t)
	ctx := context.Background()

	// WHEN: Requesting a top-up of 25.50
	p, err := svc.Request(ctx, topup.Request{UserID: "alice", Amount: money("25.50")})
	require.NoError(t, err)
	assert.Equal(t, "OTP code is 0042. Use this code to complete your top-up.", p.Prompt)

	// THEN: Balance unchanged until confirmed
	u, _ := mem.GetUser(ctx, "alice")
	assert.True(t, u.Balance.Equal(money("10")))

	// WHEN: Confirming
	receipt, err := svc.Confirm(ctx, topup.Confirmation{
		UserID: "alice", ChallengeID: p.ChallengeID, Amount: money("25.50"), Code: "0042",
	})

	// THEN: Balance is credited and a credit entry is recorded
	require.NoError(t, err)
	assert.True(t, receipt.Balance.Equal(money("35.50")))
	assert.Equal(t, commerce.EntryCredit, receipt.Entry.Type)
	assert.Equal(t, "credit:"+string(p.ChallengeID), receipt.Entry.IdempotencyKey)
	u, _ = mem.GetUser(ctx, "alice")
	assert.True(t, u.Balance.Equal(money("35.50")))

	// WHEN: Replaying
	_, err = svc.Confirm(ctx, topup.Confirmation{
		UserID: "alice", ChallengeID: p.ChallengeID, Amount: money("25.50"), Code: "0042",
	})

	// THEN: Credited once
	assert.ErrorIs(t, err, commerce.ErrAlreadyConsumed)
	entries, _ := mem.Entries(ctx, "alice")
	assert.Len(t, entries, 1)
}

func TestTopUp_Request_NonPositiveAmount_NoChallenge(t *testing.T) {
	_, _, svc := setup(t)
	ctx := context.Background()

	for _, amount := range []string{"-5", "0"} {
		p, err := svc.Request(ctx, topup.Request{UserID: "alice", Amount: money(amount)})

		var ve *commerce.ValidationError
		require.ErrorAs(t, err, &ve, "amount %s", amount)
		assert.Equal(t, "amount", ve.Field)
		assert.Nil(t, p)
	}
}

func TestTopUp_Request_UnknownUser(t *testing.T) {
	_, _, svc := setup(t)

	_, err := svc.Request(context.Background(), topup.Request{UserID: "ghost", Amount: money("5")})

	assert.True(t, commerce.IsNotFound(err))
}

func TestTopUp_Confirm_WrongCodeThenRight(t *testing.T) {
	mem, challenges, svc := setup(t)
	ctx := context.Background()
	p, err := svc.Request(ctx, topup.Request{UserID: "alice", Amount: money("5")})
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, topup.Confirmation{UserID: "alice", ChallengeID: p.ChallengeID, Amount: money("5"), Code: "9999"})
	assert.ErrorIs(t, err, commerce.ErrInvalidCode)

	ch, err := challenges.Get(ctx, "alice", p.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, commerce.StatusPending, ch.Status)

	_, err = svc.Confirm(ctx, topup.Confirmation{UserID: "alice", ChallengeID: p.ChallengeID, Amount: money("5"), Code: "0042"})
	require.NoError(t, err)
	u, _ := mem.GetUser(ctx, "alice")
	assert.True(t, u.Balance.Equal(money("15")))
}

func TestTopUp_Confirm_DifferentAmount_Rejected(t *testing.T) {
	mem, _, svc := setup(t)
	ctx := context.Background()
	p, err := svc.Request(ctx, topup.Request{UserID: "alice", Amount: money("5")})
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, topup.Confirmation{UserID: "alice", ChallengeID: p.ChallengeID, Amount: money("500"), Code: "0042"})

	assert.ErrorIs(t, err, commerce.ErrValidation)
	u, _ := mem.GetUser(ctx, "alice")
	assert.True(t, u.Balance.Equal(money("10")))
}
