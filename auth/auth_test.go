package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookstore-engine/commerce"
	"github.com/warp/bookstore-engine/commerce/store"
)

func TestTokens_IssueAndVerify(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tokens, err := NewTokens("s3cret", time.Hour, clock)
	require.NoError(t, err)

	token, expires, err := tokens.Issue("alice")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), expires)

	userID, err := tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, commerce.UserID("alice"), userID)
}

func TestTokens_Rejections(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	current := now
	clock := func() time.Time { return current }

	tokens, err := NewTokens("s3cret", time.Hour, clock)
	require.NoError(t, err)
	token, _, err := tokens.Issue("alice")
	require.NoError(t, err)

	other, err := NewTokens("another-secret", time.Hour, clock)
	require.NoError(t, err)

	tests := []struct {
		name   string
		verify func() error
	}{
		{"garbage", func() error { _, err := tokens.Verify("not-a-token"); return err }},
		{"empty", func() error { _, err := tokens.Verify(""); return err }},
		{"wrong secret", func() error { _, err := other.Verify(token); return err }},
		{"expired", func() error {
			current = now.Add(2 * time.Hour)
			defer func() { current = now }()
			_, err := tokens.Verify(token)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.verify(), commerce.ErrUnauthenticated)
		})
	}
}

func TestNewTokens_EmptySecret(t *testing.T) {
	_, err := NewTokens("", time.Hour, nil)
	assert.Error(t, err)
}

func TestPasswords(t *testing.T) {
	hash, err := HashPassword("password123")
	require.NoError(t, err)
	assert.NotEqual(t, "password123", hash)
	assert.True(t, CheckPassword(hash, "password123"))
	assert.False(t, CheckPassword(hash, "password124"))
}

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	tokens, err := NewTokens("s3cret", time.Hour, nil)
	require.NoError(t, err)
	return NewService(mem, tokens, nil, nil), mem
}

func TestService_RegisterThenLogin(t *testing.T) {
	// GIVEN: A fresh store
	svc, mem := newTestService(t)
	ctx := context.Background()

	// WHEN: Registering
	user, err := svc.Register(ctx, Registration{Username: "  alice ", Password: "password123"})

	// THEN: A restricted user with zero balance exists
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, commerce.ClassRestricted, user.Class)
	assert.True(t, user.Balance.IsZero())
	stored, err := mem.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, stored.ID)

	// WHEN: Logging in
	session, err := svc.Login(ctx, "alice", "password123")

	// THEN: The token verifies to the same user
	require.NoError(t, err)
	assert.Equal(t, user.ID, session.User.ID)
	userID, err := svc.Tokens().Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)
}

func TestService_Register_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, Registration{Username: " ", Password: "password123"})
	assert.ErrorIs(t, err, commerce.ErrValidation)

	_, err = svc.Register(ctx, Registration{Username: "bob", Password: "short"})
	var ve *commerce.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "password", ve.Field)
}

func TestService_Register_UsernameTaken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, Registration{Username: "alice", Password: "password123"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, Registration{Username: "alice", Password: "password456"})

	assert.ErrorIs(t, err, commerce.ErrUsernameTaken)
}

func TestService_Login_Failures(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, Registration{Username: "alice", Password: "password123"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, commerce.ErrUnauthenticated)

	_, err = svc.Login(ctx, "nobody", "password123")
	assert.ErrorIs(t, err, commerce.ErrUnauthenticated)
}
