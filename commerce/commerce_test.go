package commerce_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/bookstore-engine/commerce"
	"github.com/warp/bookstore-engine/commerce/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fixedCode(code string) commerce.CodeGenerator {
	return func() (string, error) { return code, nil }
}

func money(s string) commerce.Money {
	return commerce.MustParseMoney(s)
}

func seedUser(t *testing.T, s commerce.Store, id string, balance string, class commerce.UserClass) commerce.User {
	t.Helper()
	u := commerce.User{
		ID:       commerce.UserID(id),
		Username: id,
		Balance:  money(balance),
		Class:    class,
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func seedBook(t *testing.T, s commerce.Store, id string, price string, stock int, vis commerce.Visibility) commerce.Book {
	t.Helper()
	b := commerce.Book{
		ID:         commerce.BookID(id),
		Title:      "Book " + id,
		Author:     "Author",
		Stock:      stock,
		Price:      money(price),
		Visibility: vis,
	}
	require.NoError(t, s.SaveBook(context.Background(), b))
	return b
}

func newChallenges(s commerce.Store, clock *testClock, ttl time.Duration) *commerce.Challenges {
	return commerce.NewChallenges(s, commerce.ChallengeConfig{
		Codes:    fixedCode("4821"),
		Notifier: commerce.EchoNotifier{},
		TTL:      ttl,
		Clock:    clock.Now,
	})
}

func newMemory() *store.Memory {
	m := store.NewMemory()
	m.LockTimeout = 200 * time.Millisecond
	return m
}
