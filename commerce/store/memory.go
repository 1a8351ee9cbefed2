// Package store provides in-memory commerce.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/bookstore-engine/commerce"
)

// DefaultLockTimeout bounds how long a Tx waits for a row lock.
const DefaultLockTimeout = 5 * time.Second

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every entity in maps. Row locks are per entity and are
// held by a Tx until it commits or rolls back; writes made through a Tx
// are staged and applied all at once on commit.
type Memory struct {
	// LockTimeout bounds row lock waits. Set before first use.
	LockTimeout time.Duration

	mu          sync.RWMutex
	users       map[commerce.UserID]commerce.User
	usernames   map[string]commerce.UserID
	books       map[commerce.BookID]commerce.Book
	purchases   map[commerce.PurchaseID]commerce.PurchaseRecord
	purchaseIdx map[purchaseKey]commerce.PurchaseID
	challenges  map[commerce.ChallengeID]commerce.Challenge
	entries     []commerce.LedgerEntry
	idempotency map[string]bool

	locks *rowLocks
}

type purchaseKey struct {
	UserID commerce.UserID
	BookID commerce.BookID
}

var _ commerce.Store = (*Memory)(nil)
var _ commerce.ChallengeSweeper = (*Memory)(nil)

func NewMemory() *Memory {
	m := &Memory{
		LockTimeout: DefaultLockTimeout,
		locks:       &rowLocks{rows: make(map[string]chan struct{})},
	}
	m.resetLocked()
	return m
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	return nil
}

func (m *Memory) resetLocked() {
	m.users = make(map[commerce.UserID]commerce.User)
	m.usernames = make(map[string]commerce.UserID)
	m.books = make(map[commerce.BookID]commerce.Book)
	m.purchases = make(map[commerce.PurchaseID]commerce.PurchaseRecord)
	m.purchaseIdx = make(map[purchaseKey]commerce.PurchaseID)
	m.challenges = make(map[commerce.ChallengeID]commerce.Challenge)
	m.entries = nil
	m.idempotency = make(map[string]bool)
}

// =============================================================================
// READS AND SIMPLE WRITES (commerce.Store)
// =============================================================================

func (m *Memory) GetUser(_ context.Context, id commerce.UserID) (*commerce.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, &commerce.NotFoundError{Kind: "user", ID: string(id)}
	}
	return &u, nil
}

func (m *Memory) GetUserByUsername(ctx context.Context, username string) (*commerce.User, error) {
	m.mu.RLock()
	id, ok := m.usernames[username]
	m.mu.RUnlock()
	if !ok {
		return nil, &commerce.NotFoundError{Kind: "user", ID: username}
	}
	return m.GetUser(ctx, id)
}

func (m *Memory) CreateUser(_ context.Context, u commerce.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.usernames[u.Username]; ok {
		return commerce.ErrUsernameTaken
	}
	if _, ok := m.users[u.ID]; ok {
		return fmt.Errorf("user %s already exists", u.ID)
	}
	m.users[u.ID] = u
	m.usernames[u.Username] = u.ID
	return nil
}

func (m *Memory) GetBook(_ context.Context, id commerce.BookID) (*commerce.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	if !ok {
		return nil, &commerce.NotFoundError{Kind: "book", ID: string(id)}
	}
	return &b, nil
}

func (m *Memory) ListBooks(_ context.Context) ([]commerce.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	books := make([]commerce.Book, 0, len(m.books))
	for _, b := range m.books {
		books = append(books, b)
	}
	sort.Slice(books, func(i, j int) bool { return books[i].Title < books[j].Title })
	return books, nil
}

func (m *Memory) SaveBook(_ context.Context, b commerce.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.ID] = b
	return nil
}

func (m *Memory) FindPurchase(_ context.Context, userID commerce.UserID, bookID commerce.BookID) (*commerce.PurchaseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findPurchaseLocked(userID, bookID), nil
}

func (m *Memory) findPurchaseLocked(userID commerce.UserID, bookID commerce.BookID) *commerce.PurchaseRecord {
	id, ok := m.purchaseIdx[purchaseKey{UserID: userID, BookID: bookID}]
	if !ok {
		return nil
	}
	p := m.purchases[id]
	return &p
}

func (m *Memory) ListPurchases(_ context.Context, userID commerce.UserID) ([]commerce.PurchaseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []commerce.PurchaseRecord
	for _, p := range m.purchases {
		if p.UserID == userID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PurchasedAt.After(result[j].PurchasedAt) })
	return result, nil
}

func (m *Memory) Entries(_ context.Context, userID commerce.UserID) ([]commerce.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []commerce.LedgerEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *Memory) CreateChallenge(_ context.Context, c commerce.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.challenges[c.ID]; ok {
		return fmt.Errorf("challenge %s already exists", c.ID)
	}
	m.challenges[c.ID] = c
	return nil
}

func (m *Memory) GetChallenge(_ context.Context, id commerce.ChallengeID) (*commerce.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.challenges[id]
	if !ok {
		return nil, &commerce.NotFoundError{Kind: "challenge", ID: string(id)}
	}
	return &c, nil
}

// ExpireChallenges locks each stale pending challenge and marks it expired.
// Challenges held by an in-flight Tx are skipped until the next sweep.
func (m *Memory) ExpireChallenges(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.RLock()
	var stale []commerce.ChallengeID
	for id, c := range m.challenges {
		if c.Status == commerce.StatusPending && !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	expired := 0
	for _, id := range stale {
		err := m.WithTx(ctx, func(tx commerce.Tx) error {
			c, err := tx.LockChallenge(ctx, id)
			if err != nil {
				return err
			}
			if c.Status != commerce.StatusPending {
				return nil
			}
			c.Status = commerce.StatusExpired
			expired++
			return tx.UpdateChallenge(ctx, *c)
		})
		if err != nil && !commerce.IsRetryable(err) {
			return expired, err
		}
	}
	return expired, nil
}

// =============================================================================
// TRANSACTIONAL VIEW (commerce.Tx)
// =============================================================================

// WithTx runs fn against a staged view. Row locks taken by fn are released
// when WithTx returns; staged writes are applied only if fn returns nil.
func (m *Memory) WithTx(ctx context.Context, fn func(commerce.Tx) error) error {
	tx := &memoryTx{
		parent:     m,
		held:       make(map[string]bool),
		users:      make(map[commerce.UserID]commerce.User),
		books:      make(map[commerce.BookID]commerce.Book),
		challenges: make(map[commerce.ChallengeID]commerce.Challenge),
		keys:       make(map[string]bool),
	}
	defer tx.releaseAll()

	if err := fn(tx); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *Memory) commit(tx *memoryTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Uniqueness is re-checked against committed state before anything is applied.
	for _, p := range tx.purchases {
		if existing := m.findPurchaseLocked(p.UserID, p.BookID); existing != nil {
			return &commerce.DuplicatePurchaseError{UserID: p.UserID, BookID: p.BookID, ExistingID: existing.ID}
		}
	}
	for _, e := range tx.entries {
		if e.IdempotencyKey != "" && m.idempotency[e.IdempotencyKey] {
			return commerce.ErrDuplicateIdempotencyKey
		}
	}

	for id, u := range tx.users {
		m.users[id] = u
	}
	for id, b := range tx.books {
		m.books[id] = b
	}
	for id, c := range tx.challenges {
		m.challenges[id] = c
	}
	for _, p := range tx.purchases {
		m.purchases[p.ID] = p
		m.purchaseIdx[purchaseKey{UserID: p.UserID, BookID: p.BookID}] = p.ID
	}
	for _, e := range tx.entries {
		m.entries = append(m.entries, e)
		if e.IdempotencyKey != "" {
			m.idempotency[e.IdempotencyKey] = true
		}
	}
	return nil
}

type memoryTx struct {
	parent *Memory
	held   map[string]bool
	order  []string

	users      map[commerce.UserID]commerce.User
	books      map[commerce.BookID]commerce.Book
	challenges map[commerce.ChallengeID]commerce.Challenge
	purchases  []commerce.PurchaseRecord
	entries    []commerce.LedgerEntry
	keys       map[string]bool
}

func (t *memoryTx) lock(ctx context.Context, key string) error {
	if t.held[key] {
		return nil
	}
	if err := t.parent.locks.acquire(ctx, key, t.parent.LockTimeout); err != nil {
		return err
	}
	t.held[key] = true
	t.order = append(t.order, key)
	return nil
}

func (t *memoryTx) releaseAll() {
	for i := len(t.order) - 1; i >= 0; i-- {
		t.parent.locks.release(t.order[i])
	}
	t.order = nil
	t.held = map[string]bool{}
}

func (t *memoryTx) requireHeld(key string) error {
	if !t.held[key] {
		return fmt.Errorf("write to %s without holding its lock", key)
	}
	return nil
}

func (t *memoryTx) LockChallenge(ctx context.Context, id commerce.ChallengeID) (*commerce.Challenge, error) {
	if err := t.lock(ctx, "challenge:"+string(id)); err != nil {
		return nil, err
	}
	if c, ok := t.challenges[id]; ok {
		return &c, nil
	}
	return t.parent.GetChallenge(ctx, id)
}

func (t *memoryTx) LockUser(ctx context.Context, id commerce.UserID) (*commerce.User, error) {
	if err := t.lock(ctx, "user:"+string(id)); err != nil {
		return nil, err
	}
	if u, ok := t.users[id]; ok {
		return &u, nil
	}
	return t.parent.GetUser(ctx, id)
}

func (t *memoryTx) LockBook(ctx context.Context, id commerce.BookID) (*commerce.Book, error) {
	if err := t.lock(ctx, "book:"+string(id)); err != nil {
		return nil, err
	}
	if b, ok := t.books[id]; ok {
		return &b, nil
	}
	return t.parent.GetBook(ctx, id)
}

func (t *memoryTx) UpdateChallenge(ctx context.Context, c commerce.Challenge) error {
	if err := t.requireHeld("challenge:" + string(c.ID)); err != nil {
		return err
	}
	t.challenges[c.ID] = c
	return nil
}

func (t *memoryTx) UpdateUser(ctx context.Context, u commerce.User) error {
	if err := t.requireHeld("user:" + string(u.ID)); err != nil {
		return err
	}
	current, err := t.LockUser(ctx, u.ID)
	if err != nil {
		return err
	}
	if current.Version != u.Version {
		return fmt.Errorf("user %s: %w", u.ID, commerce.ErrConcurrencyConflict)
	}
	u.Version++
	t.users[u.ID] = u
	return nil
}

func (t *memoryTx) UpdateBook(ctx context.Context, b commerce.Book) error {
	if err := t.requireHeld("book:" + string(b.ID)); err != nil {
		return err
	}
	current, err := t.LockBook(ctx, b.ID)
	if err != nil {
		return err
	}
	if current.Version != b.Version {
		return fmt.Errorf("book %s: %w", b.ID, commerce.ErrConcurrencyConflict)
	}
	b.Version++
	t.books[b.ID] = b
	return nil
}

func (t *memoryTx) FindPurchase(ctx context.Context, userID commerce.UserID, bookID commerce.BookID) (*commerce.PurchaseRecord, error) {
	for _, p := range t.purchases {
		if p.UserID == userID && p.BookID == bookID {
			return &p, nil
		}
	}
	return t.parent.FindPurchase(ctx, userID, bookID)
}

func (t *memoryTx) InsertPurchase(ctx context.Context, p commerce.PurchaseRecord) error {
	existing, err := t.FindPurchase(ctx, p.UserID, p.BookID)
	if err != nil {
		return err
	}
	if existing != nil {
		return &commerce.DuplicatePurchaseError{UserID: p.UserID, BookID: p.BookID, ExistingID: existing.ID}
	}
	t.purchases = append(t.purchases, p)
	return nil
}

func (t *memoryTx) AppendEntry(_ context.Context, e commerce.LedgerEntry) error {
	if e.IdempotencyKey != "" {
		t.parent.mu.RLock()
		exists := t.parent.idempotency[e.IdempotencyKey]
		t.parent.mu.RUnlock()
		if exists || t.keys[e.IdempotencyKey] {
			return commerce.ErrDuplicateIdempotencyKey
		}
		t.keys[e.IdempotencyKey] = true
	}
	t.entries = append(t.entries, e)
	return nil
}

// =============================================================================
// ROW LOCKS
// =============================================================================

// rowLocks is a set of binary semaphores keyed by row. Acquisition waits
// at most the given timeout.
type rowLocks struct {
	mu   sync.Mutex
	rows map[string]chan struct{}
}

func (l *rowLocks) sem(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.rows[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.rows[key] = ch
	}
	return ch
}

func (l *rowLocks) acquire(ctx context.Context, key string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.sem(key) <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("lock %s not acquired within %s: %w", key, timeout, commerce.ErrConcurrencyConflict)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *rowLocks) release(key string) {
	<-l.sem(key)
}
