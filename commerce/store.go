/*
store.go - Persistence interface for users, books, purchases and challenges

PURPOSE:
  Defines the interface between the commerce core and the database.
  Reads happen through Store; every money- or stock-mutating write happens
  through a Tx handed out by Store.WithTx, so each commit is one atomic unit.

KEY INTERFACES:
  Store: Reads, registration, catalog seeding, challenge issuing, WithTx
  Tx:    Row locks and writes inside one atomic commit

LOCKING CONTRACT:
  Tx.Lock* acquires the row for the rest of the transaction and returns its
  current value. Locks are always taken in this order:
    challenge -> user -> book
  Acquisition waits at most the store's lock timeout and then fails with
  ErrConcurrencyConflict instead of blocking. Locking a row the Tx already
  holds returns immediately.

  Update* writes a row previously returned by Lock* in the same Tx. The
  store checks the row version (compare-and-swap) and bumps it.

APPEND-ONLY:
  Purchase records and ledger entries are insert-only. A second purchase for
  the same (user, book) fails with DuplicatePurchaseError; a ledger entry
  reusing an idempotency key fails with ErrDuplicateIdempotencyKey.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (BEGIN IMMEDIATE + version checks)
  - commerce/store/memory.go: In-memory with per-row locks, for tests/dev

SEE ALSO:
  - ledger.go, inventory.go, challenge.go: Operate on a Tx
*/
package commerce

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

// Store handles persistence of the commerce entities.
type Store interface {
	// GetUser returns the user or a NotFoundError.
	GetUser(ctx context.Context, id UserID) (*User, error)

	// GetUserByUsername returns the user or a NotFoundError.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// CreateUser inserts a new user. Returns ErrUsernameTaken on conflict.
	CreateUser(ctx context.Context, u User) error

	// GetBook returns the book or a NotFoundError.
	GetBook(ctx context.Context, id BookID) (*Book, error)

	// ListBooks returns all books ordered by title.
	ListBooks(ctx context.Context) ([]Book, error)

	// SaveBook inserts or replaces a catalog row. Catalog management only.
	SaveBook(ctx context.Context, b Book) error

	// FindPurchase returns the purchase for (user, book), or nil if none.
	FindPurchase(ctx context.Context, userID UserID, bookID BookID) (*PurchaseRecord, error)

	// ListPurchases returns a user's purchases, newest first.
	ListPurchases(ctx context.Context, userID UserID) ([]PurchaseRecord, error)

	// Entries returns a user's ledger entries in the order they were written.
	Entries(ctx context.Context, userID UserID) ([]LedgerEntry, error)

	// CreateChallenge stores a freshly issued challenge.
	CreateChallenge(ctx context.Context, c Challenge) error

	// GetChallenge returns the challenge or a NotFoundError.
	GetChallenge(ctx context.Context, id ChallengeID) (*Challenge, error)

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Tx is discarded.
	// If fn returns nil, all of them become visible at once.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the view of the store inside one atomic commit.
type Tx interface {
	LockChallenge(ctx context.Context, id ChallengeID) (*Challenge, error)
	LockUser(ctx context.Context, id UserID) (*User, error)
	LockBook(ctx context.Context, id BookID) (*Book, error)

	UpdateChallenge(ctx context.Context, c Challenge) error
	UpdateUser(ctx context.Context, u User) error
	UpdateBook(ctx context.Context, b Book) error

	FindPurchase(ctx context.Context, userID UserID, bookID BookID) (*PurchaseRecord, error)
	InsertPurchase(ctx context.Context, p PurchaseRecord) error
	AppendEntry(ctx context.Context, e LedgerEntry) error
}

// ChallengeSweeper is implemented by stores that can expire stale
// challenges in bulk. Optional.
type ChallengeSweeper interface {
	// ExpireChallenges marks pending challenges whose expiry is before
	// cutoff as expired and returns how many were changed.
	ExpireChallenges(ctx context.Context, cutoff time.Time) (int, error)
}
