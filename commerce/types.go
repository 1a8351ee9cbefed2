/*
Package commerce provides the transactional core of the bookstore engine.

PURPOSE:
  This package contains the entities and algorithms that move money and
  stock: user balances, book inventory, one-time confirmation challenges,
  the append-only balance ledger, and the access policy that gates what a
  user may see, buy, or download. The purchase and topup packages compose
  these pieces into two-phase workflows.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A non-float monetary value (decimal.Decimal)
  - User / Book: Rows whose balance and stock are mutated only through
    LedgerAccount and InventoryStock
  - PurchaseRecord: Immutable proof that a user bought a book
  - LedgerEntry: Immutable record of a single balance change

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal, never float64, for money
  2. Type Safety: Distinct ID types prevent mixing user/book/challenge IDs
  3. Auditability: Every balance change leaves a ledger entry with an
     idempotency key derived from the challenge that authorized it

USAGE:
  price := commerce.MustParseMoney("20.00")
  total := price.MulInt(2) // 40.00

SEE ALSO:
  - ledger.go: LedgerAccount (debit/credit)
  - inventory.go: InventoryStock (reserve)
  - challenge.go: OtpChallenge (issue/confirm)
  - access.go: AccessPolicy
*/
package commerce

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// Money is a monetary amount in the store's single currency.
type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money     { return Money{Value: decimal.NewFromFloat(value)} }
func NewMoneyFromInt(value int64) Money { return Money{Value: decimal.NewFromInt(value)} }
func ZeroMoney() Money                  { return Money{Value: decimal.Zero} }

// ParseMoney parses a decimal string such as "19.99".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Value: d}, nil
}

// MustParseMoney is ParseMoney for literals. Invalid input yields zero.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		return ZeroMoney()
	}
	return m
}

func (m Money) Add(b Money) Money          { return Money{Value: m.Value.Add(b.Value)} }
func (m Money) Sub(b Money) Money          { return Money{Value: m.Value.Sub(b.Value)} }
func (m Money) MulInt(n int) Money         { return Money{Value: m.Value.Mul(decimal.NewFromInt(int64(n)))} }
func (m Money) Neg() Money                 { return Money{Value: m.Value.Neg()} }
func (m Money) IsNegative() bool           { return m.Value.IsNegative() }
func (m Money) IsZero() bool               { return m.Value.IsZero() }
func (m Money) IsPositive() bool           { return m.Value.IsPositive() }
func (m Money) GreaterThan(b Money) bool   { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool      { return m.Value.LessThan(b.Value) }
func (m Money) Equal(b Money) bool         { return m.Value.Equal(b.Value) }
func (m Money) String() string             { return m.Value.String() }
func (m Money) Float64() float64           { return m.Value.InexactFloat64() }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type BookID string
type PurchaseID string
type ChallengeID string
type EntryID string

// NewID returns a random UUID string for any entity.
func NewID() string {
	return uuid.NewString()
}

// =============================================================================
// USER - Holder of a spendable balance
// =============================================================================

// UserClass is the capability value checked by AccessPolicy.
type UserClass string

const (
	// ClassPrivileged users may view and purchase restricted books.
	ClassPrivileged UserClass = "privileged"
	// ClassRestricted users only see public books.
	ClassRestricted UserClass = "restricted"
)

func (c UserClass) Valid() bool {
	return c == ClassPrivileged || c == ClassRestricted
}

// User is an account. Balance is mutated only through LedgerAccount.
type User struct {
	ID           UserID
	Username     string
	PasswordHash string
	Balance      Money
	Class        UserClass

	// RestrictedAccess grants download of restricted books the user owns.
	RestrictedAccess bool

	// Version is bumped on every balance write (compare-and-swap).
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) IsPrivileged() bool { return u.Class == ClassPrivileged }

// =============================================================================
// BOOK - Catalog item with finite stock
// =============================================================================

type Visibility string

const (
	VisibilityPublic     Visibility = "public"
	VisibilityRestricted Visibility = "restricted"
)

// Book is a catalog item. Stock is mutated only through InventoryStock.
type Book struct {
	ID         BookID
	Title      string
	Author     string
	Category   string
	Stock      int
	Price      Money
	Visibility Visibility
	ContentRef string // path of the book file inside the content store, may be empty

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b *Book) IsPublic() bool { return b.Visibility != VisibilityRestricted }

// =============================================================================
// PURCHASE RECORD - Immutable, one per (user, book)
// =============================================================================

type PurchaseRecord struct {
	ID          PurchaseID
	UserID      UserID
	BookID      BookID
	Quantity    int
	Total       Money
	ChallengeID ChallengeID
	PurchasedAt time.Time
}

// =============================================================================
// LEDGER ENTRY - Append-only balance history
// =============================================================================

type EntryType string

const (
	EntryDebit  EntryType = "debit"
	EntryCredit EntryType = "credit"
)

// LedgerEntry records one balance change. Entries are never updated or deleted.
type LedgerEntry struct {
	ID             EntryID
	UserID         UserID
	Type           EntryType
	Delta          Money // negative for debits
	BalanceAfter   Money
	ReferenceID    string
	Reason         string
	IdempotencyKey string
	CreatedAt      time.Time
}

// EntryRef describes why a ledger entry is written.
type EntryRef struct {
	ReferenceID    string
	Reason         string
	IdempotencyKey string
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock returns the current time. Tests replace it to control expiry.
type Clock func() time.Time

// SystemClock is the default Clock.
func SystemClock() time.Time { return time.Now().UTC() }
