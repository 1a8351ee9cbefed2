/*
Package factory provides JSON to Go seed conversion.

PURPOSE:
  Converts JSON catalog and account definitions into commerce.User and
  commerce.Book values and writes them to a store. Used by the server's
  -seed option and by the demo scenarios.

JSON SCHEMA:
  {
    "users": [
      {"id": "alice", "username": "alice", "password": "wonderland",
       "balance": "50.00", "class": "privileged", "restricted_access": true}
    ],
    "books": [
      {"id": "go-book", "title": "The Go Programming Language",
       "author": "Donovan & Kernighan", "category": "programming",
       "price": "20.00", "stock": 5, "visibility": "public",
       "content": "go-book.pdf"}
    ]
  }

DEFAULTS:
  - id:         generated UUID
  - class:      restricted
  - visibility: public
  - balance:    0

USAGE:
  f := factory.NewSeedFactory(commerce.SystemClock)
  seed, err := f.ParseSeed(jsonString)
  err = seed.Apply(ctx, store)

SEE ALSO:
  - api/scenarios.go: Demo data built on this factory
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/warp/bookstore-engine/auth"
	"github.com/warp/bookstore-engine/commerce"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// SeedJSON is the JSON representation of seed data.
type SeedJSON struct {
	Users []UserJSON `json:"users"`
	Books []BookJSON `json:"books"`
}

// UserJSON is the JSON representation of an account.
type UserJSON struct {
	ID               string `json:"id,omitempty"`
	Username         string `json:"username"`
	Password         string `json:"password,omitempty"`
	Balance          string `json:"balance,omitempty"`
	Class            string `json:"class,omitempty"`
	RestrictedAccess bool   `json:"restricted_access,omitempty"`
}

// BookJSON is the JSON representation of a catalog item.
type BookJSON struct {
	ID         string `json:"id,omitempty"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	Category   string `json:"category,omitempty"`
	Price      string `json:"price"`
	Stock      int    `json:"stock"`
	Visibility string `json:"visibility,omitempty"`
	Content    string `json:"content,omitempty"`
}

// =============================================================================
// FACTORY
// =============================================================================

// Seed is parsed, validated seed data.
type Seed struct {
	Users []commerce.User
	Books []commerce.Book
}

// SeedFactory creates seed data from JSON.
type SeedFactory struct {
	clock commerce.Clock
}

func NewSeedFactory(clock commerce.Clock) *SeedFactory {
	if clock == nil {
		clock = commerce.SystemClock
	}
	return &SeedFactory{clock: clock}
}

// LoadFile parses the seed file at path.
func (f *SeedFactory) LoadFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return f.ParseSeed(string(data))
}

// ParseSeed parses a JSON string into seed data.
func (f *SeedFactory) ParseSeed(jsonStr string) (*Seed, error) {
	var sj SeedJSON
	if err := json.Unmarshal([]byte(jsonStr), &sj); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return f.FromJSON(sj)
}

// FromJSON converts SeedJSON to users and books.
func (f *SeedFactory) FromJSON(sj SeedJSON) (*Seed, error) {
	now := f.clock()
	seed := &Seed{}

	for i, uj := range sj.Users {
		u, err := f.userFromJSON(uj)
		if err != nil {
			return nil, fmt.Errorf("users[%d]: %w", i, err)
		}
		u.CreatedAt, u.UpdatedAt = now, now
		seed.Users = append(seed.Users, u)
	}
	for i, bj := range sj.Books {
		b, err := bookFromJSON(bj)
		if err != nil {
			return nil, fmt.Errorf("books[%d]: %w", i, err)
		}
		b.CreatedAt, b.UpdatedAt = now, now
		seed.Books = append(seed.Books, b)
	}
	return seed, nil
}

func (f *SeedFactory) userFromJSON(uj UserJSON) (commerce.User, error) {
	if uj.Username == "" {
		return commerce.User{}, fmt.Errorf("username is required")
	}

	balance := commerce.ZeroMoney()
	if uj.Balance != "" {
		var err error
		if balance, err = commerce.ParseMoney(uj.Balance); err != nil {
			return commerce.User{}, err
		}
		if balance.IsNegative() {
			return commerce.User{}, fmt.Errorf("balance must not be negative")
		}
	}

	class := commerce.ClassRestricted
	if uj.Class != "" {
		class = commerce.UserClass(uj.Class)
		if !class.Valid() {
			return commerce.User{}, fmt.Errorf("unknown class %q", uj.Class)
		}
	}

	var hash string
	if uj.Password != "" {
		var err error
		if hash, err = auth.HashPassword(uj.Password); err != nil {
			return commerce.User{}, err
		}
	}

	id := uj.ID
	if id == "" {
		id = commerce.NewID()
	}
	return commerce.User{
		ID:               commerce.UserID(id),
		Username:         uj.Username,
		PasswordHash:     hash,
		Balance:          balance,
		Class:            class,
		RestrictedAccess: uj.RestrictedAccess,
	}, nil
}

func bookFromJSON(bj BookJSON) (commerce.Book, error) {
	if bj.Title == "" {
		return commerce.Book{}, fmt.Errorf("title is required")
	}
	price, err := commerce.ParseMoney(bj.Price)
	if err != nil {
		return commerce.Book{}, err
	}
	if price.IsNegative() {
		return commerce.Book{}, fmt.Errorf("price must not be negative")
	}
	if bj.Stock < 0 {
		return commerce.Book{}, fmt.Errorf("stock must not be negative")
	}

	visibility := commerce.VisibilityPublic
	switch commerce.Visibility(bj.Visibility) {
	case "", commerce.VisibilityPublic:
	case commerce.VisibilityRestricted:
		visibility = commerce.VisibilityRestricted
	default:
		return commerce.Book{}, fmt.Errorf("unknown visibility %q", bj.Visibility)
	}

	id := bj.ID
	if id == "" {
		id = commerce.NewID()
	}
	return commerce.Book{
		ID:         commerce.BookID(id),
		Title:      bj.Title,
		Author:     bj.Author,
		Category:   bj.Category,
		Stock:      bj.Stock,
		Price:      price,
		Visibility: visibility,
		ContentRef: bj.Content,
	}, nil
}

// Apply writes the seed to the store. Books are upserted; users are created.
func (s *Seed) Apply(ctx context.Context, store commerce.Store) error {
	for _, u := range s.Users {
		if err := store.CreateUser(ctx, u); err != nil {
			return fmt.Errorf("failed to seed user %s: %w", u.Username, err)
		}
	}
	for _, b := range s.Books {
		if err := store.SaveBook(ctx, b); err != nil {
			return fmt.Errorf("failed to seed book %s: %w", b.ID, err)
		}
	}
	return nil
}

// ToJSON converts a book back to its JSON representation.
func ToJSON(b commerce.Book) BookJSON {
	return BookJSON{
		ID:         string(b.ID),
		Title:      b.Title,
		Author:     b.Author,
		Category:   b.Category,
		Price:      b.Price.String(),
		Stock:      b.Stock,
		Visibility: string(b.Visibility),
		Content:    b.ContentRef,
	}
}
