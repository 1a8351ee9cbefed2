/*
Package purchase implements the two-phase book purchase.

PURPOSE:
  Orchestrates request -> challenge -> confirm -> commit for buying a book,
  composing AccessPolicy, LedgerAccount, InventoryStock and OtpChallenge.

REQUEST FLOW:
  ┌──────────────────────────────────────────────────────────────────┐
  │                                                                  │
  │  Request  ──▶ access, duplicate, ──▶ issue challenge ──▶ prompt   │
  │               stock, funds checks    {user, book, qty, total}     │
  │                                                                  │
  │  Confirm  ──▶ ONE store transaction:                             │
  │                 consume challenge                                │
  │                 lock user, lock book                             │
  │                 re-check access, duplicate, price                │
  │                 debit balance, reserve stock, insert purchase    │
  │                                                                  │
  │           ├── ok      ──▶ Committed                               │
  │           └── failure ──▶ rollback everything                     │
  │                           business failure: challenge Rejected    │
  │                                                                  │
  └──────────────────────────────────────────────────────────────────┘

STATE MACHINE:
  Requested -> Challenged -> Committed   (terminal success)
  Requested -> Challenged -> Rejected    (terminal failure)
  A wrong code keeps the transaction Challenged.

PRE-CHECK VS COMMIT:
  The request phase checks funds and stock so the user gets early feedback,
  but the state may change before confirm. The commit repeats every check
  under row locks and charges the current price; if the price moved since
  the quote, the purchase is rejected rather than charging a different total.

SEE ALSO:
  - commerce/challenge.go: Consume / Reject
  - commerce/ledger.go, commerce/inventory.go: Debit / Reserve
*/
package purchase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/bookstore-engine/commerce"
)

// =============================================================================
// TYPES
// =============================================================================

// Request asks to buy Quantity copies of a book.
type Request struct {
	UserID   commerce.UserID
	BookID   commerce.BookID
	Quantity int
}

// Pending is the result of the request phase.
type Pending struct {
	ChallengeID commerce.ChallengeID
	BookID      commerce.BookID
	Quantity    int
	Total       commerce.Money
	Prompt      string
	ExpiresAt   time.Time // zero if the challenge never expires
}

// Confirmation completes a pending purchase with the code the user received.
type Confirmation struct {
	UserID      commerce.UserID
	ChallengeID commerce.ChallengeID
	BookID      commerce.BookID
	Quantity    int
	Code        string
}

// Receipt is the result of a committed purchase.
type Receipt struct {
	Purchase commerce.PurchaseRecord
	Book     commerce.Book
	Entry    commerce.LedgerEntry
}

// =============================================================================
// SERVICE
// =============================================================================

// Service runs purchases against a commerce.Store.
type Service struct {
	store      commerce.Store
	challenges *commerce.Challenges
	ledger     *commerce.LedgerAccount
	inventory  *commerce.InventoryStock
	policy     commerce.AccessPolicy
	clock      commerce.Clock
	log        *zap.Logger
}

// NewService wires the purchase workflow. A nil logger disables logging.
func NewService(store commerce.Store, challenges *commerce.Challenges, clock commerce.Clock, log *zap.Logger) *Service {
	if clock == nil {
		clock = commerce.SystemClock
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:      store,
		challenges: challenges,
		ledger:     commerce.NewLedgerAccount(clock),
		inventory:  commerce.NewInventoryStock(clock),
		clock:      clock,
		log:        log.Named("purchase"),
	}
}

// Request validates a purchase and issues its challenge.
// Checks run in order: quantity, user, book, access, duplicate, stock, funds.
func (s *Service) Request(ctx context.Context, req Request) (*Pending, error) {
	if req.Quantity <= 0 {
		return nil, &commerce.ValidationError{Field: "quantity", Message: "must be positive"}
	}

	user, err := s.store.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	book, err := s.store.GetBook(ctx, req.BookID)
	if err != nil {
		return nil, err
	}

	if !s.policy.CanPurchase(user, book) {
		return nil, &commerce.AuthorizationError{UserID: user.ID, BookID: book.ID, Action: "purchase"}
	}

	existing, err := s.store.FindPurchase(ctx, user.ID, book.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &commerce.DuplicatePurchaseError{UserID: user.ID, BookID: book.ID, ExistingID: existing.ID}
	}

	if req.Quantity > book.Stock {
		return nil, &commerce.InsufficientStockError{BookID: book.ID, Available: book.Stock, Requested: req.Quantity}
	}

	total := book.Price.MulInt(req.Quantity)
	if total.GreaterThan(user.Balance) {
		return nil, &commerce.InsufficientFundsError{
			UserID:    user.ID,
			Available: user.Balance,
			Requested: total,
			Shortfall: total.Sub(user.Balance),
		}
	}

	ch, prompt, err := s.challenges.Issue(ctx, commerce.ChallengeContext{
		Kind:     commerce.KindPurchase,
		UserID:   user.ID,
		BookID:   book.ID,
		Quantity: req.Quantity,
		Amount:   total,
	})
	if err != nil {
		return nil, err
	}

	return &Pending{
		ChallengeID: ch.ID,
		BookID:      book.ID,
		Quantity:    req.Quantity,
		Total:       total,
		Prompt:      prompt,
		ExpiresAt:   ch.ExpiresAt,
	}, nil
}

// Confirm consumes the challenge and commits the purchase atomically.
func (s *Service) Confirm(ctx context.Context, c Confirmation) (*Receipt, error) {
	if c.Quantity <= 0 {
		return nil, &commerce.ValidationError{Field: "quantity", Message: "must be positive"}
	}
	if c.Code == "" {
		return nil, &commerce.ValidationError{Field: "otp_code", Message: "is required"}
	}

	var (
		receipt  Receipt
		consumed bool
	)
	err := s.store.WithTx(ctx, func(tx commerce.Tx) error {
		ch, err := s.challenges.Consume(ctx, tx, c.ChallengeID, commerce.ChallengeContext{
			Kind:     commerce.KindPurchase,
			UserID:   c.UserID,
			BookID:   c.BookID,
			Quantity: c.Quantity,
		}, c.Code)
		if err != nil {
			return err
		}
		consumed = true

		// Lock order: challenge -> user -> book.
		user, err := tx.LockUser(ctx, c.UserID)
		if err != nil {
			return err
		}
		book, err := tx.LockBook(ctx, c.BookID)
		if err != nil {
			return err
		}

		if !s.policy.CanPurchase(user, book) {
			return &commerce.AuthorizationError{UserID: user.ID, BookID: book.ID, Action: "purchase"}
		}

		existing, err := tx.FindPurchase(ctx, user.ID, book.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return &commerce.DuplicatePurchaseError{UserID: user.ID, BookID: book.ID, ExistingID: existing.ID}
		}

		total := book.Price.MulInt(c.Quantity)
		if !total.Equal(ch.Amount) {
			return &commerce.ValidationError{
				Field:   "price",
				Message: fmt.Sprintf("total changed from %s to %s since the request", ch.Amount, total),
			}
		}

		purchaseID := commerce.PurchaseID(commerce.NewID())
		entry, err := s.ledger.Debit(ctx, tx, user.ID, total, commerce.EntryRef{
			ReferenceID:    string(purchaseID),
			Reason:         fmt.Sprintf("purchase of %d x %q", c.Quantity, book.Title),
			IdempotencyKey: "debit:" + string(ch.ID),
		})
		if err != nil {
			return err
		}

		updatedBook, err := s.inventory.Reserve(ctx, tx, book.ID, c.Quantity)
		if err != nil {
			return err
		}

		record := commerce.PurchaseRecord{
			ID:          purchaseID,
			UserID:      user.ID,
			BookID:      book.ID,
			Quantity:    c.Quantity,
			Total:       total,
			ChallengeID: ch.ID,
			PurchasedAt: s.clock(),
		}
		if err := tx.InsertPurchase(ctx, record); err != nil {
			return err
		}

		receipt = Receipt{Purchase: record, Book: *updatedBook, Entry: *entry}
		return nil
	})
	if err != nil {
		if consumed && commerce.RejectsChallenge(err) {
			if rerr := s.challenges.Reject(ctx, c.ChallengeID, err); rerr != nil {
				s.log.Error("failed to reject challenge",
					zap.String("challenge_id", string(c.ChallengeID)), zap.Error(rerr))
			}
		}
		s.log.Info("purchase not committed",
			zap.String("user_id", string(c.UserID)),
			zap.String("book_id", string(c.BookID)),
			zap.String("kind", commerce.Kind(err)),
			zap.Error(err),
		)
		return nil, err
	}

	s.log.Info("purchase committed",
		zap.String("purchase_id", string(receipt.Purchase.ID)),
		zap.String("user_id", string(c.UserID)),
		zap.String("book_id", string(c.BookID)),
		zap.Int("quantity", c.Quantity),
		zap.String("total", receipt.Purchase.Total.String()),
	)
	return &receipt, nil
}
