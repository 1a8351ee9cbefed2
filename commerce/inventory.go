package commerce

import "context"

// InventoryStock is the only writer of Book.Stock.
//
// INVARIANTS:
//   - Book.Stock >= 0 after every committed Tx.
//   - The book row is locked before it is read, so two concurrent
//     reservations of the last copies serialize and cannot oversell.
type InventoryStock struct {
	clock Clock
}

// NewInventoryStock creates a stock writer. A nil clock means SystemClock.
func NewInventoryStock(clock Clock) *InventoryStock {
	if clock == nil {
		clock = SystemClock
	}
	return &InventoryStock{clock: clock}
}

// Reserve removes quantity copies from stock.
// Returns ValidationError for quantity <= 0 and InsufficientStockError
// when quantity exceeds the current stock. Nothing is written on failure.
func (s *InventoryStock) Reserve(ctx context.Context, tx Tx, bookID BookID, quantity int) (*Book, error) {
	if quantity <= 0 {
		return nil, &ValidationError{Field: "quantity", Message: "must be positive"}
	}

	book, err := tx.LockBook(ctx, bookID)
	if err != nil {
		return nil, err
	}

	if quantity > book.Stock {
		return nil, &InsufficientStockError{
			BookID:    bookID,
			Available: book.Stock,
			Requested: quantity,
		}
	}

	updated := *book
	updated.Stock = book.Stock - quantity
	updated.UpdatedAt = s.clock()
	if err := tx.UpdateBook(ctx, updated); err != nil {
		return nil, err
	}
	return &updated, nil
}
