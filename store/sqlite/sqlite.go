/*
Package sqlite provides a SQLite-backed implementation of commerce.Store.

PURPOSE:
  Persists users, books, purchases, challenges and the balance ledger.
  In production the same patterns apply to PostgreSQL (SELECT ... FOR UPDATE
  instead of BEGIN IMMEDIATE) - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  commerce.Store:            Reads, registration, catalog seeding, WithTx
  commerce.Tx:               Row locks and writes inside one commit
  commerce.ChallengeSweeper: Bulk expiry of stale challenges

KEY TABLES:
  users:          Balance (decimal text) + version counter
  books:          Stock (CHECK stock >= 0) + version counter
  purchases:      Insert-only, UNIQUE(user_id, book_id)
  challenges:     Pending/consumed/expired OTP challenges
  ledger_entries: Append-only balance history, UNIQUE idempotency_key

CONCURRENCY:
  Every WithTx first takes a process-wide writer lock with a bounded wait,
  then opens the transaction with BEGIN IMMEDIATE (_txlock=immediate) so
  the database write lock is held from the first statement. Other processes
  wait up to _busy_timeout. Either timeout surfaces as
  commerce.ErrConcurrencyConflict. Balance and stock updates also compare
  the row version, so a write based on a stale read can never land.

WAL MODE:
  File databases are opened with WAL: readers don't block the writer.

USAGE:
  store, err := sqlite.New("./data/bookstore.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - commerce/store.go: Interface definitions
  - commerce/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/bookstore-engine/commerce"
)

// timeFormat has fixed-width nanoseconds so stored times sort as strings.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Options tunes lock waits.
type Options struct {
	// LockTimeout bounds the wait for the in-process writer lock.
	LockTimeout time.Duration
	// BusyTimeout bounds SQLite's own wait for the database lock.
	BusyTimeout time.Duration
}

// Store implements commerce.Store using SQLite.
type Store struct {
	db          *sql.DB
	writer      chan struct{}
	lockTimeout time.Duration
}

var _ commerce.Store = (*Store)(nil)
var _ commerce.ChallengeSweeper = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return NewWithOptions(dbPath, Options{})
}

// NewWithOptions is New with explicit lock timeouts.
func NewWithOptions(dbPath string, opts Options) (*Store, error) {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 5 * time.Second
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = opts.LockTimeout
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_txlock=immediate&_busy_timeout=%d",
		dbPath, opts.BusyTimeout.Milliseconds())
	if dbPath != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{
		db:          db,
		writer:      make(chan struct{}, 1),
		lockTimeout: opts.LockTimeout,
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL DEFAULT '',
		balance TEXT NOT NULL DEFAULT '0' CHECK (CAST(balance AS REAL) >= 0),
		class TEXT NOT NULL DEFAULT 'restricted',
		restricted_access BOOLEAN NOT NULL DEFAULT FALSE,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		stock INTEGER NOT NULL CHECK (stock >= 0),
		price TEXT NOT NULL CHECK (CAST(price AS REAL) >= 0),
		visibility TEXT NOT NULL DEFAULT 'public',
		content_ref TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_books_title ON books(title);

	-- Insert-only. One purchase per (user, book).
	CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		book_id TEXT NOT NULL REFERENCES books(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		total TEXT NOT NULL,
		challenge_id TEXT NOT NULL,
		purchased_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_purchase
		ON purchases(user_id, book_id);

	CREATE TABLE IF NOT EXISTS challenges (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		user_id TEXT NOT NULL REFERENCES users(id),
		book_id TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL DEFAULT 0,
		amount TEXT NOT NULL,
		code TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		outcome TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL DEFAULT '',
		consumed_at TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_challenges_pending
		ON challenges(status, expires_at);

	-- Append-only balance history.
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL REFERENCES users(id),
		entry_type TEXT NOT NULL,
		delta TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		reference_id TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_user
		ON ledger_entries(user_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset clears all data.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.acquireWriter(ctx); err != nil {
		return err
	}
	defer s.releaseWriter()

	tables := []string{"ledger_entries", "purchases", "challenges", "books", "users"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// USERS
// =============================================================================

const userColumns = `id, username, password_hash, balance, class, restricted_access, version, created_at, updated_at`

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id commerce.UserID) (*commerce.User, error) {
	return getUser(ctx, s.db, "id", string(id))
}

// GetUserByUsername retrieves a user by login name.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*commerce.User, error) {
	return getUser(ctx, s.db, "username", username)
}

func getUser(ctx context.Context, q querier, column, value string) (*commerce.User, error) {
	row := q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+column+" = ?", value)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &commerce.NotFoundError{Kind: "user", ID: value}
	}
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to get user: %w", err))
	}
	return u, nil
}

func scanUser(row scanner) (*commerce.User, error) {
	var (
		u                    commerce.User
		balance, class       string
		createdAt, updatedAt string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &balance, &class,
		&u.RestrictedAccess, &u.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if u.Balance, err = commerce.ParseMoney(balance); err != nil {
		return nil, err
	}
	u.Class = commerce.UserClass(class)
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

// CreateUser inserts a user. A taken username returns commerce.ErrUsernameTaken.
func (s *Store) CreateUser(ctx context.Context, u commerce.User) error {
	if err := s.acquireWriter(ctx); err != nil {
		return err
	}
	defer s.releaseWriter()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		u.ID, u.Username, u.PasswordHash, u.Balance.String(), string(u.Class),
		u.RestrictedAccess, u.Version, formatTime(u.CreatedAt), formatTime(u.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "users.username") {
			return commerce.ErrUsernameTaken
		}
		return mapError(fmt.Errorf("failed to create user: %w", err))
	}
	return nil
}

// =============================================================================
// BOOKS
// =============================================================================

const bookColumns = `id, title, author, category, stock, price, visibility, content_ref, version, created_at, updated_at`

// GetBook retrieves a book by ID.
func (s *Store) GetBook(ctx context.Context, id commerce.BookID) (*commerce.Book, error) {
	return getBook(ctx, s.db, id)
}

func getBook(ctx context.Context, q querier, id commerce.BookID) (*commerce.Book, error) {
	row := q.QueryRowContext(ctx, "SELECT "+bookColumns+" FROM books WHERE id = ?", id)
	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &commerce.NotFoundError{Kind: "book", ID: string(id)}
	}
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to get book: %w", err))
	}
	return b, nil
}

func scanBook(row scanner) (*commerce.Book, error) {
	var (
		b                    commerce.Book
		price, visibility    string
		createdAt, updatedAt string
	)
	if err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Category, &b.Stock, &price,
		&visibility, &b.ContentRef, &b.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if b.Price, err = commerce.ParseMoney(price); err != nil {
		return nil, err
	}
	b.Visibility = commerce.Visibility(visibility)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

// ListBooks returns the whole catalog ordered by title.
func (s *Store) ListBooks(ctx context.Context) ([]commerce.Book, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+bookColumns+" FROM books ORDER BY title ASC, id ASC")
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query books: %w", err))
	}
	defer rows.Close()

	var books []commerce.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, *b)
	}
	return books, rows.Err()
}

// SaveBook creates or replaces a catalog row.
func (s *Store) SaveBook(ctx context.Context, b commerce.Book) error {
	if err := s.acquireWriter(ctx); err != nil {
		return err
	}
	defer s.releaseWriter()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books (`+bookColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			category = excluded.category,
			stock = excluded.stock,
			price = excluded.price,
			visibility = excluded.visibility,
			content_ref = excluded.content_ref,
			version = books.version + 1,
			updated_at = excluded.updated_at
	`,
		b.ID, b.Title, b.Author, b.Category, b.Stock, b.Price.String(), string(b.Visibility),
		b.ContentRef, b.Version, formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to save book: %w", err))
	}
	return nil
}

// =============================================================================
// PURCHASES
// =============================================================================

const purchaseColumns = `id, user_id, book_id, quantity, total, challenge_id, purchased_at`

// FindPurchase returns the purchase for (user, book), or nil if none.
func (s *Store) FindPurchase(ctx context.Context, userID commerce.UserID, bookID commerce.BookID) (*commerce.PurchaseRecord, error) {
	return findPurchase(ctx, s.db, userID, bookID)
}

func findPurchase(ctx context.Context, q querier, userID commerce.UserID, bookID commerce.BookID) (*commerce.PurchaseRecord, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+purchaseColumns+" FROM purchases WHERE user_id = ? AND book_id = ?",
		userID, bookID)
	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to find purchase: %w", err))
	}
	return p, nil
}

func scanPurchase(row scanner) (*commerce.PurchaseRecord, error) {
	var (
		p                  commerce.PurchaseRecord
		total, purchasedAt string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.BookID, &p.Quantity, &total, &p.ChallengeID, &purchasedAt); err != nil {
		return nil, err
	}
	var err error
	if p.Total, err = commerce.ParseMoney(total); err != nil {
		return nil, err
	}
	p.PurchasedAt = parseTime(purchasedAt)
	return &p, nil
}

// ListPurchases returns a user's purchases, newest first.
func (s *Store) ListPurchases(ctx context.Context, userID commerce.UserID) ([]commerce.PurchaseRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+purchaseColumns+" FROM purchases WHERE user_id = ? ORDER BY purchased_at DESC",
		userID)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query purchases: %w", err))
	}
	defer rows.Close()

	var result []commerce.PurchaseRecord
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

// Entries returns a user's ledger entries in insertion order.
func (s *Store) Entries(ctx context.Context, userID commerce.UserID) ([]commerce.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, entry_type, delta, balance_after, reference_id, reason,
		       idempotency_key, created_at
		FROM ledger_entries
		WHERE user_id = ?
		ORDER BY seq ASC
	`, userID)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query ledger entries: %w", err))
	}
	defer rows.Close()

	var result []commerce.LedgerEntry
	for rows.Next() {
		var (
			e                       commerce.LedgerEntry
			entryType, delta, after string
			idempotencyKey          sql.NullString
			createdAt               string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &entryType, &delta, &after, &e.ReferenceID,
			&e.Reason, &idempotencyKey, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Type = commerce.EntryType(entryType)
		if e.Delta, err = commerce.ParseMoney(delta); err != nil {
			return nil, err
		}
		if e.BalanceAfter, err = commerce.ParseMoney(after); err != nil {
			return nil, err
		}
		e.IdempotencyKey = idempotencyKey.String
		e.CreatedAt = parseTime(createdAt)
		result = append(result, e)
	}
	return result, rows.Err()
}

// =============================================================================
// CHALLENGES
// =============================================================================

const challengeColumns = `id, kind, user_id, book_id, quantity, amount, code, status, outcome, reason, created_at, expires_at, consumed_at`

// CreateChallenge stores a freshly issued challenge.
func (s *Store) CreateChallenge(ctx context.Context, c commerce.Challenge) error {
	if err := s.acquireWriter(ctx); err != nil {
		return err
	}
	defer s.releaseWriter()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO challenges (`+challengeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, string(c.Kind), c.UserID, c.BookID, c.Quantity, c.Amount.String(), c.Code,
		string(c.Status), string(c.Outcome), c.Reason,
		formatTime(c.CreatedAt), formatTime(c.ExpiresAt), formatTime(c.ConsumedAt),
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to create challenge: %w", err))
	}
	return nil
}

// GetChallenge retrieves a challenge by ID.
func (s *Store) GetChallenge(ctx context.Context, id commerce.ChallengeID) (*commerce.Challenge, error) {
	return getChallenge(ctx, s.db, id)
}

func getChallenge(ctx context.Context, q querier, id commerce.ChallengeID) (*commerce.Challenge, error) {
	row := q.QueryRowContext(ctx, "SELECT "+challengeColumns+" FROM challenges WHERE id = ?", id)

	var (
		c                                commerce.Challenge
		kind, amount, status, outcome    string
		createdAt, expiresAt, consumedAt string
	)
	err := row.Scan(&c.ID, &kind, &c.UserID, &c.BookID, &c.Quantity, &amount, &c.Code,
		&status, &outcome, &c.Reason, &createdAt, &expiresAt, &consumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &commerce.NotFoundError{Kind: "challenge", ID: string(id)}
	}
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to get challenge: %w", err))
	}

	c.Kind = commerce.ChallengeKind(kind)
	if c.Amount, err = commerce.ParseMoney(amount); err != nil {
		return nil, err
	}
	c.Status = commerce.ChallengeStatus(status)
	c.Outcome = commerce.ChallengeOutcome(outcome)
	c.CreatedAt = parseTime(createdAt)
	c.ExpiresAt = parseTime(expiresAt)
	c.ConsumedAt = parseTime(consumedAt)
	return &c, nil
}

// ExpireChallenges marks every pending challenge that expired before cutoff.
func (s *Store) ExpireChallenges(ctx context.Context, cutoff time.Time) (int, error) {
	if err := s.acquireWriter(ctx); err != nil {
		return 0, err
	}
	defer s.releaseWriter()

	res, err := s.db.ExecContext(ctx, `
		UPDATE challenges SET status = ?
		WHERE status = ? AND expires_at != '' AND expires_at < ?
	`, string(commerce.StatusExpired), string(commerce.StatusPending), formatTime(cutoff))
	if err != nil {
		return 0, mapError(fmt.Errorf("failed to expire challenges: %w", err))
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// TRANSACTIONS (commerce.Tx)
// =============================================================================

// WithTx executes fn inside one BEGIN IMMEDIATE transaction.
// Tx methods only touch the *sql.Tx, never the pool.
func (s *Store) WithTx(ctx context.Context, fn func(commerce.Tx) error) error {
	if err := s.acquireWriter(ctx); err != nil {
		return err
	}
	defer s.releaseWriter()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&sqliteTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// acquireWriter takes the process-wide writer lock, waiting at most lockTimeout.
func (s *Store) acquireWriter(ctx context.Context) error {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case s.writer <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("writer lock not acquired within %s: %w", s.lockTimeout, commerce.ErrConcurrencyConflict)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) releaseWriter() {
	<-s.writer
}

// sqliteTx holds the database write lock for its whole life, so every row
// it reads is effectively locked.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) LockChallenge(ctx context.Context, id commerce.ChallengeID) (*commerce.Challenge, error) {
	return getChallenge(ctx, t.tx, id)
}

func (t *sqliteTx) LockUser(ctx context.Context, id commerce.UserID) (*commerce.User, error) {
	return getUser(ctx, t.tx, "id", string(id))
}

func (t *sqliteTx) LockBook(ctx context.Context, id commerce.BookID) (*commerce.Book, error) {
	return getBook(ctx, t.tx, id)
}

func (t *sqliteTx) UpdateChallenge(ctx context.Context, c commerce.Challenge) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE challenges SET status = ?, outcome = ?, reason = ?, consumed_at = ?
		WHERE id = ?
	`, string(c.Status), string(c.Outcome), c.Reason, formatTime(c.ConsumedAt), c.ID)
	if err != nil {
		return mapError(fmt.Errorf("failed to update challenge: %w", err))
	}
	return requireOneRow(res, "challenge", string(c.ID))
}

func (t *sqliteTx) UpdateUser(ctx context.Context, u commerce.User) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE users
		SET balance = ?, class = ?, restricted_access = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, u.Balance.String(), string(u.Class), u.RestrictedAccess, formatTime(u.UpdatedAt), u.ID, u.Version)
	if err != nil {
		return mapError(fmt.Errorf("failed to update user: %w", err))
	}
	return requireOneRow(res, "user", string(u.ID))
}

func (t *sqliteTx) UpdateBook(ctx context.Context, b commerce.Book) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE books
		SET stock = ?, price = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, b.Stock, b.Price.String(), formatTime(b.UpdatedAt), b.ID, b.Version)
	if err != nil {
		return mapError(fmt.Errorf("failed to update book: %w", err))
	}
	return requireOneRow(res, "book", string(b.ID))
}

func (t *sqliteTx) FindPurchase(ctx context.Context, userID commerce.UserID, bookID commerce.BookID) (*commerce.PurchaseRecord, error) {
	return findPurchase(ctx, t.tx, userID, bookID)
}

func (t *sqliteTx) InsertPurchase(ctx context.Context, p commerce.PurchaseRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO purchases (`+purchaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.UserID, p.BookID, p.Quantity, p.Total.String(), p.ChallengeID, formatTime(p.PurchasedAt))
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "purchases.user_id") {
			existing, ferr := findPurchase(ctx, t.tx, p.UserID, p.BookID)
			dup := &commerce.DuplicatePurchaseError{UserID: p.UserID, BookID: p.BookID}
			if ferr == nil && existing != nil {
				dup.ExistingID = existing.ID
			}
			return dup
		}
		return mapError(fmt.Errorf("failed to insert purchase: %w", err))
	}
	return nil
}

func (t *sqliteTx) AppendEntry(ctx context.Context, e commerce.LedgerEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, user_id, entry_type, delta, balance_after, reference_id, reason, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.UserID, string(e.Type), e.Delta.String(), e.BalanceAfter.String(),
		e.ReferenceID, e.Reason, nullString(e.IdempotencyKey), formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "ledger_entries.idempotency_key") {
			return commerce.ErrDuplicateIdempotencyKey
		}
		return mapError(fmt.Errorf("failed to append ledger entry: %w", err))
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// requireOneRow turns a version-checked UPDATE that matched nothing into a conflict.
func requireOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s changed underneath the transaction: %w", kind, id, commerce.ErrConcurrencyConflict)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeFormat, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// mapError turns SQLite lock timeouts into commerce.ErrConcurrencyConflict.
func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", commerce.ErrConcurrencyConflict, err)
		}
	}
	return err
}
