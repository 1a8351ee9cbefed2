/*
challenge.go - OtpChallenge: one-time confirmation codes for pending transactions

PURPOSE:
  Every money- or stock-mutating commit must present a freshly consumed
  challenge whose stored context equals the commit request. The request
  phase issues the challenge and returns its ID as the transaction
  reference; the confirm phase consumes it inside the commit's Tx.

STATE MACHINE:
  ┌─────────┐  code matches   ┌──────────┐
  │ Pending │ ──────────────▶ │ Consumed │  (terminal; outcome committed
  └─────────┘                 └──────────┘   or rejected)
     │   ▲
     │   │ code mismatch (retry allowed)
     │   └───────
     │
     │ now > ExpiresAt
     ▼
  ┌─────────┐
  │ Expired │  (terminal)
  └─────────┘

  Consumed --any code--> ErrAlreadyConsumed
  Expired  --any code--> ErrChallengeExpired

ATOMICITY:
  Consume locks the challenge row, checks it is pending and marks it
  consumed in the same Tx as the balance/stock writes. Two concurrent
  confirms serialize on the row lock; the second one sees Consumed.
  If the commit rolls back, the consumption rolls back with it and the
  caller decides (RejectsChallenge) whether to Reject it afterwards.

CODES:
  Numeric, 4 digits by default, drawn from crypto/rand. Codes are not
  globally unique; they are only meaningful together with the challenge ID.

SEE ALSO:
  - purchase/purchase.go, topup/topup.go: Request/Confirm orchestration
  - notify.go: How the code reaches the user
  - api/scheduler.go: Sweeps stale pending challenges to Expired
*/
package commerce

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// TYPES
// =============================================================================

type ChallengeKind string

const (
	KindPurchase ChallengeKind = "purchase"
	KindTopUp    ChallengeKind = "topup"
)

type ChallengeStatus string

const (
	StatusPending  ChallengeStatus = "pending"
	StatusConsumed ChallengeStatus = "consumed"
	StatusExpired  ChallengeStatus = "expired"
)

type ChallengeOutcome string

const (
	OutcomeNone      ChallengeOutcome = ""
	OutcomeCommitted ChallengeOutcome = "committed"
	OutcomeRejected  ChallengeOutcome = "rejected"
)

// TxState is the state of the transaction a challenge guards.
type TxState string

const (
	StateChallenged TxState = "challenged"
	StateCommitted  TxState = "committed"
	StateRejected   TxState = "rejected"
	StateExpired    TxState = "expired"
)

// ChallengeContext is what a challenge authorizes.
// Purchases bind book, quantity and the quoted total; topups bind the amount.
type ChallengeContext struct {
	Kind     ChallengeKind
	UserID   UserID
	BookID   BookID
	Quantity int
	Amount   Money
}

// Matches reports whether a commit request asks for exactly what was issued.
// The purchase total is recomputed at commit, so it is not compared here.
func (c ChallengeContext) Matches(req ChallengeContext) bool {
	if c.Kind != req.Kind || c.UserID != req.UserID {
		return false
	}
	switch c.Kind {
	case KindPurchase:
		return c.BookID == req.BookID && c.Quantity == req.Quantity
	case KindTopUp:
		return c.Amount.Equal(req.Amount)
	}
	return false
}

// Challenge is a one-time code bound to a pending transaction.
type Challenge struct {
	ID ChallengeID
	ChallengeContext

	Code       string
	Status     ChallengeStatus
	Outcome    ChallengeOutcome
	Reason     string // why the transaction was rejected
	CreatedAt  time.Time
	ExpiresAt  time.Time // zero means no expiry
	ConsumedAt time.Time
}

// ExpiredAt reports whether the challenge can no longer be confirmed at now.
func (c *Challenge) ExpiredAt(now time.Time) bool {
	if c.Status == StatusExpired {
		return true
	}
	return c.Status == StatusPending && !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// State derives the guarded transaction's state.
func (c *Challenge) State(now time.Time) TxState {
	switch {
	case c.Status == StatusConsumed && c.Outcome == OutcomeRejected:
		return StateRejected
	case c.Status == StatusConsumed:
		return StateCommitted
	case c.ExpiredAt(now):
		return StateExpired
	default:
		return StateChallenged
	}
}

// CodeGenerator produces a fresh confirmation code.
type CodeGenerator func() (string, error)

// RandomCode returns a generator of zero-padded numeric codes of the given length.
func RandomCode(length int) CodeGenerator {
	if length <= 0 {
		length = 4
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	return func() (string, error) {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		return fmt.Sprintf("%0*d", length, n), nil
	}
}

// =============================================================================
// CHALLENGE SERVICE
// =============================================================================

// ChallengeConfig configures issuing.
type ChallengeConfig struct {
	Codes    CodeGenerator // default RandomCode(4)
	Notifier Notifier      // default LogNotifier
	TTL      time.Duration // zero disables expiry
	Clock    Clock
	Logger   *zap.Logger
}

// Challenges issues and consumes OTP challenges.
type Challenges struct {
	store    Store
	codes    CodeGenerator
	notifier Notifier
	ttl      time.Duration
	clock    Clock
	log      *zap.Logger
}

// NewChallenges creates the challenge service.
func NewChallenges(store Store, cfg ChallengeConfig) *Challenges {
	c := &Challenges{
		store:    store,
		codes:    cfg.Codes,
		notifier: cfg.Notifier,
		ttl:      cfg.TTL,
		clock:    cfg.Clock,
		log:      cfg.Logger,
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.codes == nil {
		c.codes = RandomCode(4)
	}
	if c.clock == nil {
		c.clock = SystemClock
	}
	if c.notifier == nil {
		c.notifier = NewLogNotifier(c.log)
	}
	return c
}

// Now returns the service clock's current time.
func (s *Challenges) Now() time.Time { return s.clock() }

// Issue creates a pending challenge for cc and delivers its code.
// Returns the challenge and the prompt to show the caller.
func (s *Challenges) Issue(ctx context.Context, cc ChallengeContext) (*Challenge, string, error) {
	code, err := s.codes()
	if err != nil {
		return nil, "", err
	}

	now := s.clock()
	ch := Challenge{
		ID:               ChallengeID(NewID()),
		ChallengeContext: cc,
		Code:             code,
		Status:           StatusPending,
		CreatedAt:        now,
	}
	if s.ttl > 0 {
		ch.ExpiresAt = now.Add(s.ttl)
	}

	if err := s.store.CreateChallenge(ctx, ch); err != nil {
		return nil, "", fmt.Errorf("failed to store challenge: %w", err)
	}

	prompt, err := s.notifier.Deliver(ctx, ch)
	if err != nil {
		return nil, "", fmt.Errorf("failed to deliver code: %w", err)
	}

	s.log.Info("challenge issued",
		zap.String("challenge_id", string(ch.ID)),
		zap.String("kind", string(cc.Kind)),
		zap.String("user_id", string(cc.UserID)),
	)
	return &ch, prompt, nil
}

// Consume validates code against the challenge and marks it consumed
// inside tx. The challenge must belong to req.UserID and its context must
// match req. On any error nothing is written.
func (s *Challenges) Consume(ctx context.Context, tx Tx, id ChallengeID, req ChallengeContext, code string) (*Challenge, error) {
	ch, err := tx.LockChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	if ch.UserID != req.UserID {
		return nil, &NotFoundError{Kind: "challenge", ID: string(id)}
	}

	now := s.clock()
	switch {
	case ch.Status == StatusConsumed:
		return nil, fmt.Errorf("challenge %s: %w", id, ErrAlreadyConsumed)
	case ch.ExpiredAt(now):
		return nil, fmt.Errorf("challenge %s: %w", id, ErrChallengeExpired)
	}

	if !ch.Matches(req) {
		return nil, &ValidationError{Field: "challenge", Message: "request does not match the pending transaction"}
	}
	if subtle.ConstantTimeCompare([]byte(ch.Code), []byte(code)) != 1 {
		return nil, ErrInvalidCode
	}

	ch.Status = StatusConsumed
	ch.Outcome = OutcomeCommitted
	ch.ConsumedAt = now
	if err := tx.UpdateChallenge(ctx, *ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// Confirm consumes a challenge on its own, without a guarded commit.
// Only the owner is checked; the context is taken from the stored challenge.
func (s *Challenges) Confirm(ctx context.Context, userID UserID, id ChallengeID, code string) (*Challenge, error) {
	var consumed *Challenge
	err := s.store.WithTx(ctx, func(tx Tx) error {
		ch, err := tx.LockChallenge(ctx, id)
		if err != nil {
			return err
		}
		req := ch.ChallengeContext
		req.UserID = userID
		consumed, err = s.Consume(ctx, tx, id, req, code)
		return err
	})
	if err != nil {
		return nil, err
	}
	return consumed, nil
}

// Reject closes a pending challenge whose commit failed for a business
// reason, so the same code can't be replayed. No-op if it is not pending.
func (s *Challenges) Reject(ctx context.Context, id ChallengeID, cause error) error {
	return s.store.WithTx(ctx, func(tx Tx) error {
		ch, err := tx.LockChallenge(ctx, id)
		if err != nil {
			return err
		}
		if ch.Status != StatusPending {
			return nil
		}
		ch.Status = StatusConsumed
		ch.Outcome = OutcomeRejected
		ch.ConsumedAt = s.clock()
		if cause != nil {
			ch.Reason = cause.Error()
		}
		return tx.UpdateChallenge(ctx, *ch)
	})
}

// Get returns a challenge owned by userID.
func (s *Challenges) Get(ctx context.Context, userID UserID, id ChallengeID) (*Challenge, error) {
	ch, err := s.store.GetChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	if ch.UserID != userID {
		return nil, &NotFoundError{Kind: "challenge", ID: string(id)}
	}
	return ch, nil
}

// SweepExpired marks stale pending challenges expired when the store
// supports it. Returns the number of challenges changed.
func (s *Challenges) SweepExpired(ctx context.Context) (int, error) {
	sweeper, ok := s.store.(ChallengeSweeper)
	if !ok {
		return 0, nil
	}
	return sweeper.ExpireChallenges(ctx, s.clock())
}
