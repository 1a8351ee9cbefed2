// Package topup implements the two-phase balance top-up.
//
// It mirrors the purchase workflow without inventory: Request validates the
// amount and issues a challenge bound to {user, amount}; Confirm consumes
// the challenge and credits the balance in one store transaction.
package topup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/bookstore-engine/commerce"
)

// Request asks to add Amount to the user's balance.
type Request struct {
	UserID commerce.UserID
	Amount commerce.Money
}

// Pending is the result of the request phase.
type Pending struct {
	ChallengeID commerce.ChallengeID
	Amount      commerce.Money
	Prompt      string
	ExpiresAt   time.Time
}

// Confirmation completes a pending top-up.
type Confirmation struct {
	UserID      commerce.UserID
	ChallengeID commerce.ChallengeID
	Amount      commerce.Money
	Code        string
}

// Receipt is the result of a committed top-up.
type Receipt struct {
	Entry   commerce.LedgerEntry
	Balance commerce.Money
}

// Service runs top-ups against a commerce.Store.
type Service struct {
	store      commerce.Store
	challenges *commerce.Challenges
	ledger     *commerce.LedgerAccount
	log        *zap.Logger
}

func NewService(store commerce.Store, challenges *commerce.Challenges, clock commerce.Clock, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:      store,
		challenges: challenges,
		ledger:     commerce.NewLedgerAccount(clock),
		log:        log.Named("topup"),
	}
}

// Request validates the amount and issues a challenge. A non-positive
// amount is rejected before anything is stored.
func (s *Service) Request(ctx context.Context, req Request) (*Pending, error) {
	if !req.Amount.IsPositive() {
		return nil, &commerce.ValidationError{Field: "amount", Message: "must be positive"}
	}
	if _, err := s.store.GetUser(ctx, req.UserID); err != nil {
		return nil, err
	}

	ch, prompt, err := s.challenges.Issue(ctx, commerce.ChallengeContext{
		Kind:   commerce.KindTopUp,
		UserID: req.UserID,
		Amount: req.Amount,
	})
	if err != nil {
		return nil, err
	}
	return &Pending{ChallengeID: ch.ID, Amount: req.Amount, Prompt: prompt, ExpiresAt: ch.ExpiresAt}, nil
}

// Confirm consumes the challenge and credits the balance atomically.
func (s *Service) Confirm(ctx context.Context, c Confirmation) (*Receipt, error) {
	if !c.Amount.IsPositive() {
		return nil, &commerce.ValidationError{Field: "amount", Message: "must be positive"}
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
			Kind:   commerce.KindTopUp,
			UserID: c.UserID,
			Amount: c.Amount,
		}, c.Code)
		if err != nil {
			return err
		}
		consumed = true

		entry, err := s.ledger.Credit(ctx, tx, c.UserID, c.Amount, commerce.EntryRef{
			ReferenceID:    string(ch.ID),
			Reason:         fmt.Sprintf("top-up of %s", c.Amount),
			IdempotencyKey: "credit:" + string(ch.ID),
		})
		if err != nil {
			return err
		}
		receipt = Receipt{Entry: *entry, Balance: entry.BalanceAfter}
		return nil
	})
	if err != nil {
		if consumed && commerce.RejectsChallenge(err) {
			if rerr := s.challenges.Reject(ctx, c.ChallengeID, err); rerr != nil {
				s.log.Error("failed to reject challenge",
					zap.String("challenge_id", string(c.ChallengeID)), zap.Error(rerr))
			}
		}
		return nil, err
	}

	s.log.Info("top-up committed",
		zap.String("user_id", string(c.UserID)),
		zap.String("amount", c.Amount.String()),
		zap.String("balance", receipt.Balance.String()),
	)
	return &receipt, nil
}
