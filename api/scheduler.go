/*
scheduler.go - Automated challenge expiry

PURPOSE:
  Periodically marks pending challenges whose code has expired. Expiry is
  already enforced lazily at confirm time; the sweep keeps the stored status
  and GET /api/challenges/{id} in step for clients that never come back.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps once immediately on start
  - A sweep that hits a locked challenge skips it until the next tick

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 minute)
  - Enabled: Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewChallengeSweeper(challenges, logger)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - commerce/challenge.go: Challenges.SweepExpired
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/bookstore-engine/commerce"
)

// ChallengeSweeper expires stale challenges in the background.
type ChallengeSweeper struct {
	Challenges    *commerce.Challenges
	CheckInterval time.Duration
	Enabled       bool

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewChallengeSweeper creates a new sweeper.
func NewChallengeSweeper(challenges *commerce.Challenges, log *zap.Logger) *ChallengeSweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChallengeSweeper{
		Challenges:    challenges,
		CheckInterval: time.Minute,
		Enabled:       true,
		log:           log.Named("sweeper"),
	}
}

// Start begins the sweeper.
func (s *ChallengeSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	s.log.Info("started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the sweeper and waits for an in-flight sweep.
func (s *ChallengeSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.log.Info("stopped")
	}
}

func (s *ChallengeSweeper) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.Sweep(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.Sweep(context.Background())
		case <-s.stop:
			return
		}
	}
}

// Sweep runs one expiry pass and returns how many challenges expired.
func (s *ChallengeSweeper) Sweep(ctx context.Context) int {
	n, err := s.Challenges.SweepExpired(ctx)
	if err != nil {
		s.log.Error("sweep failed", zap.Error(err))
		return n
	}
	if n > 0 {
		s.log.Info("expired challenges", zap.Int("count", n))
	}
	return n
}
