package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/balatonbet/balaton/pkg/poker"
)

// RoundScheduler drives the round lifecycle. The round pointer's TTL in
// the fast store is the only clock: the scheduler holds no timer of its
// own, it reacts to key-expiry notifications. A restarted process
// resynchronizes by reading the store, so multiple lifecycle phases can
// never run concurrently from a single scheduler.
type RoundScheduler struct {
	repo       RoundRepository
	cfg        *Config
	settlement *SettlementEngine
	log        slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRoundScheduler creates a scheduler dealing dealer hands from rng.
func NewRoundScheduler(repo RoundRepository, cfg *Config, settlement *SettlementEngine, rng *rand.Rand, log slog.Logger) *RoundScheduler {
	return &RoundScheduler{
		repo:       repo,
		cfg:        cfg,
		settlement: settlement,
		log:        log,
		rng:        rng,
	}
}

// Run operates the round lifecycle until ctx is canceled. It subscribes
// to expiry notifications before touching the round pointer, so an
// expiry between startup and subscription cannot be missed, then
// ensures a round is open and settles-and-restarts on every expiry.
func (s *RoundScheduler) Run(ctx context.Context) error {
	expired, closeSub, err := s.repo.SubscribeRoundExpiry(ctx)
	if err != nil {
		return err
	}
	defer closeSub()

	if _, err := s.repo.CurrentRound(ctx); err != nil {
		if !errors.Is(err, ErrNoActiveRound) {
			return err
		}
		// Either a fresh store, or the pointer expired while no
		// scheduler was running. Settle the leftover round if one is
		// pending, then open a new one.
		if err := s.settlePrevious(ctx); err != nil {
			return err
		}
		if err := s.startRound(ctx); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-expired:
			if !ok {
				return fmt.Errorf("expiry subscription closed")
			}
			// A replayed or stale notification arrives while a round is
			// already open; it must not settle a live round.
			if _, err := s.repo.CurrentRound(ctx); err == nil {
				continue
			} else if !errors.Is(err, ErrNoActiveRound) {
				return err
			}
			if err := s.settlePrevious(ctx); err != nil {
				return err
			}
			if err := s.startRound(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *RoundScheduler) settlePrevious(ctx context.Context) error {
	roundID, err := s.repo.LastRound(ctx)
	if errors.Is(err, ErrNoActiveRound) {
		return nil
	}
	if err != nil {
		return err
	}
	err = s.settlement.Settle(ctx, roundID)
	if errors.Is(err, ErrSettlementDone) {
		// Another process got there first, or this is a replayed
		// expiry. Safe to move on.
		s.log.Infof("Round %s already settled", roundID)
		return nil
	}
	return err
}

func (s *RoundScheduler) startRound(ctx context.Context) error {
	now := time.Now().UTC()
	roundID := newRoundID(now)

	dealerHand, err := s.dealDealer()
	if err != nil {
		return err
	}

	if err := s.repo.StartRound(ctx, roundID, dealerHand, s.cfg.RoundDuration); err != nil {
		return err
	}
	s.log.Infof("Round %s started, closing in %s", roundID, s.cfg.RoundDuration)

	if err := s.repo.PublishRoundStarted(ctx, roundID); err != nil {
		s.log.Warnf("Could not announce start of round %s: %v", roundID, err)
	}
	return nil
}

func (s *RoundScheduler) dealDealer() ([]poker.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return poker.NewDeck(s.rng).Deal(dealerHandSize)
}

// dealerHandSize is the number of cards dealt to the house each round.
const dealerHandSize = 5

// newRoundID derives a round identity from its start instant: UTC
// timestamp down to the microsecond, which also makes IDs sortable by
// start time.
func newRoundID(t time.Time) string {
	return t.Format("20060102150405") + fmt.Sprintf("%06d", t.Nanosecond()/1000)
}
