package server

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/decred/slog"

	"github.com/balatonbet/balaton/pkg/poker"
)

// EntryLedger admits players into the open round. Each entrant is dealt
// a hand from a fresh shuffled deck, so no card dealt to one player
// constrains another's.
type EntryLedger struct {
	repo RoundRepository
	cfg  *Config
	log  slog.Logger

	// Guards the shared RNG used for deck shuffles.
	mu  sync.Mutex
	rng *rand.Rand
}

// NewEntryLedger creates an entry ledger using the given RNG source for
// dealing. Pass a seeded source for reproducible runs.
func NewEntryLedger(repo RoundRepository, cfg *Config, rng *rand.Rand, log slog.Logger) *EntryLedger {
	return &EntryLedger{
		repo: repo,
		cfg:  cfg,
		log:  log,
		rng:  rng,
	}
}

// Enter buys the player into the current round with a freshly dealt
// hand of handSize cards, debiting the configured entry cost. The dealt
// hand is returned so callers can show it to the player.
//
// Fails with ErrInvalidHandSize for hand sizes with no configured cost,
// ErrNoActiveRound between rounds, ErrAlreadyEntered on a second buy-in
// and ErrInsufficientFunds when the balance cannot cover the cost.
func (l *EntryLedger) Enter(ctx context.Context, player string, handSize int) ([]poker.Card, error) {
	cost, ok := l.cfg.EntryCosts[handSize]
	if !ok {
		return nil, fmt.Errorf("%w: no entry priced at %d cards", ErrInvalidHandSize, handSize)
	}

	hand, err := l.deal(handSize)
	if err != nil {
		return nil, err
	}

	if err := l.repo.Enter(ctx, player, hand, cost); err != nil {
		return nil, err
	}

	l.log.Debugf("Player %s entered with %d cards for %d tokens", player, handSize, cost)
	return hand, nil
}

func (l *EntryLedger) deal(handSize int) ([]poker.Card, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return poker.NewDeck(l.rng).Deal(handSize)
}
