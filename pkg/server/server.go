package server

import (
	"context"
	"math/rand"
	"time"

	"github.com/decred/slog"
	"github.com/redis/go-redis/v9"
	"github.com/vctt94/bisonbotkit/logging"

	"github.com/balatonbet/balaton/pkg/poker"
	"github.com/balatonbet/balaton/pkg/server/internal/db"
)

// Server ties the round engine together: the Redis-backed round
// repository, the entry ledger, the TTL-driven scheduler with its
// settlement engine, the archival event pipeline and the sqlite slow
// store.
type Server struct {
	cfg        *Config
	log        slog.Logger
	logBackend *logging.LogBackend

	repo       RoundRepository
	db         Database
	ledger     *EntryLedger
	settlement *SettlementEngine
	scheduler  *RoundScheduler
	events     *EventProcessor
}

// RoundInfo describes the open round for display purposes.
type RoundInfo struct {
	RoundID   string
	Pool      int64
	Players   int64
	Remaining time.Duration
}

// NewServer creates a round engine server on the given Redis client and
// slow store. rng seeds the card dealing; pass a seeded source for
// reproducible runs.
func NewServer(cfg *Config, rdb *redis.Client, database Database, rng *rand.Rand, logBackend *logging.LogBackend) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logBackend.Logger("SERVER")
	repo := NewRoundRepository(rdb, cfg.RetryBudget, logBackend.Logger("STORE"))

	server := &Server{
		cfg:        cfg,
		log:        log,
		logBackend: logBackend,
		repo:       repo,
		db:         database,
	}

	server.events = NewEventProcessor(repo, database, cfg.EventQueueSize, cfg.EventWorkers, logBackend.Logger("EVNT"))
	server.ledger = NewEntryLedger(repo, cfg, rng, logBackend.Logger("ENTR"))
	server.settlement = NewSettlementEngine(repo, cfg, server.events, logBackend.Logger("SETL"))
	server.scheduler = NewRoundScheduler(repo, cfg, server.settlement, rng, logBackend.Logger("SCHD"))

	return server, nil
}

// Run operates the server until ctx is canceled: the event pipeline is
// started, then the scheduler loop drives rounds. On return the event
// pipeline has drained.
func (s *Server) Run(ctx context.Context) error {
	s.events.Start()
	defer s.events.Stop()

	return s.scheduler.Run(ctx)
}

// Enter buys player into the open round with a hand of handSize cards.
func (s *Server) Enter(ctx context.Context, player string, handSize int) ([]poker.Card, error) {
	return s.ledger.Enter(ctx, player, handSize)
}

// Balance returns the player's live balance from the fast store.
func (s *Server) Balance(ctx context.Context, player string) (float64, error) {
	return s.repo.Balance(ctx, player)
}

// CreditBalance tops up a player's balance, for deposits and promos.
func (s *Server) CreditBalance(ctx context.Context, player string, amount float64) error {
	return s.repo.CreditBalance(ctx, player, amount)
}

// CurrentRound returns display information about the open round.
func (s *Server) CurrentRound(ctx context.Context) (*RoundInfo, error) {
	roundID, err := s.repo.CurrentRound(ctx)
	if err != nil {
		return nil, err
	}
	pool, err := s.repo.Pool(ctx, roundID)
	if err != nil {
		return nil, err
	}
	players, err := s.repo.EntryCount(ctx, roundID)
	if err != nil {
		return nil, err
	}
	remaining, err := s.repo.CurrentRoundRemaining(ctx)
	if err != nil {
		return nil, err
	}
	return &RoundInfo{
		RoundID:   roundID,
		Pool:      pool,
		Players:   players,
		Remaining: remaining,
	}, nil
}

// RoundResults returns the scores and rewards of a settled round.
func (s *Server) RoundResults(ctx context.Context, roundID string) (map[string]int64, map[string]float64, error) {
	scores, err := s.repo.Scores(ctx, roundID)
	if err != nil {
		return nil, nil, err
	}
	rewards, err := s.repo.Rewards(ctx, roundID)
	if err != nil {
		return nil, nil, err
	}
	return scores, rewards, nil
}

// ArchivedRound loads a settled round from the slow store after its
// fast-store keys have been garbage collected.
func (s *Server) ArchivedRound(roundID string) (*db.RoundSnapshot, error) {
	return s.db.LoadRound(roundID)
}
