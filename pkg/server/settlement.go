package server

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/decred/slog"

	"github.com/balatonbet/balaton/pkg/poker"
)

// SettlementEngine scores an ended round and distributes its pool. A
// round settles exactly once: the rewards map doubles as the settlement
// marker, and a second attempt fails with ErrSettlementDone before any
// balance moves.
type SettlementEngine struct {
	repo   RoundRepository
	cfg    *Config
	events *EventProcessor
	log    slog.Logger
}

// NewSettlementEngine creates a settlement engine. events may be nil
// when no archival pipeline is attached.
func NewSettlementEngine(repo RoundRepository, cfg *Config, events *EventProcessor, log slog.Logger) *SettlementEngine {
	return &SettlementEngine{
		repo:   repo,
		cfg:    cfg,
		events: events,
		log:    log,
	}
}

// Settle scores every entrant of roundID against the dealer hand, ranks
// them, distributes the pool by percentile tier, and commits scores,
// rewards and balance credits atomically. Ties rank by entry order.
func (s *SettlementEngine) Settle(ctx context.Context, roundID string) error {
	entries, err := s.repo.Entries(ctx, roundID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		s.log.Infof("Round %s ended with no entries", roundID)
		return s.finish(ctx, roundID)
	}

	dealerHand, err := s.repo.DealerHand(ctx, roundID)
	if err != nil {
		return err
	}
	hands, err := s.repo.Hands(ctx, roundID)
	if err != nil {
		return err
	}
	pool, err := s.repo.Pool(ctx, roundID)
	if err != nil {
		return err
	}

	scores := make(map[string]int64, len(entries))
	for _, player := range entries {
		hand, ok := hands[player]
		if !ok {
			return fmt.Errorf("%w: player %s entered round %s without a hand", poker.ErrMalformedHand, player, roundID)
		}
		_, score, err := poker.Combine(dealerHand, hand, s.cfg.ScoreTable)
		if err != nil {
			return fmt.Errorf("scoring %s in round %s: %w", player, roundID, err)
		}
		scores[player] = score
	}

	// Stable sort on a copy of the entry list: equal scores keep
	// entry order, so earlier entrants win ties.
	ranked := make([]string, len(entries))
	copy(ranked, entries)
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i]] > scores[ranked[j]]
	})

	rewards := computeRewards(pool, ranked, s.cfg.RewardTiers)

	if err := s.repo.CommitSettlement(ctx, roundID, scores, rewards); err != nil {
		return err
	}
	s.log.Infof("Round %s settled: %d players, pool %d", roundID, len(entries), pool)

	if s.events != nil {
		s.events.Publish(RoundEvent{
			Type:       EventRoundSettled,
			RoundID:    roundID,
			DealerHand: poker.HandStrings(dealerHand),
			Players:    entries,
			Scores:     scores,
			Rewards:    rewards,
			Pool:       pool,
			Timestamp:  time.Now().UTC(),
		})
	}

	return s.finish(ctx, roundID)
}

// finish garbage-collects the settled round's keys and announces the
// round end.
func (s *SettlementEngine) finish(ctx context.Context, roundID string) error {
	if err := s.repo.ExpireRoundKeys(ctx, roundID, s.cfg.SettledKeyTTL); err != nil {
		return err
	}
	if err := s.repo.PublishRoundEnded(ctx, roundID); err != nil {
		s.log.Warnf("Could not announce end of round %s: %v", roundID, err)
	}
	return nil
}

// computeRewards splits pool across the ranked players by tier. Each
// tier covers the ranks up to max(1, floor(n*boundary)) not already
// covered by a better tier, and splits its share of the pool evenly
// among them. Amounts truncate to two decimals so the distributed total
// never exceeds the pool. Players below every tier are recorded with a
// zero reward.
func computeRewards(pool int64, ranked []string, tiers []RewardTier) map[string]float64 {
	n := len(ranked)
	rewards := make(map[string]float64, n)
	for _, player := range ranked {
		rewards[player] = 0
	}

	prevCut := 0
	for _, tier := range tiers {
		cut := int(math.Floor(float64(n) * tier.Boundary))
		if cut < 1 {
			cut = 1
		}
		if cut > n {
			cut = n
		}
		if cut <= prevCut {
			continue
		}
		count := cut - prevCut
		amount := truncateCents(tier.Share * float64(pool) / float64(count))
		for _, player := range ranked[prevCut:cut] {
			rewards[player] = amount
		}
		prevCut = cut
	}
	return rewards
}

func truncateCents(x float64) float64 {
	return math.Trunc(x*100) / 100
}
