package server

import (
	"fmt"
	"time"

	"github.com/balatonbet/balaton/pkg/poker"
)

// RewardTier describes one percentile band of the ranking. Boundary is
// the cumulative fraction of ranked players the band extends to (0.10 =
// top decile); Share is the fraction of the pool split evenly inside
// the band. Players beyond the last tier receive nothing.
type RewardTier struct {
	Boundary float64
	Share    float64
}

// Config holds the round engine configuration.
type Config struct {
	// RoundDuration is the TTL of the round pointer key and therefore
	// the length of the open phase.
	RoundDuration time.Duration

	// EntryCosts maps dealt hand size to entry cost in tokens.
	EntryCosts map[int]int64

	// RewardTiers are the percentile bands of the settlement payout,
	// ascending by boundary. Historical revisions disagree on these
	// values, so they are required configuration.
	RewardTiers []RewardTier

	// ScoreTable maps hand categories to base scores.
	ScoreTable poker.ScoreTable

	// RetryBudget caps the total wall-clock time an optimistic
	// transaction may spend retrying before surfacing ErrStoreContended.
	RetryBudget time.Duration

	// SettledKeyTTL bounds how long a settled round's keys stay in the
	// fast store before garbage collection.
	SettledKeyTTL time.Duration

	// EventQueueSize and EventWorkers size the settlement event pipeline.
	EventQueueSize int
	EventWorkers   int
}

// DefaultConfig returns the production defaults: 30-second rounds,
// 20/40 token entries for 2/3 cards, and the newest historical payout
// schedule (top 10% share 50%, 10%-35% band shares 35%).
func DefaultConfig() *Config {
	return &Config{
		RoundDuration: 30 * time.Second,
		EntryCosts:    map[int]int64{2: 20, 3: 40},
		RewardTiers: []RewardTier{
			{Boundary: 0.10, Share: 0.50},
			{Boundary: 0.35, Share: 0.35},
		},
		ScoreTable:     poker.DefaultScoreTable(),
		RetryBudget:    5 * time.Second,
		SettledKeyTTL:  5 * time.Minute,
		EventQueueSize: 128,
		EventWorkers:   2,
	}
}

// Validate checks the configuration for values that would corrupt a
// round or violate the payout invariants.
func (c *Config) Validate() error {
	if c.RoundDuration <= 0 {
		return fmt.Errorf("round duration must be positive, got %v", c.RoundDuration)
	}
	if len(c.EntryCosts) == 0 {
		return fmt.Errorf("entry cost schedule is empty")
	}
	for size, cost := range c.EntryCosts {
		if size < 1 || size > poker.DeckSize {
			return fmt.Errorf("entry hand size %d out of range", size)
		}
		if cost <= 0 {
			return fmt.Errorf("entry cost for %d cards must be positive, got %d", size, cost)
		}
	}
	if len(c.RewardTiers) == 0 {
		return fmt.Errorf("reward tiers are required configuration")
	}
	var prevBoundary, totalShare float64
	for i, tier := range c.RewardTiers {
		if tier.Boundary <= prevBoundary || tier.Boundary > 1 {
			return fmt.Errorf("tier %d boundary %v must ascend within (0,1]", i, tier.Boundary)
		}
		if tier.Share < 0 {
			return fmt.Errorf("tier %d share %v is negative", i, tier.Share)
		}
		prevBoundary = tier.Boundary
		totalShare += tier.Share
	}
	// Rewards may never exceed the pool.
	if totalShare > 1 {
		return fmt.Errorf("tier shares sum to %v, exceeding the pool", totalShare)
	}
	if err := c.ScoreTable.Validate(); err != nil {
		return fmt.Errorf("score table: %w", err)
	}
	if c.RetryBudget <= 0 {
		return fmt.Errorf("retry budget must be positive, got %v", c.RetryBudget)
	}
	if c.SettledKeyTTL <= 0 {
		return fmt.Errorf("settled key TTL must be positive, got %v", c.SettledKeyTTL)
	}
	if c.EventQueueSize < 1 || c.EventWorkers < 1 {
		return fmt.Errorf("event pipeline sizing must be at least 1")
	}
	return nil
}
