package server

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/decred/slog"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balatonbet/balaton/pkg/poker"
)

func newTestScheduler(repo RoundRepository, cfg *Config) *RoundScheduler {
	settlement := NewSettlementEngine(repo, cfg, nil, slog.Disabled)
	return NewRoundScheduler(repo, cfg, settlement, rand.New(rand.NewSource(1)), slog.Disabled)
}

// expireCurrentRound simulates the store-side expiry of the round
// pointer: the key vanishes and the keyevent notification fires.
func expireCurrentRound(t *testing.T, mr *miniredis.Miniredis, rdb *redis.Client) {
	t.Helper()
	mr.Del(currentRoundKey)
	require.NoError(t, rdb.Publish(context.Background(), "__keyevent@0__:expired", currentRoundKey).Err())
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestNewRoundID(t *testing.T) {
	at := time.Date(2024, 3, 7, 15, 4, 5, 123456789, time.UTC)
	id := newRoundID(at)
	assert.Equal(t, "20240307150405123456", id)
	assert.Len(t, id, 20)

	// IDs sort by start instant.
	later := newRoundID(at.Add(time.Second))
	assert.Greater(t, later, id)
}

func TestStartRoundCreatesKeys(t *testing.T) {
	mr, _, repo := newTestStore(t)
	cfg := testConfig()
	scheduler := newTestScheduler(repo, cfg)
	ctx := context.Background()

	require.NoError(t, scheduler.startRound(ctx))

	roundID, err := repo.CurrentRound(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, roundID)

	// The pointer key carries the round TTL; the settlement pointer
	// does not expire.
	assert.Greater(t, mr.TTL(currentRoundKey), time.Duration(0))
	assert.LessOrEqual(t, mr.TTL(currentRoundKey), cfg.RoundDuration)
	assert.Equal(t, time.Duration(0), mr.TTL(lastRoundKey))

	lastID, err := repo.LastRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, roundID, lastID)

	dealer, err := repo.DealerHand(ctx, roundID)
	require.NoError(t, err)
	assert.Len(t, dealer, 5)
}

func TestRunStartsRoundOnFreshStore(t *testing.T) {
	_, _, repo := newTestStore(t)
	cfg := testConfig()
	scheduler := newTestScheduler(repo, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scheduler.Run(ctx) }()

	waitFor(t, func() bool {
		_, err := repo.CurrentRound(context.Background())
		return err == nil
	}, "initial round")

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRunSettlesOnExpiry(t *testing.T) {
	mr, rdb, repo := newTestStore(t)
	cfg := testConfig()
	scheduler := newTestScheduler(repo, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- scheduler.Run(ctx) }()

	var round1 string
	waitFor(t, func() bool {
		id, err := repo.CurrentRound(context.Background())
		if err != nil {
			return false
		}
		round1 = id
		return true
	}, "initial round")

	fundPlayer(t, mr, "alice", 20)
	hand, err := poker.ParseHand([]string{"H2", "D3"})
	require.NoError(t, err)
	require.NoError(t, repo.Enter(context.Background(), "alice", hand, 20))

	expireCurrentRound(t, mr, rdb)

	// Expiry settles the ended round and opens the next one.
	waitFor(t, func() bool {
		rewards, err := repo.Rewards(context.Background(), round1)
		return err == nil && len(rewards) == 1
	}, "settlement of expired round")

	waitFor(t, func() bool {
		id, err := repo.CurrentRound(context.Background())
		return err == nil && id != round1
	}, "replacement round")

	balance, err := repo.Balance(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, float64(10), balance)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRunResumesPendingSettlement(t *testing.T) {
	mr, _, repo := newTestStore(t)
	cfg := testConfig()
	scheduler := newTestScheduler(repo, cfg)
	ctx := context.Background()

	// A round expired while no scheduler was running: the pointer is
	// gone but the settlement pointer and round keys remain.
	startTestRound(t, repo, "stale")
	fundPlayer(t, mr, "alice", 20)
	hand, err := poker.ParseHand([]string{"H2", "D3"})
	require.NoError(t, err)
	require.NoError(t, repo.Enter(ctx, "alice", hand, 20))
	mr.Del(currentRoundKey)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- scheduler.Run(runCtx) }()

	// Startup settles the stale round before opening a new one.
	waitFor(t, func() bool {
		rewards, err := repo.Rewards(ctx, "stale")
		return err == nil && len(rewards) == 1
	}, "settlement of stale round")

	waitFor(t, func() bool {
		id, err := repo.CurrentRound(ctx)
		return err == nil && id != "stale"
	}, "replacement round")

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRunDuplicateExpirySignalHarmless(t *testing.T) {
	mr, rdb, repo := newTestStore(t)
	cfg := testConfig()
	scheduler := newTestScheduler(repo, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- scheduler.Run(ctx) }()

	var round1 string
	waitFor(t, func() bool {
		id, err := repo.CurrentRound(context.Background())
		if err != nil {
			return false
		}
		round1 = id
		return true
	}, "initial round")

	expireCurrentRound(t, mr, rdb)
	// A replayed notification for the same expiry must not break the
	// lifecycle: the settlement is already done and a round is open.
	require.NoError(t, rdb.Publish(context.Background(), "__keyevent@0__:expired", currentRoundKey).Err())

	var round2 string
	waitFor(t, func() bool {
		id, err := repo.CurrentRound(context.Background())
		if err != nil || id == round1 {
			return false
		}
		round2 = id
		return true
	}, "replacement round")

	// The live replacement round must not have been settled by the
	// replayed signal.
	rewards, err := repo.Rewards(context.Background(), round2)
	require.NoError(t, err)
	assert.Empty(t, rewards)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
