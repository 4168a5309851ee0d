package server

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	_, rdb, _ := newTestStore(t)

	logBackend := createTestLogBackend()
	defer logBackend.Close()

	cfg := testConfig()
	cfg.RoundDuration = 0

	_, err := NewServer(cfg, rdb, NewInMemoryDB(), rand.New(rand.NewSource(1)), logBackend)
	require.Error(t, err)
}

func TestServerRoundLifecycle(t *testing.T) {
	mr, rdb, repo := newTestStore(t)
	database := NewInMemoryDB()

	logBackend := createTestLogBackend()
	defer logBackend.Close()

	cfg := testConfig()
	srv, err := NewServer(cfg, rdb, database, rand.New(rand.NewSource(1)), logBackend)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	var round1 string
	waitFor(t, func() bool {
		info, err := srv.CurrentRound(context.Background())
		if err != nil {
			return false
		}
		round1 = info.RoundID
		return true
	}, "initial round")

	fundPlayer(t, mr, "alice", 100)
	hand, err := srv.Enter(context.Background(), "alice", 2)
	require.NoError(t, err)
	require.Len(t, hand, 2)

	balance, err := srv.Balance(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, float64(80), balance)

	info, err := srv.CurrentRound(context.Background())
	require.NoError(t, err)
	assert.Equal(t, round1, info.RoundID)
	assert.Equal(t, int64(20), info.Pool)
	assert.Equal(t, int64(1), info.Players)
	assert.Greater(t, info.Remaining, time.Duration(0))

	expireCurrentRound(t, mr, rdb)

	// The sole entrant wins the top tier of their own pool.
	waitFor(t, func() bool {
		_, rewards, err := srv.RoundResults(context.Background(), round1)
		return err == nil && rewards["alice"] == 10
	}, "settled results")

	scores, rewards, err := srv.RoundResults(context.Background(), round1)
	require.NoError(t, err)
	assert.Len(t, scores, 1)
	assert.Equal(t, float64(10), rewards["alice"])

	// The event pipeline archives the round in the slow store.
	waitFor(t, func() bool {
		_, err := srv.ArchivedRound(round1)
		return err == nil
	}, "archived round")

	snapshot, err := srv.ArchivedRound(round1)
	require.NoError(t, err)
	assert.Equal(t, int64(20), snapshot.Pool)
	assert.Equal(t, []string{"alice"}, snapshot.Players)

	waitFor(t, func() bool {
		info, err := srv.CurrentRound(context.Background())
		return err == nil && info.RoundID != round1
	}, "replacement round")

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	// repo shares the store with the server; sanity-check the live
	// balance includes the payout.
	balance, err = repo.Balance(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, float64(90), balance)
}

func TestServerCreditBalance(t *testing.T) {
	_, rdb, _ := newTestStore(t)

	logBackend := createTestLogBackend()
	defer logBackend.Close()

	srv, err := NewServer(testConfig(), rdb, NewInMemoryDB(), rand.New(rand.NewSource(1)), logBackend)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, srv.CreditBalance(ctx, "alice", 25.5))
	require.NoError(t, srv.CreditBalance(ctx, "alice", 4.5))

	balance, err := srv.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, float64(30), balance)
}
