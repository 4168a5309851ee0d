package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/decred/slog"
	"github.com/redis/go-redis/v9"

	"github.com/balatonbet/balaton/pkg/poker"
)

// Fast-store key layout. Kept private: all round mutation goes through
// the RoundRepository operations, never through ad hoc key access.
const (
	currentRoundKey = "CURRENT_ROUND"
	lastRoundKey    = "LAST_ROUND"

	dealerSuffix  = "_DEALER"
	handsSuffix   = "_HANDS"
	entriesSuffix = "_ENTRIES"
	poolSuffix    = "_POOL"
	countSuffix   = "_COUNT"
	scoresSuffix  = "_SCORES"
	rewardsSuffix = "_REWARDS"
	tokensSuffix  = "_TOKENS"
)

// Pub/sub channels of the notifier contract.
const (
	roundStartedChannel = "round:started"
	roundEndedChannel   = "round:ended"
)

// roundAnnouncement is the payload published on the round channels.
type roundAnnouncement struct {
	RoundID string `json:"round_id"`
}

// errRoundChanged signals that the round pointer moved to a different
// round between the initial read and the transaction; the caller
// restarts against the new round.
var errRoundChanged = errors.New("round changed during transaction")

// RoundRepository exposes every operation the round engine performs
// against the fast store. Implementations own the key layout and the
// optimistic-transaction protocol.
type RoundRepository interface {
	// CurrentRound returns the identity of the open round, or
	// ErrNoActiveRound if the pointer key is absent or expired.
	CurrentRound(ctx context.Context) (string, error)
	// CurrentRoundRemaining returns the open round's remaining time.
	CurrentRoundRemaining(ctx context.Context) (time.Duration, error)
	// LastRound returns the most recently started round, which survives
	// pointer expiry and names the round awaiting settlement.
	LastRound(ctx context.Context) (string, error)

	// StartRound creates a round: pointer key with TTL, settlement
	// pointer, and the round's dealer hand, as one atomic unit.
	StartRound(ctx context.Context, roundID string, dealerHand []poker.Card, duration time.Duration) error

	// Enter admits a player into the current round as one optimistic
	// transaction: record the hand and entry order, grow the pool and
	// counter, debit the balance.
	Enter(ctx context.Context, player string, hand []poker.Card, cost int64) error

	DealerHand(ctx context.Context, roundID string) ([]poker.Card, error)
	Entries(ctx context.Context, roundID string) ([]string, error)
	Hands(ctx context.Context, roundID string) (map[string][]poker.Card, error)
	Pool(ctx context.Context, roundID string) (int64, error)
	EntryCount(ctx context.Context, roundID string) (int64, error)
	Scores(ctx context.Context, roundID string) (map[string]int64, error)
	Rewards(ctx context.Context, roundID string) (map[string]float64, error)

	// CommitSettlement writes the scores and rewards maps and credits
	// balances as one atomic unit. A round that already has a rewards
	// map fails with ErrSettlementDone.
	CommitSettlement(ctx context.Context, roundID string, scores map[string]int64, rewards map[string]float64) error
	// ExpireRoundKeys bounds the lifetime of a settled round's keys.
	ExpireRoundKeys(ctx context.Context, roundID string, ttl time.Duration) error

	Balance(ctx context.Context, player string) (float64, error)
	CreditBalance(ctx context.Context, player string, amount float64) error

	PublishRoundStarted(ctx context.Context, roundID string) error
	PublishRoundEnded(ctx context.Context, roundID string) error

	// SubscribeRoundExpiry delivers one signal per expiry of the round
	// pointer key. This is the engine's only clock.
	SubscribeRoundExpiry(ctx context.Context) (<-chan struct{}, func() error, error)
}

// redisRoundRepository implements RoundRepository on a Redis client.
type redisRoundRepository struct {
	rdb         *redis.Client
	dbIndex     int
	retryBudget time.Duration
	log         slog.Logger
}

// NewRoundRepository creates a Redis-backed round repository.
func NewRoundRepository(rdb *redis.Client, retryBudget time.Duration, log slog.Logger) RoundRepository {
	return &redisRoundRepository{
		rdb:         rdb,
		dbIndex:     rdb.Options().DB,
		retryBudget: retryBudget,
		log:         log,
	}
}

func roundKey(roundID, suffix string) string {
	return roundID + suffix
}

func tokensKey(player string) string {
	return player + tokensSuffix
}

func (r *redisRoundRepository) CurrentRound(ctx context.Context) (string, error) {
	roundID, err := r.rdb.Get(ctx, currentRoundKey).Result()
	if err == redis.Nil {
		return "", ErrNoActiveRound
	}
	if err != nil {
		return "", fmt.Errorf("reading round pointer: %w", err)
	}
	return roundID, nil
}

func (r *redisRoundRepository) CurrentRoundRemaining(ctx context.Context) (time.Duration, error) {
	ttl, err := r.rdb.TTL(ctx, currentRoundKey).Result()
	if err != nil {
		return 0, fmt.Errorf("reading round TTL: %w", err)
	}
	if ttl < 0 {
		return 0, ErrNoActiveRound
	}
	return ttl, nil
}

func (r *redisRoundRepository) LastRound(ctx context.Context) (string, error) {
	roundID, err := r.rdb.Get(ctx, lastRoundKey).Result()
	if err == redis.Nil {
		return "", ErrNoActiveRound
	}
	if err != nil {
		return "", fmt.Errorf("reading last round pointer: %w", err)
	}
	return roundID, nil
}

func (r *redisRoundRepository) StartRound(ctx context.Context, roundID string, dealerHand []poker.Card, duration time.Duration) error {
	dealerJSON, err := json.Marshal(dealerHand)
	if err != nil {
		return fmt.Errorf("encoding dealer hand: %w", err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, currentRoundKey, roundID, duration)
		pipe.Set(ctx, lastRoundKey, roundID, 0)
		pipe.Set(ctx, roundKey(roundID, dealerSuffix), dealerJSON, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("starting round %s: %w", roundID, err)
	}
	return nil
}

func (r *redisRoundRepository) Enter(ctx context.Context, player string, hand []poker.Card, cost int64) error {
	handJSON, err := json.Marshal(hand)
	if err != nil {
		return fmt.Errorf("encoding hand for %s: %w", player, err)
	}
	balanceKey := tokensKey(player)
	deadline := time.Now().Add(r.retryBudget)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		roundID, err := r.CurrentRound(ctx)
		if err != nil {
			return err
		}
		handsKey := roundKey(roundID, handsSuffix)

		txf := func(tx *redis.Tx) error {
			// Re-read the pointer under WATCH. Expiry shows up as an
			// absent key; a replacement round shows up as a new value.
			current, err := tx.Get(ctx, currentRoundKey).Result()
			if err == redis.Nil {
				return fmt.Errorf("%w: player %s", ErrNoActiveRound, player)
			}
			if err != nil {
				return err
			}
			if current != roundID {
				return errRoundChanged
			}

			entered, err := tx.HExists(ctx, handsKey, player).Result()
			if err != nil {
				return err
			}
			if entered {
				return fmt.Errorf("%w: player %s, round %s", ErrAlreadyEntered, player, roundID)
			}

			balance, err := tx.Get(ctx, balanceKey).Float64()
			if err == redis.Nil {
				balance = 0
			} else if err != nil {
				return err
			}
			if balance < float64(cost) {
				return fmt.Errorf("%w: player %s has %.2f, entry costs %d", ErrInsufficientFunds, player, balance, cost)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, handsKey, player, handJSON)
				pipe.RPush(ctx, roundKey(roundID, entriesSuffix), player)
				pipe.IncrBy(ctx, roundKey(roundID, poolSuffix), cost)
				pipe.Incr(ctx, roundKey(roundID, countSuffix))
				pipe.IncrByFloat(ctx, balanceKey, -float64(cost))
				return nil
			})
			return err
		}

		err = r.rdb.Watch(ctx, txf, currentRoundKey, handsKey, balanceKey)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr) || errors.Is(err, errRoundChanged):
			if time.Now().After(deadline) {
				return fmt.Errorf("%w: player %s entering round %s", ErrStoreContended, player, roundID)
			}
			r.log.Tracef("entry conflict for %s on round %s, retrying", player, roundID)
			continue
		default:
			return err
		}
	}
}

func (r *redisRoundRepository) DealerHand(ctx context.Context, roundID string) ([]poker.Card, error) {
	data, err := r.rdb.Get(ctx, roundKey(roundID, dealerSuffix)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: dealer hand missing for round %s", poker.ErrMalformedHand, roundID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading dealer hand for round %s: %w", roundID, err)
	}
	var hand []poker.Card
	if err := json.Unmarshal([]byte(data), &hand); err != nil {
		return nil, fmt.Errorf("%w: dealer hand for round %s: %v", poker.ErrMalformedHand, roundID, err)
	}
	return hand, nil
}

func (r *redisRoundRepository) Entries(ctx context.Context, roundID string) ([]string, error) {
	entries, err := r.rdb.LRange(ctx, roundKey(roundID, entriesSuffix), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading entries for round %s: %w", roundID, err)
	}
	return entries, nil
}

func (r *redisRoundRepository) Hands(ctx context.Context, roundID string) (map[string][]poker.Card, error) {
	raw, err := r.rdb.HGetAll(ctx, roundKey(roundID, handsSuffix)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading hands for round %s: %w", roundID, err)
	}
	hands := make(map[string][]poker.Card, len(raw))
	for player, data := range raw {
		var hand []poker.Card
		if err := json.Unmarshal([]byte(data), &hand); err != nil {
			return nil, fmt.Errorf("%w: player %s, round %s: %v", poker.ErrMalformedHand, player, roundID, err)
		}
		hands[player] = hand
	}
	return hands, nil
}

func (r *redisRoundRepository) Pool(ctx context.Context, roundID string) (int64, error) {
	pool, err := r.rdb.Get(ctx, roundKey(roundID, poolSuffix)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading pool for round %s: %w", roundID, err)
	}
	return pool, nil
}

func (r *redisRoundRepository) EntryCount(ctx context.Context, roundID string) (int64, error) {
	count, err := r.rdb.Get(ctx, roundKey(roundID, countSuffix)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading entry count for round %s: %w", roundID, err)
	}
	return count, nil
}

func (r *redisRoundRepository) Scores(ctx context.Context, roundID string) (map[string]int64, error) {
	members, err := r.rdb.ZRangeWithScores(ctx, roundKey(roundID, scoresSuffix), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading scores for round %s: %w", roundID, err)
	}
	scores := make(map[string]int64, len(members))
	for _, member := range members {
		player, ok := member.Member.(string)
		if !ok {
			continue
		}
		scores[player] = int64(member.Score)
	}
	return scores, nil
}

func (r *redisRoundRepository) Rewards(ctx context.Context, roundID string) (map[string]float64, error) {
	raw, err := r.rdb.HGetAll(ctx, roundKey(roundID, rewardsSuffix)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading rewards for round %s: %w", roundID, err)
	}
	rewards := make(map[string]float64, len(raw))
	for player, data := range raw {
		amount, err := strconv.ParseFloat(data, 64)
		if err != nil {
			return nil, fmt.Errorf("decoding reward for %s, round %s: %w", player, roundID, err)
		}
		rewards[player] = amount
	}
	return rewards, nil
}

func (r *redisRoundRepository) CommitSettlement(ctx context.Context, roundID string, scores map[string]int64, rewards map[string]float64) error {
	scoresKey := roundKey(roundID, scoresSuffix)
	rewardsKey := roundKey(roundID, rewardsSuffix)
	deadline := time.Now().Add(r.retryBudget)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		txf := func(tx *redis.Tx) error {
			exists, err := tx.Exists(ctx, rewardsKey).Result()
			if err != nil {
				return err
			}
			if exists > 0 {
				return fmt.Errorf("%w: round %s", ErrSettlementDone, roundID)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for player, score := range scores {
					pipe.ZAdd(ctx, scoresKey, redis.Z{Score: float64(score), Member: player})
				}
				for player, reward := range rewards {
					pipe.HSet(ctx, rewardsKey, player, strconv.FormatFloat(reward, 'f', -1, 64))
					if reward > 0 {
						pipe.IncrByFloat(ctx, tokensKey(player), reward)
					}
				}
				return nil
			})
			return err
		}

		err := r.rdb.Watch(ctx, txf, rewardsKey)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			if time.Now().After(deadline) {
				return fmt.Errorf("%w: committing settlement for round %s", ErrStoreContended, roundID)
			}
			continue
		default:
			return err
		}
	}
}

func (r *redisRoundRepository) ExpireRoundKeys(ctx context.Context, roundID string, ttl time.Duration) error {
	suffixes := []string{dealerSuffix, handsSuffix, entriesSuffix, poolSuffix, countSuffix, scoresSuffix, rewardsSuffix}
	_, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, suffix := range suffixes {
			pipe.Expire(ctx, roundKey(roundID, suffix), ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("expiring keys for round %s: %w", roundID, err)
	}
	return nil
}

func (r *redisRoundRepository) Balance(ctx context.Context, player string) (float64, error) {
	balance, err := r.rdb.Get(ctx, tokensKey(player)).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading balance for %s: %w", player, err)
	}
	return balance, nil
}

func (r *redisRoundRepository) CreditBalance(ctx context.Context, player string, amount float64) error {
	if err := r.rdb.IncrByFloat(ctx, tokensKey(player), amount).Err(); err != nil {
		return fmt.Errorf("crediting %s: %w", player, err)
	}
	return nil
}

func (r *redisRoundRepository) PublishRoundStarted(ctx context.Context, roundID string) error {
	return r.publish(ctx, roundStartedChannel, roundID)
}

func (r *redisRoundRepository) PublishRoundEnded(ctx context.Context, roundID string) error {
	return r.publish(ctx, roundEndedChannel, roundID)
}

func (r *redisRoundRepository) publish(ctx context.Context, channel, roundID string) error {
	payload, err := json.Marshal(roundAnnouncement{RoundID: roundID})
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing on %s: %w", channel, err)
	}
	return nil
}

func (r *redisRoundRepository) SubscribeRoundExpiry(ctx context.Context) (<-chan struct{}, func() error, error) {
	// Best-effort: managed deployments usually configure
	// notify-keyspace-events out of band.
	if err := r.rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		r.log.Warnf("Could not enable keyspace notifications: %v", err)
	}

	channel := fmt.Sprintf("__keyevent@%d__:expired", r.dbIndex)
	pubsub := r.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("subscribing to expiry events: %w", err)
	}

	// Capacity 1 suffices: only one round pointer exists, so at most one
	// expiry can be pending while the previous one settles.
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			if msg.Payload != currentRoundKey {
				continue
			}
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out, pubsub.Close, nil
}
