package server

import (
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/decred/slog"
	"github.com/redis/go-redis/v9"
	"github.com/vctt94/bisonbotkit/logging"

	"github.com/balatonbet/balaton/pkg/server/internal/db"
)

var errRoundNotFound = errors.New("round not found")

// createTestLogBackend creates a LogBackend for testing
func createTestLogBackend() *logging.LogBackend {
	logBackend, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:        "",      // Empty for testing - will use stdout
		DebugLevel:     "error", // Set to error to reduce test output
		MaxLogFiles:    1,
		MaxBufferLines: 100,
	})
	if err != nil {
		// Fallback to a minimal LogBackend if creation fails
		return &logging.LogBackend{}
	}
	return logBackend
}

// newTestStore spins up an in-process Redis and a repository against it.
func newTestStore(t *testing.T) (*miniredis.Miniredis, *redis.Client, RoundRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	repo := NewRoundRepository(rdb, 2*time.Second, slog.Disabled)
	return mr, rdb, repo
}

// testConfig returns defaults trimmed for fast tests.
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.RoundDuration = 30 * time.Second
	cfg.RetryBudget = 2 * time.Second
	return cfg
}

// fundPlayer seeds a token balance directly in the store.
func fundPlayer(t *testing.T, mr *miniredis.Miniredis, player string, amount float64) {
	t.Helper()
	mr.Set(player+tokensSuffix, strconv.FormatFloat(amount, 'f', -1, 64))
}

// recordedTransaction captures a RecordTransaction call.
type recordedTransaction struct {
	PlayerID    string
	RoundID     string
	Amount      float64
	Type        string
	Description string
}

// InMemoryDB implements Database interface for testing
type InMemoryDB struct {
	mu           sync.Mutex
	balances     map[string]float64
	transactions []recordedTransaction
	rounds       map[string]*db.RoundSnapshot
}

// NewInMemoryDB creates a new in-memory database for testing
func NewInMemoryDB() *InMemoryDB {
	return &InMemoryDB{
		balances: make(map[string]float64),
		rounds:   make(map[string]*db.RoundSnapshot),
	}
}

func (m *InMemoryDB) GetPlayerBalance(playerID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[playerID], nil
}

func (m *InMemoryDB) UpsertPlayerBalance(playerID string, balance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[playerID] = balance
	return nil
}

func (m *InMemoryDB) RecordTransaction(playerID, roundID string, amount float64, transactionType, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = append(m.transactions, recordedTransaction{
		PlayerID:    playerID,
		RoundID:     roundID,
		Amount:      amount,
		Type:        transactionType,
		Description: description,
	})
	return nil
}

func (m *InMemoryDB) SaveRound(snapshot *db.RoundSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rounds[snapshot.ID]; ok {
		return nil
	}
	m.rounds[snapshot.ID] = snapshot
	return nil
}

func (m *InMemoryDB) LoadRound(roundID string) (*db.RoundSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot, ok := m.rounds[roundID]
	if !ok {
		return nil, errRoundNotFound
	}
	return snapshot, nil
}

func (m *InMemoryDB) RecentRounds(limit int) ([]*db.RoundSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var snapshots []*db.RoundSnapshot
	for _, snapshot := range m.rounds {
		snapshots = append(snapshots, snapshot)
		if len(snapshots) == limit {
			break
		}
	}
	return snapshots, nil
}

// Close closes the database connection
func (m *InMemoryDB) Close() error {
	return nil
}

// Transactions returns a copy of the recorded transactions.
func (m *InMemoryDB) Transactions() []recordedTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]recordedTransaction, len(m.transactions))
	copy(out, m.transactions)
	return out
}

// SavedRound returns the archived snapshot for roundID, if present.
func (m *InMemoryDB) SavedRound(roundID string) (*db.RoundSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot, ok := m.rounds[roundID]
	return snapshot, ok
}
