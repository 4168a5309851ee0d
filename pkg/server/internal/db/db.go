package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DB represents the database connection
type DB struct {
	*sql.DB
}

// NewDB creates a new database connection
func NewDB(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Create tables if they don't exist
	if err := createTables(db); err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// createTables creates the necessary database tables
func createTables(db *sql.DB) error {
	// Create players table
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS players (
			id TEXT PRIMARY KEY,
			balance REAL NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	// Create transactions table
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			player_id TEXT NOT NULL,
			round_id TEXT,
			amount REAL NOT NULL,
			type TEXT NOT NULL,
			description TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (player_id) REFERENCES players(id)
		)
	`)
	if err != nil {
		return err
	}

	// Create rounds archive table
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS rounds (
			id TEXT PRIMARY KEY,
			pool INTEGER NOT NULL,
			player_count INTEGER NOT NULL,
			snapshot TEXT NOT NULL,
			settled_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	return nil
}

// RewardGrant is the archived form of one granted reward.
type RewardGrant struct {
	Type     string  `json:"type"`
	Amount   float64 `json:"amount,omitempty"`
	ItemID   int     `json:"item_id,omitempty"`
	Quantity int     `json:"quantity,omitempty"`
}

// RoundSnapshot is the archived record of a settled round.
type RoundSnapshot struct {
	ID         string                   `json:"id"`
	DealerHand []string                 `json:"dealer_hand"`
	Players    []string                 `json:"players"`
	Scores     map[string]int64         `json:"scores"`
	Rewards    map[string][]RewardGrant `json:"rewards"`
	Pool       int64                    `json:"pool"`
	SettledAt  time.Time                `json:"settled_at"`
}

// GetPlayerBalance returns the archived balance of a player. An unknown
// player has a zero balance.
func (db *DB) GetPlayerBalance(playerID string) (float64, error) {
	var balance float64
	err := db.QueryRow("SELECT balance FROM players WHERE id = ?", playerID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get player balance: %v", err)
	}
	return balance, nil
}

// UpsertPlayerBalance sets a player's archived balance to the given
// value, creating the player row if missing.
func (db *DB) UpsertPlayerBalance(playerID string, balance float64) error {
	_, err := db.Exec(`
		INSERT INTO players (id, balance)
		VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET balance = ?, updated_at = CURRENT_TIMESTAMP
	`, playerID, balance, balance)
	if err != nil {
		return fmt.Errorf("failed to upsert player balance: %v", err)
	}
	return nil
}

// RecordTransaction appends a balance movement to the transaction log.
func (db *DB) RecordTransaction(playerID, roundID string, amount float64, transactionType, description string) error {
	_, err := db.Exec(`
		INSERT INTO transactions (player_id, round_id, amount, type, description)
		VALUES (?, ?, ?, ?, ?)
	`, playerID, roundID, amount, transactionType, description)
	if err != nil {
		return fmt.Errorf("failed to record transaction: %v", err)
	}
	return nil
}

// SaveRound archives a settled round. Saving the same round twice keeps
// the first archived snapshot.
func (db *DB) SaveRound(snapshot *RoundSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode round snapshot: %v", err)
	}
	_, err = db.Exec(`
		INSERT INTO rounds (id, pool, player_count, snapshot, settled_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, snapshot.ID, snapshot.Pool, len(snapshot.Players), string(data), snapshot.SettledAt)
	if err != nil {
		return fmt.Errorf("failed to save round: %v", err)
	}
	return nil
}

// LoadRound returns the archived snapshot of a settled round.
func (db *DB) LoadRound(roundID string) (*RoundSnapshot, error) {
	var data string
	err := db.QueryRow("SELECT snapshot FROM rounds WHERE id = ?", roundID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("round not found: %s", roundID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load round: %v", err)
	}
	var snapshot RoundSnapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode round snapshot: %v", err)
	}
	return &snapshot, nil
}

// RecentRounds returns the newest archived rounds, most recent first.
func (db *DB) RecentRounds(limit int) ([]*RoundSnapshot, error) {
	rows, err := db.Query("SELECT snapshot FROM rounds ORDER BY settled_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %v", err)
	}
	defer rows.Close()

	var snapshots []*RoundSnapshot
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var snapshot RoundSnapshot
		if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
			return nil, fmt.Errorf("failed to decode round snapshot: %v", err)
		}
		snapshots = append(snapshots, &snapshot)
	}
	return snapshots, rows.Err()
}
