package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/balatonbet/balaton/pkg/server/internal/db"
)

// Database defines the interface for database operations
type Database interface {
	// GetPlayerBalance returns the archived balance of a player
	GetPlayerBalance(playerID string) (float64, error)
	// UpsertPlayerBalance sets a player's archived balance
	UpsertPlayerBalance(playerID string, balance float64) error
	// RecordTransaction appends a balance movement to the transaction log
	RecordTransaction(playerID, roundID string, amount float64, transactionType, description string) error

	// Round archival
	SaveRound(snapshot *db.RoundSnapshot) error
	LoadRound(roundID string) (*db.RoundSnapshot, error)
	RecentRounds(limit int) ([]*db.RoundSnapshot, error)

	// Close closes the database connection
	Close() error
}

// NewDatabase creates a new database connection
func NewDatabase(dbPath string) (Database, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	return db.NewDB(dbPath)
}
