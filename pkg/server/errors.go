package server

import "errors"

var (
	// ErrNoActiveRound is returned when no round is currently open for
	// entries, e.g. during settlement between rounds.
	ErrNoActiveRound = errors.New("no active round")

	// ErrAlreadyEntered is returned when a player attempts to enter the
	// same round twice.
	ErrAlreadyEntered = errors.New("player already entered this round")

	// ErrInsufficientFunds is returned when a player's token balance does
	// not cover the entry cost.
	ErrInsufficientFunds = errors.New("insufficient token balance")

	// ErrInvalidHandSize is returned for an entry with a hand size the
	// cost schedule does not know.
	ErrInvalidHandSize = errors.New("invalid hand size")

	// ErrSettlementDone guards settlement idempotence: the round already
	// has a committed rewards map.
	ErrSettlementDone = errors.New("round already settled")

	// ErrStoreContended is returned when an optimistic transaction kept
	// conflicting past its retry budget. Transient; callers may retry.
	ErrStoreContended = errors.New("store contention retry budget exhausted")
)
