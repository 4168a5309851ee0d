package poker

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Suit represents a card suit.
type Suit string

const (
	Hearts   Suit = "H"
	Spades   Suit = "S"
	Diamonds Suit = "D"
	Clubs    Suit = "C"
)

// Rank represents a card rank, ordered 2 (lowest) .. A (highest).
type Rank string

const (
	Two   Rank = "2"
	Three Rank = "3"
	Four  Rank = "4"
	Five  Rank = "5"
	Six   Rank = "6"
	Seven Rank = "7"
	Eight Rank = "8"
	Nine  Rank = "9"
	Ten   Rank = "T"
	Jack  Rank = "J"
	Queen Rank = "Q"
	King  Rank = "K"
	Ace   Rank = "A"
)

// Ranks lists all ranks in ascending order.
var Ranks = []Rank{Two, Three, Four, Five, Six, Seven, Eight, Nine, Ten, Jack, Queen, King, Ace}

var suits = []Suit{Hearts, Spades, Diamonds, Clubs}

var (
	// ErrUnknownCard indicates a card string that does not decode to a
	// valid suit/rank pair or joker marker.
	ErrUnknownCard = errors.New("unknown card")
	// ErrMalformedHand indicates a persisted hand that cannot be used for
	// scoring (wrong size, too many jokers, undecodable cards).
	ErrMalformedHand = errors.New("malformed hand")
)

// Card represents a playing card. A joker has no suit or rank; the joker
// field distinguishes the black ("BJ") and red ("RJ") jokers.
type Card struct {
	suit  Suit
	rank  Rank
	joker string
}

// BlackJoker and RedJoker are the two wild cards in the 54-card deck.
var (
	BlackJoker = Card{joker: "BJ"}
	RedJoker   = Card{joker: "RJ"}
)

// NewCard creates a regular (non-joker) card.
func NewCard(suit Suit, rank Rank) Card {
	return Card{suit: suit, rank: rank}
}

// IsJoker reports whether the card is a wild card.
func (c Card) IsJoker() bool {
	return c.joker != ""
}

// Suit returns the card's suit. Jokers have no suit.
func (c Card) Suit() Suit {
	return c.suit
}

// Rank returns the card's rank. Jokers have no rank.
func (c Card) Rank() Rank {
	return c.rank
}

// String returns the wire form of the card: suit letter followed by rank
// ("H2", "SA"), or the joker marker ("BJ", "RJ").
func (c Card) String() string {
	if c.IsJoker() {
		return c.joker
	}
	return string(c.suit) + string(c.rank)
}

// ParseCard decodes the wire form produced by String.
func ParseCard(s string) (Card, error) {
	switch s {
	case "BJ":
		return BlackJoker, nil
	case "RJ":
		return RedJoker, nil
	}
	if len(s) != 2 {
		return Card{}, fmt.Errorf("%w: %q", ErrUnknownCard, s)
	}
	suit := Suit(s[:1])
	switch suit {
	case Hearts, Spades, Diamonds, Clubs:
	default:
		return Card{}, fmt.Errorf("%w: %q", ErrUnknownCard, s)
	}
	rank := Rank(s[1:])
	if _, ok := rankIndexes[rank]; !ok {
		return Card{}, fmt.Errorf("%w: %q", ErrUnknownCard, s)
	}
	return Card{suit: suit, rank: rank}, nil
}

// MarshalJSON encodes the card as its wire string.
func (c Card) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a card from its wire string.
func (c *Card) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	card, err := ParseCard(s)
	if err != nil {
		return err
	}
	*c = card
	return nil
}

// rankIndexes maps each rank to its position in the 2..A ordering.
var rankIndexes = func() map[Rank]int {
	m := make(map[Rank]int, len(Ranks))
	for i, r := range Ranks {
		m[r] = i
	}
	return m
}()

// RankIndex returns the rank's position in the 2..A ordering, 0-based.
func RankIndex(r Rank) int {
	return rankIndexes[r]
}

// ParseHand decodes a slice of wire-form card strings. Any undecodable
// card fails the whole hand.
func ParseHand(cards []string) ([]Card, error) {
	hand := make([]Card, 0, len(cards))
	for _, s := range cards {
		card, err := ParseCard(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedHand, err)
		}
		hand = append(hand, card)
	}
	return hand, nil
}

// HandStrings returns the wire form of each card in the hand.
func HandStrings(hand []Card) []string {
	out := make([]string, len(hand))
	for i, c := range hand {
		out[i] = c.String()
	}
	return out
}
