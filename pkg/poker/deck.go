package poker

import (
	"fmt"
	"math/rand"
)

// DeckSize is the number of cards in a full deck: 52 suited cards plus
// the two jokers.
const DeckSize = 54

// Deck represents a shuffled 54-card deck.
type Deck struct {
	cards []Card
	rng   *rand.Rand
}

// NewDeck creates a new shuffled deck with the given random number
// generator.
func NewDeck(rng *rand.Rand) *Deck {
	deck := &Deck{
		cards: make([]Card, 0, DeckSize),
		rng:   rng,
	}

	for _, suit := range suits {
		for _, rank := range Ranks {
			deck.cards = append(deck.cards, Card{suit: suit, rank: rank})
		}
	}
	deck.cards = append(deck.cards, BlackJoker, RedJoker)

	deck.Shuffle()

	return deck
}

// Shuffle randomizes the order of cards in the deck.
func (d *Deck) Shuffle() {
	d.rng.Shuffle(len(d.cards), func(i, j int) {
		d.cards[i], d.cards[j] = d.cards[j], d.cards[i]
	})
}

// Draw removes and returns the top card from the deck.
func (d *Deck) Draw() (Card, bool) {
	if len(d.cards) == 0 {
		return Card{}, false
	}
	card := d.cards[0]
	d.cards = d.cards[1:]
	return card, true
}

// Deal removes and returns the top n cards. Cards within a single Deal
// are dealt without replacement.
func (d *Deck) Deal(n int) ([]Card, error) {
	if n < 1 || n > len(d.cards) {
		return nil, fmt.Errorf("cannot deal %d cards from deck of %d", n, len(d.cards))
	}
	hand := make([]Card, n)
	copy(hand, d.cards[:n])
	d.cards = d.cards[n:]
	return hand, nil
}

// Size returns the number of cards remaining in the deck.
func (d *Deck) Size() int {
	return len(d.cards)
}
