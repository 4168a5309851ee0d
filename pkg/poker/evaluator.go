package poker

import (
	"fmt"
	"sort"
)

// Category represents the classification of a 5-card hand, ordered
// weakest to strongest.
type Category int

const (
	HighCard Category = iota
	Pair
	TwoPair
	ThreeOfAKind
	Straight
	Flush
	FullHouse
	FourOfAKind
	StraightFlush
	RoyalFlush
)

// String returns a human-readable category name.
func (c Category) String() string {
	switch c {
	case HighCard:
		return "high card"
	case Pair:
		return "pair"
	case TwoPair:
		return "two pair"
	case ThreeOfAKind:
		return "three of a kind"
	case Straight:
		return "straight"
	case Flush:
		return "flush"
	case FullHouse:
		return "full house"
	case FourOfAKind:
		return "four of a kind"
	case StraightFlush:
		return "straight flush"
	case RoyalFlush:
		return "royal flush"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// ScoreTable maps each category, indexed by Category, to its base score.
// Scores must be strictly increasing so that any higher category always
// outscores any lower one.
type ScoreTable [10]int64

// DefaultScoreTable returns the historical score schedule:
// high card 1 up to royal flush 20.
func DefaultScoreTable() ScoreTable {
	return ScoreTable{1, 2, 3, 4, 5, 7, 9, 12, 15, 20}
}

// Validate checks that the table's scores strictly increase with
// category strength.
func (t ScoreTable) Validate() error {
	for i := 1; i < len(t); i++ {
		if t[i] <= t[i-1] {
			return fmt.Errorf("score table not strictly increasing: %s (%d) <= %s (%d)",
				Category(i), t[i], Category(i-1), t[i-1])
		}
	}
	if t[HighCard] <= 0 {
		return fmt.Errorf("score table must be positive, got %d for %s", t[HighCard], HighCard)
	}
	return nil
}

// Score returns the base score of a category.
func (t ScoreTable) Score(c Category) int64 {
	return t[c]
}

// EvaluateHand scores exactly 5 cards against the table. Jokers are
// assigned the rank that maximizes the resulting category; they are
// suit-agnostic and satisfy a flush trivially.
func EvaluateHand(hand []Card, table ScoreTable) (int64, error) {
	cat, err := BestCategory(hand)
	if err != nil {
		return 0, err
	}
	return table.Score(cat), nil
}

// BestCategory returns the strongest category achievable by the hand
// over all legal joker rank assignments.
func BestCategory(hand []Card) (Category, error) {
	if len(hand) != 5 {
		return 0, fmt.Errorf("%w: expected 5 cards, got %d", ErrMalformedHand, len(hand))
	}

	var jokerPos []int
	anchor := Hearts
	for i, c := range hand {
		if c.IsJoker() {
			jokerPos = append(jokerPos, i)
		} else {
			anchor = c.Suit()
		}
	}

	if len(jokerPos) == 0 {
		return classify(hand), nil
	}

	// Brute-force every rank assignment for the jokers and keep the
	// strongest category. Substituted cards take the suit of a real card
	// in the hand so a flush of the non-joker cards stays a flush.
	best := HighCard
	work := make([]Card, 5)
	for _, ranks := range rankCombinations(len(jokerPos)) {
		copy(work, hand)
		for i, pos := range jokerPos {
			work[pos] = Card{suit: anchor, rank: ranks[i]}
		}
		if cat := classify(work); cat > best {
			best = cat
		}
	}
	return best, nil
}

// Combine returns the best-scoring 5-card subset of the union of the
// dealer and player hands, together with its score. On equal scores the
// first subset in the fixed enumeration order wins, so the result is
// deterministic.
func Combine(dealerHand, playerHand []Card, table ScoreTable) ([]Card, int64, error) {
	union := make([]Card, 0, len(dealerHand)+len(playerHand))
	union = append(union, dealerHand...)
	union = append(union, playerHand...)
	if len(union) < 5 {
		return nil, 0, fmt.Errorf("%w: %d cards cannot form a 5-card hand", ErrMalformedHand, len(union))
	}

	var (
		bestHand  []Card
		bestScore int64
	)
	for _, subset := range combinations(union, 5) {
		score, err := EvaluateHand(subset, table)
		if err != nil {
			return nil, 0, err
		}
		if bestHand == nil || score > bestScore {
			bestHand = subset
			bestScore = score
		}
	}
	return bestHand, bestScore, nil
}

// classify determines the category of 5 joker-free cards.
func classify(hand []Card) Category {
	counts := make(map[Rank]int, 5)
	indexes := make([]int, 0, 5)
	flush := true
	for i, c := range hand {
		counts[c.Rank()]++
		indexes = append(indexes, RankIndex(c.Rank()))
		if i > 0 && c.Suit() != hand[0].Suit() {
			flush = false
		}
	}
	sort.Ints(indexes)

	// Straights are a single linear 2..A sequence; the ace never plays
	// low, so 2-3-4-5-A is not a straight.
	straight := true
	for i := 1; i < len(indexes); i++ {
		if indexes[i]-indexes[i-1] != 1 {
			straight = false
			break
		}
	}

	var pairs, maxCount int
	for _, n := range counts {
		if n > maxCount {
			maxCount = n
		}
		if n == 2 {
			pairs++
		}
	}

	switch {
	case straight && flush && indexes[0] == RankIndex(Ten):
		return RoyalFlush
	case straight && flush:
		return StraightFlush
	case maxCount == 4:
		return FourOfAKind
	case maxCount == 3 && pairs == 1:
		return FullHouse
	case flush:
		return Flush
	case straight:
		return Straight
	case maxCount == 3:
		return ThreeOfAKind
	case pairs == 2:
		return TwoPair
	case pairs == 1:
		return Pair
	default:
		return HighCard
	}
}

// rankCombinations enumerates all multisets of k ranks
// (combinations with replacement), deduplicated since joker order does
// not matter.
func rankCombinations(k int) [][]Rank {
	var combos [][]Rank
	var gen func(start int, current []Rank)
	gen = func(start int, current []Rank) {
		if len(current) == k {
			combo := make([]Rank, k)
			copy(combo, current)
			combos = append(combos, combo)
			return
		}
		for i := start; i < len(Ranks); i++ {
			gen(i, append(current, Ranks[i]))
		}
	}
	gen(0, nil)
	return combos
}

// combinations generates all k-card subsets of cards in a fixed order.
func combinations(cards []Card, k int) [][]Card {
	var combos [][]Card
	if k <= 0 || k > len(cards) {
		return combos
	}
	var gen func(start int, current []Card)
	gen = func(start int, current []Card) {
		if len(current) == k {
			combo := make([]Card, k)
			copy(combo, current)
			combos = append(combos, combo)
			return
		}
		for i := start; i <= len(cards)-(k-len(current)); i++ {
			gen(i+1, append(current, cards[i]))
		}
	}
	gen(0, nil)
	return combos
}
