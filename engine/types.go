package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Card is one of the four suit symbols. The zero value is not a valid card.
type Card byte

// Suit constants. Their byte values sort in the same order as SuitIndex.
const (
	SuitA Card = 'A'
	SuitB Card = 'B'
	SuitC Card = 'C'
	SuitD Card = 'D'
)

// NumSuits is the number of distinct suits in the world.
const NumSuits = 4

// Suits lists every suit in canonical order (A, B, C, D).
var Suits = [NumSuits]Card{SuitA, SuitB, SuitC, SuitD}

// SuitIndex returns the canonical index (0-3) of the card's suit, or -1 for
// an invalid card.
func (c Card) SuitIndex() int {
	if c < SuitA || c > SuitD {
		return -1
	}
	return int(c - SuitA)
}

// Valid reports whether c is one of the four suits.
func (c Card) Valid() bool { return c.SuitIndex() >= 0 }

func (c Card) String() string {
	if !c.Valid() {
		return "?"
	}
	return string(rune(c))
}

// ParseCard converts a one-letter suit symbol into a Card.
func ParseCard(s string) (Card, error) {
	if len(s) != 1 {
		return 0, fmt.Errorf("invalid card %q", s)
	}
	c := Card(s[0])
	if !c.Valid() {
		return 0, fmt.Errorf("invalid card %q", s)
	}
	return c, nil
}

// ParseCards converts a compact string such as "AABCDD" into cards.
func ParseCards(s string) ([]Card, error) {
	out := make([]Card, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := Card(s[i])
		if !c.Valid() {
			return nil, fmt.Errorf("invalid card %q at position %d", s[i], i)
		}
		out = append(out, c)
	}
	return out, nil
}

// MustParseCards is ParseCards for literals known to be valid.
func MustParseCards(s string) []Card {
	cards, err := ParseCards(s)
	if err != nil {
		panic(err)
	}
	return cards
}

// CardsFromStrings converts wire-format suit strings into cards.
func CardsFromStrings(ss []string) ([]Card, error) {
	out := make([]Card, 0, len(ss))
	for _, s := range ss {
		c, err := ParseCard(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// CardsToStrings converts cards into their wire-format suit strings.
func CardsToStrings(cards []Card) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.String()
	}
	return out
}

// FormatCards renders cards compactly, e.g. "AABCDD".
func FormatCards(cards []Card) string {
	var b strings.Builder
	b.Grow(len(cards))
	for _, c := range cards {
		b.WriteString(c.String())
	}
	return b.String()
}

// SortedCopy returns the cards in lexicographic order without touching the input.
func SortedCopy(cards []Card) []Card {
	out := make([]Card, len(cards))
	copy(out, cards)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Counts is a per-suit histogram indexed by SuitIndex.
type Counts [NumSuits]int

// CountSuits builds the suit histogram of cards. Invalid cards are ignored.
func CountSuits(cards []Card) Counts {
	var n Counts
	for _, c := range cards {
		if i := c.SuitIndex(); i >= 0 {
			n[i]++
		}
	}
	return n
}

// Add returns the element-wise sum of two histograms.
func (n Counts) Add(o Counts) Counts {
	for i := range n {
		n[i] += o[i]
	}
	return n
}

// Total returns the number of cards counted.
func (n Counts) Total() int {
	t := 0
	for _, v := range n {
		t += v
	}
	return t
}

// SameMultiset reports whether a and b hold the same cards ignoring order.
func SameMultiset(a, b []Card) bool {
	return len(a) == len(b) && CountSuits(a) == CountSuits(b)
}

// Slot is a locked-in set of 1-4 cards offered for exchange, held by value.
type Slot []Card

// Len returns the number of cards in the slot.
func (s Slot) Len() int { return len(s) }

// Cards returns a copy of the slot's cards.
func (s Slot) Cards() []Card {
	out := make([]Card, len(s))
	copy(out, s)
	return out
}

// Phase is the single global phase of a match.
type Phase string

const (
	// PhaseWaiting means the local player is idle until the other side acts.
	PhaseWaiting Phase = "waiting"
	// PhaseSubmitting means the local player must choose cards and confirm.
	PhaseSubmitting Phase = "submitting"
	// PhaseThinking means the local player committed as first mover and the
	// other side is responding.
	PhaseThinking Phase = "thinking"
	// PhaseWaitingForOpponent means the local player responded and the
	// exchange is being reconciled.
	PhaseWaitingForOpponent Phase = "waitingForOpponent"
	// PhaseDone means the match is over and scores are final.
	PhaseDone Phase = "done"
)

// Side identifies one of the two seats from the local point of view.
type Side uint8

const (
	SideLocal    Side = 0
	SideOpponent Side = 1
)

// Other returns the opposite side.
func (s Side) Other() Side { return 1 - s }

func (s Side) String() string {
	if s == SideLocal {
		return "local"
	}
	return "opponent"
}
