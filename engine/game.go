// Package engine implements the Open Trade Poker rules.
//
// It covers the deck and deal, scoring, the dual raw/display hand
// representation with exact multiset removal, and the turn state machine
// shared by local AI matches and online matches. The package does no I/O
// and keeps no timers; callers drive it and own concurrency.
package engine

import "time"

// ---------------------------------------------------------------------------
// xorshift64 RNG
// ---------------------------------------------------------------------------

// Rand is a small deterministic xorshift64 generator. The same seed always
// produces the same deal.
type Rand struct {
	state uint64
}

// NewRand returns a generator for seed. Seed 0 is corrected to 1 because
// xorshift cannot leave the zero state.
func NewRand(seed uint64) *Rand {
	if seed == 0 {
		seed = 1
	}
	return &Rand{state: seed}
}

// Uint64 returns the next raw value.
func (r *Rand) Uint64() uint64 {
	x := r.state
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	r.state = x
	return x
}

// IntN returns a value in [0, n). n must be positive.
func (r *Rand) IntN(n int) int {
	return int(r.Uint64() % uint64(n))
}

// Bool returns a fair coin flip.
func (r *Rand) Bool() bool { return r.Uint64()&1 == 1 }

// TimeSeed returns a seed derived from the wall clock.
func TimeSeed() uint64 { return uint64(time.Now().UnixNano()) }

// ---------------------------------------------------------------------------
// Deck and deal
// ---------------------------------------------------------------------------

// Deck is the full 24-card world for one match.
type Deck struct {
	Cards []Card
	rules MatchRules
	rng   *Rand
}

// NewDeck builds an unshuffled deck (6 copies of each suit in suit order).
func NewDeck(seed uint64, rules MatchRules) *Deck {
	rules = rules.Normalized()
	cards := make([]Card, 0, rules.DeckSize())
	for _, s := range Suits {
		for i := 0; i < rules.CopiesPerSuit; i++ {
			cards = append(cards, s)
		}
	}
	return &Deck{Cards: cards, rules: rules, rng: NewRand(seed)}
}

// Shuffle applies a Fisher-Yates permutation in place.
func (d *Deck) Shuffle() {
	for i := len(d.Cards) - 1; i > 0; i-- {
		j := d.rng.IntN(i + 1)
		d.Cards[i], d.Cards[j] = d.Cards[j], d.Cards[i]
	}
}

// Deal returns the player's hand (first HandSize cards) and the opponent's
// hand (next HandSize cards). The remaining cards take no part in the match.
func (d *Deck) Deal() (player, opponent []Card) {
	n := d.rules.HandSize
	player = make([]Card, n)
	opponent = make([]Card, n)
	copy(player, d.Cards[:n])
	copy(opponent, d.Cards[n:2*n])
	return player, opponent
}

// Deal is the result of BuildDeck.
type Deal struct {
	Deck     []Card // the full shuffled world
	Player   []Card
	Opponent []Card
}

// BuildDeck builds a fresh 24-card world, shuffles it and deals two hands.
// Every call produces a new shuffle; the same seed reproduces the same deal.
func BuildDeck(seed uint64) Deal {
	d := NewDeck(seed, DefaultMatchRules())
	d.Shuffle()
	p, o := d.Deal()
	deck := make([]Card, len(d.Cards))
	copy(deck, d.Cards)
	return Deal{Deck: deck, Player: p, Opponent: o}
}
