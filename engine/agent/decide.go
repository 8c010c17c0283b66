// Package agent implements the AI opponent: candidate enumeration, Q-table
// key derivation and the slot decision with its heuristic fallback.
package agent

import (
	"errors"
	"math/rand/v2"

	engine "github.com/437437/open-trade-poker/engine"
)

// ErrNotReady is returned when a responder decision is requested before the
// opponent's slot is known.
var ErrNotReady = errors.New("agent: opponent slot not known yet")

// ErrSlotSize is returned when the opponent's slot is larger than the AI may
// answer: more than MaxSlot cards or more than the AI holds.
var ErrSlotSize = errors.New("agent: opponent slot size out of range")

// ErrEmptyHand is returned when the AI holds no cards to offer.
var ErrEmptyHand = errors.New("agent: no cards to offer")

// Table scores table keys. A missing key is not an error.
type Table interface {
	Lookup(key string) (float64, bool)
}

// MapTable is an in-memory Table.
type MapTable map[string]float64

// Lookup implements Table.
func (t MapTable) Lookup(key string) (float64, bool) {
	v, ok := t[key]
	return v, ok
}

// Decision is the AI's chosen slot plus how it was reached.
type Decision struct {
	Slot       []engine.Card
	Candidates int     // candidate actions considered
	Hits       int     // candidates with a table score
	Score      float64 // best score; zero on fallback
	Fallback   bool    // heuristic used instead of the table
}

// Engine picks slots for the AI. Rand breaks ties between equally scored
// candidates; nil uses the global source.
type Engine struct {
	Table Table
	Rand  *rand.Rand
}

// Decide chooses the AI's slot for turn. own and opp are raw hands; oppSlot
// is the opponent's revealed slot when the AI responds. The result is always
// drawn from own and holds 1..4 cards, or exactly len(oppSlot) when
// responding.
func (e *Engine) Decide(turn int, own, opp, oppSlot []engine.Card, isFirst bool) (Decision, error) {
	if !isFirst && len(oppSlot) == 0 {
		return Decision{}, ErrNotReady
	}
	if len(own) == 0 {
		return Decision{}, ErrEmptyHand
	}
	if len(oppSlot) > MaxSlot || len(oppSlot) > len(own) {
		return Decision{}, ErrSlotSize
	}
	required := 0
	if !isFirst {
		required = len(oppSlot)
	}
	cands := Candidates(own, required)
	d := Decision{Candidates: len(cands)}

	if e.Table != nil && len(cands) > 0 {
		state := NewKey(turn, own, opp, oppSlot, isFirst).String()
		var best [][]engine.Card
		for _, c := range cands {
			score, ok := e.Table.Lookup(actionKey(state, c))
			if !ok {
				continue
			}
			d.Hits++
			switch {
			case len(best) == 0 || score > d.Score:
				d.Score = score
				best = append(best[:0], c)
			case score == d.Score:
				best = append(best, c)
			}
		}
		if len(best) > 0 {
			d.Slot = best[e.intN(len(best))]
			return d, nil
		}
	}

	d.Score = 0
	d.Fallback = true
	d.Slot = Fallback(own, opp, isFirst, required)
	if len(d.Slot) == 0 {
		return Decision{}, ErrEmptyHand
	}
	return d, nil
}

func (e *Engine) intN(n int) int {
	if e.Rand != nil {
		return e.Rand.IntN(n)
	}
	return rand.IntN(n)
}

// Decide is a convenience wrapper for a one-off decision against t.
func Decide(t Table, turn int, own, opp, oppSlot []engine.Card, isFirst bool) (Decision, error) {
	e := Engine{Table: t}
	return e.Decide(turn, own, opp, oppSlot, isFirst)
}

// Candidates enumerates slots drawn from hand by position, in lexicographic
// index order. With fixed > 0 only slots of exactly that size are returned;
// otherwise sizes 1..min(4, len(hand)) in ascending size. A fixed size above
// MaxSlot yields nothing. Hands holding repeated suits yield repeated slots,
// one per position combination.
func Candidates(hand []engine.Card, fixed int) [][]engine.Card {
	if fixed > MaxSlot {
		return nil
	}
	lo, hi := 1, min(MaxSlot, len(hand))
	if fixed > 0 {
		lo, hi = fixed, fixed
	}
	var out [][]engine.Card
	idx := make([]int, 0, MaxSlot)
	var walk func(size, start int)
	walk = func(size, start int) {
		if len(idx) == size {
			slot := make([]engine.Card, size)
			for i, p := range idx {
				slot[i] = hand[p]
			}
			out = append(out, slot)
			return
		}
		for i := start; i < len(hand); i++ {
			idx = append(idx, i)
			walk(size, i+1)
			idx = idx[:len(idx)-1]
		}
	}
	for size := lo; size <= hi && size <= len(hand); size++ {
		walk(size, 0)
	}
	return out
}
