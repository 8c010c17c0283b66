package engine

// RemoveExact removes one card per entry of toRemove from raw, processing
// toRemove left to right and always taking the first positional match.
// A value that is not present is skipped silently. raw is not modified.
func RemoveExact(raw []Card, toRemove []Card) []Card {
	out := make([]Card, len(raw))
	copy(out, raw)
	for _, c := range toRemove {
		for i, h := range out {
			if h == c {
				out = append(out[:i], out[i+1:]...)
				break
			}
		}
	}
	return out
}

// ApplyExchange swaps the two staged slots between the hands:
//
//	newMine   = RemoveExact(mine, give) ++ take
//	newTheirs = RemoveExact(theirs, take) ++ give
//
// The combined multiset of both hands is unchanged whenever give is drawn
// from mine and take from theirs.
func ApplyExchange(mine, theirs []Card, give, take []Card) (newMine, newTheirs []Card) {
	newMine = append(RemoveExact(mine, give), take...)
	newTheirs = append(RemoveExact(theirs, take), give...)
	return newMine, newTheirs
}

// Hand keeps the order-preserving raw representation of a player's cards.
// The sorted display view is derived on demand so the two can never drift.
type Hand struct {
	raw []Card
}

// NewHand copies cards into a new hand.
func NewHand(cards []Card) Hand {
	raw := make([]Card, len(cards))
	copy(raw, cards)
	return Hand{raw: raw}
}

// Len returns the number of cards held.
func (h Hand) Len() int { return len(h.raw) }

// Raw returns a copy of the insertion-ordered cards.
func (h Hand) Raw() []Card {
	out := make([]Card, len(h.raw))
	copy(out, h.raw)
	return out
}

// Display returns the cards sorted lexicographically.
func (h Hand) Display() []Card { return SortedCopy(h.raw) }

// At returns the raw card at index i.
func (h Hand) At(i int) (Card, bool) {
	if i < 0 || i >= len(h.raw) {
		return 0, false
	}
	return h.raw[i], true
}

// Counts returns the suit histogram of the hand.
func (h Hand) Counts() Counts { return CountSuits(h.raw) }

// Cards resolves raw indices to card values. Out-of-range indices are skipped.
func (h Hand) Cards(rawIdx []int) []Card {
	out := make([]Card, 0, len(rawIdx))
	for _, i := range rawIdx {
		if c, ok := h.At(i); ok {
			out = append(out, c)
		}
	}
	return out
}

// RemoveExact returns a new hand without the given cards (see RemoveExact).
func (h Hand) RemoveExact(cards []Card) Hand {
	return Hand{raw: RemoveExact(h.raw, cards)}
}

// Append returns a new hand with cards appended to the raw order.
func (h Hand) Append(cards []Card) Hand {
	raw := make([]Card, 0, len(h.raw)+len(cards))
	raw = append(raw, h.raw...)
	raw = append(raw, cards...)
	return Hand{raw: raw}
}

// DisplayToRaw maps a position in the display view to a raw index. Equal
// cards are matched in raw order, so the mapping is stable and one-to-one.
func (h Hand) DisplayToRaw(displayIdx int) (int, bool) {
	display := h.Display()
	if displayIdx < 0 || displayIdx >= len(display) {
		return 0, false
	}
	want := display[displayIdx]
	// Position of want among equal cards in the display view.
	nth := 0
	for i := 0; i < displayIdx; i++ {
		if display[i] == want {
			nth++
		}
	}
	for i, c := range h.raw {
		if c != want {
			continue
		}
		if nth == 0 {
			return i, true
		}
		nth--
	}
	return 0, false
}

// RawToDisplay is the inverse of DisplayToRaw.
func (h Hand) RawToDisplay(rawIdx int) (int, bool) {
	c, ok := h.At(rawIdx)
	if !ok {
		return 0, false
	}
	nth := 0
	for i := 0; i < rawIdx; i++ {
		if h.raw[i] == c {
			nth++
		}
	}
	for i, d := range h.Display() {
		if d != c {
			continue
		}
		if nth == 0 {
			return i, true
		}
		nth--
	}
	return 0, false
}
