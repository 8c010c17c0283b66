package engine

// MatchRules holds the fixed parameters of an Open Trade Poker match.
type MatchRules struct {
	Turns         int // exchanges per match
	HandSize      int // cards per hand
	MaxSlot       int // largest slot a first mover may offer
	CopiesPerSuit int // copies of each suit in the world
	TurnSeconds   int // countdown per submitting phase; 0 disables it
}

// DefaultMatchRules returns the standard rules: 3 turns, 6-card hands,
// slots of 1-4 cards, 6 copies of each suit and a 30 second countdown.
func DefaultMatchRules() MatchRules {
	return MatchRules{
		Turns:         3,
		HandSize:      6,
		MaxSlot:       4,
		CopiesPerSuit: 6,
		TurnSeconds:   30,
	}
}

// DeckSize returns the number of cards in the world.
func (r MatchRules) DeckSize() int { return r.CopiesPerSuit * NumSuits }

// Normalized fills zero fields with the defaults.
func (r MatchRules) Normalized() MatchRules {
	d := DefaultMatchRules()
	if r.Turns <= 0 {
		r.Turns = d.Turns
	}
	if r.HandSize <= 0 {
		r.HandSize = d.HandSize
	}
	if r.MaxSlot <= 0 {
		r.MaxSlot = d.MaxSlot
	}
	if r.CopiesPerSuit <= 0 {
		r.CopiesPerSuit = d.CopiesPerSuit
	}
	if r.TurnSeconds < 0 {
		r.TurnSeconds = 0
	}
	// Both hands are dealt from one deck.
	if 2*r.HandSize > r.DeckSize() {
		r.HandSize = r.DeckSize() / 2
	}
	return r
}

// IsFirstMover reports whether the side that moved first on turn 1 is the
// first mover on the given turn. First movers alternate every turn.
func IsFirstMover(turn int, firstOnTurnOne bool) bool {
	if turn%2 == 1 {
		return firstOnTurnOne
	}
	return !firstOnTurnOne
}

// FirstMover returns which side proposes on the given turn.
func FirstMover(turn int, localFirstOnTurnOne bool) Side {
	if IsFirstMover(turn, localFirstOnTurnOne) {
		return SideLocal
	}
	return SideOpponent
}
