package engine

// finish freezes the hands, computes both scores and enters PhaseDone.
func (m *Match) finish() {
	m.scores[SideLocal] = Score(m.local.raw)
	m.scores[SideOpponent] = Score(m.opponent.raw)
	m.phase = PhaseDone
	m.selection = nil
	m.required = 0
	m.resolving = false
	m.token++
}

// Scores returns the final scores indexed by Side. They are zero until the
// match is done.
func (m *Match) Scores() [2]int { return m.scores }

// Result returns the local outcome. It is only meaningful once Done.
func (m *Match) Result() Result {
	return Outcome(m.scores[SideLocal], m.scores[SideOpponent])
}

// Conserved reports whether the two hands together still hold exactly the
// cards in world, ignoring order.
func (m *Match) Conserved(world []Card) bool {
	all := append(m.local.Raw(), m.opponent.raw...)
	return SameMultiset(all, world)
}
