package engine

import "fmt"

// ExchangeResult describes one completed exchange.
type ExchangeResult struct {
	Turn         int
	LocalSlot    Slot
	OpponentSlot Slot
	Hand         []Card // local raw hand after the exchange
	OpponentHand []Card // opponent raw hand after the exchange
	Done         bool
	Scores       [2]int // valid when Done; indexed by Side
	NextTurn     int    // turn now in progress; 0 when Done
}

// Select toggles the card at raw index i. Selections are only accepted while
// submitting and never grow beyond the rules' maximum slot size, or beyond
// the required count when responding. It reports whether the selection
// changed.
func (m *Match) Select(i int) bool {
	if m.phase != PhaseSubmitting || i < 0 || i >= m.local.Len() {
		return false
	}
	for k, s := range m.selection {
		if s == i {
			m.selection = append(m.selection[:k], m.selection[k+1:]...)
			return true
		}
	}
	limit := m.rules.MaxSlot
	if !m.IsLocalFirstMover() && m.required > 0 && m.required < limit {
		limit = m.required
	}
	if len(m.selection) >= limit {
		return false
	}
	m.selection = append(m.selection, i)
	return true
}

// SetSelection replaces the selection. Indices must be unique raw indices
// and at most MaxSlot of them may be given.
func (m *Match) SetSelection(idx []int) error {
	if m.phase == PhaseDone {
		return ErrMatchOver
	}
	if m.phase != PhaseSubmitting {
		return ErrWrongPhase
	}
	if !m.validIndices(idx) || len(idx) > m.rules.MaxSlot {
		return ErrBadSelection
	}
	m.selection = append([]int(nil), idx...)
	return nil
}

// ClearSelection drops the current selection.
func (m *Match) ClearSelection() { m.selection = nil }

func (m *Match) validIndices(idx []int) bool {
	seen := make(map[int]bool, len(idx))
	for _, i := range idx {
		if i < 0 || i >= m.local.Len() || seen[i] {
			return false
		}
		seen[i] = true
	}
	return true
}

// Confirm locks in the current selection as this turn's slot. A first mover
// moves to thinking; a responder moves to waitingForOpponent. An illegal
// selection is rejected and leaves the match untouched.
func (m *Match) Confirm() (Slot, error) {
	if err := m.checkConfirm(); err != nil {
		return nil, err
	}
	m.localSlot = Slot(m.SelectedCards())
	if m.IsLocalFirstMover() {
		m.phase = PhaseThinking
	} else {
		m.phase = PhaseWaitingForOpponent
	}
	return m.localSlot.Cards(), nil
}

// OpponentCommitted records that the opponent staged count cards without
// revealing them. When the local side is responding and still waiting, it
// moves to submitting and must match count exactly. Repeated notifications
// are harmless.
func (m *Match) OpponentCommitted(count int) error {
	if m.phase == PhaseDone {
		return ErrMatchOver
	}
	if !m.started {
		return ErrNotStarted
	}
	if count < 1 || count > m.rules.MaxSlot {
		return fmt.Errorf("%w: opponent slot size %d", ErrBadSelection, count)
	}
	m.opponentSlotCount = count
	if !m.IsLocalFirstMover() && m.phase == PhaseWaiting {
		m.required = count
		m.phase = PhaseSubmitting
	}
	return nil
}

// StageOpponentSlot records the opponent's chosen cards for this turn while
// keeping them hidden from the local view. It is used when the opponent's
// slot is known locally (AI matches). The slot must be drawn from the
// opponent's hand and, when the opponent responds, match the local slot size.
func (m *Match) StageOpponentSlot(slot Slot) error {
	if m.phase == PhaseDone {
		return ErrMatchOver
	}
	if !m.started {
		return ErrNotStarted
	}
	if m.opponentSlot != nil {
		// Already staged for this turn.
		return nil
	}
	if len(slot) < 1 || len(slot) > m.rules.MaxSlot || !IsSubMultiset(slot, m.opponent.raw) {
		return fmt.Errorf("%w: opponent slot %s", ErrBadSelection, FormatCards(slot))
	}
	if !m.IsLocalFirstMover() {
		if err := m.OpponentCommitted(len(slot)); err != nil {
			return err
		}
	} else {
		if m.localSlot == nil {
			return ErrWrongPhase
		}
		if len(slot) != len(m.localSlot) {
			return fmt.Errorf("%w: responder slot size %d, want %d", ErrBadSelection, len(slot), len(m.localSlot))
		}
		m.opponentSlotCount = len(slot)
	}
	m.opponentSlot = slot.Cards()
	return nil
}

// Ready reports whether both slots of the current turn are known and the
// local side is done choosing.
func (m *Match) Ready() bool {
	if m.localSlot == nil || m.opponentSlot == nil {
		return false
	}
	return m.phase == PhaseThinking || m.phase == PhaseWaitingForOpponent
}

// BeginResolve claims the exchange for the current turn. It returns false
// when the exchange is not ready or already claimed, so a second trigger for
// the same turn does nothing.
func (m *Match) BeginResolve() bool {
	if m.resolving || !m.Ready() {
		return false
	}
	m.resolving = true
	return true
}

// Resolve applies the exchange of the staged slots and advances to the next
// turn, or finishes the match after the last turn.
func (m *Match) Resolve() (ExchangeResult, error) {
	if m.phase == PhaseDone {
		return ExchangeResult{}, ErrMatchOver
	}
	if !m.Ready() {
		return ExchangeResult{}, ErrWrongPhase
	}
	mine, theirs := ApplyExchange(m.local.raw, m.opponent.raw, m.localSlot, m.opponentSlot)
	res := ExchangeResult{
		Turn:         m.turn,
		LocalSlot:    m.localSlot.Cards(),
		OpponentSlot: m.opponentSlot.Cards(),
	}
	m.local = NewHand(mine)
	m.opponent = NewHand(theirs)
	m.advance(&res)
	return res, nil
}

// RevealOpponentSlot records the opponent's slot as published by a remote
// authority and claims the exchange for this turn. It reports false when the
// turn's exchange was already claimed.
func (m *Match) RevealOpponentSlot(slot Slot) bool {
	if m.phase == PhaseDone || m.resolving {
		return false
	}
	m.opponentSlot = slot.Cards()
	m.opponentSlotCount = len(slot)
	m.resolving = true
	return true
}

// Sync adopts hands published by a remote authority after the exchange of
// completedTurn. localFirstNext says whether the local side proposes on the
// following turn. Hands are taken as-is.
func (m *Match) Sync(hand, opponentHand []Card, completedTurn int, localFirstNext bool) ExchangeResult {
	if m.phase == PhaseDone {
		return ExchangeResult{Turn: completedTurn, Done: true, Scores: m.scores}
	}
	res := ExchangeResult{
		Turn:         completedTurn,
		LocalSlot:    m.localSlot.Cards(),
		OpponentSlot: m.opponentSlot.Cards(),
	}
	m.local = NewHand(hand)
	m.opponent = NewHand(opponentHand)
	m.turn = completedTurn
	next := completedTurn + 1
	if next <= m.rules.Turns {
		// Recover the turn-1 flag from the server's next-turn assignment.
		m.localFirst = localFirstNext == (next%2 == 1)
	}
	m.advance(&res)
	return res
}

// advance moves past the current turn and fills in the result.
func (m *Match) advance(res *ExchangeResult) {
	res.Hand = m.local.Raw()
	res.OpponentHand = m.opponent.Raw()
	if m.turn >= m.rules.Turns {
		m.finish()
		res.Done = true
		res.Scores = m.scores
	} else {
		m.turn++
		m.enterTurn()
		res.NextTurn = m.turn
	}
	last := *res
	m.last = &last
}

// IsSubMultiset reports whether every card of sub can be taken from set.
func IsSubMultiset(sub, set []Card) bool {
	have := CountSuits(set)
	for _, c := range sub {
		i := c.SuitIndex()
		if i < 0 || have[i] == 0 {
			return false
		}
		have[i]--
	}
	return true
}
