package engine

import "errors"

var (
	// ErrWrongPhase is returned when a transition is attempted in a phase
	// that does not allow it.
	ErrWrongPhase = errors.New("engine: action not allowed in current phase")
	// ErrBadSelection is returned when a selection or slot has an illegal size
	// or references cards that are not held.
	ErrBadSelection = errors.New("engine: illegal selection")
	// ErrMatchOver is returned for any transition after the match finished.
	ErrMatchOver = errors.New("engine: match is over")
	// ErrNotStarted is returned when the match has not been started.
	ErrNotStarted = errors.New("engine: match not started")
)

// Match is the turn state machine for one match, seen from the local
// player's seat. The opponent is either the AI or a remote peer; the machine
// does not care which. A Match is not safe for concurrent use.
type Match struct {
	rules   MatchRules
	started bool

	phase      Phase
	turn       int
	localFirst bool // local side is first mover on turn 1

	local    Hand
	opponent Hand

	// selection holds raw indices into the local hand in selection order.
	selection []int
	// required is the slot size the local player must match when responding.
	required int

	localSlot         Slot
	opponentSlot      Slot
	opponentSlotCount int

	// resolving is set while an exchange for the current turn is in flight.
	resolving bool

	// token changes on every start, reset and turn advance. Scheduled work
	// captures it and must compare before applying effects.
	token uint64

	scores [2]int
	last   *ExchangeResult
}

// NewMatch returns an idle match. Zero fields in rules take the defaults.
func NewMatch(rules MatchRules) *Match {
	m := &Match{rules: rules.Normalized()}
	m.Reset()
	return m
}

// Start deals the given hands and enters turn 1. The local player submits
// first when localFirst is set, otherwise it waits for the opponent.
func (m *Match) Start(local, opponent []Card, localFirst bool) error {
	if len(local) != m.rules.HandSize || len(opponent) != m.rules.HandSize {
		return ErrBadSelection
	}
	m.Reset()
	m.started = true
	m.local = NewHand(local)
	m.opponent = NewHand(opponent)
	m.localFirst = localFirst
	m.turn = 1
	m.enterTurn()
	return nil
}

// Reset tears the match down to its initial idle values. Any scheduled work
// holding the previous token becomes stale.
func (m *Match) Reset() {
	tok := m.token
	rules := m.rules
	*m = Match{rules: rules}
	m.token = tok + 1
	m.phase = PhaseWaiting
	m.turn = 1
}

// enterTurn clears per-turn state and sets the phase for the current turn.
func (m *Match) enterTurn() {
	m.token++
	m.selection = nil
	m.required = 0
	m.localSlot = nil
	m.opponentSlot = nil
	m.opponentSlotCount = 0
	m.resolving = false
	if m.IsLocalFirstMover() {
		m.phase = PhaseSubmitting
	} else {
		m.phase = PhaseWaiting
	}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

func (m *Match) Rules() MatchRules { return m.rules }
func (m *Match) Started() bool     { return m.started }
func (m *Match) Phase() Phase      { return m.phase }
func (m *Match) Turn() int         { return m.turn }
func (m *Match) Token() uint64     { return m.token }
func (m *Match) Done() bool        { return m.phase == PhaseDone }

// LocalFirst reports whether the local side was first mover on turn 1.
func (m *Match) LocalFirst() bool { return m.localFirst }

// IsLocalFirstMover reports whether the local side proposes this turn.
func (m *Match) IsLocalFirstMover() bool { return IsFirstMover(m.turn, m.localFirst) }

// FirstMover returns the side proposing this turn.
func (m *Match) FirstMover() Side { return FirstMover(m.turn, m.localFirst) }

// Hand returns the local hand.
func (m *Match) Hand() Hand { return m.local }

// OpponentHand returns the opponent's hand.
func (m *Match) OpponentHand() Hand { return m.opponent }

// Selection returns a copy of the selected raw indices in selection order.
func (m *Match) Selection() []int {
	out := make([]int, len(m.selection))
	copy(out, m.selection)
	return out
}

// SelectedCards resolves the current selection to card values.
func (m *Match) SelectedCards() []Card { return m.local.Cards(m.selection) }

// Required returns the slot size the local responder must match, or 0 when
// the local side is first mover or the size is not known yet.
func (m *Match) Required() int { return m.required }

// LocalSlot returns the locked-in local slot for this turn, if any.
func (m *Match) LocalSlot() Slot { return m.localSlot.Cards() }

// OpponentSlot returns the opponent's slot for this turn, if known.
func (m *Match) OpponentSlot() Slot { return m.opponentSlot.Cards() }

// OpponentSlotCount returns how many cards the opponent staged this turn.
func (m *Match) OpponentSlotCount() int { return m.opponentSlotCount }

// Resolving reports whether an exchange for this turn is in flight.
func (m *Match) Resolving() bool { return m.resolving }

// LastExchange returns the most recent exchange, or nil before the first one.
func (m *Match) LastExchange() *ExchangeResult { return m.last }
