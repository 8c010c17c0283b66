// internal/game/snapshot.go
package game

import (
	"fmt"

	"github.com/google/uuid"

	engine "github.com/437437/open-trade-poker/engine"
)

// Scene is the top-level screen a controller is on.
type Scene string

const (
	SceneHome    Scene = "home"
	SceneWaiting Scene = "waiting" // matchmaking
	SceneMatched Scene = "matched" // pre-match countdown
	ScenePlaying Scene = "playing"
	SceneDone    Scene = "done"
)

// Snapshot is an immutable view of a controller for rendering. Hands are in
// display order and Selected holds display indices.
type Snapshot struct {
	Session uuid.UUID
	Scene   Scene
	Message string

	Phase      engine.Phase
	Turn       int
	Turns      int
	IsMyTurn   bool // local side proposes this turn
	LocalFirst bool

	Hand         []engine.Card
	OpponentHand []engine.Card
	Selected     []int
	Required     int
	CanConfirm   bool

	LocalSlot         []engine.Card
	OpponentSlotCount int
	// OpponentSlot is only filled while the exchange is being revealed.
	OpponentSlot []engine.Card
	Revealing    bool

	Countdown         int // seconds left to submit
	WaitElapsed       int // seconds spent matchmaking
	PreMatchCountdown int

	PlayerID   string
	OpponentID string
	Scores     [2]int // indexed by engine.Side; final once Scene is done
	Result     engine.Result
}

// SelectedCards returns the selected cards in selection order.
func (s Snapshot) SelectedCards() []engine.Card {
	out := make([]engine.Card, 0, len(s.Selected))
	for _, i := range s.Selected {
		if i >= 0 && i < len(s.Hand) {
			out = append(out, s.Hand[i])
		}
	}
	return out
}

// fillMatch copies the match state into s. The caller holds the owner lock.
func fillMatch(s *Snapshot, m *engine.Match, revealing bool) {
	if !m.Started() {
		return
	}
	hand := m.Hand()
	s.Phase = m.Phase()
	s.Turn = m.Turn()
	s.Turns = m.Rules().Turns
	s.IsMyTurn = m.IsLocalFirstMover()
	s.LocalFirst = m.LocalFirst()
	s.Hand = hand.Display()
	s.OpponentHand = m.OpponentHand().Display()
	for _, raw := range m.Selection() {
		if d, ok := hand.RawToDisplay(raw); ok {
			s.Selected = append(s.Selected, d)
		}
	}
	s.Required = m.Required()
	s.CanConfirm = m.CanConfirm()
	s.LocalSlot = m.LocalSlot()
	s.OpponentSlotCount = m.OpponentSlotCount()
	if revealing {
		s.Revealing = true
		s.OpponentSlot = m.OpponentSlot()
	}
	if m.Done() {
		s.Scores = m.Scores()
		s.Result = m.Result()
	}
}

// phaseMessage is the default status line for the match's current phase.
func phaseMessage(m *engine.Match, revealing bool) string {
	if !m.Started() {
		return ""
	}
	if revealing {
		return "Exchanging cards..."
	}
	switch m.Phase() {
	case engine.PhaseSubmitting:
		if m.IsLocalFirstMover() {
			return "Your turn: choose 1 to 4 cards to offer"
		}
		return fmt.Sprintf("Opponent offered %d cards: choose %d to give", m.Required(), m.Required())
	case engine.PhaseThinking:
		return "Waiting for the opponent to respond"
	case engine.PhaseWaiting:
		return "Opponent is choosing cards"
	case engine.PhaseWaitingForOpponent:
		return "Waiting for the exchange"
	case engine.PhaseDone:
		return resultMessage(m.Scores(), m.Result())
	}
	return ""
}

func resultMessage(scores [2]int, r engine.Result) string {
	mine, theirs := scores[engine.SideLocal], scores[engine.SideOpponent]
	switch r {
	case engine.ResultWin:
		return fmt.Sprintf("You win %d to %d", mine, theirs)
	case engine.ResultLose:
		return fmt.Sprintf("You lose %d to %d", mine, theirs)
	default:
		return fmt.Sprintf("Draw at %d", mine)
	}
}
