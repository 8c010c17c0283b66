package engine

// Full-match tests driving the public Match API the way the session
// controllers do.

import (
	"math/rand/v2"
	"testing"
)

// TestIntegrationExampleExchange plays the reference first turn: the local
// player holds AABCDD and offers A and D, the opponent answers with B and C.
func TestIntegrationExampleExchange(t *testing.T) {
	m := newStartedMatch(t, "AABCDD", "BBCCAD", true)
	world := append(MustParseCards("AABCDD"), MustParseCards("BBCCAD")...)

	// Display order equals raw order here since the hand is already sorted.
	for _, i := range []int{0, 4} {
		if !m.Select(i) {
			t.Fatalf("Select(%d) refused", i)
		}
	}
	slot, err := m.Confirm()
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if FormatCards(slot) != "AD" || m.Phase() != PhaseThinking {
		t.Fatalf("slot=%s phase=%s", FormatCards(slot), m.Phase())
	}

	if err := m.StageOpponentSlot(Slot(MustParseCards("BC"))); err != nil {
		t.Fatalf("StageOpponentSlot: %v", err)
	}
	if !m.BeginResolve() {
		t.Fatalf("BeginResolve refused")
	}
	res, err := m.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := FormatCards(SortedCopy(res.Hand)); got != "ABBCCD" {
		t.Errorf("player display = %s, want ABBCCD", got)
	}
	if got := FormatCards(SortedCopy(res.OpponentHand)); got != "AABCDD" {
		t.Errorf("opponent display = %s, want AABCDD", got)
	}
	if !m.Conserved(world) {
		t.Errorf("cards not conserved after exchange")
	}
	if m.Turn() != 2 || m.FirstMover() != SideOpponent {
		t.Errorf("turn 2 first mover = %v", m.FirstMover())
	}
}

// TestIntegrationRandomPlay plays many matches with random legal choices on
// both sides and checks conservation and hand sizes after every exchange.
func TestIntegrationRandomPlay(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for game := 0; game < 500; game++ {
		deal := BuildDeck(rng.Uint64())
		world := append(append([]Card(nil), deal.Player...), deal.Opponent...)
		m := NewMatch(DefaultMatchRules())
		if err := m.Start(deal.Player, deal.Opponent, rng.IntN(2) == 0); err != nil {
			t.Fatalf("Start: %v", err)
		}

		for !m.Done() {
			size := 1 + rng.IntN(4)
			if m.IsLocalFirstMover() {
				if err := m.SetSelection(rng.Perm(6)[:size]); err != nil {
					t.Fatalf("game %d: SetSelection: %v", game, err)
				}
				if _, err := m.Confirm(); err != nil {
					t.Fatalf("game %d: Confirm: %v", game, err)
				}
				if err := m.StageOpponentSlot(randomSlot(rng, m.OpponentHand().Raw(), size)); err != nil {
					t.Fatalf("game %d: StageOpponentSlot: %v", game, err)
				}
			} else {
				if err := m.StageOpponentSlot(randomSlot(rng, m.OpponentHand().Raw(), size)); err != nil {
					t.Fatalf("game %d: StageOpponentSlot: %v", game, err)
				}
				if m.Required() != size {
					t.Fatalf("game %d: required = %d, want %d", game, m.Required(), size)
				}
				// Leave some selections partial so auto-submit has to fix them.
				_ = m.SetSelection(rng.Perm(6)[:rng.IntN(5)])
				if _, err := m.AutoSubmit(); err != nil {
					t.Fatalf("game %d: AutoSubmit: %v", game, err)
				}
			}
			if len(m.LocalSlot()) != len(m.OpponentSlot()) {
				t.Fatalf("game %d: slot sizes differ", game)
			}
			if _, err := m.Resolve(); err != nil {
				t.Fatalf("game %d: Resolve: %v", game, err)
			}
			if m.Hand().Len() != 6 || m.OpponentHand().Len() != 6 {
				t.Fatalf("game %d: hand sizes %d/%d", game, m.Hand().Len(), m.OpponentHand().Len())
			}
			if !m.Conserved(world) {
				t.Fatalf("game %d: cards not conserved", game)
			}
		}
		s := m.Scores()
		if s[SideLocal] != Score(m.Hand().Raw()) || s[SideOpponent] != Score(m.OpponentHand().Raw()) {
			t.Fatalf("game %d: scores %v do not match final hands", game, s)
		}
	}
}

// TestIntegrationAutoSubmitLiveness verifies a match where the local player
// never acts still reaches the end through countdown auto-submits.
func TestIntegrationAutoSubmitLiveness(t *testing.T) {
	for _, localFirst := range []bool{true, false} {
		m := newStartedMatch(t, "ABCDAB", "CDCDAB", localFirst)
		for turns := 0; !m.Done(); turns++ {
			if turns > 3 {
				t.Fatalf("localFirst=%v: match did not finish", localFirst)
			}
			playRound(t, m, 4)
		}
	}
}

func randomSlot(rng *rand.Rand, hand []Card, n int) Slot {
	out := make(Slot, 0, n)
	for _, i := range rng.Perm(len(hand))[:n] {
		out = append(out, hand[i])
	}
	return out
}
