package agent

import (
	"testing"

	engine "github.com/437437/open-trade-poker/engine"
)

var cards = engine.MustParseCards

// TestKeyStringFirstMover checks the exact repr the trainer produced.
func TestKeyStringFirstMover(t *testing.T) {
	k := NewKey(1, cards("AABCDD"), cards("BBCCAD"), cards("BC"), true)
	want := "(1, (2, 1, 1, 2), (1, 2, 2, 1), 0, (0, 0, 0, 0), (3, 3, 3, 3), True, 0)"
	if got := k.String(); got != want {
		t.Errorf("state = %q\nwant    %q", got, want)
	}
	wantFull := "(" + want + ", (1, 0, 0, 1))"
	if got := k.Action(cards("DA")); got != wantFull {
		t.Errorf("key = %q\nwant  %q", got, wantFull)
	}
}

func TestKeyStringResponder(t *testing.T) {
	k := NewKey(2, cards("DDDCCB"), cards("AAABBC"), cards("ABA"), false)
	want := "(2, (0, 1, 2, 3), (3, 2, 1, 0), 3, (2, 1, 0, 0), (3, 3, 3, 3), False, 3)"
	if got := k.String(); got != want {
		t.Errorf("state = %q\nwant    %q", got, want)
	}
}

// TestKeyActionOrderIndependent verifies the action part only depends on the
// multiset of cards.
func TestKeyActionOrderIndependent(t *testing.T) {
	k := NewKey(3, cards("ABCDAB"), cards("CDABCD"), nil, true)
	if k.Action(cards("BAD")) != k.Action(cards("ADB")) {
		t.Errorf("action key depends on card order")
	}
}

func TestMostCommonSuit(t *testing.T) {
	tests := []struct {
		own, opp string
		want     int
	}{
		{"AABCDD", "BBCCAD", 0}, // all tied, A seen first
		{"DDCC", "AB", 3},       // C and D tied, D seen first
		{"CC", "DDD", 3},
		{"B", "", 1},
		{"", "", 0},
		{"", "CA", 2},
	}
	for _, tt := range tests {
		if got := MostCommonSuit(cards(tt.own), cards(tt.opp)); got != tt.want {
			t.Errorf("MostCommonSuit(%s, %s) = %d, want %d", tt.own, tt.opp, got, tt.want)
		}
	}
}
