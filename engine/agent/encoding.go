package agent

import (
	"strconv"
	"strings"

	engine "github.com/437437/open-trade-poker/engine"
)

// Key is the state half of a Q-table key. The table was built offline by a
// Python trainer that keyed its dictionary with str((state, action)), so the
// string form reproduces Python's tuple repr exactly.
type Key struct {
	Turn       int
	Own        engine.Counts // AI hand histogram
	Opp        engine.Counts // opponent hand histogram
	OppSlotLen int           // 0 when the AI is first mover
	OppSlot    engine.Counts // zero when the AI is first mover
	Total      engine.Counts // Own + Opp
	IsFirst    bool
	Collect    int // MostCommonSuit(own, opp)
}

// NewKey derives the state key for the AI holding own against opp. oppSlot
// is ignored when isFirst is set.
func NewKey(turn int, own, opp, oppSlot []engine.Card, isFirst bool) Key {
	k := Key{
		Turn:    turn,
		Own:     engine.CountSuits(own),
		Opp:     engine.CountSuits(opp),
		IsFirst: isFirst,
		Collect: MostCommonSuit(own, opp),
	}
	k.Total = k.Own.Add(k.Opp)
	if !isFirst {
		k.OppSlotLen = len(oppSlot)
		k.OppSlot = engine.CountSuits(oppSlot)
	}
	return k
}

// String renders the state tuple, e.g.
// "(1, (2, 1, 1, 2), (1, 2, 2, 1), 0, (0, 0, 0, 0), (3, 3, 3, 3), True, 0)".
func (k Key) String() string {
	var b strings.Builder
	b.Grow(80)
	k.writeTo(&b)
	return b.String()
}

func (k Key) writeTo(b *strings.Builder) {
	b.WriteByte('(')
	b.WriteString(strconv.Itoa(k.Turn))
	b.WriteString(", ")
	writeVec(b, k.Own)
	b.WriteString(", ")
	writeVec(b, k.Opp)
	b.WriteString(", ")
	b.WriteString(strconv.Itoa(k.OppSlotLen))
	b.WriteString(", ")
	writeVec(b, k.OppSlot)
	b.WriteString(", ")
	writeVec(b, k.Total)
	b.WriteString(", ")
	b.WriteString(pyBool(k.IsFirst))
	b.WriteString(", ")
	b.WriteString(strconv.Itoa(k.Collect))
	b.WriteByte(')')
}

// Action returns the full table key for offering action from this state.
func (k Key) Action(action []engine.Card) string {
	return actionKey(k.String(), action)
}

// actionKey joins a rendered state with an action histogram.
func actionKey(state string, action []engine.Card) string {
	var b strings.Builder
	b.Grow(len(state) + 20)
	b.WriteByte('(')
	b.WriteString(state)
	b.WriteString(", ")
	writeVec(&b, engine.CountSuits(action))
	b.WriteByte(')')
	return b.String()
}

func writeVec(b *strings.Builder, v engine.Counts) {
	b.WriteByte('(')
	for i, n := range v {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.Itoa(n))
	}
	b.WriteByte(')')
}

func pyBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

// MostCommonSuit returns the suit index held most often across own followed
// by opp. Ties go to the suit that occurs first in that concatenation, which
// matches collections.Counter.most_common. Empty input yields 0.
func MostCommonSuit(own, opp []engine.Card) int {
	var counts engine.Counts
	first := [engine.NumSuits]int{-1, -1, -1, -1}
	pos := 0
	for _, hand := range [2][]engine.Card{own, opp} {
		for _, c := range hand {
			i := c.SuitIndex()
			if i >= 0 {
				counts[i]++
				if first[i] < 0 {
					first[i] = pos
				}
			}
			pos++
		}
	}
	best := -1
	for i := range suitOrder {
		if counts[i] == 0 {
			continue
		}
		if best < 0 || counts[i] > counts[best] || (counts[i] == counts[best] && first[i] < first[best]) {
			best = i
		}
	}
	if best < 0 {
		return 0
	}
	return best
}
