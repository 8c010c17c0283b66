package agent

import engine "github.com/437437/open-trade-poker/engine"

// Fallback is the deterministic slot choice used when the table has no
// score for any candidate. It keeps the suit most held across both hands
// (ties: more held by the AI, then suit order) and offers everything else
// first, in raw order. A first mover offers up to four non-target cards, or
// a single target card when it holds nothing else. A responder offers
// exactly required cards, padding with target cards when short.
func Fallback(own, opp []engine.Card, isFirst bool, required int) []engine.Card {
	if len(own) == 0 {
		return nil
	}
	target := targetSuit(own, opp)

	var others, kept []engine.Card
	for _, c := range own {
		if c == target {
			kept = append(kept, c)
		} else {
			others = append(others, c)
		}
	}

	if isFirst {
		if len(others) == 0 {
			return []engine.Card{target}
		}
		return append([]engine.Card(nil), others[:min(MaxSlot, len(others))]...)
	}

	need := max(1, min(MaxSlot, required))
	pick := append([]engine.Card(nil), others[:min(need, len(others))]...)
	if short := need - len(pick); short > 0 {
		pick = append(pick, kept[:min(short, len(kept))]...)
	}
	return pick
}

// targetSuit picks the suit the fallback hoards.
func targetSuit(own, opp []engine.Card) engine.Card {
	mine := engine.CountSuits(own)
	total := mine.Add(engine.CountSuits(opp))
	best := 0
	for i := 1; i < engine.NumSuits; i++ {
		if total[i] > total[best] || (total[i] == total[best] && mine[i] > mine[best]) {
			best = i
		}
	}
	return suitOrder[best]
}
