package agent

import engine "github.com/437437/open-trade-poker/engine"

// Family identifies the Q table trained for one seat order. The letters
// spell who proposes on turns 1, 2 and 3 from the AI's point of view
// (F = first mover, S = responder).
type Family string

const (
	FamilyFirst  Family = "FSF" // AI proposes on turns 1 and 3
	FamilySecond Family = "SFS" // AI proposes on turn 2
)

// Families lists every known table family.
var Families = [...]Family{FamilyFirst, FamilySecond}

// FamilyFor returns the table family for an AI that is first mover on turn 1
// when aiFirst is set.
func FamilyFor(aiFirst bool) Family {
	if aiFirst {
		return FamilyFirst
	}
	return FamilySecond
}

// Valid reports whether f names a known family.
func (f Family) Valid() bool {
	return f == FamilyFirst || f == FamilySecond
}

func (f Family) String() string { return string(f) }

// MaxSlot is the largest slot the AI ever offers.
const MaxSlot = 4

// suitOrder is the fixed suit order used for histograms and tie breaks.
var suitOrder = engine.Suits
