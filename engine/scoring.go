package engine

// scoreTiers maps a same-suit count to points. Counts of 0 or 1 score nothing.
var scoreTiers = [...]int{0, 0, 2, 5, 10, 20, 30}

// SuitPoints returns the points earned by holding count cards of one suit.
func SuitPoints(count int) int {
	if count < 0 {
		return 0
	}
	if count >= len(scoreTiers) {
		return scoreTiers[len(scoreTiers)-1]
	}
	return scoreTiers[count]
}

// Score returns the points of a finished hand: each suit contributes
// according to how many copies the hand holds (2:2, 3:5, 4:10, 5:20, 6:30).
func Score(hand []Card) int {
	total := 0
	for _, n := range CountSuits(hand) {
		total += SuitPoints(n)
	}
	return total
}

// Result is the outcome of a match from the local point of view.
type Result uint8

const (
	ResultDraw Result = iota
	ResultWin
	ResultLose
)

func (r Result) String() string {
	switch r {
	case ResultWin:
		return "win"
	case ResultLose:
		return "lose"
	default:
		return "draw"
	}
}

// Outcome compares the local score against the opponent's.
func Outcome(local, opponent int) Result {
	switch {
	case local > opponent:
		return ResultWin
	case local < opponent:
		return ResultLose
	default:
		return ResultDraw
	}
}
