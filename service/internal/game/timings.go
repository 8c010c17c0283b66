package game

import "time"

// Timings holds every delay the controllers use. Tests shrink them.
type Timings struct {
	AIThink      time.Duration // before the AI acts on its turn
	AIReveal     time.Duration // AI responder: slot chosen until reveal
	AIResolve    time.Duration // reveal until the exchange is applied (AI matches)
	OnlineReveal time.Duration // reveal until the exchange is applied (online)
	ReturnHome   time.Duration // notice shown before returning home
	PreMatchStep time.Duration // one step of the 3-2-1 countdown
	Tick         time.Duration // one second of the turn and wait counters
	PresencePing time.Duration

	TurnSeconds      int // turn countdown start
	MatchWaitSeconds int // matchmaking ceiling
	PreMatchSteps    int
}

// DefaultTimings returns the production timings.
func DefaultTimings() Timings {
	return Timings{
		AIThink:          2 * time.Second,
		AIReveal:         600 * time.Millisecond,
		AIResolve:        1200 * time.Millisecond,
		OnlineReveal:     3 * time.Second,
		ReturnHome:       3 * time.Second,
		PreMatchStep:     time.Second,
		Tick:             time.Second,
		PresencePing:     15 * time.Second,
		TurnSeconds:      30,
		MatchWaitSeconds: 60,
		PreMatchSteps:    3,
	}
}

// withDefaults fills zero fields from DefaultTimings.
func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	if t.AIThink <= 0 {
		t.AIThink = d.AIThink
	}
	if t.AIReveal <= 0 {
		t.AIReveal = d.AIReveal
	}
	if t.AIResolve <= 0 {
		t.AIResolve = d.AIResolve
	}
	if t.OnlineReveal <= 0 {
		t.OnlineReveal = d.OnlineReveal
	}
	if t.ReturnHome <= 0 {
		t.ReturnHome = d.ReturnHome
	}
	if t.PreMatchStep <= 0 {
		t.PreMatchStep = d.PreMatchStep
	}
	if t.Tick <= 0 {
		t.Tick = d.Tick
	}
	if t.PresencePing <= 0 {
		t.PresencePing = d.PresencePing
	}
	if t.TurnSeconds <= 0 {
		t.TurnSeconds = d.TurnSeconds
	}
	if t.MatchWaitSeconds <= 0 {
		t.MatchWaitSeconds = d.MatchWaitSeconds
	}
	if t.PreMatchSteps <= 0 {
		t.PreMatchSteps = d.PreMatchSteps
	}
	return t
}
