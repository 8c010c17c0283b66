// internal/game/ai_match.go
package game

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	engine "github.com/437437/open-trade-poker/engine"
	"github.com/437437/open-trade-poker/engine/agent"
)

// TableSource hands out the Q table for a family. *qtable.Store implements it.
type TableSource interface {
	Table(family agent.Family) (agent.Table, error)
}

// AIOptions configures an AIMatch.
type AIOptions struct {
	Tables   TableSource // nil plays on the heuristic fallback only
	Timings  Timings
	Rules    engine.MatchRules
	Seed     uint64 // 0 seeds from the clock
	Log      *logrus.Entry
	OnChange func(Snapshot) // called after every state change, without the lock held
}

// AIMatch runs a match between the local player and the AI. All methods are
// safe for concurrent use.
type AIMatch struct {
	mu sync.Mutex

	id       uuid.UUID
	log      *logrus.Entry
	timings  Timings
	tables   TableSource
	onChange func(Snapshot)

	rng   *engine.Rand
	match *engine.Match
	sched *Scheduler
	ai    agent.Engine

	family    agent.Family
	scene     Scene
	aiTurnRun bool // the AI already acted (or is scheduled to) this turn
	revealing bool
	countdown int
	notice    string
	world     []engine.Card // both starting hands, for the conservation check
}

// NewAIMatch returns a match controller on the home scene.
func NewAIMatch(opts AIOptions) *AIMatch {
	seed := opts.Seed
	if seed == 0 {
		seed = engine.TimeSeed()
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	id := uuid.New()
	a := &AIMatch{
		id:       id,
		log:      log.WithFields(logrus.Fields{"component": "ai_match", "session": id}),
		timings:  opts.Timings.withDefaults(),
		tables:   opts.Tables,
		onChange: opts.OnChange,
		rng:      engine.NewRand(seed),
		match:    engine.NewMatch(opts.Rules),
		scene:    SceneHome,
	}
	a.sched = NewScheduler(&a.mu, a.unlockNotify)
	return a
}

// unlockNotify releases the lock and reports the new state.
func (a *AIMatch) unlockNotify() {
	snap := a.snapshotLocked()
	a.mu.Unlock()
	if a.onChange != nil {
		a.onChange(snap)
	}
}

// Start flips for first mover, deals and begins turn 1. Starting again
// abandons the current match.
func (a *AIMatch) Start() error {
	a.mu.Lock()
	defer a.unlockNotify()

	playerFirst := a.rng.Bool()
	family := agent.FamilyFor(!playerFirst)

	// A failed lookup leaves any match in progress untouched.
	var table agent.Table
	if a.tables != nil {
		t, err := a.tables.Table(family)
		if err != nil {
			return err
		}
		table = t
	}

	a.sched.Invalidate()
	a.family = family
	a.ai = agent.Engine{Table: table, Rand: rand.New(rand.NewPCG(a.rng.Uint64(), a.rng.Uint64()))}

	deal := engine.BuildDeck(a.rng.Uint64())
	if err := a.match.Start(deal.Player, deal.Opponent, playerFirst); err != nil {
		return err
	}
	a.world = append(append([]engine.Card(nil), deal.Player...), deal.Opponent...)
	a.scene = ScenePlaying
	a.notice = ""
	a.log.WithFields(logrus.Fields{
		"family":       a.family,
		"player_first": playerFirst,
		"hand":         engine.FormatCards(deal.Player),
		"ai_hand":      engine.FormatCards(deal.Opponent),
	}).Info("ai match started")
	a.enterTurn()
	return nil
}

// Select toggles the card at display index i.
func (a *AIMatch) Select(i int) bool {
	a.mu.Lock()
	defer a.unlockNotify()
	raw, ok := a.match.Hand().DisplayToRaw(i)
	if !ok {
		return false
	}
	return a.match.Select(raw)
}

// Submit confirms the current selection.
func (a *AIMatch) Submit() error {
	a.mu.Lock()
	defer a.unlockNotify()
	slot, err := a.match.Confirm()
	if err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{"turn": a.match.Turn(), "slot": engine.FormatCards(slot)}).Debug("player submitted")
	a.afterConfirm()
	return nil
}

// LeaveToHome abandons the match. Pending timers become no-ops.
func (a *AIMatch) LeaveToHome() {
	a.mu.Lock()
	defer a.unlockNotify()
	a.sched.Invalidate()
	a.match.Reset()
	a.scene = SceneHome
	a.revealing = false
	a.aiTurnRun = false
	a.notice = ""
}

// Close stops every timer.
func (a *AIMatch) Close() { a.LeaveToHome() }

// Family returns the Q table family of the current match.
func (a *AIMatch) Family() agent.Family {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.family
}

// Snapshot returns the current view.
func (a *AIMatch) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *AIMatch) snapshotLocked() Snapshot {
	s := Snapshot{Session: a.id, Scene: a.scene, Countdown: a.countdown, OpponentID: "AI"}
	fillMatch(&s, a.match, a.revealing)
	s.Message = a.notice
	if s.Message == "" {
		s.Message = phaseMessage(a.match, a.revealing)
	}
	return s
}

// ---------------------------------------------------------------------------
// Turn flow (lock held)
// ---------------------------------------------------------------------------

// enterTurn arms the per-turn work for the turn the match just entered.
func (a *AIMatch) enterTurn() {
	a.aiTurnRun = false
	a.revealing = false
	if a.match.IsLocalFirstMover() {
		a.startCountdown()
		return
	}
	a.countdown = 0
	a.scheduleAITurn()
}

// startCountdown runs the submit countdown for the current turn and
// auto-submits when it runs out.
func (a *AIMatch) startCountdown() {
	a.countdown = a.timings.TurnSeconds
	tok := a.match.Token()
	a.sched.Every(a.timings.Tick, func() bool {
		if a.match.Token() != tok || a.match.Phase() != engine.PhaseSubmitting {
			return false
		}
		a.countdown--
		if a.countdown > 0 {
			return true
		}
		a.countdown = 0
		slot, err := a.match.AutoSubmit()
		if err != nil {
			a.log.WithError(err).Warn("auto-submit failed")
			return false
		}
		a.log.WithFields(logrus.Fields{"turn": a.match.Turn(), "slot": engine.FormatCards(slot)}).Info("time ran out, auto-submitted")
		a.afterConfirm()
		return false
	})
}

func (a *AIMatch) afterConfirm() {
	if a.match.Phase() == engine.PhaseThinking {
		a.scheduleAITurn()
		return
	}
	// The AI proposed first; its slot is already staged.
	a.beginExchange(0)
}

// scheduleAITurn runs the AI once per turn after the think delay.
func (a *AIMatch) scheduleAITurn() {
	if a.aiTurnRun {
		return
	}
	a.aiTurnRun = true
	tok := a.match.Token()
	a.sched.After(a.timings.AIThink, func() {
		if a.match.Token() != tok {
			a.log.Debug("stale ai turn dropped")
			return
		}
		a.runAITurn()
	})
}

func (a *AIMatch) runAITurn() {
	m := a.match
	aiFirst := !m.IsLocalFirstMover()
	var oppSlot []engine.Card
	if !aiFirst {
		oppSlot = m.LocalSlot()
	}
	d, err := a.ai.Decide(m.Turn(), m.OpponentHand().Raw(), m.Hand().Raw(), oppSlot, aiFirst)
	if err != nil {
		a.log.WithError(err).Warn("ai decision failed")
		return
	}
	a.log.WithFields(logrus.Fields{
		"turn":       m.Turn(),
		"slot":       engine.FormatCards(d.Slot),
		"candidates": d.Candidates,
		"hits":       d.Hits,
		"fallback":   d.Fallback,
	}).Debug("ai decided")

	if err := m.StageOpponentSlot(d.Slot); err != nil {
		a.log.WithError(err).Error("ai produced an illegal slot")
		return
	}
	if aiFirst {
		a.startCountdown()
		return
	}
	a.beginExchange(a.timings.AIReveal)
}

// beginExchange claims the turn, reveals the AI's slot after revealDelay and
// applies the exchange after the resolve delay.
func (a *AIMatch) beginExchange(revealDelay time.Duration) {
	m := a.match
	if !m.BeginResolve() {
		return
	}
	tok := m.Token()
	reveal := func() {
		a.revealing = true
		a.sched.After(a.timings.AIResolve, func() {
			if m.Token() != tok {
				return
			}
			a.resolve()
		})
	}
	if revealDelay == 0 {
		reveal()
		return
	}
	a.sched.After(revealDelay, func() {
		if m.Token() != tok {
			return
		}
		reveal()
	})
}

func (a *AIMatch) resolve() {
	res, err := a.match.Resolve()
	a.revealing = false
	if err != nil {
		a.log.WithError(err).Warn("exchange failed")
		return
	}
	entry := a.log.WithFields(logrus.Fields{
		"turn":      res.Turn,
		"gave":      engine.FormatCards(res.LocalSlot),
		"took":      engine.FormatCards(res.OpponentSlot),
		"conserved": a.match.Conserved(a.world),
	})
	if !res.Done {
		entry.Debug("exchange applied")
		a.enterTurn()
		return
	}
	a.scene = SceneDone
	a.countdown = 0
	entry.WithFields(logrus.Fields{
		"score":    res.Scores[engine.SideLocal],
		"ai_score": res.Scores[engine.SideOpponent],
		"result":   a.match.Result(),
	}).Info("ai match finished")
}
