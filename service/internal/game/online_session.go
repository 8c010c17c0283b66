// internal/game/online_session.go
package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	engine "github.com/437437/open-trade-poker/engine"
	"github.com/437437/open-trade-poker/service/internal/protocol"
	"github.com/437437/open-trade-poker/service/internal/transport"
)

// OnlineOptions configures an OnlineSession.
type OnlineOptions struct {
	Timings  Timings
	Rules    engine.MatchRules
	Log      *logrus.Entry
	OnChange func(Snapshot) // called after every state change, without the lock held
	// EmitTimeout bounds each outbound write. Default 5s.
	EmitTimeout time.Duration
}

// outbound is an event queued under the lock and sent after it is released.
type outbound struct {
	event   protocol.Event
	payload any
}

// OnlineSession drives one player's side of online play: matchmaking, the
// pre-match countdown and the server-authoritative match. All methods are
// safe for concurrent use.
type OnlineSession struct {
	mu sync.Mutex

	id       uuid.UUID
	log      *logrus.Entry
	em       transport.Emitter
	timings  Timings
	onChange func(Snapshot)
	emitTO   time.Duration

	match    *engine.Match
	sched    *Scheduler // session timers; invalidated on every return home
	presence *Scheduler // heartbeat; lives until Close

	scene       Scene
	opponentID  string
	playerID    string
	notice      string
	revealing   bool
	nextCount   int // opponent-slot-count for the next turn, received while revealing
	countdown   int
	waitElapsed int
	preMatch    int
	foreground  bool
	leaving     bool // a return home is already scheduled
	closed      bool

	subs    []*transport.Subscription // match handlers; nil while home
	session []*transport.Subscription // connect and welcome hooks; dropped on Close
	outbox  []outbound
}

// NewOnlineSession returns a session on the home scene. It reports presence
// on every (re)connect of em and starts the presence heartbeat.
func NewOnlineSession(em transport.Emitter, opts OnlineOptions) *OnlineSession {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.EmitTimeout <= 0 {
		opts.EmitTimeout = 5 * time.Second
	}
	id := uuid.New()
	s := &OnlineSession{
		id:         id,
		log:        log.WithFields(logrus.Fields{"component": "online_session", "session": id}),
		em:         em,
		timings:    opts.Timings.withDefaults(),
		onChange:   opts.OnChange,
		emitTO:     opts.EmitTimeout,
		match:      engine.NewMatch(opts.Rules),
		scene:      SceneHome,
		foreground: true,
	}
	s.sched = NewScheduler(&s.mu, s.unlockFlush)
	s.presence = NewScheduler(&s.mu, s.unlockFlush)

	s.mu.Lock()
	s.session = append(s.session,
		em.OnConnect(s.onConnect),
		em.Subscribe(protocol.EventWelcome, func(env protocol.Envelope) {
			s.mu.Lock()
			defer s.unlockFlush()
			s.handleWelcome(env)
		}),
	)
	if em.Connected() {
		s.queue(protocol.EventPresence, protocol.Presence{State: s.presenceState()})
	}
	s.presence.Every(s.timings.PresencePing, func() bool {
		if s.closed {
			return false
		}
		if s.em.Connected() {
			s.queue(protocol.EventPresencePing, nil)
		}
		return true
	})
	s.unlockFlush()
	return s
}

// unlockFlush releases the lock, sends queued events and reports the new
// state.
func (s *OnlineSession) unlockFlush() {
	out := s.outbox
	s.outbox = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()

	for _, o := range out {
		ctx, cancel := context.WithTimeout(context.Background(), s.emitTO)
		err := s.em.Emit(ctx, o.event, o.payload)
		cancel()
		if err != nil {
			s.log.WithError(err).WithField("event", o.event).Warn("emit failed")
		}
	}
	if s.onChange != nil {
		s.onChange(snap)
	}
}

func (s *OnlineSession) queue(event protocol.Event, payload any) {
	s.outbox = append(s.outbox, outbound{event: event, payload: payload})
}

// ---------------------------------------------------------------------------
// Player actions
// ---------------------------------------------------------------------------

// StartMatching enters the matchmaking queue. It is ignored unless the
// session is home.
func (s *OnlineSession) StartMatching() bool {
	s.mu.Lock()
	defer s.unlockFlush()
	if s.closed || s.scene != SceneHome {
		return false
	}
	s.attach()
	s.scene = SceneWaiting
	s.waitElapsed = 0
	s.notice = "Looking for an opponent..."
	s.queue(protocol.EventStartMatching, nil)
	s.sched.Every(s.timings.Tick, func() bool {
		if s.scene != SceneWaiting {
			return false
		}
		s.waitElapsed++
		if s.waitElapsed < s.timings.MatchWaitSeconds {
			return true
		}
		s.log.Info("no opponent found")
		s.queue(protocol.EventCancelMatching, nil)
		s.returnHomeLater("No opponent found. Try again later.")
		return false
	})
	s.log.Info("matching started")
	return true
}

// CancelMatching leaves the queue.
func (s *OnlineSession) CancelMatching() {
	s.mu.Lock()
	defer s.unlockFlush()
	if s.scene != SceneWaiting {
		return
	}
	s.queue(protocol.EventCancelMatching, nil)
	s.goHome()
}

// LeaveGame abandons the current match and returns home at once.
func (s *OnlineSession) LeaveGame() {
	s.mu.Lock()
	defer s.unlockFlush()
	if s.scene == SceneHome {
		return
	}
	if s.scene == SceneWaiting {
		s.queue(protocol.EventCancelMatching, nil)
	} else {
		s.queue(protocol.EventLeaveGame, nil)
	}
	s.goHome()
}

// Select toggles the card at display index i.
func (s *OnlineSession) Select(i int) bool {
	s.mu.Lock()
	defer s.unlockFlush()
	if s.scene != ScenePlaying {
		return false
	}
	raw, ok := s.match.Hand().DisplayToRaw(i)
	if !ok {
		return false
	}
	return s.match.Select(raw)
}

// Submit confirms the current selection and sends it to the server.
func (s *OnlineSession) Submit() error {
	s.mu.Lock()
	defer s.unlockFlush()
	if s.scene != ScenePlaying {
		return engine.ErrWrongPhase
	}
	slot, err := s.match.Confirm()
	if err != nil {
		return err
	}
	s.sendSlot(slot, false)
	return nil
}

// SetForeground reports the app moving between foreground and background.
// Going to background while matchmaking cancels it; once an opponent is
// found it leaves the match instead.
func (s *OnlineSession) SetForeground(fg bool) {
	s.mu.Lock()
	defer s.unlockFlush()
	if s.closed || s.foreground == fg {
		return
	}
	s.foreground = fg
	s.queue(protocol.EventPresence, protocol.Presence{State: s.presenceState()})
	if !fg && (s.scene == SceneWaiting || s.scene == SceneMatched) {
		if s.scene == SceneMatched {
			s.queue(protocol.EventLeaveGame, nil)
		} else {
			s.queue(protocol.EventCancelMatching, nil)
		}
		s.returnHomeLater("Matching stopped because the app went to the background.")
	}
}

// Close leaves any match, stops every timer and drops every subscription.
func (s *OnlineSession) Close() {
	s.mu.Lock()
	defer s.unlockFlush()
	if s.closed {
		return
	}
	switch s.scene {
	case SceneWaiting:
		s.queue(protocol.EventCancelMatching, nil)
	case SceneMatched, ScenePlaying:
		s.queue(protocol.EventLeaveGame, nil)
	}
	s.goHome()
	s.closed = true
	s.presence.Invalidate()
	for _, sub := range s.session {
		sub.Unsubscribe()
	}
}

// Snapshot returns the current view.
func (s *OnlineSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *OnlineSession) snapshotLocked() Snapshot {
	snap := Snapshot{
		Session:           s.id,
		Scene:             s.scene,
		Countdown:         s.countdown,
		WaitElapsed:       s.waitElapsed,
		PreMatchCountdown: s.preMatch,
		OpponentID:        s.opponentID,
		PlayerID:          s.playerID,
	}
	if s.scene == ScenePlaying || s.scene == SceneDone {
		fillMatch(&snap, s.match, s.revealing)
	}
	snap.Message = s.notice
	if snap.Message == "" && (s.scene == ScenePlaying || s.scene == SceneDone) {
		snap.Message = phaseMessage(s.match, s.revealing)
	}
	return snap
}

// ---------------------------------------------------------------------------
// Session plumbing (lock held)
// ---------------------------------------------------------------------------

func (s *OnlineSession) presenceState() string {
	if s.foreground {
		return protocol.PresenceActive
	}
	return protocol.PresenceBackground
}

// attach subscribes the match handlers once. Handlers left over from an
// earlier match are never doubled.
func (s *OnlineSession) attach() {
	if s.subs != nil {
		return
	}
	on := func(ev protocol.Event, fn func(protocol.Envelope)) {
		s.subs = append(s.subs, s.em.Subscribe(ev, func(env protocol.Envelope) {
			s.mu.Lock()
			defer s.unlockFlush()
			if s.closed {
				return
			}
			fn(env)
		}))
	}
	on(protocol.EventMatch, s.handleMatch)
	on(protocol.EventStartGame, s.handleStartGame)
	on(protocol.EventOpponentSlotCount, s.handleOpponentSlotCount)
	on(protocol.EventExchangeComplete, s.handleExchangeComplete)
	on(protocol.EventCountdownTick, s.handleCountdownTick)
	on(protocol.EventOpponentLeft, s.handleOpponentLeft)
	on(protocol.EventSyncState, s.handleSyncState)
	on(protocol.EventError, s.handleError)
}

// detach drops the match handlers.
func (s *OnlineSession) detach() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
}

// goHome tears the match down immediately.
func (s *OnlineSession) goHome() {
	s.sched.Invalidate()
	s.detach()
	s.match.Reset()
	s.scene = SceneHome
	s.opponentID = ""
	s.notice = ""
	s.revealing = false
	s.nextCount = 0
	s.countdown = 0
	s.waitElapsed = 0
	s.preMatch = 0
	s.leaving = false
}

// returnHomeLater shows notice and goes home after the notice delay. All
// other pending session timers are cancelled.
func (s *OnlineSession) returnHomeLater(notice string) {
	if s.leaving {
		return
	}
	s.sched.Invalidate()
	s.detach()
	s.leaving = true
	s.notice = notice
	s.sched.After(s.timings.ReturnHome, s.goHome)
}

func (s *OnlineSession) onConnect() {
	s.mu.Lock()
	defer s.unlockFlush()
	if s.closed {
		return
	}
	s.queue(protocol.EventPresence, protocol.Presence{State: s.presenceState()})
	if s.leaving {
		return
	}
	switch s.scene {
	case SceneMatched, ScenePlaying:
		s.log.Info("reconnected during a match, requesting state")
		s.queue(protocol.EventRequestSync, nil)
	case SceneWaiting:
		// The server drops the queue entry with the old connection.
		s.queue(protocol.EventStartMatching, nil)
	}
}

func (s *OnlineSession) sendSlot(slot engine.Slot, auto bool) {
	s.queue(protocol.EventSubmitSlot, protocol.SubmitSlot{To: s.opponentID, Slot: engine.CardsToStrings(slot)})
	s.log.WithFields(logrus.Fields{
		"turn": s.match.Turn(),
		"slot": engine.FormatCards(slot),
		"auto": auto,
	}).Debug("slot submitted")
}

// ---------------------------------------------------------------------------
// Inbound events (lock held)
// ---------------------------------------------------------------------------

func bind[T any](s *OnlineSession, env protocol.Envelope) (T, bool) {
	var v T
	if err := env.Bind(&v); err != nil {
		s.log.WithError(err).Warn("dropping malformed event")
		return v, false
	}
	return v, true
}

func (s *OnlineSession) handleWelcome(env protocol.Envelope) {
	if w, ok := bind[protocol.Welcome](s, env); ok {
		s.playerID = w.PlayerID
	}
}

func (s *OnlineSession) handleMatch(env protocol.Envelope) {
	if s.scene != SceneWaiting || s.leaving {
		return
	}
	p, ok := bind[protocol.Match](s, env)
	if !ok {
		return
	}
	s.sched.Invalidate() // stops the wait ticker
	s.scene = SceneMatched
	s.opponentID = p.OpponentID
	s.preMatch = s.timings.PreMatchSteps
	s.notice = fmt.Sprintf("Opponent found! Starting in %d...", s.preMatch)
	s.log.WithField("opponent", p.OpponentID).Info("matched")
	s.sched.Every(s.timings.PreMatchStep, func() bool {
		if s.scene != SceneMatched {
			return false
		}
		s.preMatch--
		if s.preMatch <= 0 {
			s.preMatch = 0
			s.notice = "Starting..."
			return false
		}
		s.notice = fmt.Sprintf("Opponent found! Starting in %d...", s.preMatch)
		return true
	})
}

func (s *OnlineSession) handleStartGame(env protocol.Envelope) {
	if (s.scene != SceneMatched && s.scene != SceneWaiting) || s.leaving {
		return
	}
	p, ok := bind[protocol.StartGame](s, env)
	if !ok {
		return
	}
	hand, err1 := engine.CardsFromStrings(p.Hand)
	opp, err2 := engine.CardsFromStrings(p.OpponentHand)
	if err1 != nil || err2 != nil {
		s.log.Warn("start-game with unreadable hands")
		return
	}
	if err := s.match.Start(hand, opp, p.First); err != nil {
		s.log.WithError(err).Warn("start-game rejected")
		return
	}
	s.sched.Invalidate()
	s.scene = ScenePlaying
	s.preMatch = 0
	s.notice = ""
	s.countdown = s.timings.TurnSeconds
	s.log.WithFields(logrus.Fields{"first": p.First, "hand": engine.FormatCards(hand)}).Info("match started")
}

func (s *OnlineSession) handleOpponentSlotCount(env protocol.Envelope) {
	if s.scene != ScenePlaying {
		return
	}
	p, ok := bind[protocol.OpponentSlotCount](s, env)
	if !ok {
		return
	}
	if s.revealing {
		// The first mover of the next turn already submitted; apply it once
		// the exchange being revealed is synced.
		s.nextCount = p.Count
		return
	}
	if err := s.match.OpponentCommitted(p.Count); err != nil {
		s.log.WithError(err).Debug("opponent-slot-count ignored")
	}
}

func (s *OnlineSession) handleExchangeComplete(env protocol.Envelope) {
	if s.scene != ScenePlaying {
		return
	}
	p, ok := bind[protocol.ExchangeComplete](s, env)
	if !ok {
		return
	}
	if p.Turn != 0 && p.Turn != s.match.Turn() {
		s.log.WithFields(logrus.Fields{"turn": p.Turn, "current": s.match.Turn()}).Debug("exchange for another turn ignored")
		return
	}
	hand, err1 := engine.CardsFromStrings(p.Hand)
	opp, err2 := engine.CardsFromStrings(p.OpponentHand)
	oppSlot, err3 := engine.CardsFromStrings(p.OpponentSlot)
	if err1 != nil || err2 != nil || err3 != nil {
		s.log.Warn("exchange-complete with unreadable cards")
		return
	}
	if !s.match.RevealOpponentSlot(oppSlot) {
		s.log.Debug("duplicate exchange-complete ignored")
		return
	}
	s.revealing = true
	turn := s.match.Turn()
	tok := s.match.Token()
	s.sched.After(s.timings.OnlineReveal, func() {
		if s.match.Token() != tok {
			return
		}
		res := s.match.Sync(hand, opp, turn, p.IsMyTurn)
		s.revealing = false
		s.countdown = s.timings.TurnSeconds
		if n := s.nextCount; n > 0 && !res.Done {
			s.nextCount = 0
			if err := s.match.OpponentCommitted(n); err != nil {
				s.log.WithError(err).Debug("held opponent-slot-count ignored")
			}
		}
		if res.Done {
			s.scene = SceneDone
			s.countdown = 0
			s.detach()
			s.log.WithFields(logrus.Fields{
				"score":          res.Scores[engine.SideLocal],
				"opponent_score": res.Scores[engine.SideOpponent],
				"result":         s.match.Result(),
			}).Info("match finished")
		}
	})
}

func (s *OnlineSession) handleCountdownTick(env protocol.Envelope) {
	if s.scene != ScenePlaying {
		return
	}
	p, ok := bind[protocol.CountdownTick](s, env)
	if !ok {
		return
	}
	s.countdown = max(p.Countdown, 0)
	if s.countdown > 0 || s.match.Phase() != engine.PhaseSubmitting {
		return
	}
	slot, err := s.match.AutoSubmit()
	if err != nil {
		s.log.WithError(err).Warn("auto-submit failed")
		return
	}
	s.sendSlot(slot, true)
}

func (s *OnlineSession) handleOpponentLeft(protocol.Envelope) {
	if s.scene == SceneHome || s.scene == SceneWaiting {
		return
	}
	s.log.Info("opponent left")
	s.returnHomeLater("Your opponent left the match.")
}

func (s *OnlineSession) handleSyncState(env protocol.Envelope) {
	if s.leaving || (s.scene != SceneMatched && s.scene != ScenePlaying) {
		return
	}
	p, ok := bind[protocol.SyncState](s, env)
	if !ok {
		return
	}
	if !p.InMatch {
		s.log.Info("server has no match for this session")
		s.returnHomeLater("The match is no longer available.")
		return
	}
	if err := s.restore(p); err != nil {
		s.log.WithError(err).Warn("sync-state rejected")
		s.returnHomeLater("Could not restore the match.")
		return
	}
	s.log.WithField("turn", p.Turn).Info("match state restored")
}

// restore rebuilds the match from a server snapshot.
func (s *OnlineSession) restore(p protocol.SyncState) error {
	hand, err := engine.CardsFromStrings(p.Hand)
	if err != nil {
		return err
	}
	opp, err := engine.CardsFromStrings(p.OpponentHand)
	if err != nil {
		return err
	}
	turn := max(p.Turn, 1)
	// Who proposed on turn 1, recovered from who proposes on turn.
	localFirst := p.IsMyTurn == (turn%2 == 1)
	s.sched.Invalidate()
	if err := s.match.Start(hand, opp, localFirst); err != nil {
		return err
	}
	if turn > 1 {
		s.match.Sync(hand, opp, turn-1, p.IsMyTurn)
	}
	if !p.IsMyTurn && p.OpponentSlotCount > 0 {
		if err := s.match.OpponentCommitted(p.OpponentSlotCount); err != nil {
			return err
		}
	}
	if len(p.Submitted) > 0 {
		if err := s.reselect(p.Submitted); err != nil {
			return err
		}
	}
	if p.OpponentID != "" {
		s.opponentID = p.OpponentID
	}
	s.scene = ScenePlaying
	s.preMatch = 0
	s.notice = ""
	s.revealing = false
	s.nextCount = 0
	s.countdown = p.Countdown
	return nil
}

// reselect marks the cards already submitted this turn and locks them in
// again without re-sending them.
func (s *OnlineSession) reselect(submitted []string) error {
	cards, err := engine.CardsFromStrings(submitted)
	if err != nil {
		return err
	}
	raw := s.match.Hand().Raw()
	used := make([]bool, len(raw))
	idx := make([]int, 0, len(cards))
	for _, c := range cards {
		found := false
		for i, h := range raw {
			if !used[i] && h == c {
				used[i] = true
				idx = append(idx, i)
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: submitted card %s not held", engine.ErrBadSelection, c)
		}
	}
	if err := s.match.SetSelection(idx); err != nil {
		return err
	}
	_, err = s.match.Confirm()
	return err
}

func (s *OnlineSession) handleError(env protocol.Envelope) {
	p, ok := bind[protocol.Error](s, env)
	if !ok {
		return
	}
	s.log.WithFields(logrus.Fields{"code": p.Code, "message": p.Message}).Warn("server error")
}
