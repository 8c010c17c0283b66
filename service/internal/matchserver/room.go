package matchserver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	engine "github.com/437437/open-trade-poker/engine"
	"github.com/437437/open-trade-poker/service/internal/database"
	"github.com/437437/open-trade-poker/service/internal/protocol"
)

var (
	errNotPlaying       = errors.New("match is not in progress")
	errAlreadySubmitted = errors.New("slot already submitted this turn")
	errNotYourTurn      = errors.New("waiting for the first mover")
)

// room runs one match between two seats. The server holds both hands and
// is the only authority on exchanges.
type room struct {
	id  uuid.UUID
	hub *Hub
	log *logrus.Entry

	mu        sync.Mutex
	seats     [2]*player
	hands     [2][]engine.Card
	initial   [2][]engine.Card
	first     int // seat proposing on turn 1
	turn      int
	started   bool
	ended     bool
	slots     [2]engine.Slot
	submitted [2]bool
	countdown int
	exchanges []database.ExchangeRecord
	startedAt time.Time

	// gen changes whenever a countdown or phase timer must be dropped.
	gen uint64
	// grace changes whenever a seat's forfeit timer must be dropped.
	grace [2]uint64

	record *database.MatchRecord // set when the room ends
}

func newRoom(h *Hub, seats [2]*player, deal engine.Deal, first int) *room {
	id := uuid.New()
	r := &room{
		id:    id,
		hub:   h,
		log:   h.log.WithField("match", id),
		seats: seats,
		first: first,
	}
	r.hands[0] = append([]engine.Card(nil), deal.Player...)
	r.hands[1] = append([]engine.Card(nil), deal.Opponent...)
	r.initial = [2][]engine.Card{engine.SortedCopy(deal.Player), engine.SortedCopy(deal.Opponent)}
	for _, p := range seats {
		p.setRoom(r)
	}
	return r
}

// locked runs fn under the room lock and reports a room that ended during
// fn to the hub.
func (r *room) locked(fn func()) {
	r.mu.Lock()
	was := r.ended
	fn()
	ended := !was && r.ended
	rec := r.record
	r.mu.Unlock()
	if ended {
		r.hub.roomEnded(r, rec)
	}
}

// after runs fn under the lock after d unless gen moved on first.
func (r *room) after(d time.Duration, fn func()) {
	gen := r.gen
	time.AfterFunc(d, func() {
		r.locked(func() {
			if r.ended || r.gen != gen {
				return
			}
			fn()
		})
	})
}

func (r *room) seatOf(p *player) int {
	if r.seats[1] == p {
		return 1
	}
	return 0
}

// firstMover returns the seat proposing on the current turn.
func (r *room) firstMover() int {
	if r.turn%2 == 1 {
		return r.first
	}
	return 1 - r.first
}

func (r *room) emit(seat int, event protocol.Event, payload any) {
	r.seats[seat].emit(r.log, event, payload)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// begin announces the match and deals after the start delay.
func (r *room) begin() {
	r.locked(func() {
		r.log.WithFields(logrus.Fields{
			"seat0": r.seats[0].id,
			"seat1": r.seats[1].id,
			"first": r.seats[r.first].id,
		}).Info("match found")
		for seat := range r.seats {
			r.emit(seat, protocol.EventMatch, protocol.Match{OpponentID: r.seats[1-seat].id})
		}
		r.after(r.hub.opts.StartDelay, r.start)
	})
}

func (r *room) start() {
	r.started = true
	r.startedAt = time.Now()
	r.turn = 1
	for seat := range r.seats {
		r.emit(seat, protocol.EventStartGame, protocol.StartGame{
			Hand:         engine.CardsToStrings(r.hands[seat]),
			OpponentHand: engine.CardsToStrings(r.hands[1-seat]),
			First:        seat == r.first,
		})
	}
	r.startCountdown()
}

// startCountdown restarts the submit countdown, dropping any earlier one.
func (r *room) startCountdown() {
	r.gen++
	secs := r.hub.opts.Rules.TurnSeconds
	r.countdown = secs
	if secs <= 0 {
		return
	}
	var tick func()
	tick = func() {
		r.countdown--
		for seat := range r.seats {
			r.emit(seat, protocol.EventCountdownTick, protocol.CountdownTick{Countdown: r.countdown})
		}
		if r.countdown > 0 {
			r.after(r.hub.opts.Tick, tick)
			return
		}
		r.after(r.hub.opts.SubmitGrace, r.forceSubmit)
	}
	r.after(r.hub.opts.Tick, tick)
}

// forceSubmit submits for a seat that let the countdown run out without
// answering, using the same rule as a client with nothing selected.
func (r *room) forceSubmit() {
	fm := r.firstMover()
	seat, n := fm, min(2, len(r.hands[fm]))
	if r.submitted[fm] {
		seat, n = 1-fm, len(r.slots[fm])
	}
	if r.submitted[seat] {
		return
	}
	slot := engine.Slot(r.hands[seat][:n]).Cards()
	r.log.WithFields(logrus.Fields{"player": r.seats[seat].id, "turn": r.turn, "slot": engine.FormatCards(slot)}).Info("submitting for idle player")
	if err := r.submitLocked(seat, slot); err != nil {
		r.log.WithError(err).Error("forced submit rejected")
	}
}

// finish ends the match. The caller holds the lock.
func (r *room) finish(abandoned bool) {
	r.ended = true
	r.gen++
	r.grace[0]++
	r.grace[1]++
	for _, p := range r.seats {
		p.setRoom(nil)
	}

	scores := [2]int{engine.Score(r.hands[0]), engine.Score(r.hands[1])}
	rec := &database.MatchRecord{
		ID:          r.id,
		Players:     [2]string{r.seats[0].id, r.seats[1].id},
		Scores:      scores,
		Abandoned:   abandoned,
		FirstMover:  r.seats[r.first].id,
		InitialHand: [2]string{engine.FormatCards(r.initial[0]), engine.FormatCards(r.initial[1])},
		FinalHand:   [2]string{engine.FormatCards(engine.SortedCopy(r.hands[0])), engine.FormatCards(engine.SortedCopy(r.hands[1]))},
		Exchanges:   r.exchanges,
		StartedAt:   r.startedAt,
		FinishedAt:  time.Now(),
	}
	if !abandoned {
		switch engine.Outcome(scores[0], scores[1]) {
		case engine.ResultWin:
			rec.Winner = r.seats[0].id
		case engine.ResultLose:
			rec.Winner = r.seats[1].id
		}
	}
	if r.started {
		r.record = rec
	}
	r.log.WithFields(logrus.Fields{
		"scores":    scores,
		"winner":    rec.Winner,
		"abandoned": abandoned,
	}).Info("match ended")
}

// shutdown ends the room without notifying anyone or recording it.
func (r *room) shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ended {
		r.ended = true
		r.gen++
		r.grace[0]++
		r.grace[1]++
	}
}

// ---------------------------------------------------------------------------
// Player events
// ---------------------------------------------------------------------------

func (r *room) submit(p *player, slot engine.Slot) error {
	var err error
	r.locked(func() { err = r.submitLocked(r.seatOf(p), slot) })
	return err
}

func (r *room) submitLocked(seat int, slot engine.Slot) error {
	if !r.started || r.ended {
		return errNotPlaying
	}
	if r.submitted[seat] {
		return errAlreadySubmitted
	}
	rules := r.hub.opts.Rules
	if len(slot) < 1 || len(slot) > rules.MaxSlot || !engine.IsSubMultiset(slot, r.hands[seat]) {
		return fmt.Errorf("slot %s is not a legal offer", engine.FormatCards(slot))
	}
	fm := r.firstMover()
	if seat != fm {
		if !r.submitted[fm] {
			return errNotYourTurn
		}
		if len(slot) != len(r.slots[fm]) {
			return fmt.Errorf("slot has %d cards, want %d", len(slot), len(r.slots[fm]))
		}
	}
	r.slots[seat] = slot.Cards()
	r.submitted[seat] = true
	if seat == fm {
		r.emit(1-seat, protocol.EventOpponentSlotCount, protocol.OpponentSlotCount{Count: len(slot)})
		r.startCountdown()
		return nil
	}
	r.resolve()
	return nil
}

// resolve applies the exchange of the current turn and moves on.
func (r *room) resolve() {
	fm := r.firstMover()
	resp := 1 - fm
	r.hands[fm], r.hands[resp] = engine.ApplyExchange(r.hands[fm], r.hands[resp], r.slots[fm], r.slots[resp])
	r.exchanges = append(r.exchanges, database.ExchangeRecord{
		Turn:       r.turn,
		FirstMover: r.seats[fm].id,
		Offered:    engine.FormatCards(r.slots[fm]),
		Returned:   engine.FormatCards(r.slots[resp]),
	})

	completed := r.turn
	last := completed >= r.hub.opts.Rules.Turns
	r.turn++
	next := r.firstMover()
	for seat := range r.seats {
		r.emit(seat, protocol.EventExchangeComplete, protocol.ExchangeComplete{
			Hand:         engine.CardsToStrings(r.hands[seat]),
			OpponentHand: engine.CardsToStrings(r.hands[1-seat]),
			OpponentSlot: engine.CardsToStrings(r.slots[1-seat]),
			IsMyTurn:     !last && next == seat,
			Turn:         completed,
		})
	}
	r.slots = [2]engine.Slot{}
	r.submitted = [2]bool{}
	if last {
		r.turn = completed
		r.finish(false)
		return
	}
	// Clients reveal the exchange before the next countdown.
	r.gen++
	r.countdown = r.hub.opts.Rules.TurnSeconds
	r.after(r.hub.opts.TurnGap, r.startCountdown)
}

// leave forfeits the match for p.
func (r *room) leave(p *player) {
	r.locked(func() {
		if r.ended {
			return
		}
		seat := r.seatOf(p)
		r.log.WithField("player", p.id).Info("player left")
		r.emit(1-seat, protocol.EventOpponentLeft, nil)
		r.finish(true)
	})
}

// disconnected starts the forfeit timer for p's seat.
func (r *room) disconnected(p *player) {
	r.locked(func() {
		if r.ended {
			return
		}
		seat := r.seatOf(p)
		r.grace[seat]++
		g := r.grace[seat]
		time.AfterFunc(r.hub.opts.ReconnectGrace, func() {
			r.locked(func() {
				if r.ended || r.grace[seat] != g || p.connected() {
					return
				}
				r.log.WithField("player", p.id).Info("player did not come back")
				r.emit(1-seat, protocol.EventOpponentLeft, nil)
				r.finish(true)
			})
		})
	})
}

// reconnected cancels p's forfeit timer. The client asks for state itself.
func (r *room) reconnected(p *player) {
	r.locked(func() {
		if !r.ended {
			r.grace[r.seatOf(p)]++
		}
	})
}

// sync answers request-sync with p's view of the match.
func (r *room) sync(p *player) {
	r.locked(func() {
		seat := r.seatOf(p)
		if r.ended {
			r.emit(seat, protocol.EventSyncState, protocol.SyncState{InMatch: false})
			return
		}
		turn := max(r.turn, 1)
		fm := r.first
		if turn%2 == 0 {
			fm = 1 - r.first
		}
		st := protocol.SyncState{
			InMatch:      true,
			OpponentID:   r.seats[1-seat].id,
			Turn:         turn,
			Hand:         engine.CardsToStrings(r.hands[seat]),
			OpponentHand: engine.CardsToStrings(r.hands[1-seat]),
			IsMyTurn:     fm == seat,
			Countdown:    r.countdown,
		}
		if !r.started {
			st.Countdown = r.hub.opts.Rules.TurnSeconds
		}
		if seat != fm && r.submitted[fm] {
			st.OpponentSlotCount = len(r.slots[fm])
		}
		if r.submitted[seat] {
			st.Submitted = engine.CardsToStrings(r.slots[seat])
		}
		r.emit(seat, protocol.EventSyncState, st)
	})
}
