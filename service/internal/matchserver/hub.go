package matchserver

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	engine "github.com/437437/open-trade-poker/engine"
	"github.com/437437/open-trade-poker/service/internal/database"
	"github.com/437437/open-trade-poker/service/internal/protocol"
)

// Error codes sent in error events.
const (
	codeBadRequest   = "bad-request"
	codeInMatch      = "in-match"
	codeNotInMatch   = "not-in-match"
	codeIllegalSlot  = "illegal-slot"
	codeUnknownEvent = "unknown-event"
)

// player outlives its connections so a reconnect can reclaim the seat.
type player struct {
	id string

	mu       sync.Mutex
	conn     *client
	room     *room
	presence string
	lastSeen time.Time
}

func (p *player) currentRoom() *room {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.room
}

func (p *player) setRoom(r *room) {
	p.mu.Lock()
	p.room = r
	p.mu.Unlock()
}

func (p *player) connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

func (p *player) touch(presence string) {
	p.mu.Lock()
	if presence != "" {
		p.presence = presence
	}
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

// emit sends one event to the player's live connection, if any.
func (p *player) emit(log *logrus.Entry, event protocol.Event, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		log.WithError(err).WithField("event", event).Error("encoding event")
		return
	}
	p.mu.Lock()
	c := p.conn
	p.mu.Unlock()
	if c != nil {
		c.Send(frame)
	}
}

func (p *player) fail(log *logrus.Entry, code, msg string) {
	p.emit(log, protocol.EventError, protocol.Error{Code: code, Message: msg})
}

// Hub owns players, the matchmaking queue and rooms. Lock order is room,
// then hub, then player; the hub never calls into a room with its lock held.
type Hub struct {
	opts Options
	log  *logrus.Entry

	mu      sync.Mutex
	rng     *engine.Rand
	players map[string]*player
	queue   []*player
	rooms   map[uuid.UUID]*room
	closed  bool
}

func newHub(opts Options) *Hub {
	return &Hub{
		opts:    opts,
		log:     opts.Log.WithField("component", "matchserver"),
		rng:     engine.NewRand(opts.Seed),
		players: make(map[string]*player),
		rooms:   make(map[uuid.UUID]*room),
	}
}

// attach binds a new connection to a fresh or reclaimed player and starts
// its pumps.
func (h *Hub) attach(conn *websocket.Conn, token string) {
	var p *player
	if token != "" {
		id, err := parseToken(h.opts.SigningKey, token)
		if err != nil {
			h.log.WithError(err).Debug("ignoring reconnect token")
		} else {
			h.mu.Lock()
			p = h.players[id]
			h.mu.Unlock()
		}
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	reclaimed := p != nil
	if p == nil {
		p = &player{id: uuid.NewString()}
		h.players[p.id] = p
	}
	h.mu.Unlock()

	c := newClient(h, conn, p)
	p.mu.Lock()
	old := p.conn
	p.conn = c
	r := p.room
	p.mu.Unlock()
	p.touch(protocol.PresenceActive)
	if old != nil {
		old.kick()
	}

	go c.writePump()
	go c.readPump()

	tok, err := issueToken(h.opts.SigningKey, p.id, h.opts.TokenTTL)
	if err != nil {
		h.log.WithError(err).Error("issuing token")
	}
	p.emit(h.log, protocol.EventWelcome, protocol.Welcome{PlayerID: p.id, Token: tok})
	h.log.WithFields(logrus.Fields{"player": p.id, "reclaimed": reclaimed}).Info("player connected")
	if r != nil {
		r.reconnected(p)
	}
}

// disconnected runs when a connection's read pump exits.
func (h *Hub) disconnected(c *client) {
	p := c.player
	p.mu.Lock()
	if p.conn != c {
		// Replaced by a newer connection.
		p.mu.Unlock()
		return
	}
	p.conn = nil
	r := p.room
	p.mu.Unlock()

	h.dequeue(p)
	h.log.WithField("player", p.id).Info("player disconnected")
	if r != nil {
		r.disconnected(p)
		return
	}
	h.mu.Lock()
	delete(h.players, p.id)
	h.mu.Unlock()
}

// handle dispatches one inbound envelope.
func (h *Hub) handle(c *client, env protocol.Envelope) {
	p := c.player
	p.mu.Lock()
	stale := p.conn != c
	p.mu.Unlock()
	if stale {
		return
	}
	p.touch("")

	switch env.Event {
	case protocol.EventStartMatching:
		h.enqueue(p)
	case protocol.EventCancelMatching:
		h.dequeue(p)
		// A cancel that crossed a match announcement forfeits the new match.
		if r := p.currentRoom(); r != nil {
			r.leave(p)
		}
	case protocol.EventLeaveGame:
		h.dequeue(p)
		if r := p.currentRoom(); r != nil {
			r.leave(p)
		}
	case protocol.EventSubmitSlot:
		var req protocol.SubmitSlot
		if err := env.Bind(&req); err != nil {
			p.fail(h.log, codeBadRequest, err.Error())
			return
		}
		slot, err := engine.CardsFromStrings(req.Slot)
		if err != nil {
			p.fail(h.log, codeIllegalSlot, err.Error())
			return
		}
		r := p.currentRoom()
		if r == nil {
			p.fail(h.log, codeNotInMatch, "no match to submit to")
			return
		}
		if err := r.submit(p, slot); err != nil {
			p.fail(h.log, codeIllegalSlot, err.Error())
		}
	case protocol.EventPresence:
		var pr protocol.Presence
		if err := env.Bind(&pr); err != nil {
			p.fail(h.log, codeBadRequest, err.Error())
			return
		}
		p.touch(pr.State)
		h.log.WithFields(logrus.Fields{"player": p.id, "state": pr.State}).Debug("presence")
	case protocol.EventPresencePing:
	case protocol.EventRequestSync:
		if r := p.currentRoom(); r != nil {
			r.sync(p)
			return
		}
		p.emit(h.log, protocol.EventSyncState, protocol.SyncState{InMatch: false})
	default:
		p.fail(h.log, codeUnknownEvent, string(env.Event))
	}
}

// enqueue adds p to the queue, or pairs it with the longest-waiting player.
func (h *Hub) enqueue(p *player) {
	if p.currentRoom() != nil {
		p.fail(h.log, codeInMatch, "already in a match")
		return
	}
	h.mu.Lock()
	if h.closed || slices.Contains(h.queue, p) {
		h.mu.Unlock()
		return
	}
	if len(h.queue) == 0 {
		h.queue = append(h.queue, p)
		h.mu.Unlock()
		h.log.WithField("player", p.id).Debug("queued")
		return
	}
	other := h.queue[0]
	h.queue = h.queue[1:]
	deal := engine.BuildDeck(h.rng.Uint64())
	first := h.rng.IntN(2)
	r := newRoom(h, [2]*player{other, p}, deal, first)
	h.rooms[r.id] = r
	h.mu.Unlock()

	r.begin()
}

func (h *Hub) dequeue(p *player) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i := slices.Index(h.queue, p); i >= 0 {
		h.queue = slices.Delete(h.queue, i, i+1)
	}
}

// roomEnded unregisters r, forgets its disconnected players and records
// the match.
func (h *Hub) roomEnded(r *room, rec *database.MatchRecord) {
	h.mu.Lock()
	delete(h.rooms, r.id)
	for _, p := range r.seats {
		if !p.connected() {
			delete(h.players, p.id)
		}
	}
	closed := h.closed
	h.mu.Unlock()

	if rec == nil || closed || h.opts.Recorder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.opts.Recorder.RecordMatch(ctx, *rec); err != nil {
			h.log.WithError(err).WithField("match", r.id).Error("recording match")
		}
	}()
}

func (h *Hub) stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Players: len(h.players), Queued: len(h.queue), Rooms: len(h.rooms)}
}

func (h *Hub) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	players := make([]*player, 0, len(h.players))
	for _, p := range h.players {
		players = append(players, p)
	}
	h.queue = nil
	h.mu.Unlock()

	for _, r := range rooms {
		r.shutdown()
	}
	for _, p := range players {
		p.mu.Lock()
		c := p.conn
		p.mu.Unlock()
		if c != nil {
			c.kick()
		}
	}
}
