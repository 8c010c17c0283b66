package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/437437/open-trade-poker/service/internal/protocol"
	"github.com/437437/open-trade-poker/service/internal/transport"
)

// fastTimings keeps every timer-driven path well under a second.
func fastTimings() Timings {
	return Timings{
		AIThink:          15 * time.Millisecond,
		AIReveal:         5 * time.Millisecond,
		AIResolve:        25 * time.Millisecond,
		OnlineReveal:     15 * time.Millisecond,
		ReturnHome:       15 * time.Millisecond,
		PreMatchStep:     5 * time.Millisecond,
		Tick:             5 * time.Millisecond,
		PresencePing:     20 * time.Millisecond,
		TurnSeconds:      30,
		MatchWaitSeconds: 60,
		PreMatchSteps:    3,
	}
}

// sentEvent is one captured outbound event.
type sentEvent struct {
	Event   protocol.Event
	Payload any
}

// mockEmitter is an in-memory transport.Emitter. Delivered events reach the
// subscribed handlers synchronously, on the caller's goroutine.
type mockEmitter struct {
	mu        sync.Mutex
	connected bool
	sent      []sentEvent
	next      int
	handlers  map[protocol.Event]map[int]transport.Handler
	hooks     map[int]func()
}

var _ transport.Emitter = (*mockEmitter)(nil)

func newMockEmitter(connected bool) *mockEmitter {
	return &mockEmitter{
		connected: connected,
		handlers:  make(map[protocol.Event]map[int]transport.Handler),
		hooks:     make(map[int]func()),
	}
}

func (e *mockEmitter) Emit(_ context.Context, event protocol.Event, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, sentEvent{Event: event, Payload: payload})
	return nil
}

func (e *mockEmitter) Subscribe(event protocol.Event, h transport.Handler) *transport.Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	id := e.next
	if e.handlers[event] == nil {
		e.handlers[event] = make(map[int]transport.Handler)
	}
	e.handlers[event][id] = h
	return transport.NewSubscription(func() {
		e.mu.Lock()
		delete(e.handlers[event], id)
		e.mu.Unlock()
	})
}

func (e *mockEmitter) OnConnect(fn func()) *transport.Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	id := e.next
	e.hooks[id] = fn
	return transport.NewSubscription(func() {
		e.mu.Lock()
		delete(e.hooks, id)
		e.mu.Unlock()
	})
}

func (e *mockEmitter) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// connect simulates a (re)connect.
func (e *mockEmitter) connect() {
	e.mu.Lock()
	e.connected = true
	hooks := make([]func(), 0, len(e.hooks))
	for _, fn := range e.hooks {
		hooks = append(hooks, fn)
	}
	e.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// deliver sends an inbound event through the wire encoding.
func (e *mockEmitter) deliver(t *testing.T, event protocol.Event, payload any) {
	t.Helper()
	frame, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	env, err := protocol.Decode(frame)
	require.NoError(t, err)

	e.mu.Lock()
	hs := make([]transport.Handler, 0, len(e.handlers[event]))
	for _, h := range e.handlers[event] {
		hs = append(hs, h)
	}
	e.mu.Unlock()
	for _, h := range hs {
		h(env)
	}
}

func (e *mockEmitter) subscribers(event protocol.Event) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers[event])
}

// events returns the captured outbound events named event.
func (e *mockEmitter) events(event protocol.Event) []sentEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []sentEvent
	for _, s := range e.sent {
		if s.Event == event {
			out = append(out, s)
		}
	}
	return out
}

func (e *mockEmitter) last(event protocol.Event) (sentEvent, bool) {
	evs := e.events(event)
	if len(evs) == 0 {
		return sentEvent{}, false
	}
	return evs[len(evs)-1], true
}
