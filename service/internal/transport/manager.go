// Package transport owns the client's websocket connection to the match
// server. One Manager is shared by every consumer in the process; consumers
// acquire and release it, and only Shutdown tears it down.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/437437/open-trade-poker/service/internal/protocol"
)

var (
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("transport: connection manager shut down")
	// ErrNotConnected is returned by Emit while no connection is up.
	ErrNotConnected = errors.New("transport: not connected")
)

// Handler receives one inbound envelope. Handlers run on the read loop and
// must not block.
type Handler func(env protocol.Envelope)

// Emitter is the part of the Manager a session controller needs.
type Emitter interface {
	Emit(ctx context.Context, event protocol.Event, payload any) error
	Subscribe(event protocol.Event, h Handler) *Subscription
	OnConnect(fn func()) *Subscription
	Connected() bool
}

// Options configures a Manager.
type Options struct {
	URL         string
	Log         *logrus.Entry
	DialTimeout time.Duration // default 10s
	MinBackoff  time.Duration // default 250ms
	MaxBackoff  time.Duration // default 5s
}

// Manager dials the server, reconnects with capped exponential backoff and
// fans inbound envelopes out to subscribers.
type Manager struct {
	opts Options
	log  *logrus.Entry

	mu        sync.Mutex
	refs      int
	started   bool
	closed    bool
	conn      *websocket.Conn
	token     string
	nextID    uint64
	handlers  map[protocol.Event]map[uint64]Handler
	onConnect map[uint64]func()

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Emitter = (*Manager)(nil)

// NewManager returns an idle manager. Nothing is dialed until Acquire.
func NewManager(opts Options) *Manager {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 250 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 5 * time.Second
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:      opts,
		log:       log.WithField("component", "transport"),
		handlers:  make(map[protocol.Event]map[uint64]Handler),
		onConnect: make(map[uint64]func()),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Acquire registers a consumer. The first call starts the connection loop.
func (m *Manager) Acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.refs++
	if !m.started {
		m.started = true
		go m.run()
	}
	return nil
}

// Release unregisters a consumer. The connection stays up even when no
// consumer remains.
func (m *Manager) Release() {
	m.mu.Lock()
	if m.refs > 0 {
		m.refs--
	}
	m.mu.Unlock()
}

// Refs returns the number of registered consumers.
func (m *Manager) Refs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}

// Shutdown closes the connection, stops reconnecting and drops every
// subscription. It is safe to call more than once.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	started := m.started
	conn := m.conn
	m.handlers = make(map[protocol.Event]map[uint64]Handler)
	m.onConnect = make(map[uint64]func())
	m.mu.Unlock()

	m.cancel()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
	if started {
		<-m.done
	}
}

// Connected reports whether a connection is currently up.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Token returns the last reconnect token the server issued.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Emit sends one envelope.
func (m *Manager) Emit(ctx context.Context, event protocol.Event, payload any) error {
	m.mu.Lock()
	conn, closed := m.conn, m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("transport: emit %s: %w", event, err)
	}
	return nil
}

// Subscribe registers h for event. Registering the same function twice
// yields two independent subscriptions.
func (m *Manager) Subscribe(event protocol.Event, h Handler) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	if m.handlers[event] == nil {
		m.handlers[event] = make(map[uint64]Handler)
	}
	m.handlers[event][id] = h
	return NewSubscription(func() {
		m.mu.Lock()
		delete(m.handlers[event], id)
		m.mu.Unlock()
	})
}

// OnConnect registers fn to run after every successful (re)connect, before
// any inbound message of that connection is dispatched.
func (m *Manager) OnConnect(fn func()) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.onConnect[id] = fn
	return NewSubscription(func() {
		m.mu.Lock()
		delete(m.onConnect, id)
		m.mu.Unlock()
	})
}

// Subscription removes a handler. Unsubscribe may be called any number of
// times.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// NewSubscription returns a subscription that runs cancel on the first
// Unsubscribe. Other Emitter implementations use it.
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

// Unsubscribe removes the handler.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// ---------------------------------------------------------------------------
// Connection loop
// ---------------------------------------------------------------------------

func (m *Manager) run() {
	defer close(m.done)
	backoff := m.opts.MinBackoff
	for attempt := 1; ; attempt++ {
		if m.ctx.Err() != nil {
			return
		}
		conn, err := m.dial()
		if err != nil {
			m.log.WithError(err).WithField("attempt", attempt).Debug("dial failed")
			if !m.sleep(backoff) {
				return
			}
			backoff = min(2*backoff, m.opts.MaxBackoff)
			continue
		}
		backoff = m.opts.MinBackoff
		attempt = 0

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			conn.Close(websocket.StatusNormalClosure, "shutdown")
			return
		}
		m.conn = conn
		hooks := make([]func(), 0, len(m.onConnect))
		for _, fn := range m.onConnect {
			hooks = append(hooks, fn)
		}
		m.mu.Unlock()

		m.log.Info("connected")
		for _, fn := range hooks {
			fn()
		}
		err = m.readLoop(conn)

		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
		conn.CloseNow()
		if m.ctx.Err() != nil {
			return
		}
		m.log.WithError(err).Warn("connection lost, reconnecting")
		if !m.sleep(backoff) {
			return
		}
	}
}

func (m *Manager) dial() (*websocket.Conn, error) {
	u, err := url.Parse(m.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("transport: bad url: %w", err)
	}
	if tok := m.Token(); tok != "" {
		q := u.Query()
		q.Set("token", tok)
		u.RawQuery = q.Encode()
	}
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.DialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	return conn, err
}

func (m *Manager) readLoop(conn *websocket.Conn) error {
	for {
		_, frame, err := conn.Read(m.ctx)
		if err != nil {
			return err
		}
		env, err := protocol.Decode(frame)
		if err != nil {
			m.log.WithError(err).Warn("dropping malformed frame")
			continue
		}
		if env.Event == protocol.EventWelcome {
			var w protocol.Welcome
			if err := env.Bind(&w); err == nil && w.Token != "" {
				m.mu.Lock()
				m.token = w.Token
				m.mu.Unlock()
			}
		}
		m.dispatch(env)
	}
}

func (m *Manager) dispatch(env protocol.Envelope) {
	m.mu.Lock()
	subs := m.handlers[env.Event]
	hs := make([]Handler, 0, len(subs))
	for _, h := range subs {
		hs = append(hs, h)
	}
	m.mu.Unlock()
	if len(hs) == 0 {
		m.log.WithField("event", env.Event).Debug("no subscriber")
	}
	for _, h := range hs {
		h(env)
	}
}

func (m *Manager) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-m.ctx.Done():
		return false
	}
}
