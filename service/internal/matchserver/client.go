package matchserver

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/437437/open-trade-poker/service/internal/protocol"
)

const (
	// Time allowed to write a message to a client.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from a client.
	pongWait = 60 * time.Second

	// Ping period; must be less than pongWait.
	pingInterval = 50 * time.Second

	// Requests are small JSON envelopes.
	maxMessageSize = 4096

	sendBuffer = 64
)

// client is one websocket connection of a player.
type client struct {
	*websocket.Conn

	hub    *Hub
	player *player
	send   chan []byte

	mu     sync.Mutex
	closed bool // send is closed
}

func newClient(h *Hub, conn *websocket.Conn, p *player) *client {
	return &client{Conn: conn, hub: h, player: p, send: make(chan []byte, sendBuffer)}
}

// Send queues a frame. A client too slow to drain its buffer is dropped.
func (c *client) Send(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		c.hub.log.WithField("player", c.player.id).Warn("send buffer full, dropping client")
		c.closed = true
		close(c.send)
	}
}

// kick closes the send channel; the write pump then closes the connection.
func (c *client) kick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.disconnected(c)
		c.kick()
		c.Close()
	}()

	c.SetReadLimit(maxMessageSize)
	c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.Decode(frame)
		if err != nil {
			c.hub.log.WithError(err).WithField("player", c.player.id).Debug("dropping malformed frame")
			continue
		}
		c.hub.handle(c, env)
	}
}

func (c *client) writePump() {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		c.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
