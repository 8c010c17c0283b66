// Package matchserver is the reference match server: matchmaking, the
// server-authoritative turn protocol and reconnect tokens over websockets.
package matchserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	engine "github.com/437437/open-trade-poker/engine"
	"github.com/437437/open-trade-poker/service/internal/database"
)

// Recorder persists finished matches. *database.Store implements it.
type Recorder interface {
	RecordMatch(ctx context.Context, rec database.MatchRecord) error
}

// Options configures a Server. Zero durations take the defaults.
type Options struct {
	SigningKey []byte // HMAC key for reconnect tokens; required
	Log        *logrus.Entry
	Recorder   Recorder // nil disables match history
	Rules      engine.MatchRules
	Seed       uint64 // 0 seeds from the clock

	Tick           time.Duration // countdown tick, default 1s
	StartDelay     time.Duration // match found until start-game, default 3s
	TurnGap        time.Duration // exchange until the next countdown, default 3s
	SubmitGrace    time.Duration // countdown end until the server submits, default 3s
	ReconnectGrace time.Duration // disconnect until the seat is forfeited, default 20s
	TokenTTL       time.Duration // default 24h

	CheckOrigin func(r *http.Request) bool // nil allows every origin
}

func (o Options) withDefaults() Options {
	if o.Rules == (engine.MatchRules{}) {
		o.Rules = engine.DefaultMatchRules()
	}
	o.Rules = o.Rules.Normalized()
	if o.Tick <= 0 {
		o.Tick = time.Second
	}
	if o.StartDelay <= 0 {
		o.StartDelay = 3 * time.Second
	}
	if o.TurnGap <= 0 {
		o.TurnGap = 3 * time.Second
	}
	if o.SubmitGrace <= 0 {
		o.SubmitGrace = 3 * time.Second
	}
	if o.ReconnectGrace <= 0 {
		o.ReconnectGrace = 20 * time.Second
	}
	if o.TokenTTL <= 0 {
		o.TokenTTL = 24 * time.Hour
	}
	if o.Seed == 0 {
		o.Seed = engine.TimeSeed()
	}
	if o.Log == nil {
		o.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return o
}

// Server serves the websocket endpoint.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// New returns a server. It fails without a signing key.
func New(opts Options) (*Server, error) {
	if len(opts.SigningKey) == 0 {
		return nil, errors.New("matchserver: signing key required")
	}
	opts = opts.withDefaults()
	check := opts.CheckOrigin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}
	return &Server{
		hub:      newHub(opts),
		upgrader: websocket.Upgrader{CheckOrigin: check},
	}, nil
}

// ServeHTTP upgrades the request and hands the connection to the hub. A
// "token" query parameter from an earlier welcome reclaims the player's seat.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		s.hub.log.WithError(err).Debug("upgrade failed")
		return
	}
	s.hub.attach(conn, r.URL.Query().Get("token"))
}

// Handler routes /ws to the websocket endpoint and /healthz to Stats.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.Stats())
	})
	return mux
}

// Stats counts live players, queued players and rooms.
type Stats struct {
	Players int `json:"players"`
	Queued  int `json:"queued"`
	Rooms   int `json:"rooms"`
}

// Stats returns the current counts.
func (s *Server) Stats() Stats { return s.hub.stats() }

// Close ends every room without recording it and drops every connection.
func (s *Server) Close() { s.hub.close() }
