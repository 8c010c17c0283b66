// Package protocol defines the JSON messages exchanged between the client
// session controller and the match server.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Event names a message type on the wire.
type Event string

// Client to server.
const (
	EventStartMatching  Event = "start-matching"
	EventCancelMatching Event = "cancel-matching"
	EventLeaveGame      Event = "leave-game"
	EventSubmitSlot     Event = "submit-slot"
	EventPresence       Event = "presence"
	EventPresencePing   Event = "presence-ping"
	EventRequestSync    Event = "request-sync"
)

// Server to client.
const (
	EventWelcome           Event = "welcome"
	EventMatch             Event = "match"
	EventStartGame         Event = "start-game"
	EventOpponentSlotCount Event = "opponent-slot-count"
	EventExchangeComplete  Event = "exchange-complete"
	EventCountdownTick     Event = "countdown-tick"
	EventOpponentLeft      Event = "opponent-left"
	EventSyncState         Event = "sync-state"
	EventError             Event = "error"
)

// Envelope is the frame every message travels in.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode wraps payload in an envelope. A nil payload produces no data field.
func Encode(event Event, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: encoding %s: %w", event, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// Decode parses a frame into its envelope.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decoding frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("protocol: frame without event")
	}
	return env, nil
}

// Bind unmarshals the envelope data into dst. Missing data leaves dst as is.
func (e Envelope) Bind(dst any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("protocol: %s payload: %w", e.Event, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Payloads
// ---------------------------------------------------------------------------

// Cards travel as one-letter strings ("A".."D").

type SubmitSlot struct {
	To   string   `json:"to"`
	Slot []string `json:"slot"`
}

// Presence states.
const (
	PresenceActive     = "active"
	PresenceBackground = "background"
)

type Presence struct {
	State string `json:"state"`
}

// Welcome is sent on every connection. Token lets a reconnecting client
// reclaim its seat.
type Welcome struct {
	PlayerID string `json:"playerId"`
	Token    string `json:"token"`
}

type Match struct {
	OpponentID string `json:"opponentId"`
}

type StartGame struct {
	Hand         []string `json:"hand"`
	OpponentHand []string `json:"opponentHand"`
	First        bool     `json:"first"`
}

type OpponentSlotCount struct {
	Count int `json:"count"`
}

// ExchangeComplete reports the exchange of Turn. IsMyTurn tells the receiver
// whether it proposes on the following turn.
type ExchangeComplete struct {
	Hand         []string `json:"hand"`
	OpponentHand []string `json:"opponentHand"`
	OpponentSlot []string `json:"opponentSlot"`
	IsMyTurn     bool     `json:"isMyTurn"`
	Turn         int      `json:"turn"`
}

type CountdownTick struct {
	Countdown int `json:"countdown"`
}

// SyncState answers request-sync. InMatch is false when the server has no
// live match for the player.
type SyncState struct {
	InMatch           bool     `json:"inMatch"`
	OpponentID        string   `json:"opponentId,omitempty"`
	Turn              int      `json:"turn,omitempty"`
	Hand              []string `json:"hand,omitempty"`
	OpponentHand      []string `json:"opponentHand,omitempty"`
	IsMyTurn          bool     `json:"isMyTurn,omitempty"`
	OpponentSlotCount int      `json:"opponentSlotCount,omitempty"`
	Submitted         []string `json:"submitted,omitempty"`
	Countdown         int      `json:"countdown,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
