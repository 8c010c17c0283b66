package matchserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engine "github.com/437437/open-trade-poker/engine"
	"github.com/437437/open-trade-poker/service/internal/database"
	"github.com/437437/open-trade-poker/service/internal/protocol"
)

const waitFor = 2 * time.Second

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// fakeRecorder hands recorded matches to the test.
type fakeRecorder struct {
	ch chan database.MatchRecord
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{ch: make(chan database.MatchRecord, 4)}
}

func (f *fakeRecorder) RecordMatch(_ context.Context, rec database.MatchRecord) error {
	f.ch <- rec
	return nil
}

func (f *fakeRecorder) next(t *testing.T) database.MatchRecord {
	t.Helper()
	select {
	case rec := <-f.ch:
		return rec
	case <-time.After(waitFor):
		t.Fatal("no match recorded")
		return database.MatchRecord{}
	}
}

// testOptions has the countdown disabled so tests drive every submit.
func testOptions(rec Recorder) Options {
	return Options{
		SigningKey:     []byte("test-key"),
		Log:            quietLog(),
		Recorder:       rec,
		Rules:          engine.MatchRules{Turns: 3, HandSize: 6, MaxSlot: 4, CopiesPerSuit: 6},
		Seed:           7,
		Tick:           5 * time.Millisecond,
		StartDelay:     10 * time.Millisecond,
		TurnGap:        10 * time.Millisecond,
		SubmitGrace:    10 * time.Millisecond,
		ReconnectGrace: time.Second,
	}
}

func startServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(opts)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// testClient is a raw protocol client. Only the test goroutine writes.
type testClient struct {
	t     *testing.T
	conn  *websocket.Conn
	in    chan protocol.Envelope
	id    string
	token string
}

func dial(t *testing.T, ts *httptest.Server, token string) *testClient {
	t.Helper()
	u := wsURL(ts)
	if token != "" {
		u += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	c := &testClient{t: t, conn: conn, in: make(chan protocol.Envelope, 256)}
	t.Cleanup(func() { conn.Close() })
	go func() {
		defer close(c.in)
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := protocol.Decode(frame)
			if err != nil {
				continue
			}
			c.in <- env
		}
	}()
	w := expect[protocol.Welcome](c, protocol.EventWelcome)
	require.NotEmpty(t, w.PlayerID)
	require.NotEmpty(t, w.Token)
	c.id, c.token = w.PlayerID, w.Token
	return c
}

func (c *testClient) send(event protocol.Event, payload any) {
	c.t.Helper()
	frame, err := protocol.Encode(event, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, frame))
}

func (c *testClient) submit(cards []string) {
	c.send(protocol.EventSubmitSlot, protocol.SubmitSlot{Slot: cards})
}

// expect skips frames until one of event arrives and decodes its payload.
func expect[T any](c *testClient, event protocol.Event) T {
	c.t.Helper()
	var out T
	deadline := time.After(waitFor)
	for {
		select {
		case env, ok := <-c.in:
			if !ok {
				c.t.Fatalf("connection closed waiting for %s", event)
			}
			if env.Event != event {
				continue
			}
			require.NoError(c.t, env.Bind(&out))
			return out
		case <-deadline:
			c.t.Fatalf("timed out waiting for %s", event)
			return out
		}
	}
}

// seat tracks one side of a match as the client sees it.
type seat struct {
	*testClient
	hand  []string
	first bool
}

func pair(t *testing.T, ts *httptest.Server) (a, b *seat) {
	t.Helper()
	ca, cb := dial(t, ts, ""), dial(t, ts, "")
	ca.send(protocol.EventStartMatching, nil)
	cb.send(protocol.EventStartMatching, nil)

	assert.Equal(t, cb.id, expect[protocol.Match](ca, protocol.EventMatch).OpponentID)
	assert.Equal(t, ca.id, expect[protocol.Match](cb, protocol.EventMatch).OpponentID)
	ga := expect[protocol.StartGame](ca, protocol.EventStartGame)
	gb := expect[protocol.StartGame](cb, protocol.EventStartGame)
	require.Len(t, ga.Hand, 6)
	assert.Equal(t, ga.Hand, gb.OpponentHand)
	assert.Equal(t, gb.Hand, ga.OpponentHand)
	assert.NotEqual(t, ga.First, gb.First, "exactly one side moves first")
	return &seat{ca, ga.Hand, ga.First}, &seat{cb, gb.Hand, gb.First}
}

func sortedWorld(a, b []string) string {
	cards, _ := engine.CardsFromStrings(append(append([]string(nil), a...), b...))
	return engine.FormatCards(engine.SortedCopy(cards))
}

// playTurn has the first mover offer its first n cards and the responder
// answer with its first n cards.
func playTurn(t *testing.T, a, b *seat, turn, n int) {
	t.Helper()
	fm, rs := a, b
	if b.first {
		fm, rs = b, a
	}
	world := sortedWorld(a.hand, b.hand)
	offer := append([]string(nil), fm.hand[:n]...)
	answer := append([]string(nil), rs.hand[:n]...)

	fm.submit(offer)
	assert.Equal(t, n, expect[protocol.OpponentSlotCount](rs.testClient, protocol.EventOpponentSlotCount).Count)
	rs.submit(answer)

	ef := expect[protocol.ExchangeComplete](fm.testClient, protocol.EventExchangeComplete)
	er := expect[protocol.ExchangeComplete](rs.testClient, protocol.EventExchangeComplete)
	assert.Equal(t, turn, ef.Turn)
	assert.Equal(t, turn, er.Turn)
	assert.Equal(t, answer, ef.OpponentSlot)
	assert.Equal(t, offer, er.OpponentSlot)
	assert.Equal(t, ef.Hand, er.OpponentHand)
	assert.Equal(t, world, sortedWorld(ef.Hand, er.Hand))

	fm.hand, fm.first = ef.Hand, ef.IsMyTurn
	rs.hand, rs.first = er.Hand, er.IsMyTurn
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestFullMatch(t *testing.T) {
	rec := newFakeRecorder()
	s, ts := startServer(t, testOptions(rec))
	a, b := pair(t, ts)
	firstID := a.id
	if b.first {
		firstID = b.id
	}

	for turn := 1; turn <= 3; turn++ {
		before := a.first
		playTurn(t, a, b, turn, turn)
		if turn < 3 {
			assert.Equal(t, !before, a.first, "first mover alternates")
		} else {
			assert.False(t, a.first)
			assert.False(t, b.first)
		}
	}

	got := rec.next(t)
	assert.False(t, got.Abandoned)
	assert.Equal(t, firstID, got.FirstMover)
	assert.Len(t, got.Exchanges, 3)
	assert.ElementsMatch(t, []string{a.id, b.id}, got.Players[:])

	scores := map[string]int{}
	for i, id := range got.Players {
		scores[id] = got.Scores[i]
	}
	ha, _ := engine.CardsFromStrings(a.hand)
	hb, _ := engine.CardsFromStrings(b.hand)
	assert.Equal(t, engine.Score(ha), scores[a.id])
	assert.Equal(t, engine.Score(hb), scores[b.id])
	switch {
	case scores[a.id] > scores[b.id]:
		assert.Equal(t, a.id, got.Winner)
	case scores[a.id] < scores[b.id]:
		assert.Equal(t, b.id, got.Winner)
	default:
		assert.Empty(t, got.Winner)
	}

	assert.Eventually(t, func() bool { return s.Stats().Rooms == 0 }, waitFor, 5*time.Millisecond)
	a.send(protocol.EventRequestSync, nil)
	assert.False(t, expect[protocol.SyncState](a.testClient, protocol.EventSyncState).InMatch)
}

func TestSubmitValidation(t *testing.T) {
	_, ts := startServer(t, testOptions(nil))
	a, b := pair(t, ts)
	fm, rs := a, b
	if b.first {
		fm, rs = b, a
	}

	rs.submit(rs.hand[:1])
	assert.Equal(t, codeIllegalSlot, expect[protocol.Error](rs.testClient, protocol.EventError).Code)

	fm.submit(fm.hand[:5])
	assert.Equal(t, codeIllegalSlot, expect[protocol.Error](fm.testClient, protocol.EventError).Code)

	fm.submit([]string{"Z"})
	assert.Equal(t, codeIllegalSlot, expect[protocol.Error](fm.testClient, protocol.EventError).Code)

	fm.submit(fm.hand[:2])
	expect[protocol.OpponentSlotCount](rs.testClient, protocol.EventOpponentSlotCount)
	fm.submit(fm.hand[2:4])
	assert.Equal(t, codeIllegalSlot, expect[protocol.Error](fm.testClient, protocol.EventError).Code)

	rs.submit(rs.hand[:3])
	assert.Equal(t, codeIllegalSlot, expect[protocol.Error](rs.testClient, protocol.EventError).Code)

	rs.send(protocol.EventStartMatching, nil)
	assert.Equal(t, codeInMatch, expect[protocol.Error](rs.testClient, protocol.EventError).Code)

	rs.send(protocol.Event("bogus"), nil)
	assert.Equal(t, codeUnknownEvent, expect[protocol.Error](rs.testClient, protocol.EventError).Code)

	rs.submit(rs.hand[:2])
	assert.Equal(t, 1, expect[protocol.ExchangeComplete](rs.testClient, protocol.EventExchangeComplete).Turn)
}

func TestSubmitWithoutMatch(t *testing.T) {
	_, ts := startServer(t, testOptions(nil))
	c := dial(t, ts, "")
	c.submit([]string{"A"})
	assert.Equal(t, codeNotInMatch, expect[protocol.Error](c, protocol.EventError).Code)

	c.send(protocol.EventRequestSync, nil)
	assert.False(t, expect[protocol.SyncState](c, protocol.EventSyncState).InMatch)
}

func TestCancelMatching(t *testing.T) {
	s, ts := startServer(t, testOptions(nil))
	a := dial(t, ts, "")
	a.send(protocol.EventStartMatching, nil)
	require.Eventually(t, func() bool { return s.Stats().Queued == 1 }, waitFor, 5*time.Millisecond)
	a.send(protocol.EventCancelMatching, nil)
	require.Eventually(t, func() bool { return s.Stats().Queued == 0 }, waitFor, 5*time.Millisecond)

	b := dial(t, ts, "")
	b.send(protocol.EventStartMatching, nil)
	require.Eventually(t, func() bool { return s.Stats().Queued == 1 }, waitFor, 5*time.Millisecond)
	assert.Zero(t, s.Stats().Rooms)
}

func TestLeaveGameForfeits(t *testing.T) {
	rec := newFakeRecorder()
	s, ts := startServer(t, testOptions(rec))
	a, b := pair(t, ts)

	a.send(protocol.EventLeaveGame, nil)
	expect[struct{}](b.testClient, protocol.EventOpponentLeft)

	got := rec.next(t)
	assert.True(t, got.Abandoned)
	assert.Empty(t, got.Winner)
	assert.Eventually(t, func() bool { return s.Stats().Rooms == 0 }, waitFor, 5*time.Millisecond)

	b.send(protocol.EventRequestSync, nil)
	assert.False(t, expect[protocol.SyncState](b.testClient, protocol.EventSyncState).InMatch)
}

func TestCancelAfterMatchForfeits(t *testing.T) {
	s, ts := startServer(t, testOptions(nil))
	a, b := pair(t, ts)

	a.send(protocol.EventCancelMatching, nil)
	expect[struct{}](b.testClient, protocol.EventOpponentLeft)
	require.Eventually(t, func() bool { return s.Stats().Rooms == 0 }, waitFor, 5*time.Millisecond)

	// Both are free to queue again.
	a.send(protocol.EventStartMatching, nil)
	b.send(protocol.EventStartMatching, nil)
	assert.Equal(t, b.id, expect[protocol.Match](a.testClient, protocol.EventMatch).OpponentID)
	assert.Equal(t, a.id, expect[protocol.Match](b.testClient, protocol.EventMatch).OpponentID)
}

func TestReconnectReclaimsSeat(t *testing.T) {
	_, ts := startServer(t, testOptions(nil))
	a, b := pair(t, ts)
	fm, rs := a, b
	if b.first {
		fm, rs = b, a
	}
	offer := fm.hand[:2]
	fm.submit(offer)
	expect[protocol.OpponentSlotCount](rs.testClient, protocol.EventOpponentSlotCount)

	require.NoError(t, fm.conn.Close())
	again := dial(t, ts, fm.token)
	assert.Equal(t, fm.id, again.id)

	again.send(protocol.EventRequestSync, nil)
	st := expect[protocol.SyncState](again, protocol.EventSyncState)
	assert.True(t, st.InMatch)
	assert.Equal(t, rs.id, st.OpponentID)
	assert.Equal(t, 1, st.Turn)
	assert.True(t, st.IsMyTurn)
	assert.Equal(t, fm.hand, st.Hand)
	assert.Equal(t, rs.hand, st.OpponentHand)
	assert.Equal(t, offer, st.Submitted)

	rs.send(protocol.EventRequestSync, nil)
	rst := expect[protocol.SyncState](rs.testClient, protocol.EventSyncState)
	assert.Equal(t, 2, rst.OpponentSlotCount)
	assert.Empty(t, rst.Submitted)

	rs.submit(rs.hand[:2])
	ex := expect[protocol.ExchangeComplete](again, protocol.EventExchangeComplete)
	assert.Equal(t, 1, ex.Turn)
	assert.Equal(t, rs.hand[:2], ex.OpponentSlot)
}

func TestBadTokenGetsNewPlayer(t *testing.T) {
	_, ts := startServer(t, testOptions(nil))
	a := dial(t, ts, "")
	b := dial(t, ts, "forged")
	assert.NotEqual(t, a.id, b.id)
}

func TestDisconnectForfeitsAfterGrace(t *testing.T) {
	rec := newFakeRecorder()
	opts := testOptions(rec)
	opts.ReconnectGrace = 30 * time.Millisecond
	_, ts := startServer(t, opts)
	a, b := pair(t, ts)

	require.NoError(t, a.conn.Close())
	expect[struct{}](b.testClient, protocol.EventOpponentLeft)
	assert.True(t, rec.next(t).Abandoned)

	// The forfeited player is forgotten; its token names nobody now.
	again := dial(t, ts, a.token)
	assert.NotEqual(t, a.id, again.id)
}

func TestIdlePlayersAreSubmittedFor(t *testing.T) {
	opts := testOptions(nil)
	opts.Rules.TurnSeconds = 2
	_, ts := startServer(t, opts)
	a, b := pair(t, ts)
	fm, rs := a, b
	if b.first {
		fm, rs = b, a
	}

	tick := expect[protocol.CountdownTick](rs.testClient, protocol.EventCountdownTick)
	assert.Equal(t, 1, tick.Countdown)
	assert.Equal(t, 2, expect[protocol.OpponentSlotCount](rs.testClient, protocol.EventOpponentSlotCount).Count)

	er := expect[protocol.ExchangeComplete](rs.testClient, protocol.EventExchangeComplete)
	ef := expect[protocol.ExchangeComplete](fm.testClient, protocol.EventExchangeComplete)
	assert.Equal(t, fm.hand[:2], er.OpponentSlot)
	assert.Equal(t, rs.hand[:2], ef.OpponentSlot)
	assert.True(t, er.IsMyTurn)
}

func TestHealthz(t *testing.T) {
	_, ts := startServer(t, testOptions(nil))
	dial(t, ts, "").send(protocol.EventStartMatching, nil)

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var st Stats
		if json.NewDecoder(resp.Body).Decode(&st) != nil {
			return false
		}
		return st.Players == 1 && st.Queued == 1
	}, waitFor, 5*time.Millisecond)
}
