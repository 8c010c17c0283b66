package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engine "github.com/437437/open-trade-poker/engine"
	"github.com/437437/open-trade-poker/service/internal/protocol"
)

func newTestSession(t *testing.T, timings Timings) (*OnlineSession, *mockEmitter) {
	t.Helper()
	em := newMockEmitter(true)
	s := NewOnlineSession(em, OnlineOptions{Timings: timings})
	t.Cleanup(s.Close)
	return s, em
}

// playingSession is matched against p2 and dealt AABCDD vs BBCCAD.
func playingSession(t *testing.T, first bool) (*OnlineSession, *mockEmitter) {
	t.Helper()
	s, em := newTestSession(t, fastTimings())
	require.True(t, s.StartMatching())
	em.deliver(t, protocol.EventMatch, protocol.Match{OpponentID: "p2"})
	em.deliver(t, protocol.EventStartGame, protocol.StartGame{
		Hand:         []string{"A", "A", "B", "C", "D", "D"},
		OpponentHand: []string{"B", "B", "C", "C", "A", "D"},
		First:        first,
	})
	require.Equal(t, ScenePlaying, s.Snapshot().Scene)
	return s, em
}

func cardsOf(s string) []string { return engine.CardsToStrings(engine.MustParseCards(s)) }

func TestOnlineReportsPresenceOnConnect(t *testing.T) {
	_, em := newTestSession(t, fastTimings())
	ev, ok := em.last(protocol.EventPresence)
	require.True(t, ok)
	assert.Equal(t, protocol.Presence{State: protocol.PresenceActive}, ev.Payload)

	em.connect()
	assert.Len(t, em.events(protocol.EventPresence), 2)
	assert.Empty(t, em.events(protocol.EventRequestSync), "no match, nothing to sync")

	require.Eventually(t, func() bool {
		return len(em.events(protocol.EventPresencePing)) >= 2
	}, time.Second, time.Millisecond)
}

func TestOnlineMatchmakingToPlaying(t *testing.T) {
	s, em := newTestSession(t, fastTimings())
	require.True(t, s.StartMatching())
	assert.False(t, s.StartMatching(), "already matching")
	assert.Len(t, em.events(protocol.EventStartMatching), 1)
	assert.Equal(t, SceneWaiting, s.Snapshot().Scene)

	em.deliver(t, protocol.EventMatch, protocol.Match{OpponentID: "p2"})
	snap := s.Snapshot()
	assert.Equal(t, SceneMatched, snap.Scene)
	assert.Equal(t, 3, snap.PreMatchCountdown)
	assert.Equal(t, "p2", snap.OpponentID)
	require.Eventually(t, func() bool { return s.Snapshot().PreMatchCountdown == 0 }, time.Second, time.Millisecond)

	em.deliver(t, protocol.EventStartGame, protocol.StartGame{
		Hand:         cardsOf("DCBAAD"),
		OpponentHand: cardsOf("BBCCAD"),
		First:        true,
	})
	snap = s.Snapshot()
	assert.Equal(t, ScenePlaying, snap.Scene)
	assert.Equal(t, engine.PhaseSubmitting, snap.Phase)
	assert.True(t, snap.IsMyTurn)
	assert.Equal(t, "AABCDD", engine.FormatCards(snap.Hand), "hand is shown sorted")
	assert.Equal(t, 30, snap.Countdown)
}

func TestOnlineFullMatch(t *testing.T) {
	s, em := playingSession(t, true)

	// Turn 1: we propose the A at display index 0.
	require.True(t, s.Select(0))
	require.NoError(t, s.Submit())
	sub, ok := em.last(protocol.EventSubmitSlot)
	require.True(t, ok)
	assert.Equal(t, protocol.SubmitSlot{To: "p2", Slot: []string{"A"}}, sub.Payload)
	assert.Equal(t, engine.PhaseThinking, s.Snapshot().Phase)

	em.deliver(t, protocol.EventExchangeComplete, protocol.ExchangeComplete{
		Hand:         cardsOf("ABCDDB"),
		OpponentHand: cardsOf("BCCADA"),
		OpponentSlot: []string{"B"},
		IsMyTurn:     false,
		Turn:         1,
	})
	snap := s.Snapshot()
	assert.True(t, snap.Revealing)
	assert.Equal(t, []engine.Card{engine.SuitB}, snap.OpponentSlot)
	assert.Equal(t, 1, snap.Turn, "hands are applied after the reveal delay")

	snap = waitPhase(t, s, 2, engine.PhaseWaiting)
	assert.Equal(t, "ABBCDD", engine.FormatCards(snap.Hand))
	assert.False(t, snap.Revealing)

	// Turn 2: the opponent proposes two cards.
	em.deliver(t, protocol.EventOpponentSlotCount, protocol.OpponentSlotCount{Count: 2})
	snap = s.Snapshot()
	assert.Equal(t, engine.PhaseSubmitting, snap.Phase)
	assert.Equal(t, 2, snap.Required)
	require.True(t, s.Select(4))
	require.True(t, s.Select(5))
	require.NoError(t, s.Submit())
	assert.Equal(t, engine.PhaseWaitingForOpponent, s.Snapshot().Phase)
	sub, _ = em.last(protocol.EventSubmitSlot)
	assert.Equal(t, []string{"D", "D"}, sub.Payload.(protocol.SubmitSlot).Slot)

	em.deliver(t, protocol.EventExchangeComplete, protocol.ExchangeComplete{
		Hand:         cardsOf("ABBCCC"),
		OpponentHand: cardsOf("BADADD"),
		OpponentSlot: []string{"C", "C"},
		IsMyTurn:     true,
		Turn:         2,
	})
	waitPhase(t, s, 3, engine.PhaseSubmitting)

	// Turn 3 and the end.
	require.True(t, s.Select(0))
	require.NoError(t, s.Submit())
	em.deliver(t, protocol.EventExchangeComplete, protocol.ExchangeComplete{
		Hand:         cardsOf("BBCCCD"),
		OpponentHand: cardsOf("BAADDA"),
		OpponentSlot: []string{"D"},
		IsMyTurn:     false,
		Turn:         3,
	})
	require.Eventually(t, func() bool { return s.Snapshot().Scene == SceneDone }, time.Second, time.Millisecond)
	snap = s.Snapshot()
	assert.Equal(t, engine.PhaseDone, snap.Phase)
	assert.Equal(t, [2]int{7, 7}, snap.Scores)
	assert.Equal(t, engine.ResultDraw, snap.Result)
	assert.Equal(t, "Draw at 7", snap.Message)
	assert.Zero(t, em.subscribers(protocol.EventExchangeComplete), "finished match keeps no handlers")
}

func TestOnlineDuplicateExchangeIgnored(t *testing.T) {
	s, em := playingSession(t, true)
	require.True(t, s.Select(0))
	require.NoError(t, s.Submit())

	done := protocol.ExchangeComplete{
		Hand:         cardsOf("ABCDDB"),
		OpponentHand: cardsOf("BCCADA"),
		OpponentSlot: []string{"B"},
		Turn:         1,
	}
	em.deliver(t, protocol.EventExchangeComplete, done)
	em.deliver(t, protocol.EventExchangeComplete, done)
	waitPhase(t, s, 2, engine.PhaseWaiting)
	em.deliver(t, protocol.EventExchangeComplete, done)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 2, s.Snapshot().Turn)
}

func TestOnlineNextTurnCountDuringReveal(t *testing.T) {
	s, em := playingSession(t, true)
	require.True(t, s.Select(0))
	require.NoError(t, s.Submit())

	em.deliver(t, protocol.EventExchangeComplete, protocol.ExchangeComplete{
		Hand:         cardsOf("ABCDDB"),
		OpponentHand: cardsOf("BCCADA"),
		OpponentSlot: []string{"B"},
		IsMyTurn:     false,
		Turn:         1,
	})
	// The opponent proposes turn 2 before our reveal of turn 1 is over.
	em.deliver(t, protocol.EventOpponentSlotCount, protocol.OpponentSlotCount{Count: 2})
	assert.Equal(t, 1, s.Snapshot().Turn)

	snap := waitPhase(t, s, 2, engine.PhaseSubmitting)
	assert.Equal(t, 2, snap.Required)
	assert.Equal(t, 2, snap.OpponentSlotCount)

	em.deliver(t, protocol.EventCountdownTick, protocol.CountdownTick{Countdown: 0})
	subs := em.events(protocol.EventSubmitSlot)
	require.Len(t, subs, 2)
	assert.Equal(t, []string{"A", "B"}, subs[1].Payload.(protocol.SubmitSlot).Slot)
	assert.Equal(t, engine.PhaseWaitingForOpponent, s.Snapshot().Phase)
}

func TestOnlineAutoSubmitOnCountdownZero(t *testing.T) {
	s, em := playingSession(t, true)
	em.deliver(t, protocol.EventCountdownTick, protocol.CountdownTick{Countdown: 5})
	assert.Equal(t, 5, s.Snapshot().Countdown)
	assert.Empty(t, em.events(protocol.EventSubmitSlot))

	em.deliver(t, protocol.EventCountdownTick, protocol.CountdownTick{Countdown: 0})
	sub, ok := em.last(protocol.EventSubmitSlot)
	require.True(t, ok)
	assert.Equal(t, []string{"A", "A"}, sub.Payload.(protocol.SubmitSlot).Slot, "first mover without a selection gives raw cards 0 and 1")
	assert.Equal(t, engine.PhaseThinking, s.Snapshot().Phase)

	em.deliver(t, protocol.EventCountdownTick, protocol.CountdownTick{Countdown: 0})
	assert.Len(t, em.events(protocol.EventSubmitSlot), 1, "no second submit")
}

func TestOnlineResponderAutoSubmitTopsUp(t *testing.T) {
	s, em := playingSession(t, false)
	em.deliver(t, protocol.EventOpponentSlotCount, protocol.OpponentSlotCount{Count: 3})
	require.True(t, s.Select(5)) // D
	em.deliver(t, protocol.EventCountdownTick, protocol.CountdownTick{Countdown: 0})
	sub, ok := em.last(protocol.EventSubmitSlot)
	require.True(t, ok)
	assert.Equal(t, []string{"D", "A", "A"}, sub.Payload.(protocol.SubmitSlot).Slot)
}

func TestOnlineOpponentLeftReturnsHome(t *testing.T) {
	s, em := playingSession(t, true)
	em.deliver(t, protocol.EventOpponentLeft, nil)
	snap := s.Snapshot()
	assert.Equal(t, ScenePlaying, snap.Scene)
	assert.Contains(t, snap.Message, "left")
	assert.Zero(t, em.subscribers(protocol.EventStartGame))

	require.Eventually(t, func() bool { return s.Snapshot().Scene == SceneHome }, time.Second, time.Millisecond)
	assert.True(t, s.StartMatching())
}

func TestOnlineMatchWaitCeiling(t *testing.T) {
	timings := fastTimings()
	timings.MatchWaitSeconds = 4
	s, em := newTestSession(t, timings)
	require.True(t, s.StartMatching())
	require.Eventually(t, func() bool { return len(em.events(protocol.EventCancelMatching)) == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.Snapshot().Scene == SceneHome }, time.Second, time.Millisecond)

	// A late match for the abandoned search is ignored.
	em.deliver(t, protocol.EventMatch, protocol.Match{OpponentID: "late"})
	assert.Equal(t, SceneHome, s.Snapshot().Scene)
}

func TestOnlineBackgroundCancelsMatching(t *testing.T) {
	s, em := newTestSession(t, fastTimings())
	require.True(t, s.StartMatching())
	s.SetForeground(false)

	ev, _ := em.last(protocol.EventPresence)
	assert.Equal(t, protocol.Presence{State: protocol.PresenceBackground}, ev.Payload)
	assert.Len(t, em.events(protocol.EventCancelMatching), 1)
	require.Eventually(t, func() bool { return s.Snapshot().Scene == SceneHome }, time.Second, time.Millisecond)

	s.SetForeground(true)
	ev, _ = em.last(protocol.EventPresence)
	assert.Equal(t, protocol.Presence{State: protocol.PresenceActive}, ev.Payload)
}

func TestOnlineBackgroundWhileMatchedLeaves(t *testing.T) {
	timings := fastTimings()
	timings.PreMatchStep = time.Second
	s, em := newTestSession(t, timings)
	require.True(t, s.StartMatching())
	em.deliver(t, protocol.EventMatch, protocol.Match{OpponentID: "p2"})
	require.Equal(t, SceneMatched, s.Snapshot().Scene)

	s.SetForeground(false)
	assert.Len(t, em.events(protocol.EventLeaveGame), 1)
	assert.Empty(t, em.events(protocol.EventCancelMatching))
	require.Eventually(t, func() bool { return s.Snapshot().Scene == SceneHome }, time.Second, time.Millisecond)
}

func TestOnlineBackgroundDuringPlayKeepsMatch(t *testing.T) {
	s, em := playingSession(t, true)
	s.SetForeground(false)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, ScenePlaying, s.Snapshot().Scene)
	assert.Empty(t, em.events(protocol.EventCancelMatching))
}

func TestOnlineHandlersNotDoubled(t *testing.T) {
	s, em := newTestSession(t, fastTimings())
	for i := 0; i < 3; i++ {
		require.True(t, s.StartMatching())
		s.CancelMatching()
	}
	require.True(t, s.StartMatching())
	assert.Equal(t, 1, em.subscribers(protocol.EventMatch))
	s.LeaveGame()
	assert.Zero(t, em.subscribers(protocol.EventMatch))
	assert.Len(t, em.events(protocol.EventCancelMatching), 4)
}

func TestOnlineLeaveGame(t *testing.T) {
	s, em := playingSession(t, true)
	s.LeaveGame()
	assert.Len(t, em.events(protocol.EventLeaveGame), 1)
	snap := s.Snapshot()
	assert.Equal(t, SceneHome, snap.Scene)
	assert.Empty(t, snap.Hand)

	// Events for the abandoned match change nothing.
	em.deliver(t, protocol.EventOpponentSlotCount, protocol.OpponentSlotCount{Count: 1})
	assert.Equal(t, SceneHome, s.Snapshot().Scene)
}

func TestOnlineReconnectRestoresMatch(t *testing.T) {
	s, em := playingSession(t, true)
	em.connect()
	assert.Len(t, em.events(protocol.EventRequestSync), 1)

	em.deliver(t, protocol.EventSyncState, protocol.SyncState{
		InMatch:           true,
		OpponentID:        "p2",
		Turn:              2,
		Hand:              cardsOf("ABCDDB"),
		OpponentHand:      cardsOf("BCCADA"),
		IsMyTurn:          false,
		OpponentSlotCount: 2,
		Countdown:         17,
	})
	snap := s.Snapshot()
	assert.Equal(t, ScenePlaying, snap.Scene)
	assert.Equal(t, 2, snap.Turn)
	assert.Equal(t, engine.PhaseSubmitting, snap.Phase)
	assert.Equal(t, 2, snap.Required)
	assert.Equal(t, 17, snap.Countdown)
	assert.True(t, snap.LocalFirst)
}

func TestOnlineReconnectRestoresSubmittedSlot(t *testing.T) {
	s, em := playingSession(t, true)
	em.connect()
	em.deliver(t, protocol.EventSyncState, protocol.SyncState{
		InMatch:      true,
		Turn:         3,
		Hand:         cardsOf("ABBCCC"),
		OpponentHand: cardsOf("BADADD"),
		IsMyTurn:     true,
		Submitted:    []string{"C", "C"},
	})
	snap := s.Snapshot()
	assert.Equal(t, 3, snap.Turn)
	assert.Equal(t, engine.PhaseThinking, snap.Phase)
	assert.Equal(t, "CC", engine.FormatCards(snap.LocalSlot))
	assert.Len(t, em.events(protocol.EventSubmitSlot), 0, "restored slot is not re-sent")
}

func TestOnlineSyncWithoutMatchGoesHome(t *testing.T) {
	s, em := playingSession(t, true)
	em.connect()
	em.deliver(t, protocol.EventSyncState, protocol.SyncState{InMatch: false})
	assert.Contains(t, s.Snapshot().Message, "no longer available")
	require.Eventually(t, func() bool { return s.Snapshot().Scene == SceneHome }, time.Second, time.Millisecond)
}

func TestOnlineCloseStopsEverything(t *testing.T) {
	s, em := playingSession(t, true)
	s.Close()
	s.Close()
	assert.Len(t, em.events(protocol.EventLeaveGame), 1)
	assert.Zero(t, em.subscribers(protocol.EventWelcome))
	pings := len(em.events(protocol.EventPresencePing))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, pings, len(em.events(protocol.EventPresencePing)))
	assert.False(t, s.StartMatching())
}

func TestOnlineWelcomeRecordsPlayer(t *testing.T) {
	s, em := newTestSession(t, fastTimings())
	em.deliver(t, protocol.EventWelcome, protocol.Welcome{PlayerID: "me", Token: "t"})
	assert.Equal(t, "me", s.Snapshot().PlayerID)
}
