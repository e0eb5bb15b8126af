package conversation

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-client/internal/core"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func chat(room core.RoomID, id int64, from, text string, at time.Duration) core.Message {
	return core.Message{ID: id, Room: room, From: from, Text: text, CreatedAt: t0.Add(at), Kind: core.MessageChat}
}

func texts(msgs []core.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func TestJoinChatLeaveProducesThreeEntries(t *testing.T) {
	s := New(Options{})
	events := []core.Event{
		{Kind: core.EventJoin, User: "bob", Timestamp: t0},
		{Kind: core.EventChat, User: "bob", Text: "hi", Timestamp: t0.Add(time.Second)},
		{Kind: core.EventLeave, User: "bob", Timestamp: t0.Add(2 * time.Second)},
	}
	for _, ev := range events {
		msg, ok := ev.Message()
		require.True(t, ok)
		require.True(t, s.ApplyChat(msg, core.GlobalScope).Log)
	}

	log := s.Log(core.GlobalScope)
	require.Len(t, log, 3)
	assert.Equal(t, core.MessageSystemJoin, log[0].Kind)
	assert.Equal(t, core.MessageChat, log[1].Kind)
	assert.Equal(t, core.MessageSystemLeave, log[2].Kind)
}

func TestScopePolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy ScopePolicy
		want   int
	}{
		{"buffer keeps other rooms", PolicyBuffer, 1},
		{"drop discards other rooms", PolicyDrop, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Options{Policy: tt.policy})
			s.ApplyChat(chat(2, 0, "a", "elsewhere", 0), 1)
			s.ApplyChat(chat(1, 0, "a", "here", 0), 1)
			s.ApplyChat(chat(core.GlobalScope, 0, "a", "everyone", 0), 1)

			assert.Len(t, s.Log(2), tt.want)
			assert.Len(t, s.Log(1), 1)
			assert.Len(t, s.Log(core.GlobalScope), 1)
		})
	}
}

func TestApplyChatIgnoresReplays(t *testing.T) {
	s := New(Options{})
	msg := chat(1, 9, "a", "hi", 0)
	assert.True(t, s.ApplyChat(msg, 1).Log)
	assert.False(t, s.ApplyChat(msg, 1).Log)
	assert.Len(t, s.Log(1), 1)
}

func TestPrependHistorySortsAndDedupes(t *testing.T) {
	s := New(Options{})
	s.ApplyChat(chat(1, 10, "a", "live", 10*time.Second), 1)

	page := []core.Message{
		chat(1, 9, "a", "nine", 9*time.Second),
		chat(1, 7, "b", "seven", 7*time.Second),
		chat(1, 8, "a", "eight", 8*time.Second),
		chat(1, 10, "a", "live", 10*time.Second),
	}
	require.True(t, s.PrependHistory(1, page).Log)
	assert.Equal(t, []string{"seven", "eight", "nine", "live"}, texts(s.Log(1)))

	assert.False(t, s.PrependHistory(1, page).Log, "same page twice must be a no-op")
	assert.Len(t, s.Log(1), 4)
}

func TestSocketReplayAndHistoryPageDoNotDuplicate(t *testing.T) {
	s := New(Options{})
	replayed := chat(1, 0, "a", "hello", 3*time.Second)
	s.ApplyChat(replayed, 1)

	stored := replayed
	stored.ID = 42
	assert.False(t, s.PrependHistory(1, []core.Message{stored}).Log)
	assert.False(t, s.ApplyChat(stored, 1).Log)
	assert.Len(t, s.Log(1), 1)
}

func TestDistinctIDsWithSameContentAreKept(t *testing.T) {
	s := New(Options{})
	page := []core.Message{
		chat(7, 1, "bob", "ok", 0),
		chat(7, 2, "bob", "ok", 0),
	}
	require.True(t, s.PrependHistory(7, page).Log)
	assert.Len(t, s.Log(7), 2)

	assert.False(t, s.ApplyChat(chat(7, 0, "bob", "ok", 0), 7).Log)
	assert.False(t, s.ApplyChat(chat(7, 2, "bob", "ok", 0), 7).Log)
	assert.Len(t, s.Log(7), 2)
}

func TestReplayClaimsOnlyOneStoredCopy(t *testing.T) {
	s := New(Options{})
	s.ApplyChat(chat(7, 0, "bob", "ok", 0), 7)

	page := []core.Message{
		chat(7, 1, "bob", "ok", 0),
		chat(7, 2, "bob", "ok", 0),
	}
	assert.True(t, s.PrependHistory(7, page).Log)
	assert.Len(t, s.Log(7), 2)
}

func TestLogSnapshotIsStable(t *testing.T) {
	s := New(Options{})
	s.ApplyChat(chat(1, 1, "a", "one", 0), 1)
	snap := s.Log(1)

	s.ApplyChat(chat(1, 2, "a", "two", time.Second), 1)
	s.PrependHistory(1, []core.Message{chat(1, 0, "a", "zero", -time.Second)})

	assert.Equal(t, []string{"one"}, texts(snap))
	assert.Equal(t, []string{"zero", "one", "two"}, texts(s.Log(1)))

	grown := append(snap, chat(1, 99, "x", "mine", 0))
	assert.Len(t, grown, 2)
	assert.Len(t, s.Log(1), 3)
}

func TestHistoryPaging(t *testing.T) {
	s := New(Options{})
	assert.True(t, s.HasMore(1))
	assert.True(t, s.Cursor(1).IsZero())

	full := []core.Message{chat(1, 20, "a", "b", 20*time.Second), chat(1, 21, "a", "c", 21*time.Second)}
	d := s.ApplyHistoryPage(1, full, 2)
	assert.True(t, d.Log)
	assert.True(t, s.HasMore(1))
	assert.Equal(t, Cursor{BeforeID: 20}, s.Cursor(1))
	assert.Equal(t, "20", s.Cursor(1).Param())

	d = s.ApplyHistoryPage(1, []core.Message{chat(1, 19, "a", "a", 19*time.Second)}, 2)
	assert.True(t, d.History)
	assert.False(t, s.HasMore(1))
	assert.Equal(t, []string{"a", "b", "c"}, texts(s.Log(1)))
}

func TestCursorFallsBackToTimestamp(t *testing.T) {
	s := New(Options{})
	s.ApplyChat(chat(1, 0, "a", "live", 5*time.Second), 1)
	c := s.Cursor(1)
	assert.Equal(t, t0.Add(5*time.Second), c.Before)
	assert.Equal(t, "2025-03-01T12:00:05Z", c.Param())
}

func TestTypingExpiresAfterQuietInterval(t *testing.T) {
	clk := clock.NewMock()
	q := make(chan func(), 8)
	var expired []string
	s := New(Options{
		Clock:       clk,
		TypingQuiet: 2 * time.Second,
		Post:        func(fn func()) { q <- fn },
		OnExpire:    func(_ core.RoomID, user string) { expired = append(expired, user) },
	})
	drain := func() {
		for {
			select {
			case fn := <-q:
				fn()
			case <-time.After(20 * time.Millisecond):
				return
			}
		}
	}

	assert.True(t, s.ApplyTyping(core.GlobalScope, "bob").Typing)
	clk.Add(1500 * time.Millisecond)
	drain()

	// A refresh restarts the quiet interval without reporting a change.
	assert.False(t, s.ApplyTyping(core.GlobalScope, "bob").Typing)
	clk.Add(1500 * time.Millisecond)
	drain()
	assert.True(t, s.IsTyping(core.GlobalScope, "bob"))
	assert.Empty(t, expired)

	clk.Add(600 * time.Millisecond)
	drain()
	assert.False(t, s.IsTyping(core.GlobalScope, "bob"))
	assert.Equal(t, []string{"bob"}, expired)
}

func TestStopTypingClearsImmediately(t *testing.T) {
	clk := clock.NewMock()
	s := New(Options{Clock: clk})
	s.ApplyTyping(core.GlobalScope, "bob")
	s.ApplyTyping(core.GlobalScope, "amy")
	assert.Equal(t, []string{"amy", "bob"}, s.TypingUsers(core.GlobalScope))

	assert.True(t, s.ApplyStopTyping(core.GlobalScope, "bob").Typing)
	assert.False(t, s.ApplyStopTyping(core.GlobalScope, "bob").Typing)
	assert.Equal(t, []string{"amy"}, s.TypingUsers(core.GlobalScope))
}

func TestClearTypingAndReset(t *testing.T) {
	clk := clock.NewMock()
	s := New(Options{Clock: clk})
	s.ApplyTyping(core.GlobalScope, "bob")
	s.ApplyChat(chat(1, 1, "a", "hi", 0), 1)

	assert.True(t, s.ClearTyping().Typing)
	assert.Empty(t, s.TypingUsers(core.GlobalScope))
	assert.Len(t, s.Log(1), 1, "disconnect keeps logs")

	d := s.Reset()
	assert.True(t, d.Log)
	assert.Nil(t, s.Log(1))
	assert.Empty(t, s.Rooms())
}

func TestParseScopePolicy(t *testing.T) {
	p, err := ParseScopePolicy("drop")
	require.NoError(t, err)
	assert.Equal(t, PolicyDrop, p)

	p, err = ParseScopePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyBuffer, p)

	_, err = ParseScopePolicy("sometimes")
	assert.Error(t, err)
}
