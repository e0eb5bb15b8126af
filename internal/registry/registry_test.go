package registry

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-client/internal/core"
)

func join(user string) core.Event  { return core.Event{Kind: core.EventJoin, User: user} }
func leave(user string) core.Event { return core.Event{Kind: core.EventLeave, User: user} }

func userList(users ...string) core.Event {
	return core.Event{Kind: core.EventUserList, Users: users}
}

func TestJoinLeaveNeverDuplicatesOrUnderflows(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	users := []string{"a", "b", "c", "d"}
	reg := New()
	model := map[string]bool{}

	for range 500 {
		u := users[rng.Intn(len(users))]
		if rng.Intn(2) == 0 {
			reg.Apply(join(u))
			model[u] = true
		} else {
			reg.Apply(leave(u))
			delete(model, u)
		}

		online := reg.OnlineUsers().Sorted()
		require.Len(t, online, len(model))
		for _, name := range online {
			require.True(t, model[name], "unexpected %s", name)
		}
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	reg := New()
	assert.True(t, reg.Apply(join("a")).Presence)
	assert.False(t, reg.Apply(join("a")).Presence)
	assert.Equal(t, []string{"a"}, reg.OnlineUsers().Sorted())
}

func TestLeaveAbsentUserIsNoop(t *testing.T) {
	reg := New()
	d := reg.Apply(leave("ghost"))
	assert.False(t, d.Changed())
	assert.Equal(t, 0, reg.OnlineUsers().Len())
}

func TestUserListReplacesRegardlessOfHistory(t *testing.T) {
	histories := [][]core.Event{
		nil,
		{join("a"), join("b")},
		{join("x"), leave("x"), join("y")},
		{userList("q", "r"), leave("q"), join("z")},
	}
	for _, history := range histories {
		reg := New()
		for _, ev := range history {
			reg.Apply(ev)
		}
		reg.Apply(userList("bob", "alice", "bob"))
		assert.Equal(t, []string{"alice", "bob"}, reg.OnlineUsers().Sorted())

		d := reg.Apply(userList("alice", "bob"))
		assert.False(t, d.Presence, "same list twice must not report a change")
	}
}

func TestSnapshotsAreImmutable(t *testing.T) {
	reg := New()
	reg.Apply(join("a"))
	before := reg.OnlineUsers()

	reg.Apply(join("b"))
	reg.Apply(leave("a"))

	assert.Equal(t, []string{"a"}, before.Sorted())
	assert.Equal(t, []string{"b"}, reg.OnlineUsers().Sorted())
	assert.False(t, before.Equal(reg.OnlineUsers()))
}

func TestRoomListReplacesAndDedupes(t *testing.T) {
	reg := New()
	d := reg.Apply(core.Event{Kind: core.EventRoomList, Rooms: []core.Room{
		{ID: 1, Name: "general"},
		{ID: 2, Name: "random"},
		{ID: 1, Name: "general-dup"},
	}})
	require.True(t, d.Rooms)
	require.Len(t, reg.Rooms(), 2)
	assert.Equal(t, "general", reg.Rooms()[0].Name)

	d = reg.Apply(core.Event{Kind: core.EventRoomList, Rooms: []core.Room{{ID: 1, Name: "general"}, {ID: 2, Name: "random"}}})
	assert.False(t, d.Rooms)

	reg.Apply(core.Event{Kind: core.EventRoomList, Rooms: []core.Room{{ID: 3, Name: "only"}}})
	require.Len(t, reg.Rooms(), 1)
	_, ok := reg.Room(1)
	assert.False(t, ok)
}

func TestNewRoomInsertsOnce(t *testing.T) {
	reg := New()
	room := core.Room{ID: 5, Name: "books", Kind: core.RoomPasswordProtected}

	assert.True(t, reg.Apply(core.Event{Kind: core.EventNewRoom, NewRoom: &room}).Rooms)
	assert.False(t, reg.Apply(core.Event{Kind: core.EventNewRoom, NewRoom: &room}).Rooms)

	got, ok := reg.Room(5)
	require.True(t, ok)
	assert.Equal(t, room, got)
	assert.Len(t, reg.Rooms(), 1)
}

func TestRoomMembership(t *testing.T) {
	reg := New()
	reg.Apply(join("a"))
	reg.Apply(core.Event{Kind: core.EventRoomJoined, Room: 1, User: "a"})
	reg.Apply(core.Event{Kind: core.EventRoomJoined, Room: 2, User: "a"})
	reg.Apply(core.Event{Kind: core.EventRoomJoined, Room: 1, User: "b"})

	assert.Equal(t, []string{"a", "b"}, reg.Members(1).Sorted())

	d := reg.Apply(core.Event{Kind: core.EventRoomLeft, Room: 1, User: "b"})
	assert.True(t, d.Members)
	assert.Equal(t, []string{"a"}, reg.Members(1).Sorted())

	d = reg.Apply(leave("a"))
	assert.True(t, d.Presence)
	assert.True(t, d.Members)
	assert.Equal(t, 0, reg.Members(1).Len())
	assert.Equal(t, 0, reg.Members(2).Len())
}

func TestResetPresenceKeepsCatalog(t *testing.T) {
	reg := New()
	reg.Apply(core.Event{Kind: core.EventRoomList, Rooms: []core.Room{{ID: 1, Name: "general"}}})
	reg.Apply(join("a"))

	d := reg.ResetPresence()
	assert.True(t, d.Presence)
	assert.Equal(t, 0, reg.OnlineUsers().Len())
	assert.Len(t, reg.Rooms(), 1)

	d = reg.Reset()
	assert.True(t, d.Rooms)
	assert.Empty(t, reg.Rooms())
}

func TestUntrackedEventsAreIgnored(t *testing.T) {
	reg := New()
	for _, kind := range []core.EventKind{core.EventChat, core.EventTyping, core.EventError, core.EventUnknown} {
		assert.False(t, reg.Apply(core.Event{Kind: kind, User: "a"}).Changed())
	}
}
