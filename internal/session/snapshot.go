package session

import (
	"github.com/vovakirdan/wirechat-client/internal/core"
)

// Topic names a kind of change.
type Topic int

const (
	// TopicState covers connection state, identity and current room.
	TopicState Topic = iota
	// TopicRooms covers the room catalog and memberships.
	TopicRooms
	// TopicPresence covers the online user set.
	TopicPresence
	// TopicMessages covers a room log.
	TopicMessages
	// TopicTyping covers a room's typing set.
	TopicTyping
	// TopicHistory covers paging progress for a room.
	TopicHistory
	// TopicError carries a server or background error.
	TopicError
)

func (t Topic) String() string {
	switch t {
	case TopicState:
		return "state"
	case TopicRooms:
		return "rooms"
	case TopicPresence:
		return "presence"
	case TopicMessages:
		return "messages"
	case TopicTyping:
		return "typing"
	case TopicHistory:
		return "history"
	case TopicError:
		return "error"
	default:
		return "unknown"
	}
}

// Change is delivered to subscribers. Snapshot is the state right after
// the change; Room is set for room-scoped topics.
type Change struct {
	Topic    Topic
	Room     core.RoomID
	Err      error
	Snapshot *Snapshot
}

// Snapshot is an immutable view of the session. A new one replaces the old
// on every change, so readers may hold it without locking.
type Snapshot struct {
	Identity    string
	ConnID      string
	State       core.ConnState
	CurrentRoom core.RoomID
	Attempt     int

	Rooms   []core.Room
	Online  []string
	Members map[core.RoomID][]string

	Logs    map[core.RoomID][]core.Message
	Typing  map[core.RoomID][]string
	HasMore map[core.RoomID]bool
	Loading core.RoomID // room whose history fetch is in flight, or global

	LastError error
}

// Log returns the messages held for room.
func (s *Snapshot) Log(room core.RoomID) []core.Message {
	return s.Logs[room]
}

// CurrentLog returns the log of the current room.
func (s *Snapshot) CurrentLog() []core.Message {
	return s.Logs[s.CurrentRoom]
}

// TypingIn returns who is typing in room, sorted.
func (s *Snapshot) TypingIn(room core.RoomID) []string {
	return s.Typing[room]
}

// CanLoadMore reports whether older history may exist for room.
func (s *Snapshot) CanLoadMore(room core.RoomID) bool {
	more, ok := s.HasMore[room]
	return !ok || more
}

// Room looks up a catalog entry.
func (s *Snapshot) Room(id core.RoomID) (core.Room, bool) {
	for _, r := range s.Rooms {
		if r.ID == id {
			return r, true
		}
	}
	return core.Room{}, false
}

// Connected reports whether frames are flowing.
func (s *Snapshot) Connected() bool {
	return s.State == core.StateConnected
}
