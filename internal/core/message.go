package core

import (
	"strconv"
	"time"
)

// RoomID identifies a room. The zero value is the global scope.
type RoomID int64

// GlobalScope addresses messages and signals that belong to no room.
const GlobalScope RoomID = 0

// IsGlobal reports whether id is the global scope.
func (id RoomID) IsGlobal() bool {
	return id == GlobalScope
}

func (id RoomID) String() string {
	if id.IsGlobal() {
		return "global"
	}
	return strconv.FormatInt(int64(id), 10)
}

// MessageKind distinguishes user chat from system notices in a room log.
type MessageKind int

const (
	// MessageChat is a message typed by a user.
	MessageChat MessageKind = iota
	// MessageSystemJoin records a user coming online.
	MessageSystemJoin
	// MessageSystemLeave records a user going offline.
	MessageSystemLeave
	// MessageSystemRoomEvent records a room join/leave notice.
	MessageSystemRoomEvent
)

func (k MessageKind) String() string {
	switch k {
	case MessageChat:
		return "chat"
	case MessageSystemJoin:
		return "system_join"
	case MessageSystemLeave:
		return "system_leave"
	case MessageSystemRoomEvent:
		return "system_room_event"
	default:
		return "unknown"
	}
}

// Message is the domain model for an entry in a room log.
type Message struct {
	ID        int64 // server id; zero for live frames and locally-originated messages
	Room      RoomID
	From      string
	Text      string
	CreatedAt time.Time
	Kind      MessageKind
}

// HasID reports whether the message carries a server-assigned id.
func (m Message) HasID() bool {
	return m.ID != 0
}

// Key identifies a message for deduplication. Server ids win; id-less
// messages fall back to ContentKey.
func (m Message) Key() string {
	if m.HasID() {
		return "id:" + strconv.FormatInt(m.ID, 10)
	}
	return m.ContentKey()
}

// ContentKey identifies a message by kind, sender, timestamp and text. The
// backend replays room history over the socket without ids, so the same
// message can arrive once with an id and once without.
func (m Message) ContentKey() string {
	return m.Kind.String() + ":" + m.From + "|" + m.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + m.Text
}
