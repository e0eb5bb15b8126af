package core

import "time"

// EventKind tags a decoded inbound frame.
type EventKind int

const (
	// EventChat is a chat message, scoped to a room or global.
	EventChat EventKind = iota
	// EventTyping signals that a user started typing.
	EventTyping
	// EventStopTyping signals that a user stopped typing.
	EventStopTyping
	// EventJoin notifies that a user came online.
	EventJoin
	// EventLeave notifies that a user went offline.
	EventLeave
	// EventUserList replaces the full set of online users.
	EventUserList
	// EventRoomList replaces the room catalog.
	EventRoomList
	// EventRoomJoined notifies that a user entered a room.
	EventRoomJoined
	// EventRoomLeft notifies that a user left a room.
	EventRoomLeft
	// EventNewRoom announces a single created room.
	EventNewRoom
	// EventError carries a server-side error.
	EventError
	// EventUnknown is a well formed frame with an unrecognised type.
	EventUnknown
)

var eventKindNames = [...]string{
	EventChat:       "chat",
	EventTyping:     "typing",
	EventStopTyping: "stop_typing",
	EventJoin:       "join",
	EventLeave:      "leave",
	EventUserList:   "user_list",
	EventRoomList:   "room_list",
	EventRoomJoined: "room_joined",
	EventRoomLeft:   "room_left",
	EventNewRoom:    "new_room",
	EventError:      "error",
	EventUnknown:    "unknown",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventKindNames) {
		return "unknown"
	}
	return eventKindNames[k]
}

// Event is what the classifier hands to the registry and the conversation store.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind      EventKind
	Room      RoomID
	User      string
	Text      string
	Timestamp time.Time
	MessageID int64

	Users   []string // EventUserList
	Rooms   []Room   // EventRoomList
	NewRoom *Room    // EventNewRoom
	Error   *ServerError
	RawType string // original message_type, kept for EventUnknown
}

// Message converts a chat or notice event into a log entry.
// ok is false for kinds that never produce a log entry.
func (e Event) Message() (msg Message, ok bool) {
	msg = Message{
		ID:        e.MessageID,
		Room:      e.Room,
		From:      e.User,
		Text:      e.Text,
		CreatedAt: e.Timestamp,
	}
	switch e.Kind {
	case EventChat:
		msg.Kind = MessageChat
	case EventJoin:
		msg.Kind = MessageSystemJoin
	case EventLeave:
		msg.Kind = MessageSystemLeave
	case EventRoomJoined, EventRoomLeft:
		msg.Kind = MessageSystemRoomEvent
	default:
		return Message{}, false
	}
	return msg, true
}
