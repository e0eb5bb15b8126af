package core

// CommandKind describes what the local user wants to do.
type CommandKind int

const (
	// CommandSendMessage sends a chat message to the current room or global scope.
	CommandSendMessage CommandKind = iota
	// CommandCreateRoom asks the server to create a room.
	CommandCreateRoom
	// CommandJoinRoom enters a room.
	CommandJoinRoom
	// CommandLeaveRoom leaves the current room.
	CommandLeaveRoom
	// CommandSetTyping announces a keystroke.
	CommandSetTyping
	// CommandClearTyping cancels the typing indicator right away.
	CommandClearTyping
)

func (k CommandKind) String() string {
	switch k {
	case CommandSendMessage:
		return "send_message"
	case CommandCreateRoom:
		return "create_room"
	case CommandJoinRoom:
		return "join_room"
	case CommandLeaveRoom:
		return "leave_room"
	case CommandSetTyping:
		return "set_typing"
	case CommandClearTyping:
		return "clear_typing"
	default:
		return "unknown"
	}
}

// Command represents an outbound intent issued by the presentation layer.
type Command struct {
	Kind     CommandKind
	Room     RoomID
	Text     string   // message text or room name
	RoomKind RoomKind // CommandCreateRoom
	Password string
}
