package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Frame is the single envelope exchanged over the websocket in both directions,
// discriminated by MessageType.
type Frame struct {
	MessageType string     `json:"message_type"`
	ID          int64      `json:"id,omitempty"`
	User        string     `json:"user"`
	Text        string     `json:"text"`
	Timestamp   string     `json:"timestamp"`
	Avatar      string     `json:"avatar,omitempty"`
	RoomID      int64      `json:"room_id,omitempty"`
	Users       []string   `json:"users,omitempty"`
	Rooms       []RoomInfo `json:"rooms,omitempty"`
	Room        *RoomInfo  `json:"room,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Message types sent by the server.
const (
	TypeChat       = "chat"
	TypeTyping     = "typing"
	TypeStopTyping = "stop_typing"
	TypeJoin       = "join"
	TypeLeave      = "leave"
	TypeUserList   = "user_list"
	TypeRoomList   = "room_list"
	TypeRoomJoined = "room_joined"
	TypeRoomLeft   = "room_left"
	TypeNewRoom    = "new_room"
	TypeError      = "error"
)

// Message types only sent by the client.
const (
	TypeCreateRoom = "create_room"
	TypeJoinRoom   = "join_room"
	TypeLeaveRoom  = "leave_room"
)

// RoomInfo is a room as listed by the server.
type RoomInfo struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	RoomType    string     `json:"room_type"`
	MemberCount int        `json:"member_count,omitempty"`
	IsProtected bool       `json:"is_protected,omitempty"`
	CreatedBy   FlexString `json:"created_by,omitempty"`
}

// CreateRoomCommand is embedded as JSON in the text of a create_room frame.
type CreateRoomCommand struct {
	Name     string  `json:"name"`
	RoomType string  `json:"room_type"`
	Password *string `json:"password"`
}

// JoinRoomCommand is embedded as JSON in the text of a join_room frame.
type JoinRoomCommand struct {
	RoomID   int64   `json:"room_id"`
	Password *string `json:"password"`
}

// FlexString accepts a JSON string or number. The backend reports user
// references either way depending on the table they come from.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = FlexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("flex string: %w", err)
	}
	*s = FlexString(num.String())
	return nil
}

// FormatTime renders a timestamp the way browsers do with toISOString.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTime parses an ISO8601 timestamp. Zone-less values are taken as UTC.
// An empty string yields the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// Encode marshals a frame for the wire.
func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.MessageType, err)
	}
	return data, nil
}
