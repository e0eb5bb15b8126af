// Package classify decodes raw websocket frames into core events.
package classify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// Classify decodes one raw frame. It never panics and has no side effects;
// every failure wraps core.ErrMalformedFrame. A well formed frame with an
// unrecognised type yields an EventUnknown event and no error.
func Classify(raw []byte) (core.Event, error) {
	var frame proto.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return core.Event{}, malformed("decode: %v", err)
	}
	return FromFrame(frame)
}

// FromFrame maps an already decoded envelope to an event.
func FromFrame(frame proto.Frame) (core.Event, error) {
	kind := strings.TrimSpace(frame.MessageType)
	if kind == "" {
		return core.Event{}, malformed("missing message_type")
	}

	ts, err := proto.ParseTime(frame.Timestamp)
	if err != nil {
		return core.Event{}, malformed("%s: %v", kind, err)
	}

	ev := core.Event{
		Room:      core.RoomID(frame.RoomID),
		User:      frame.User,
		Text:      frame.Text,
		Timestamp: ts,
		MessageID: frame.ID,
		RawType:   kind,
	}

	switch kind {
	case proto.TypeChat:
		ev.Kind = core.EventChat
		return withUser(ev)
	case proto.TypeTyping:
		ev.Kind = core.EventTyping
		return withUser(ev)
	case proto.TypeStopTyping:
		ev.Kind = core.EventStopTyping
		return withUser(ev)
	case proto.TypeJoin:
		ev.Kind = core.EventJoin
		return withUser(ev)
	case proto.TypeLeave:
		ev.Kind = core.EventLeave
		return withUser(ev)
	case proto.TypeUserList:
		if frame.Users == nil {
			return core.Event{}, malformed("user_list without users")
		}
		ev.Kind = core.EventUserList
		ev.Users = make([]string, 0, len(frame.Users))
		for _, u := range frame.Users {
			if u = strings.TrimSpace(u); u != "" {
				ev.Users = append(ev.Users, u)
			}
		}
		return ev, nil
	case proto.TypeRoomList:
		if frame.Rooms == nil {
			return core.Event{}, malformed("room_list without rooms")
		}
		ev.Kind = core.EventRoomList
		ev.Rooms = make([]core.Room, 0, len(frame.Rooms))
		for _, info := range frame.Rooms {
			room, err := RoomFromInfo(info)
			if err != nil {
				return core.Event{}, malformed("room_list: %v", err)
			}
			ev.Rooms = append(ev.Rooms, room)
		}
		return ev, nil
	case proto.TypeRoomJoined, proto.TypeRoomLeft:
		if ev.Room.IsGlobal() {
			return core.Event{}, malformed("%s without room_id", kind)
		}
		ev.Kind = core.EventRoomJoined
		if kind == proto.TypeRoomLeft {
			ev.Kind = core.EventRoomLeft
		}
		return withUser(ev)
	case proto.TypeNewRoom:
		if frame.Room == nil {
			return core.Event{}, malformed("new_room without room")
		}
		room, err := RoomFromInfo(*frame.Room)
		if err != nil {
			return core.Event{}, malformed("new_room: %v", err)
		}
		ev.Kind = core.EventNewRoom
		ev.NewRoom = &room
		return ev, nil
	case proto.TypeError:
		ev.Kind = core.EventError
		ev.Error = &core.ServerError{Text: frame.Text, Detail: frame.Error}
		return ev, nil
	default:
		ev.Kind = core.EventUnknown
		return ev, nil
	}
}

// RoomFromInfo converts a listed room into the catalog model.
func RoomFromInfo(info proto.RoomInfo) (core.Room, error) {
	if info.ID == 0 {
		return core.Room{}, fmt.Errorf("room %q without id", info.Name)
	}
	kind, err := core.ParseRoomKind(info.RoomType)
	if err != nil {
		return core.Room{}, err
	}
	if info.IsProtected {
		kind = core.RoomPasswordProtected
	}
	return core.Room{
		ID:          core.RoomID(info.ID),
		Name:        info.Name,
		Kind:        kind,
		CreatedBy:   string(info.CreatedBy),
		MemberCount: info.MemberCount,
	}, nil
}

func withUser(ev core.Event) (core.Event, error) {
	if strings.TrimSpace(ev.User) == "" {
		return core.Event{}, malformed("%s without user", ev.Kind)
	}
	return ev, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrMalformedFrame, fmt.Sprintf(format, args...))
}
