package core

import (
	"fmt"
	"strings"
)

// RoomKind describes who may enter a room.
type RoomKind int

const (
	// RoomPublic rooms are open to everyone.
	RoomPublic RoomKind = iota
	// RoomPrivate rooms are listed but invitation based.
	RoomPrivate
	// RoomPasswordProtected rooms require a password to join.
	RoomPasswordProtected
)

// String returns the wire name of the kind.
func (k RoomKind) String() string {
	switch k {
	case RoomPrivate:
		return "private"
	case RoomPasswordProtected:
		return "protected"
	default:
		return "public"
	}
}

// ParseRoomKind maps a wire or user supplied name to a RoomKind.
func ParseRoomKind(s string) (RoomKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "public":
		return RoomPublic, nil
	case "private":
		return RoomPrivate, nil
	case "protected", "password", "password_protected":
		return RoomPasswordProtected, nil
	default:
		return RoomPublic, fmt.Errorf("unknown room kind %q", s)
	}
}

// Room is a catalog entry. Identity is the ID.
type Room struct {
	ID          RoomID
	Name        string
	Kind        RoomKind
	CreatedBy   string
	MemberCount int
}
