// Package registry keeps the room catalog, the global presence set and
// per-room membership for one session.
//
// A Registry is single-writer: only the session's task queue calls Apply.
// Readers get immutable values that are replaced wholesale on every change.
package registry

import (
	"slices"

	"github.com/vovakirdan/wirechat-client/internal/core"
)

// Delta reports which parts of the registry an Apply call changed.
type Delta struct {
	Rooms    bool
	Presence bool
	Members  bool
}

// Changed reports whether anything changed.
func (d Delta) Changed() bool {
	return d.Rooms || d.Presence || d.Members
}

// Merge combines two deltas.
func (d Delta) Merge(other Delta) Delta {
	return Delta{
		Rooms:    d.Rooms || other.Rooms,
		Presence: d.Presence || other.Presence,
		Members:  d.Members || other.Members,
	}
}

// Registry owns the room catalog and presence state.
type Registry struct {
	rooms    []core.Room
	presence PresenceSet
	members  map[core.RoomID]PresenceSet
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		presence: NewPresenceSet(),
		members:  make(map[core.RoomID]PresenceSet),
	}
}

// Apply folds one event into the registry. Events the registry does not
// track return an empty Delta.
func (r *Registry) Apply(ev core.Event) Delta {
	switch ev.Kind {
	case core.EventRoomList:
		return r.replaceRooms(ev.Rooms)
	case core.EventNewRoom:
		if ev.NewRoom == nil {
			return Delta{}
		}
		return r.addRoom(*ev.NewRoom)
	case core.EventUserList:
		next := NewPresenceSet(ev.Users...)
		if next.Equal(r.presence) {
			return Delta{}
		}
		r.presence = next
		return Delta{Presence: true}
	case core.EventJoin:
		next, changed := r.presence.with(ev.User)
		r.presence = next
		return Delta{Presence: changed}
	case core.EventLeave:
		next, changed := r.presence.without(ev.User)
		r.presence = next
		return Delta{Presence: changed, Members: r.dropMember(ev.User)}
	case core.EventRoomJoined:
		next, changed := r.Members(ev.Room).with(ev.User)
		r.setMembers(ev.Room, next)
		return Delta{Members: changed}
	case core.EventRoomLeft:
		next, changed := r.Members(ev.Room).without(ev.User)
		r.setMembers(ev.Room, next)
		return Delta{Members: changed}
	default:
		return Delta{}
	}
}

// Rooms returns the catalog in server order. The slice must not be modified.
func (r *Registry) Rooms() []core.Room {
	return r.rooms
}

// Room looks up a catalog entry by id.
func (r *Registry) Room(id core.RoomID) (core.Room, bool) {
	i := slices.IndexFunc(r.rooms, func(room core.Room) bool { return room.ID == id })
	if i < 0 {
		return core.Room{}, false
	}
	return r.rooms[i], true
}

// OnlineUsers returns the current presence snapshot.
func (r *Registry) OnlineUsers() PresenceSet {
	return r.presence
}

// Members returns the users seen entering a room.
func (r *Registry) Members(id core.RoomID) PresenceSet {
	if set, ok := r.members[id]; ok {
		return set
	}
	return NewPresenceSet()
}

// ResetPresence forgets who is online. The catalog is kept because a
// reconnect replays presence but not necessarily the room list.
func (r *Registry) ResetPresence() Delta {
	d := Delta{Presence: r.presence.Len() > 0, Members: len(r.members) > 0}
	r.presence = NewPresenceSet()
	r.members = make(map[core.RoomID]PresenceSet)
	return d
}

// Reset clears everything, as on logout.
func (r *Registry) Reset() Delta {
	d := r.ResetPresence()
	d.Rooms = len(r.rooms) > 0
	r.rooms = nil
	return d
}

func (r *Registry) replaceRooms(rooms []core.Room) Delta {
	next := make([]core.Room, 0, len(rooms))
	seen := make(map[core.RoomID]struct{}, len(rooms))
	for _, room := range rooms {
		if _, dup := seen[room.ID]; dup {
			continue
		}
		seen[room.ID] = struct{}{}
		next = append(next, room)
	}
	if slices.Equal(next, r.rooms) {
		return Delta{}
	}
	r.rooms = next
	return Delta{Rooms: true}
}

func (r *Registry) addRoom(room core.Room) Delta {
	if _, exists := r.Room(room.ID); exists {
		return Delta{}
	}
	next := make([]core.Room, 0, len(r.rooms)+1)
	next = append(next, r.rooms...)
	r.rooms = append(next, room)
	return Delta{Rooms: true}
}

func (r *Registry) setMembers(id core.RoomID, set PresenceSet) {
	if set.Len() == 0 {
		delete(r.members, id)
		return
	}
	r.members[id] = set
}

func (r *Registry) dropMember(user string) bool {
	changed := false
	for id, set := range r.members {
		if next, removed := set.without(user); removed {
			r.setMembers(id, next)
			changed = true
		}
	}
	return changed
}
