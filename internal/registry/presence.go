package registry

import (
	"maps"
	"slices"
)

// PresenceSet is an immutable set of usernames. Transitions build a new set,
// so two snapshots can be compared cheaply with Equal.
type PresenceSet struct {
	users map[string]struct{}
}

// NewPresenceSet builds a set from users, dropping duplicates.
func NewPresenceSet(users ...string) PresenceSet {
	set := make(map[string]struct{}, len(users))
	for _, u := range users {
		set[u] = struct{}{}
	}
	return PresenceSet{users: set}
}

// Contains reports whether user is in the set.
func (p PresenceSet) Contains(user string) bool {
	_, ok := p.users[user]
	return ok
}

// Len returns the number of users.
func (p PresenceSet) Len() int {
	return len(p.users)
}

// Sorted returns the users in lexical order.
func (p PresenceSet) Sorted() []string {
	return slices.Sorted(maps.Keys(p.users))
}

// Equal reports whether both sets hold the same users.
func (p PresenceSet) Equal(other PresenceSet) bool {
	if p.Len() != other.Len() {
		return false
	}
	for u := range p.users {
		if !other.Contains(u) {
			return false
		}
	}
	return true
}

// with returns a copy of p including user. The receiver is returned untouched
// when user is already present.
func (p PresenceSet) with(user string) (PresenceSet, bool) {
	if p.Contains(user) {
		return p, false
	}
	next := make(map[string]struct{}, len(p.users)+1)
	maps.Copy(next, p.users)
	next[user] = struct{}{}
	return PresenceSet{users: next}, true
}

// without returns a copy of p excluding user.
func (p PresenceSet) without(user string) (PresenceSet, bool) {
	if !p.Contains(user) {
		return p, false
	}
	next := maps.Clone(p.users)
	delete(next, user)
	return PresenceSet{users: next}, true
}
