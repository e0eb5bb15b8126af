// Package conversation keeps per-room message logs and typing indicators.
package conversation

import (
	"cmp"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/timers"
)

// DefaultTypingQuiet is how long a typing flag survives without a refresh.
const DefaultTypingQuiet = 2 * time.Second

// Delta reports what a store operation changed.
type Delta struct {
	Log     bool
	Typing  bool
	History bool
}

// Changed reports whether anything changed.
func (d Delta) Changed() bool {
	return d.Log || d.Typing || d.History
}

// Options configure a Store.
type Options struct {
	Policy      ScopePolicy
	TypingQuiet time.Duration
	Clock       clock.Clock
	// Post receives typing expiry callbacks; it must run them on the
	// goroutine that owns the store.
	Post timers.Poster
	// OnExpire is told about typing flags cleared by the quiet timer.
	OnExpire func(room core.RoomID, user string)
}

// Cursor marks the oldest held message for paging history backwards.
type Cursor struct {
	BeforeID int64
	Before   time.Time
}

// IsZero reports whether the cursor points at nothing, meaning "latest page".
func (c Cursor) IsZero() bool {
	return c.BeforeID == 0 && c.Before.IsZero()
}

// Param renders the cursor as the `before` query value.
func (c Cursor) Param() string {
	switch {
	case c.BeforeID != 0:
		return strconv.FormatInt(c.BeforeID, 10)
	case !c.Before.IsZero():
		return c.Before.UTC().Format(time.RFC3339Nano)
	default:
		return ""
	}
}

type roomLog struct {
	messages []core.Message
	ids      map[string]struct{}
	// content maps a content key to whether the held copy carries an id.
	content map[string]bool
	noMore  bool
}

// remember records msg and reports whether it was new. Messages with a
// server id are matched by id, so distinct stored messages never collapse.
// An id-less copy is matched by content, and the first id-bearing message
// with that content is taken to be the copy already held.
func (l *roomLog) remember(msg core.Message) bool {
	key := msg.ContentKey()
	if !msg.HasID() {
		if _, dup := l.content[key]; dup {
			return false
		}
		l.content[key] = false
		return true
	}

	id := msg.Key()
	if _, dup := l.ids[id]; dup {
		return false
	}
	l.ids[id] = struct{}{}
	if withID, ok := l.content[key]; ok && !withID {
		l.content[key] = true
		return false
	}
	l.content[key] = true
	return true
}

type typingKey struct {
	room core.RoomID
	user string
}

// Store owns the message logs and typing sets of one session. It is not
// safe for concurrent use; the session's task queue is its only writer.
type Store struct {
	policy   ScopePolicy
	quiet    time.Duration
	onExpire func(core.RoomID, string)

	logs   map[core.RoomID]*roomLog
	typing map[core.RoomID]map[string]struct{}
	timers *timers.Registry[typingKey]
}

// New builds an empty store.
func New(opts Options) *Store {
	if opts.TypingQuiet <= 0 {
		opts.TypingQuiet = DefaultTypingQuiet
	}
	return &Store{
		policy:   opts.Policy,
		quiet:    opts.TypingQuiet,
		onExpire: opts.OnExpire,
		logs:     make(map[core.RoomID]*roomLog),
		typing:   make(map[core.RoomID]map[string]struct{}),
		timers:   timers.New[typingKey](opts.Clock, opts.Post),
	}
}

// Policy returns the configured scope policy.
func (s *Store) Policy() ScopePolicy {
	return s.policy
}

// Accepts reports whether a message for scope is kept while current is
// the displayed room.
func (s *Store) Accepts(scope, current core.RoomID) bool {
	if scope.IsGlobal() || scope == current {
		return true
	}
	return s.policy == PolicyBuffer
}

// ApplyChat appends msg to the log of its scope. It works for chat entries
// and system notices alike. Messages outside the current room follow the
// scope policy; replays of an already held message are ignored.
func (s *Store) ApplyChat(msg core.Message, current core.RoomID) Delta {
	if !s.Accepts(msg.Room, current) {
		return Delta{}
	}
	log := s.log(msg.Room)
	if !log.remember(msg) {
		return Delta{}
	}
	log.messages = append(log.messages, msg)
	return Delta{Log: true}
}

// ApplyTyping marks user as typing in room and (re)starts its expiry timer.
func (s *Store) ApplyTyping(room core.RoomID, user string) Delta {
	key := typingKey{room: room, user: user}
	s.timers.Schedule(key, s.quiet, func() {
		if s.clearTyping(room, user) && s.onExpire != nil {
			s.onExpire(room, user)
		}
	})

	users := s.typing[room]
	if _, ok := users[user]; ok {
		return Delta{}
	}
	next := make(map[string]struct{}, len(users)+1)
	maps.Copy(next, users)
	next[user] = struct{}{}
	s.typing[room] = next
	return Delta{Typing: true}
}

// ApplyStopTyping clears the flag and its timer.
func (s *Store) ApplyStopTyping(room core.RoomID, user string) Delta {
	s.timers.Cancel(typingKey{room: room, user: user})
	return Delta{Typing: s.clearTyping(room, user)}
}

// IsTyping reports whether user is flagged as typing in room.
func (s *Store) IsTyping(room core.RoomID, user string) bool {
	_, ok := s.typing[room][user]
	return ok
}

// TypingUsers returns the users typing in room, sorted.
func (s *Store) TypingUsers(room core.RoomID) []string {
	return slices.Sorted(maps.Keys(s.typing[room]))
}

// TypingRooms returns the scopes with at least one typing user, in id order.
func (s *Store) TypingRooms() []core.RoomID {
	return slices.Sorted(maps.Keys(s.typing))
}

// ClearTyping drops every typing flag and cancels all expiry timers.
func (s *Store) ClearTyping() Delta {
	s.timers.Stop()
	changed := len(s.typing) > 0
	s.typing = make(map[core.RoomID]map[string]struct{})
	return Delta{Typing: changed}
}

// PrependHistory merges an older page before the log head. The page may
// arrive in any order; it is sorted oldest first. Messages already held
// are skipped, so applying the same page twice is a no-op.
func (s *Store) PrependHistory(room core.RoomID, page []core.Message) Delta {
	log := s.log(room)

	older := make([]core.Message, 0, len(page))
	for _, msg := range page {
		msg.Room = room
		if log.remember(msg) {
			older = append(older, msg)
		}
	}
	if len(older) == 0 {
		return Delta{}
	}
	slices.SortStableFunc(older, compareMessages)

	merged := make([]core.Message, 0, len(older)+len(log.messages))
	merged = append(merged, older...)
	log.messages = append(merged, log.messages...)
	return Delta{Log: true}
}

// ApplyHistoryPage prepends a fetched page and records whether older pages
// remain: a page shorter than limit is the last one.
func (s *Store) ApplyHistoryPage(room core.RoomID, page []core.Message, limit int) Delta {
	d := s.PrependHistory(room, page)
	log := s.log(room)
	noMore := len(page) < limit
	if noMore != log.noMore {
		log.noMore = noMore
		d.History = true
	}
	return d
}

// HasMore reports whether older history may still be fetched for room.
func (s *Store) HasMore(room core.RoomID) bool {
	log, ok := s.logs[room]
	return !ok || !log.noMore
}

// Cursor returns the paging cursor for the next loadMore call on room.
func (s *Store) Cursor(room core.RoomID) Cursor {
	log, ok := s.logs[room]
	if !ok || len(log.messages) == 0 {
		return Cursor{}
	}
	oldest := log.messages[0]
	if oldest.HasID() {
		return Cursor{BeforeID: oldest.ID}
	}
	return Cursor{Before: oldest.CreatedAt}
}

// Log returns the messages held for room, oldest first. The returned slice
// is capped so appends by the caller never alias the store.
func (s *Store) Log(room core.RoomID) []core.Message {
	log, ok := s.logs[room]
	if !ok {
		return nil
	}
	n := len(log.messages)
	return log.messages[:n:n]
}

// Rooms returns the scopes that have a log, in id order.
func (s *Store) Rooms() []core.RoomID {
	return slices.Sorted(maps.Keys(s.logs))
}

// Reset drops all logs and typing state, as on logout.
func (s *Store) Reset() Delta {
	d := s.ClearTyping()
	if len(s.logs) > 0 {
		d.Log = true
	}
	s.logs = make(map[core.RoomID]*roomLog)
	return d
}

// Close stops pending expiry timers.
func (s *Store) Close() {
	s.timers.Stop()
}

func (s *Store) log(room core.RoomID) *roomLog {
	log, ok := s.logs[room]
	if !ok {
		log = &roomLog{ids: make(map[string]struct{}), content: make(map[string]bool)}
		s.logs[room] = log
	}
	return log
}

func (s *Store) clearTyping(room core.RoomID, user string) bool {
	users := s.typing[room]
	if _, ok := users[user]; !ok {
		return false
	}
	if len(users) == 1 {
		delete(s.typing, room)
		return true
	}
	next := maps.Clone(users)
	delete(next, user)
	s.typing[room] = next
	return true
}

func compareMessages(a, b core.Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
