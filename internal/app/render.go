package app

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/session"
)

const timeLayout = "15:04:05"

type subscriber interface {
	OnAny(fn func(session.Change)) (unsubscribe func())
}

// Renderer prints session changes as plain terminal lines. It only reads
// snapshots; every action goes back through the session.
type Renderer struct {
	mu  sync.Mutex
	out io.Writer

	seen   map[core.RoomID]map[string]struct{}
	typing map[core.RoomID]string
	state  core.ConnState
	room   core.RoomID
}

// NewRenderer writes to out.
func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{
		out:    out,
		seen:   make(map[core.RoomID]map[string]struct{}),
		typing: make(map[core.RoomID]string),
	}
}

// Attach subscribes to every change of s.
func (r *Renderer) Attach(s subscriber) (detach func()) {
	return s.OnAny(r.Handle)
}

// Printf writes one line.
func (r *Renderer) Printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.line(format, args...)
}

// Error writes an error line with its code when it has one.
func (r *Renderer) Error(err error) {
	if err == nil {
		return
	}
	if code := core.Code(err); code != "" {
		r.Printf("! %s (%s)", err, code)
		return
	}
	r.Printf("! %s", err)
}

// Handle renders one change.
func (r *Renderer) Handle(c session.Change) {
	snap := c.Snapshot
	if snap == nil {
		return
	}
	switch c.Topic {
	case session.TopicState:
		r.renderState(snap)
	case session.TopicMessages:
		r.renderMessages(snap, c.Room)
	case session.TopicTyping:
		r.renderTyping(snap)
	case session.TopicHistory:
		r.renderHistory(snap, c.Room)
	case session.TopicError:
		r.Error(c.Err)
	}
}

func (r *Renderer) renderState(snap *session.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.State != r.state {
		r.state = snap.State
		switch snap.State {
		case core.StateConnected:
			r.line("* connected as %s", snap.Identity)
		case core.StateReconnecting:
			r.line("* connection lost, reconnect attempt %d scheduled", snap.Attempt)
		case core.StateDisconnected:
			r.line("* disconnected")
		case core.StateLoggedOut:
			r.line("* logged out")
			r.seen = make(map[core.RoomID]map[string]struct{})
			r.typing = make(map[core.RoomID]string)
		}
	}
	if snap.CurrentRoom != r.room {
		r.room = snap.CurrentRoom
		r.line("* now in %s", roomLabel(snap, snap.CurrentRoom))
	}
}

func (r *Renderer) renderMessages(snap *session.Snapshot, room core.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen, ok := r.seen[room]
	if !ok {
		seen = make(map[string]struct{})
		r.seen[room] = seen
	}
	label := roomLabel(snap, room)
	for _, m := range snap.Log(room) {
		key := m.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		r.line("%s", formatMessage(label, m))
	}
}

func (r *Renderer) renderTyping(snap *session.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := make([]core.RoomID, 0, len(snap.Typing)+len(r.typing))
	for id := range snap.Typing {
		rooms = append(rooms, id)
	}
	for id := range r.typing {
		if _, ok := snap.Typing[id]; !ok {
			rooms = append(rooms, id)
		}
	}
	slices.Sort(rooms)

	for _, id := range rooms {
		users := strings.Join(snap.TypingIn(id), ", ")
		if users == r.typing[id] {
			continue
		}
		if users == "" {
			delete(r.typing, id)
			continue
		}
		r.typing[id] = users
		r.line("* %s typing in %s...", users, roomLabel(snap, id))
	}
}

func (r *Renderer) renderHistory(snap *session.Snapshot, room core.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case snap.Loading == room:
		r.line("* loading older messages of %s", roomLabel(snap, room))
	case !snap.CanLoadMore(room):
		r.line("* no older messages in %s", roomLabel(snap, room))
	}
}

func (r *Renderer) line(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

func formatMessage(label string, m core.Message) string {
	at := m.CreatedAt.Local().Format(timeLayout)
	switch m.Kind {
	case core.MessageSystemJoin:
		return fmt.Sprintf("%s [%s] * %s came online", at, label, m.From)
	case core.MessageSystemLeave:
		return fmt.Sprintf("%s [%s] * %s went offline", at, label, m.From)
	case core.MessageSystemRoomEvent:
		if m.Text != "" {
			return fmt.Sprintf("%s [%s] * %s", at, label, m.Text)
		}
		return fmt.Sprintf("%s [%s] * %s moved", at, label, m.From)
	default:
		return fmt.Sprintf("%s [%s] %s: %s", at, label, m.From, m.Text)
	}
}

func roomLabel(snap *session.Snapshot, id core.RoomID) string {
	if id.IsGlobal() {
		return "global"
	}
	if room, ok := snap.Room(id); ok && room.Name != "" {
		return "#" + room.Name
	}
	return "#" + id.String()
}
