// Package dispatch validates user intents and turns them into outbound frames.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/timers"
)

// DefaultMaxRoomName is the longest room name the server accepts.
const DefaultMaxRoomName = 30

// Sender writes one encoded frame to the live channel.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

// Options configure a Dispatcher.
type Options struct {
	Clock       clock.Clock
	Post        timers.Poster
	TypingQuiet time.Duration
	MaxRoomName int
	Logger      zerolog.Logger
}

type typingKey struct{}

// Dispatcher is owned by the session task queue and is not safe for
// concurrent use.
type Dispatcher struct {
	clock   clock.Clock
	quiet   time.Duration
	maxName int
	log     zerolog.Logger

	identity string
	sender   Sender

	typing     *timers.Registry[typingKey]
	typingRoom core.RoomID
	typingOn   bool
}

// New builds an unbound dispatcher.
func New(opts Options) *Dispatcher {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.TypingQuiet <= 0 {
		opts.TypingQuiet = 2 * time.Second
	}
	if opts.MaxRoomName <= 0 {
		opts.MaxRoomName = DefaultMaxRoomName
	}
	return &Dispatcher{
		clock:   opts.Clock,
		quiet:   opts.TypingQuiet,
		maxName: opts.MaxRoomName,
		log:     opts.Logger,
		typing:  timers.New[typingKey](opts.Clock, opts.Post),
	}
}

// Bind attaches the live channel frames are written to.
func (d *Dispatcher) Bind(identity string, s Sender) {
	d.identity = identity
	d.sender = s
}

// Unbind detaches the channel and forgets local typing state.
func (d *Dispatcher) Unbind() {
	d.sender = nil
	d.typing.Stop()
	d.typingOn = false
}

// Connected reports whether a channel is bound.
func (d *Dispatcher) Connected() bool {
	return d.sender != nil
}

// SendMessage sends a chat message to room. Whitespace-only text is
// rejected before the connection is checked.
func (d *Dispatcher) SendMessage(ctx context.Context, room core.RoomID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return core.ErrEmptyInput
	}
	if !d.Connected() {
		return core.ErrNotConnected
	}
	if err := d.send(ctx, d.frame(proto.TypeChat, room, text)); err != nil {
		return err
	}
	if d.typingOn {
		return d.ClearTyping(ctx)
	}
	return nil
}

// CreateRoom asks the server to create a room. Protected rooms need a password.
func (d *Dispatcher) CreateRoom(ctx context.Context, name string, kind core.RoomKind, password string) error {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > d.maxName {
		return core.ErrInvalidName
	}
	cmd := proto.CreateRoomCommand{Name: name, RoomType: kind.String()}
	if kind == core.RoomPasswordProtected {
		if password == "" {
			return core.ErrPasswordRequired
		}
		cmd.Password = &password
	}
	if !d.Connected() {
		return core.ErrNotConnected
	}
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode create room: %w", err)
	}
	return d.send(ctx, d.frame(proto.TypeCreateRoom, core.GlobalScope, string(body)))
}

// JoinRoom asks to enter room. An empty password is sent as null.
func (d *Dispatcher) JoinRoom(ctx context.Context, room core.RoomID, password string) error {
	if room.IsGlobal() {
		return core.ErrInvalidRoom
	}
	if !d.Connected() {
		return core.ErrNotConnected
	}
	cmd := proto.JoinRoomCommand{RoomID: int64(room)}
	if password != "" {
		cmd.Password = &password
	}
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode join room: %w", err)
	}
	return d.send(ctx, d.frame(proto.TypeJoinRoom, room, string(body)))
}

// LeaveRoom tells the server the user left room.
func (d *Dispatcher) LeaveRoom(ctx context.Context, room core.RoomID) error {
	if room.IsGlobal() {
		return core.ErrInvalidRoom
	}
	if !d.Connected() {
		return core.ErrNotConnected
	}
	return d.send(ctx, d.frame(proto.TypeLeaveRoom, room, ""))
}

// SetTyping announces typing in room. Every keystroke sends a typing frame
// so receivers keep the flag alive, and pushes back the stop_typing sent
// once input has been quiet for the configured interval.
func (d *Dispatcher) SetTyping(ctx context.Context, room core.RoomID) error {
	if !d.Connected() {
		return core.ErrNotConnected
	}
	if d.typingOn && d.typingRoom != room {
		if err := d.ClearTyping(ctx); err != nil {
			return err
		}
	}
	if err := d.send(ctx, d.frame(proto.TypeTyping, room, "")); err != nil {
		return err
	}
	d.typingOn = true
	d.typingRoom = room
	d.typing.Schedule(typingKey{}, d.quiet, func() {
		if err := d.ClearTyping(context.Background()); err != nil {
			d.log.Debug().Err(err).Msg("debounced stop_typing not sent")
		}
	})
	return nil
}

// ClearTyping sends stop_typing right away if a typing frame is outstanding.
func (d *Dispatcher) ClearTyping(ctx context.Context) error {
	d.typing.Cancel(typingKey{})
	if !d.typingOn {
		return nil
	}
	d.typingOn = false
	if !d.Connected() {
		return core.ErrNotConnected
	}
	return d.send(ctx, d.frame(proto.TypeStopTyping, d.typingRoom, ""))
}

// Typing reports whether a typing frame is outstanding.
func (d *Dispatcher) Typing() bool {
	return d.typingOn
}

// Close stops the debounce timer.
func (d *Dispatcher) Close() {
	d.typing.Stop()
}

func (d *Dispatcher) frame(kind string, room core.RoomID, text string) proto.Frame {
	return proto.Frame{
		MessageType: kind,
		User:        d.identity,
		Text:        text,
		Timestamp:   proto.FormatTime(d.clock.Now()),
		RoomID:      int64(room),
	}
}

func (d *Dispatcher) send(ctx context.Context, f proto.Frame) error {
	data, err := proto.Encode(f)
	if err != nil {
		return err
	}
	if err := d.sender.Send(ctx, data); err != nil {
		return fmt.Errorf("send %s: %w", f.MessageType, err)
	}
	d.log.Debug().Str("type", f.MessageType).Int64("room_id", f.RoomID).Msg("frame sent")
	return nil
}
