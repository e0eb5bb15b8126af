// Package session owns the live connection and reconciles inbound frames
// into rooms, presence, message logs and typing state.
//
// All state changes run on one task queue driven by Run. Channel reads,
// dials, history fetches and timers complete on their own goroutines and
// post their results back onto the queue, so nothing here needs locking
// except the published snapshot.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/classify"
	"github.com/vovakirdan/wirechat-client/internal/conversation"
	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/dispatch"
	"github.com/vovakirdan/wirechat-client/internal/notify"
	"github.com/vovakirdan/wirechat-client/internal/registry"
	"github.com/vovakirdan/wirechat-client/internal/timers"
	"github.com/vovakirdan/wirechat-client/internal/transport/rest"
	"github.com/vovakirdan/wirechat-client/internal/utils"
)

// Defaults applied when Options leave a field zero.
const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultPageSize       = 50

	taskBuffer     = 256
	maxLoggedFrame = 256
	reconnectKey   = "reconnect"
)

var (
	// ErrNotRunning is returned by intents issued before Run or after it returned.
	ErrNotRunning = errors.New("session not running")
	// ErrNoHistory is returned by LoadMore when no history source is configured.
	ErrNoHistory = errors.New("history source not configured")
)

// Options configure a Controller.
type Options struct {
	Connector Connector
	Endpoint  EndpointFunc
	History   HistorySource

	Clock  clock.Clock
	Logger *zerolog.Logger

	Policy      conversation.ScopePolicy
	TypingQuiet time.Duration
	MaxRoomName int
	PageSize    int

	Reconnect            bool
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int // zero means unlimited
	// Backoff overrides the fixed ReconnectDelay schedule.
	Backoff backoff.BackOff
}

// Controller is the session orchestrator.
type Controller struct {
	opts     Options
	log      zerolog.Logger
	clock    clock.Clock
	pageSize int

	tasks   chan func()
	done    chan struct{}
	running atomic.Bool
	snap    atomic.Pointer[Snapshot]
	emitter *notify.Emitter[Topic, Change]

	registry  *registry.Registry
	store     *conversation.Store
	dispatch  *dispatch.Dispatcher
	reconnect *timers.Registry[string]
	backoff   backoff.BackOff

	// Everything below is owned by the task queue.
	ctx           context.Context
	identity      string
	state         core.ConnState
	current       core.RoomID
	connID        string
	gen           uint64
	ch            Channel
	dialCancel    context.CancelFunc
	attempts      int
	historyGen    uint64
	historyCancel context.CancelFunc
	loading       core.RoomID
	lastErr       error
}

// New builds a controller. Call Run to start processing.
func New(opts Options) (*Controller, error) {
	if opts.Connector == nil {
		return nil, errors.New("session: connector is required")
	}
	if opts.Endpoint == nil {
		return nil, errors.New("session: endpoint func is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Backoff == nil {
		opts.Backoff = backoff.NewConstantBackOff(opts.ReconnectDelay)
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	c := &Controller{
		opts:     opts,
		log:      opts.Logger.With().Str("component", "session").Logger(),
		clock:    opts.Clock,
		pageSize: pageSize,
		tasks:    make(chan func(), taskBuffer),
		done:     make(chan struct{}),
		emitter:  notify.New[Topic, Change](),
		registry: registry.New(),
		backoff:  opts.Backoff,
		ctx:      context.Background(),
	}
	post := func(fn func()) { c.post(fn) }
	c.store = conversation.New(conversation.Options{
		Policy:      opts.Policy,
		TypingQuiet: opts.TypingQuiet,
		Clock:       opts.Clock,
		Post:        post,
		OnExpire: func(room core.RoomID, _ string) {
			c.changed(Change{Topic: TopicTyping, Room: room})
		},
	})
	c.dispatch = dispatch.New(dispatch.Options{
		Clock:       opts.Clock,
		Post:        post,
		TypingQuiet: opts.TypingQuiet,
		MaxRoomName: opts.MaxRoomName,
		Logger:      c.log,
	})
	c.reconnect = timers.New[string](opts.Clock, post)
	c.snap.Store(c.buildSnapshot())
	return c, nil
}

// Run processes queued work until ctx is cancelled, then closes the
// channel and stops all timers.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("session: already running")
	}
	c.ctx = ctx
	defer close(c.done)

	for {
		select {
		case fn := <-c.tasks:
			fn()
		case <-ctx.Done():
			c.shutdown()
			return nil
		}
	}
}

// State returns the latest snapshot. It is safe to call from any goroutine.
func (c *Controller) State() *Snapshot {
	return c.snap.Load()
}

// On subscribes fn to one topic. Listeners run on the session goroutine
// and must not block or call back into the controller synchronously.
func (c *Controller) On(topic Topic, fn func(Change)) (unsubscribe func()) {
	return c.emitter.On(topic, fn)
}

// OnAny subscribes fn to every topic.
func (c *Controller) OnAny(fn func(Change)) (unsubscribe func()) {
	return c.emitter.OnAny(fn)
}

// Login sets the identity and opens the channel. It returns once the dial
// has started; progress is reported through TopicState.
func (c *Controller) Login(ctx context.Context, identity string, room core.RoomID) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return core.ErrInvalidUsername
	}
	return c.do(ctx, func() error {
		if c.state != core.StateLoggedOut {
			return core.ErrAlreadyLoggedIn
		}
		c.identity = identity
		c.current = room
		c.attempts = 0
		c.lastErr = nil
		c.backoff.Reset()
		c.state = core.StateConnecting
		c.log.Info().Str("user", identity).Stringer("room_id", room).Msg("logging in")
		c.connect()
		c.changed(Change{Topic: TopicState})
		return nil
	})
}

// Logout closes the channel, cancels pending reconnects and fetches, and
// clears all session state.
func (c *Controller) Logout(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.logout()
		return nil
	})
}

// SendMessage sends text to the current room, or globally when none is selected.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	return c.do(ctx, func() error {
		return c.dispatch.SendMessage(ctx, c.current, text)
	})
}

// SendMessageTo sends text to a specific scope.
func (c *Controller) SendMessageTo(ctx context.Context, room core.RoomID, text string) error {
	return c.do(ctx, func() error {
		return c.dispatch.SendMessage(ctx, room, text)
	})
}

// CreateRoom asks the server to create a room.
func (c *Controller) CreateRoom(ctx context.Context, name string, kind core.RoomKind, password string) error {
	return c.do(ctx, func() error {
		return c.dispatch.CreateRoom(ctx, name, kind, password)
	})
}

// JoinRoom enters room and selects it. The server confirms with room_joined;
// history it replays before that already belongs to the new selection.
func (c *Controller) JoinRoom(ctx context.Context, room core.RoomID, password string) error {
	return c.do(ctx, func() error {
		if err := c.dispatch.JoinRoom(ctx, room, password); err != nil {
			return err
		}
		if c.current != room {
			c.current = room
			c.changed(Change{Topic: TopicState})
		}
		return nil
	})
}

// LeaveRoom leaves room, or the current room when room is global. Leaving
// the current room falls back to the global scope.
func (c *Controller) LeaveRoom(ctx context.Context, room core.RoomID) error {
	return c.do(ctx, func() error {
		if room.IsGlobal() {
			room = c.current
		}
		if room.IsGlobal() {
			return core.ErrInvalidRoom
		}
		if err := c.dispatch.LeaveRoom(ctx, room); err != nil {
			return err
		}
		if room == c.current {
			c.current = core.GlobalScope
			c.changed(Change{Topic: TopicState})
		}
		return nil
	})
}

// SetTyping signals a keystroke in the current room.
func (c *Controller) SetTyping(ctx context.Context) error {
	return c.do(ctx, func() error {
		return c.dispatch.SetTyping(ctx, c.current)
	})
}

// ClearTyping withdraws the typing signal right away.
func (c *Controller) ClearTyping(ctx context.Context) error {
	return c.do(ctx, func() error {
		return c.dispatch.ClearTyping(ctx)
	})
}

// Execute runs an intent described as a command. A zero Room on a send or
// leave targets the current room.
func (c *Controller) Execute(ctx context.Context, cmd core.Command) error {
	switch cmd.Kind {
	case core.CommandSendMessage:
		if cmd.Room.IsGlobal() {
			return c.SendMessage(ctx, cmd.Text)
		}
		return c.SendMessageTo(ctx, cmd.Room, cmd.Text)
	case core.CommandCreateRoom:
		return c.CreateRoom(ctx, cmd.Text, cmd.RoomKind, cmd.Password)
	case core.CommandJoinRoom:
		return c.JoinRoom(ctx, cmd.Room, cmd.Password)
	case core.CommandLeaveRoom:
		return c.LeaveRoom(ctx, cmd.Room)
	case core.CommandSetTyping:
		return c.SetTyping(ctx)
	case core.CommandClearTyping:
		return c.ClearTyping(ctx)
	default:
		return fmt.Errorf("unsupported command %s", cmd.Kind)
	}
}

// LoadMore fetches the page of history preceding the oldest held message
// of room. It returns once the fetch has started; a call while the same
// room is already loading, or once the room has no more history, is a no-op.
func (c *Controller) LoadMore(ctx context.Context, room core.RoomID) error {
	return c.do(ctx, func() error {
		switch {
		case c.opts.History == nil:
			return ErrNoHistory
		case room.IsGlobal():
			return core.ErrInvalidRoom
		case c.state == core.StateLoggedOut:
			return core.ErrLoggedOut
		case !c.store.HasMore(room):
			return nil
		case c.historyCancel != nil && c.loading == room:
			return nil
		}
		c.cancelHistory()

		q := rest.HistoryQuery{Room: room, Before: c.store.Cursor(room).Param(), Limit: c.pageSize}
		fetchCtx, cancel := context.WithCancel(c.ctx)
		c.historyGen++
		gen := c.historyGen
		c.historyCancel = cancel
		c.loading = room

		go func() {
			page, err := c.opts.History.History(fetchCtx, q)
			c.post(func() { c.onHistory(gen, room, page, err) })
		}()
		c.changed(Change{Topic: TopicHistory, Room: room})
		return nil
	})
}

// do runs fn on the task queue and waits for its result.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	select {
	case c.tasks <- func() { res <- fn() }:
	case <-c.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-res:
		return err
	case <-c.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrNotRunning
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn. It reports false once Run has returned.
func (c *Controller) post(fn func()) bool {
	select {
	case c.tasks <- fn:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) connect() {
	c.gen++
	gen := c.gen
	endpoint := c.opts.Endpoint(c.identity, c.current)
	dialCtx, cancel := context.WithCancel(c.ctx)
	c.dialCancel = cancel

	go func() {
		ch, err := c.opts.Connector.Connect(dialCtx, endpoint)
		if !c.post(func() { c.onDial(gen, ch, err) }) && ch != nil {
			ch.Close()
		}
	}()
}

func (c *Controller) onDial(gen uint64, ch Channel, err error) {
	if gen != c.gen {
		if ch != nil {
			go ch.Close()
		}
		return
	}
	c.dialCancel()
	c.dialCancel = nil

	if err != nil {
		c.log.Warn().Err(err).Int("attempt", c.attempts).Msg("connect failed")
		c.lastErr = err
		c.state = core.StateDisconnected
		c.scheduleReconnect()
		c.changed(Change{Topic: TopicState}, Change{Topic: TopicError, Err: err})
		return
	}

	c.ch = ch
	c.connID = utils.NewID()
	c.state = core.StateConnected
	c.attempts = 0
	c.lastErr = nil
	c.backoff.Reset()
	c.dispatch.Bind(c.identity, ch)
	go c.pump(gen, ch)

	c.log.Info().Str("conn_id", c.connID).Str("user", c.identity).Msg("connected")
	c.changed(Change{Topic: TopicState})
}

// pump forwards inbound frames onto the task queue in arrival order.
func (c *Controller) pump(gen uint64, ch Channel) {
	for data := range ch.Frames() {
		if !c.post(func() { c.onFrame(gen, data) }) {
			return
		}
	}
	err := ch.Err()
	ch.Close()
	c.post(func() { c.onClosed(gen, err) })
}

func (c *Controller) onFrame(gen uint64, data []byte) {
	if gen != c.gen {
		return
	}
	ev, err := classify.Classify(data)
	if err != nil {
		c.log.Warn().Err(err).Str("conn_id", c.connID).Str("raw", truncate(data)).Msg("dropping malformed frame")
		return
	}
	c.apply(ev)
}

func (c *Controller) apply(ev core.Event) {
	var changes []Change
	switch ev.Kind {
	case core.EventChat:
		changes = c.appendMessage(ev, changes)

	case core.EventTyping, core.EventStopTyping:
		if ev.User == c.identity {
			return
		}
		var d conversation.Delta
		if ev.Kind == core.EventTyping {
			d = c.store.ApplyTyping(ev.Room, ev.User)
		} else {
			d = c.store.ApplyStopTyping(ev.Room, ev.User)
		}
		if d.Typing {
			changes = append(changes, Change{Topic: TopicTyping, Room: ev.Room})
		}

	case core.EventJoin, core.EventLeave, core.EventUserList:
		d := c.registry.Apply(ev)
		if d.Presence {
			changes = append(changes, Change{Topic: TopicPresence})
		}
		if d.Members {
			changes = append(changes, Change{Topic: TopicRooms})
		}
		changes = c.appendMessage(ev, changes)

	case core.EventRoomList, core.EventNewRoom:
		if c.registry.Apply(ev).Rooms {
			changes = append(changes, Change{Topic: TopicRooms})
		}

	case core.EventRoomJoined, core.EventRoomLeft:
		if c.registry.Apply(ev).Changed() {
			changes = append(changes, Change{Topic: TopicRooms, Room: ev.Room})
		}
		if ev.User == c.identity {
			switch {
			case ev.Kind == core.EventRoomJoined && c.current != ev.Room:
				c.current = ev.Room
				changes = append(changes, Change{Topic: TopicState})
			case ev.Kind == core.EventRoomLeft && c.current == ev.Room:
				c.current = core.GlobalScope
				changes = append(changes, Change{Topic: TopicState})
			}
		}
		changes = c.appendMessage(ev, changes)

	case core.EventError:
		c.lastErr = ev.Error
		c.log.Warn().Str("conn_id", c.connID).Err(ev.Error).Msg("server error")
		changes = append(changes, Change{Topic: TopicError, Err: ev.Error})

	default:
		c.log.Debug().Str("message_type", ev.RawType).Msg("ignoring unknown frame")
	}
	c.changed(changes...)
}

func (c *Controller) appendMessage(ev core.Event, changes []Change) []Change {
	msg, ok := ev.Message()
	if !ok {
		return changes
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = c.clock.Now()
	}
	if c.store.ApplyChat(msg, c.current).Log {
		changes = append(changes, Change{Topic: TopicMessages, Room: msg.Room})
	}
	return changes
}

func (c *Controller) onClosed(gen uint64, err error) {
	if gen != c.gen {
		return
	}
	c.ch = nil
	c.dispatch.Unbind()
	c.cancelHistory()

	changes := []Change{{Topic: TopicState}}
	if c.store.ClearTyping().Typing {
		changes = append(changes, Change{Topic: TopicTyping})
	}
	if c.registry.ResetPresence().Changed() {
		changes = append(changes, Change{Topic: TopicPresence})
	}
	c.state = core.StateDisconnected
	if err != nil {
		c.lastErr = err
		changes = append(changes, Change{Topic: TopicError, Err: err})
	}
	c.log.Warn().Err(err).Str("conn_id", c.connID).Msg("channel closed")

	c.scheduleReconnect()
	c.changed(changes...)
}

func (c *Controller) scheduleReconnect() {
	if !c.opts.Reconnect || c.identity == "" {
		return
	}
	if limit := c.opts.MaxReconnectAttempts; limit > 0 && c.attempts >= limit {
		c.log.Warn().Int("attempt", c.attempts).Msg("giving up on reconnect")
		return
	}
	delay := c.backoff.NextBackOff()
	if delay == backoff.Stop {
		return
	}
	c.attempts++
	c.state = core.StateReconnecting
	c.log.Info().Int("attempt", c.attempts).Dur("delay", delay).Msg("reconnect scheduled")

	c.reconnect.Schedule(reconnectKey, delay, func() {
		if c.state != core.StateReconnecting {
			return
		}
		c.connect()
		c.changed(Change{Topic: TopicState})
	})
}

func (c *Controller) logout() {
	if c.state == core.StateLoggedOut {
		return
	}
	c.gen++
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	c.reconnect.Stop()
	c.cancelHistory()
	if ch := c.ch; ch != nil {
		c.ch = nil
		go ch.Close()
	}
	c.dispatch.Unbind()
	c.registry.Reset()
	c.store.Reset()

	c.log.Info().Str("user", c.identity).Msg("logged out")
	c.identity = ""
	c.current = core.GlobalScope
	c.connID = ""
	c.attempts = 0
	c.lastErr = nil
	c.state = core.StateLoggedOut
	c.changed(
		Change{Topic: TopicState},
		Change{Topic: TopicRooms},
		Change{Topic: TopicPresence},
		Change{Topic: TopicMessages},
		Change{Topic: TopicTyping},
	)
}

func (c *Controller) onHistory(gen uint64, room core.RoomID, page []core.Message, err error) {
	if gen != c.historyGen {
		return
	}
	c.historyCancel()
	c.historyCancel = nil
	c.loading = core.GlobalScope

	changes := []Change{{Topic: TopicHistory, Room: room}}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.lastErr = fmt.Errorf("load history: %w", err)
			c.log.Warn().Err(err).Stringer("room_id", room).Msg("history fetch failed")
			changes = append(changes, Change{Topic: TopicError, Room: room, Err: c.lastErr})
		}
		c.changed(changes...)
		return
	}
	if c.store.ApplyHistoryPage(room, page, c.pageSize).Log {
		changes = append(changes, Change{Topic: TopicMessages, Room: room})
	}
	c.changed(changes...)
}

func (c *Controller) cancelHistory() {
	if c.historyCancel == nil {
		return
	}
	c.historyCancel()
	c.historyCancel = nil
	c.historyGen++
	c.loading = core.GlobalScope
}

func (c *Controller) shutdown() {
	c.gen++
	if c.dialCancel != nil {
		c.dialCancel()
	}
	c.reconnect.Stop()
	c.cancelHistory()
	c.dispatch.Close()
	c.store.Close()
	if ch := c.ch; ch != nil {
		c.ch = nil
		go ch.Close()
	}
	c.emitter.Close()
}

// changed publishes a fresh snapshot and notifies subscribers.
func (c *Controller) changed(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	snap := c.buildSnapshot()
	c.snap.Store(snap)
	for _, ch := range changes {
		ch.Snapshot = snap
		c.emitter.Emit(ch.Topic, ch)
	}
}

func (c *Controller) buildSnapshot() *Snapshot {
	snap := &Snapshot{
		Identity:    c.identity,
		ConnID:      c.connID,
		State:       c.state,
		CurrentRoom: c.current,
		Attempt:     c.attempts,
		Rooms:       c.registry.Rooms(),
		Online:      c.registry.OnlineUsers().Sorted(),
		Members:     make(map[core.RoomID][]string),
		Logs:        make(map[core.RoomID][]core.Message),
		Typing:      make(map[core.RoomID][]string),
		HasMore:     make(map[core.RoomID]bool),
		Loading:     c.loading,
		LastError:   c.lastErr,
	}
	for _, room := range c.registry.Rooms() {
		if m := c.registry.Members(room.ID); m.Len() > 0 {
			snap.Members[room.ID] = m.Sorted()
		}
	}
	for _, id := range c.store.Rooms() {
		snap.Logs[id] = c.store.Log(id)
		snap.HasMore[id] = c.store.HasMore(id)
	}
	for _, id := range c.store.TypingRooms() {
		snap.Typing[id] = c.store.TypingUsers(id)
	}
	return snap
}

func truncate(data []byte) string {
	if len(data) <= maxLoggedFrame {
		return string(data)
	}
	return string(data[:maxLoggedFrame]) + "..."
}
