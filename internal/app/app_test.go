package app

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/devserver"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/session"
	"github.com/vovakirdan/wirechat-client/internal/transport/ws"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want command
		ok   bool
	}{
		{"/join 3 secret", command{name: "join", args: []string{"3", "secret"}}, true},
		{"  /QUIT ", command{name: "quit", args: []string{}}, true},
		{"hello /join", command{}, false},
		{"/", command{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := parseCommand(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRoomID(t *testing.T) {
	id, err := parseRoomID("#12")
	require.NoError(t, err)
	assert.Equal(t, core.RoomID(12), id)

	_, err = parseRoomID("general")
	assert.ErrorIs(t, err, core.ErrInvalidRoom)
	_, err = parseRoomID("0")
	assert.ErrorIs(t, err, core.ErrInvalidRoom)
}

func TestNewBackoff(t *testing.T) {
	cfg := config.Default()
	b := NewBackoff(cfg)
	assert.Equal(t, 5*time.Second, b.NextBackOff())
	assert.Equal(t, 5*time.Second, b.NextBackOff())

	cfg.ReconnectBackoff = config.BackoffExponential
	cfg.ReconnectDelay = time.Second
	cfg.ReconnectMaxDelay = 3 * time.Second
	exp, ok := NewBackoff(cfg).(*backoff.ExponentialBackOff)
	require.True(t, ok)
	assert.Equal(t, time.Second, exp.InitialInterval)
	assert.Equal(t, 3*time.Second, exp.MaxInterval)
}

func TestRendererPrintsEachMessageOnce(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := &session.Snapshot{
		Rooms: []core.Room{{ID: 2, Name: "general"}},
		Logs: map[core.RoomID][]core.Message{
			2: {{ID: 1, Room: 2, From: "bob", Text: "hi", CreatedAt: at, Kind: core.MessageChat}},
		},
	}
	r.Handle(session.Change{Topic: session.TopicMessages, Room: 2, Snapshot: snap})
	r.Handle(session.Change{Topic: session.TopicMessages, Room: 2, Snapshot: snap})

	assert.Equal(t, 1, strings.Count(out.String(), "[#general] bob: hi"))
}

func TestRendererTyping(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out)
	typing := &session.Snapshot{Typing: map[core.RoomID][]string{core.GlobalScope: {"bob"}}}
	r.Handle(session.Change{Topic: session.TopicTyping, Snapshot: typing})
	r.Handle(session.Change{Topic: session.TopicTyping, Snapshot: typing})
	r.Handle(session.Change{Topic: session.TopicTyping, Snapshot: &session.Snapshot{}})
	r.Handle(session.Change{Topic: session.TopicTyping, Snapshot: typing})

	assert.Equal(t, 2, strings.Count(out.String(), "bob typing in global"))
}

func TestRendererErrorCode(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out)
	r.Handle(session.Change{Topic: session.TopicError, Err: &core.ServerError{Text: "Failed to join room", Detail: "room not found"}, Snapshot: &session.Snapshot{}})
	assert.Contains(t, out.String(), "Failed to join room: room not found (server_error)")
}

func TestAppAgainstDevServer(t *testing.T) {
	backend := devserver.New(nil)
	room := backend.AddRoom("general", "public", "bob")
	backend.AddMessage(room.ID, "bob", "from before", time.Now().Add(-time.Minute))
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Host = strings.TrimPrefix(srv.URL, "http://")
	cfg.Username = "alice"
	cfg.Reconnect = false

	inR, inW := io.Pipe()
	t.Cleanup(func() { inW.Close() })
	out := &syncBuffer{}
	logger := zerolog.Nop()
	a, err := New(cfg, &logger, inR, out)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		return slices.Contains(backend.Online(), "alice")
	}, 2*time.Second, 10*time.Millisecond)

	write := func(line string) {
		_, err := io.WriteString(inW, line+"\n")
		require.NoError(t, err)
	}

	write("/join 1")
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[#general] bob: from before")
	}, 2*time.Second, 10*time.Millisecond)

	write("hello there")
	require.Eventually(t, func() bool {
		for _, f := range backend.Received() {
			if f.MessageType == proto.TypeChat && f.Text == "hello there" && f.RoomID == room.ID {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	write("/nope")
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), errUnknownCommand.Error())
	}, 2*time.Second, 10*time.Millisecond)

	write("/quit")
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop after /quit")
	}
	assert.Contains(t, out.String(), "* logged out")
}

func TestSessionOverWebsocketSurvivesKick(t *testing.T) {
	backend := devserver.New(nil)
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)
	host := strings.TrimPrefix(srv.URL, "http://")

	logger := zerolog.Nop()
	ctrl, err := session.New(session.Options{
		Connector: Connector(ws.Dialer{Timeout: time.Second, Logger: logger}),
		Endpoint: func(identity string, room core.RoomID) string {
			return ws.Endpoint("ws", host, "/ws", identity, room)
		},
		Logger:         &logger,
		Reconnect:      true,
		ReconnectDelay: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.NoError(t, ctrl.Login(ctx, "alice", core.GlobalScope))
	require.Eventually(t, func() bool { return slices.Contains(backend.Online(), "alice") }, 2*time.Second, 10*time.Millisecond)

	backend.SendRaw([]byte(`{"message_type":`))
	backend.Broadcast(proto.Frame{MessageType: proto.TypeChat, User: "bob", Text: "still here", Timestamp: proto.FormatTime(time.Now())})
	require.Eventually(t, func() bool {
		for _, m := range ctrl.State().Log(core.GlobalScope) {
			if m.Text == "still here" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	firstConn := ctrl.State().ConnID

	backend.Kick(int(websocket.StatusPolicyViolation), "kicked")
	require.Eventually(t, func() bool {
		snap := ctrl.State()
		return snap.Connected() && snap.ConnID != firstConn
	}, 3*time.Second, 10*time.Millisecond)
	assert.NoError(t, ctrl.State().LastError)
}
