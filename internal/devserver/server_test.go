package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

func startTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func dialAs(t *testing.T, ts *httptest.Server, user, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := strings.Replace(ts.URL, "http", "ws", 1) + "/ws?username=" + user + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// readUntil reads frames until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) proto.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		var f proto.Frame
		require.NoError(t, wsjson.Read(ctx, conn, &f))
		if f.MessageType == want {
			return f
		}
	}
}

func write(t *testing.T, conn *websocket.Conn, f proto.Frame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, f))
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketRequiresUsername(t *testing.T) {
	_, ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatIsBroadcast(t *testing.T) {
	s, ts := startTestServer(t)
	a := dialAs(t, ts, "alice", "")
	b := dialAs(t, ts, "bob", "")
	require.Eventually(t, func() bool { return len(s.Online()) == 2 }, time.Second, 5*time.Millisecond)

	write(t, a, proto.Frame{MessageType: proto.TypeChat, User: "alice", Text: "hello"})
	got := readUntil(t, b, proto.TypeChat)
	assert.Equal(t, "alice", got.User)
	assert.Equal(t, "hello", got.Text)
	assert.NotEmpty(t, got.Timestamp)
}

func TestJoinRoomReplaysHistory(t *testing.T) {
	s, ts := startTestServer(t)
	room := s.AddRoom("general", "public", "bob")
	s.AddMessage(room.ID, "bob", "earlier", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	conn := dialAs(t, ts, "alice", "")
	list := readUntil(t, conn, proto.TypeRoomList)
	require.Len(t, list.Rooms, 1)

	cmd, err := json.Marshal(proto.JoinRoomCommand{RoomID: room.ID})
	require.NoError(t, err)
	write(t, conn, proto.Frame{MessageType: proto.TypeJoinRoom, User: "alice", Text: string(cmd)})

	replay := readUntil(t, conn, proto.TypeChat)
	assert.Equal(t, "earlier", replay.Text)
	assert.Equal(t, room.ID, replay.RoomID)
	assert.NotZero(t, replay.ID)

	joined := readUntil(t, conn, proto.TypeRoomJoined)
	assert.Equal(t, "alice", joined.User)
	assert.Equal(t, room.ID, joined.RoomID)
}

func TestCreateProtectedRoomNeedsPassword(t *testing.T) {
	_, ts := startTestServer(t)
	conn := dialAs(t, ts, "alice", "")

	cmd, err := json.Marshal(proto.CreateRoomCommand{Name: "vault", RoomType: "protected"})
	require.NoError(t, err)
	write(t, conn, proto.Frame{MessageType: proto.TypeCreateRoom, User: "alice", Text: string(cmd)})

	f := readUntil(t, conn, proto.TypeError)
	assert.Equal(t, "password required", f.Error)
}

func TestChatRateLimit(t *testing.T) {
	s, ts := startTestServer(t)
	s.SetRateLimit(1)
	conn := dialAs(t, ts, "alice", "")

	write(t, conn, proto.Frame{MessageType: proto.TypeChat, User: "alice", Text: "one"})
	write(t, conn, proto.Frame{MessageType: proto.TypeChat, User: "alice", Text: "two"})

	f := readUntil(t, conn, proto.TypeError)
	assert.Equal(t, "Rate limit exceeded", f.Text)
}

func TestRateLimiterWindow(t *testing.T) {
	r := newRateLimiter(2)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, r.allow(now))
	assert.True(t, r.allow(now.Add(time.Second)))
	assert.False(t, r.allow(now.Add(2*time.Second)))
	assert.True(t, r.allow(now.Add(time.Minute)))

	var disabled *rateLimiter
	assert.True(t, disabled.allow(now))
}

func TestHistoryEndpointAcceptsTimestampCursor(t *testing.T) {
	s, ts := startTestServer(t)
	room := s.AddRoom("general", "public", "bob")
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.AddMessage(room.ID, "bob", "a", t0)
	s.AddMessage(room.ID, "bob", "b", t0.Add(time.Second))

	resp, err := ts.Client().Get(ts.URL + "/api/rooms/1/messages?before=" + t0.Add(time.Second).Format(time.RFC3339Nano))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Success bool            `json:"success"`
		Data    []StoredMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.True(t, body.Success)
	require.Len(t, body.Data, 1)
	assert.Equal(t, "a", body.Data[0].Content)
}
