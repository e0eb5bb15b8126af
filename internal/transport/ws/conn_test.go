package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// echoServer accepts one websocket, echoes every frame back as chat from
// the server and closes with closeCode once it sees text "bye".
func echoServer(t *testing.T, closeCode websocket.StatusCode) (*httptest.Server, chan string) {
	t.Helper()
	queries := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.RawQuery
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		for {
			var in proto.Frame
			if err := wsjson.Read(ctx, conn, &in); err != nil {
				return
			}
			if in.Text == "bye" {
				conn.Close(closeCode, "server done")
				return
			}
			out := proto.Frame{MessageType: proto.TypeChat, User: "server", Text: in.Text, Timestamp: in.Timestamp}
			if err := wsjson.Write(ctx, conn, out); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, queries
}

func dial(t *testing.T, srv *httptest.Server) *Conn {
	t.Helper()
	host := strings.TrimPrefix(srv.URL, "http://")
	d := Dialer{Timeout: time.Second, Logger: zerolog.Nop()}
	c, err := d.Connect(context.Background(), Endpoint("ws", host, "/ws", "alice", 4))
	require.NoError(t, err)
	return c
}

func send(t *testing.T, c *Conn, text string) {
	t.Helper()
	data, err := proto.Encode(proto.Frame{MessageType: proto.TypeChat, User: "alice", Text: text})
	require.NoError(t, err)
	require.NoError(t, c.Send(context.Background(), data))
}

func next(t *testing.T, c *Conn) []byte {
	t.Helper()
	select {
	case data, ok := <-c.Frames():
		require.True(t, ok, "frames closed early")
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/ws?roomId=3&username=bob+smith",
		Endpoint("ws", "localhost:8080", "/ws", "bob smith", 3))
	assert.Equal(t, "wss://chat.example.com/ws?username=amy",
		Endpoint("wss", "chat.example.com", "ws", "amy", core.GlobalScope))
}

func TestRoundTripPreservesOrder(t *testing.T) {
	srv, queries := echoServer(t, websocket.StatusNormalClosure)
	c := dial(t, srv)
	defer c.Close()

	assert.Equal(t, "roomId=4&username=alice", <-queries)

	for _, text := range []string{"one", "two", "three"} {
		send(t, c, text)
	}
	for _, want := range []string{"one", "two", "three"} {
		assert.Contains(t, string(next(t, c)), `"text":"`+want+`"`)
	}
}

func TestRemoteCloseReportsCode(t *testing.T) {
	srv, _ := echoServer(t, websocket.StatusPolicyViolation)
	c := dial(t, srv)

	send(t, c, "bye")
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not terminate")
	}

	_, open := <-c.Frames()
	assert.False(t, open)

	err := c.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrChannelClosed))
	var ce *CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int(websocket.StatusPolicyViolation), ce.Code)
	assert.Equal(t, "server done", ce.Reason)

	assert.ErrorIs(t, c.Send(context.Background(), []byte("{}")), core.ErrChannelClosed)
}

func TestLocalCloseHasNoError(t *testing.T) {
	srv, _ := echoServer(t, websocket.StatusNormalClosure)
	c := dial(t, srv)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.NoError(t, c.Err())
	_, open := <-c.Frames()
	assert.False(t, open)
}

func TestDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	d := Dialer{Timeout: time.Second, Logger: zerolog.Nop()}
	_, err := d.Connect(context.Background(), Endpoint("ws", strings.TrimPrefix(srv.URL, "http://"), "/ws", "alice", 0))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "alice", "identity must not leak into errors")
}
