package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

const clientBuffer = 64

type client struct {
	username string
	conn     *websocket.Conn
	send     chan []byte
	limiter  *rateLimiter

	mu   sync.Mutex
	room int64
	once sync.Once
}

func (c *client) enqueue(f proto.Frame) {
	data, err := proto.Encode(f)
	if err != nil {
		return
	}
	c.enqueueRaw(data)
}

// enqueueRaw drops the frame when the client is not keeping up.
func (c *client) enqueueRaw(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) kick(code int, reason string) {
	c.once.Do(func() {
		c.conn.Close(websocket.StatusCode(code), reason)
	})
}

func (c *client) currentRoom() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *client) setRoom(id int64) {
	c.mu.Lock()
	c.room = id
	c.mu.Unlock()
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		http.Error(w, "username required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()

	s.mu.Lock()
	limit := s.rateLimit
	s.mu.Unlock()
	c := &client{username: username, conn: conn, send: make(chan []byte, clientBuffer), limiter: newRateLimiter(limit)}
	s.register(c)
	defer s.unregister(c)

	if raw := r.URL.Query().Get("roomId"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			s.joinRoom(c, proto.JoinRoomCommand{RoomID: id})
		}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- s.readLoop(ctx, c) }()
	go func() { errCh <- writeLoop(ctx, c) }()

	err = <-errCh
	cancel()
	<-errCh

	if err != nil && !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
		s.log.Debug().Err(err).Str("user", username).Msg("ws connection closed with error")
	}
	conn.Close(websocket.StatusNormalClosure, "closing")
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[c] = struct{}{}
	s.userIDLocked(c.username)
	now := proto.FormatTime(s.now())

	s.broadcastLocked(proto.Frame{MessageType: proto.TypeUserList, User: "system", Timestamp: now, Users: s.onlineLocked()}, "")
	s.broadcastLocked(proto.Frame{MessageType: proto.TypeJoin, User: c.username, Text: c.username + " joined", Timestamp: now}, "")
	// An empty list would be dropped by omitempty and read as malformed.
	if len(s.rooms) > 0 {
		c.enqueue(proto.Frame{MessageType: proto.TypeRoomList, User: "system", Timestamp: now, Rooms: s.rooms})
	}
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.clients, c)
	now := proto.FormatTime(s.now())
	s.broadcastLocked(proto.Frame{MessageType: proto.TypeLeave, User: c.username, Text: c.username + " left", Timestamp: now}, "")
	s.broadcastLocked(proto.Frame{MessageType: proto.TypeUserList, User: "system", Timestamp: now, Users: s.onlineLocked()}, "")
}

func (s *Server) readLoop(ctx context.Context, c *client) error {
	for {
		var in proto.Frame
		if err := wsjson.Read(ctx, c.conn, &in); err != nil {
			return err
		}
		s.mu.Lock()
		s.received = append(s.received, in)
		s.mu.Unlock()

		s.handle(c, in)
	}
}

func writeLoop(ctx context.Context, c *client) error {
	for {
		select {
		case data := <-c.send:
			if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Server) handle(c *client, in proto.Frame) {
	switch in.MessageType {
	case proto.TypeChat:
		s.chat(c, in)
	case proto.TypeTyping, proto.TypeStopTyping:
		in.User = c.username
		s.mu.Lock()
		s.broadcastLocked(in, c.username)
		s.mu.Unlock()
	case proto.TypeCreateRoom:
		var cmd proto.CreateRoomCommand
		if err := json.Unmarshal([]byte(in.Text), &cmd); err != nil || cmd.Name == "" {
			c.enqueue(s.errorFrame("Failed to create room", "invalid create_room payload"))
			return
		}
		s.createRoom(c, cmd)
	case proto.TypeJoinRoom:
		var cmd proto.JoinRoomCommand
		if err := json.Unmarshal([]byte(in.Text), &cmd); err != nil {
			c.enqueue(s.errorFrame("Failed to join room", "invalid join_room payload"))
			return
		}
		s.joinRoom(c, cmd)
	case proto.TypeLeaveRoom:
		room := c.currentRoom()
		if room == 0 {
			return
		}
		c.setRoom(0)
		s.mu.Lock()
		s.broadcastLocked(proto.Frame{
			MessageType: proto.TypeRoomLeft,
			User:        c.username,
			Text:        c.username + " left the room",
			Timestamp:   proto.FormatTime(s.now()),
			RoomID:      room,
		}, c.username)
		s.mu.Unlock()
	default:
		s.mu.Lock()
		s.broadcastLocked(in, "")
		s.mu.Unlock()
	}
}

func (s *Server) chat(c *client, in proto.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !c.limiter.allow(s.now()) {
		c.enqueue(s.errorFrame("Rate limit exceeded", "too many messages"))
		return
	}
	at, err := proto.ParseTime(in.Timestamp)
	if err != nil || at.IsZero() {
		at = s.now()
	}
	in.User = c.username
	in.Timestamp = proto.FormatTime(at)
	if in.RoomID != 0 {
		in.ID = s.storeLocked(in.RoomID, c.username, in.Text, at).ID
	}
	s.broadcastLocked(in, "")
}

func (s *Server) createRoom(c *client, cmd proto.CreateRoomCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roomType := cmd.RoomType
	if roomType == "" {
		roomType = "public"
	}
	if roomType == "protected" && (cmd.Password == nil || *cmd.Password == "") {
		c.enqueue(s.errorFrame("Failed to create room", "password required"))
		return
	}
	room := s.addRoomLocked(cmd.Name, roomType, c.username)
	if cmd.Password != nil {
		s.passwords[room.ID] = *cmd.Password
	}
	s.broadcastLocked(proto.Frame{
		MessageType: proto.TypeNewRoom,
		User:        "system",
		Text:        "Room created: " + room.Name,
		Timestamp:   proto.FormatTime(s.now()),
		RoomID:      room.ID,
		Room:        &room,
	}, "")
}

// joinRoom replays recent history as chat frames and then confirms the join.
func (s *Server) joinRoom(c *client, cmd proto.JoinRoomCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var room *proto.RoomInfo
	for i := range s.rooms {
		if s.rooms[i].ID == cmd.RoomID {
			room = &s.rooms[i]
			break
		}
	}
	if room == nil {
		c.enqueue(s.errorFrame("Failed to join room", "room not found"))
		return
	}
	if want, ok := s.passwords[room.ID]; ok && room.IsProtected {
		if cmd.Password == nil || *cmd.Password != want {
			c.enqueue(s.errorFrame("Failed to join room", "invalid password"))
			return
		}
	}
	c.setRoom(room.ID)

	history := s.messages[room.ID]
	if len(history) > 50 {
		history = history[len(history)-50:]
	}
	for _, m := range history {
		c.enqueue(proto.Frame{
			MessageType: proto.TypeChat,
			ID:          m.ID,
			User:        m.Sender,
			Text:        m.Content,
			Timestamp:   m.CreatedAt,
			RoomID:      room.ID,
		})
	}
	c.enqueue(proto.Frame{
		MessageType: proto.TypeRoomJoined,
		User:        c.username,
		Text:        c.username + " joined the room",
		Timestamp:   proto.FormatTime(s.now()),
		RoomID:      room.ID,
	})
}

func (s *Server) errorFrame(text, detail string) proto.Frame {
	return proto.Frame{
		MessageType: proto.TypeError,
		User:        "system",
		Text:        text,
		Timestamp:   proto.FormatTime(s.now()),
		Error:       detail,
	}
}
