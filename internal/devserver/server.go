// Package devserver is an in-memory stand-in for the chat backend. It speaks
// the same websocket and REST protocol and backs local runs and tests.
package devserver

import (
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// StoredMessage is a message kept for the history endpoint.
type StoredMessage struct {
	ID        int64  `json:"id"`
	RoomID    int64  `json:"room_id"`
	SenderID  int64  `json:"sender_id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// Server holds rooms, messages and connected clients.
type Server struct {
	log *zerolog.Logger
	now func() time.Time

	mu        sync.Mutex
	rooms     []proto.RoomInfo
	messages  map[int64][]StoredMessage
	passwords map[int64]string
	users     map[string]int64
	clients   map[*client]struct{}
	received  []proto.Frame
	rateLimit int
	nextRoom  int64
	nextMsg   int64
	nextUser  int64
}

// New builds an empty server.
func New(logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Server{
		log:       logger,
		now:       time.Now,
		messages:  make(map[int64][]StoredMessage),
		passwords: make(map[int64]string),
		users:     make(map[string]int64),
		clients:   make(map[*client]struct{}),
	}
}

// Handler returns the gin engine serving /ws, /health and /api.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), loggerMiddleware(s.log))

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/ws", func(c *gin.Context) { s.serveWS(c.Writer, c.Request) })

	api := r.Group("/api")
	api.GET("/rooms", s.listRooms)
	api.GET("/rooms/:id/messages", s.listMessages)
	return r
}

// SetRateLimit caps chat frames per client per minute. Zero disables it.
func (s *Server) SetRateLimit(perMinute int) {
	s.mu.Lock()
	s.rateLimit = perMinute
	s.mu.Unlock()
}

// AddRoom creates a room directly, as if another user had created it.
func (s *Server) AddRoom(name, roomType, createdBy string) proto.RoomInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addRoomLocked(name, roomType, createdBy)
}

// AddMessage stores a message in room history without broadcasting it.
func (s *Server) AddMessage(room int64, sender, content string, at time.Time) StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeLocked(room, sender, content, at)
}

// Rooms returns the room catalog.
func (s *Server) Rooms() []proto.RoomInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rooms)
}

// Received returns every frame clients have sent so far.
func (s *Server) Received() []proto.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.received)
}

// Online returns the connected usernames, sorted.
func (s *Server) Online() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onlineLocked()
}

// Broadcast sends f to every connected client.
func (s *Server) Broadcast(f proto.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(f, "")
}

// SendRaw writes data verbatim to every connected client, malformed or not.
func (s *Server) SendRaw(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.enqueueRaw(data)
	}
}

// Kick closes every client connection with the given close code.
func (s *Server) Kick(code int, reason string) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.kick(code, reason)
	}
}

func (s *Server) addRoomLocked(name, roomType, createdBy string) proto.RoomInfo {
	s.nextRoom++
	room := proto.RoomInfo{
		ID:          s.nextRoom,
		Name:        name,
		RoomType:    roomType,
		IsProtected: roomType == "protected",
		CreatedBy:   proto.FlexString(createdBy),
	}
	s.rooms = append(s.rooms, room)
	return room
}

func (s *Server) storeLocked(room int64, sender, content string, at time.Time) StoredMessage {
	s.nextMsg++
	msg := StoredMessage{
		ID:        s.nextMsg,
		RoomID:    room,
		SenderID:  s.userIDLocked(sender),
		Sender:    sender,
		Content:   content,
		CreatedAt: proto.FormatTime(at),
	}
	s.messages[room] = append(s.messages[room], msg)
	return msg
}

func (s *Server) userIDLocked(name string) int64 {
	id, ok := s.users[name]
	if !ok {
		s.nextUser++
		id = s.nextUser
		s.users[name] = id
	}
	return id
}

func (s *Server) onlineLocked() []string {
	seen := make(map[string]struct{}, len(s.clients))
	for c := range s.clients {
		seen[c.username] = struct{}{}
	}
	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	slices.Sort(users)
	return users
}

// broadcastLocked sends f to every client except the one named skip.
func (s *Server) broadcastLocked(f proto.Frame, skip string) {
	for c := range s.clients {
		if skip != "" && strings.EqualFold(c.username, skip) {
			continue
		}
		c.enqueue(f)
	}
}

func loggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
