package devserver

import (
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

type apiResponse struct {
	Success bool    `json:"success"`
	Message *string `json:"message"`
	Data    any     `json:"data"`
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, apiResponse{Success: false, Message: &msg})
}

// listRooms handles GET /api/rooms.
func (s *Server) listRooms(c *gin.Context) {
	rooms := s.Rooms()
	if rooms == nil {
		rooms = []proto.RoomInfo{}
	}
	c.JSON(http.StatusOK, apiResponse{Success: true, Data: rooms})
}

// listMessages handles GET /api/rooms/:id/messages?before=&limit=.
// before is a message id or a timestamp; the page holds the newest messages older than it,
// newest first like the backend's ORDER BY created_at DESC.
func (s *Server) listMessages(c *gin.Context) {
	roomID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || roomID <= 0 {
		fail(c, http.StatusBadRequest, "invalid room id")
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			fail(c, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	var (
		before   int64
		beforeAt time.Time
	)
	if raw := c.Query("before"); raw != "" {
		if before, err = strconv.ParseInt(raw, 10, 64); err != nil {
			if beforeAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
				fail(c, http.StatusBadRequest, "invalid before cursor")
				return
			}
		}
	}

	s.mu.Lock()
	all := slices.Clone(s.messages[roomID])
	known := slices.ContainsFunc(s.rooms, func(r proto.RoomInfo) bool { return r.ID == roomID })
	s.mu.Unlock()

	if !known {
		fail(c, http.StatusNotFound, "room not found")
		return
	}

	page := make([]StoredMessage, 0, limit)
	for i := len(all) - 1; i >= 0 && len(page) < limit; i-- {
		if before != 0 && all[i].ID >= before {
			continue
		}
		if !beforeAt.IsZero() {
			at, err := proto.ParseTime(all[i].CreatedAt)
			if err == nil && !at.Before(beforeAt) {
				continue
			}
		}
		page = append(page, all[i])
	}
	c.JSON(http.StatusOK, apiResponse{Success: true, Data: page})
}
