// Package rest talks to the chat server's HTTP API for data the live
// channel does not carry: the full room catalog and older message pages.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/vovakirdan/wirechat-client/internal/classify"
	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// DefaultPageSize is the history page size used when none is given.
const DefaultPageSize = 50

const defaultTimeout = 15 * time.Second

// ErrAPI marks a response whose envelope reported failure.
var ErrAPI = errors.New("api request failed")

// envelope wraps every API response.
type envelope[T any] struct {
	Success bool    `json:"success"`
	Message *string `json:"message"`
	Data    T       `json:"data"`
}

// HistoryMessage is a stored message as the API returns it.
type HistoryMessage struct {
	ID        int64  `json:"id"`
	RoomID    int64  `json:"room_id"`
	SenderID  int64  `json:"sender_id"`
	Sender    string `json:"sender,omitempty"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// Message converts an API message into a log entry.
func (m HistoryMessage) Message() (core.Message, error) {
	at, err := proto.ParseTime(m.CreatedAt)
	if err != nil {
		return core.Message{}, err
	}
	from := m.Sender
	if from == "" {
		from = "User_" + strconv.FormatInt(m.SenderID, 10)
	}
	return core.Message{
		ID:        m.ID,
		Room:      core.RoomID(m.RoomID),
		From:      from,
		Text:      m.Content,
		CreatedAt: at,
		Kind:      core.MessageChat,
	}, nil
}

// HistoryQuery selects one page of older messages.
type HistoryQuery struct {
	Room   core.RoomID
	Before string // cursor; empty means the newest page
	Limit  int
}

// Client is a small JSON client for the chat API.
type Client struct {
	base *url.URL
	http *http.Client
	log  zerolog.Logger

	group singleflight.Group
}

// New returns a client rooted at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, httpClient *http.Client, logger zerolog.Logger) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("parse api url: %q needs scheme and host", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{base: base, http: httpClient, log: logger}, nil
}

// ListRooms fetches the room catalog.
func (c *Client) ListRooms(ctx context.Context) ([]core.Room, error) {
	var infos []proto.RoomInfo
	if err := c.get(ctx, "/api/rooms", nil, &infos); err != nil {
		return nil, err
	}
	rooms := make([]core.Room, 0, len(infos))
	for _, info := range infos {
		room, err := classify.RoomFromInfo(info)
		if err != nil {
			c.log.Warn().Err(err).Msg("skipping malformed room")
			continue
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// History fetches one page of messages older than q.Before. Concurrent
// calls for the same page share a single request, which runs detached from
// any one caller so cancelling one does not fail the others.
func (c *Client) History(ctx context.Context, q HistoryQuery) ([]core.Message, error) {
	if q.Room.IsGlobal() {
		return nil, core.ErrInvalidRoom
	}
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	key := q.Room.String() + "|" + q.Before + "|" + strconv.Itoa(q.Limit)

	ch := c.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout())
		defer cancel()
		return c.fetchHistory(fetchCtx, q)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.log.Debug().Str("key", key).Msg("history fetch shared")
		}
		return res.Val.([]core.Message), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// timeout bounds a shared fetch that no caller can cancel.
func (c *Client) timeout() time.Duration {
	if c.http.Timeout > 0 {
		return c.http.Timeout
	}
	return defaultTimeout
}

func (c *Client) fetchHistory(ctx context.Context, q HistoryQuery) ([]core.Message, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(q.Limit))
	if q.Before != "" {
		params.Set("before", q.Before)
	}
	path := "/api/rooms/" + strconv.FormatInt(int64(q.Room), 10) + "/messages"

	var raw []HistoryMessage
	if err := c.get(ctx, path, params, &raw); err != nil {
		return nil, err
	}
	msgs := make([]core.Message, 0, len(raw))
	for _, hm := range raw {
		msg, err := hm.Message()
		if err != nil {
			c.log.Warn().Err(err).Int64("id", hm.ID).Msg("skipping malformed history message")
			continue
		}
		msg.Room = q.Room
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.base.JoinPath(path)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("GET %s: read body: %w", path, err)
	}

	env := envelope[json.RawMessage]{}
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("GET %s: %w: status %d", path, ErrAPI, resp.StatusCode)
		}
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	if !env.Success || resp.StatusCode >= http.StatusBadRequest {
		msg := ""
		if env.Message != nil {
			msg = *env.Message
		}
		return fmt.Errorf("GET %s: %w: status %d: %s", path, ErrAPI, resp.StatusCode, msg)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("GET %s: decode data: %w", path, err)
	}
	return nil
}
