// Package ws is the live channel to the chat server over a websocket.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-client/internal/core"
)

// Defaults used when a Dialer field is left zero.
const (
	DefaultDialTimeout = 10 * time.Second
	DefaultSendBuffer  = 32
	DefaultReadLimit   = 1 << 20
)

// CloseError reports why the server or the network ended the channel.
type CloseError struct {
	Code   int
	Reason string
	Err    error
}

func (e *CloseError) Error() string {
	msg := fmt.Sprintf("channel closed (code %d)", e.Code)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil && e.Code < 0 {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is makes errors.Is(err, core.ErrChannelClosed) hold for every close.
func (e *CloseError) Is(target error) bool {
	return target == core.ErrChannelClosed
}

func (e *CloseError) Unwrap() error {
	return e.Err
}

// Endpoint builds the websocket URL the server expects: identity and
// optional initial room travel as query parameters.
func Endpoint(scheme, host, path, username string, room core.RoomID) string {
	if path == "" {
		path = "/ws"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	q := url.Values{}
	q.Set("username", username)
	if !room.IsGlobal() {
		q.Set("roomId", strconv.FormatInt(int64(room), 10))
	}
	u := url.URL{Scheme: scheme, Host: host, Path: path, RawQuery: q.Encode()}
	return u.String()
}

// Dialer opens Conns.
type Dialer struct {
	Timeout      time.Duration
	SendBuffer   int
	ReadLimit    int64
	PingInterval time.Duration // zero disables keep-alive pings
	HTTPClient   *http.Client
	Logger       zerolog.Logger
}

// Connect dials endpoint and starts the read and write pumps. ctx bounds
// the handshake only; the returned Conn lives until Close or a failure.
func (d Dialer) Connect(ctx context.Context, endpoint string) (*Conn, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wsConn, resp, err := websocket.Dial(dialCtx, endpoint, &websocket.DialOptions{HTTPClient: d.HTTPClient})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", redact(endpoint), err)
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	wsConn.SetReadLimit(limit)

	buf := d.SendBuffer
	if buf <= 0 {
		buf = DefaultSendBuffer
	}
	c := &Conn{
		ws:   wsConn,
		log:  d.Logger.With().Str("component", "ws").Logger(),
		out:  make(chan []byte, buf),
		in:   make(chan []byte, buf),
		done: make(chan struct{}),
		ping: d.PingInterval,
	}
	c.start()
	c.log.Debug().Str("endpoint", redact(endpoint)).Msg("channel open")
	return c, nil
}

// Conn is one live websocket. Inbound text frames are delivered in order
// on Frames; the channel is closed when the connection ends, after which
// Err explains why.
type Conn struct {
	ws   *websocket.Conn
	log  zerolog.Logger
	ping time.Duration

	out  chan []byte
	in   chan []byte
	done chan struct{}

	cancel    context.CancelFunc
	closeOnce sync.Once
	local     bool

	mu  sync.Mutex
	err error
}

// Frames returns the inbound frame stream.
func (c *Conn) Frames() <-chan []byte {
	return c.in
}

// Done is closed once the connection has terminated.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the termination cause. It is nil while the connection is
// alive and after a local Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send queues data for the write pump.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return core.ErrChannelClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return core.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the connection with a normal closure and waits for the pumps.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.local = true
		c.mu.Unlock()
		if err := c.ws.Close(websocket.StatusNormalClosure, "bye"); err != nil {
			c.log.Debug().Err(err).Msg("close handshake")
		}
		c.cancel()
	})
	<-c.done
	return nil
}

func (c *Conn) start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readPump(gctx) })
	g.Go(func() error { return c.writePump(gctx) })
	if c.ping > 0 {
		g.Go(func() error { return c.pingPump(gctx) })
	}

	go func() {
		err := g.Wait()
		cancel()

		c.mu.Lock()
		local := c.local
		c.mu.Unlock()

		if !local {
			err = closeError(err)
			c.ws.CloseNow()
			c.log.Debug().Err(err).Msg("channel terminated")
		}

		c.mu.Lock()
		if !local {
			c.err = err
		}
		c.mu.Unlock()
		close(c.in)
		close(c.done)
	}()
}

func (c *Conn) readPump(ctx context.Context) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			c.log.Debug().Int("type", int(typ)).Msg("ignoring non-text frame")
			continue
		}
		select {
		case c.in <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Conn) writePump(ctx context.Context) error {
	for {
		select {
		case data := <-c.out:
			if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Conn) pingPump(ctx context.Context) error {
	ticker := time.NewTicker(c.ping)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.ping)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("keep-alive ping: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func closeError(err error) *CloseError {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: int(ce.Code), Reason: ce.Reason, Err: err}
	}
	return &CloseError{Code: -1, Err: err}
}

// redact strips the query so identities stay out of logs.
func redact(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}
