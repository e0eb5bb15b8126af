package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/session"
	"github.com/vovakirdan/wirechat-client/internal/transport/rest"
	"github.com/vovakirdan/wirechat-client/internal/transport/ws"
	"github.com/vovakirdan/wirechat-client/internal/utils"
)

// App wires the session, its transports and the terminal view together.
type App struct {
	cfg     config.Config
	session *session.Controller
	api     *rest.Client
	render  *Renderer
	in      io.Reader
	log     *zerolog.Logger
}

// New constructs the application with provided configuration. Lines are
// read from in; the chat view is written to out.
func New(cfg config.Config, logger *zerolog.Logger, in io.Reader, out io.Writer) (*App, error) {
	if strings.TrimSpace(cfg.Username) == "" {
		cfg.Username = "guest-" + utils.ShortID(utils.NewID())
	}

	api, err := rest.New(cfg.APIBase(), nil, *logger)
	if err != nil {
		return nil, fmt.Errorf("init api client: %w", err)
	}

	dialer := ws.Dialer{
		Timeout:      cfg.DialTimeout,
		SendBuffer:   cfg.SendBuffer,
		ReadLimit:    cfg.ReadLimit,
		PingInterval: cfg.PingInterval,
		Logger:       *logger,
	}

	ctrl, err := session.New(session.Options{
		Connector: Connector(dialer),
		Endpoint: func(identity string, room core.RoomID) string {
			return ws.Endpoint(cfg.Scheme, cfg.Host, cfg.WSPath, identity, room)
		},
		History:              api,
		Logger:               logger,
		Policy:               cfg.Policy(),
		TypingQuiet:          cfg.TypingQuietInterval,
		MaxRoomName:          cfg.MaxRoomName,
		PageSize:             cfg.HistoryPageSize,
		Reconnect:            cfg.Reconnect,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		Backoff:              NewBackoff(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("init session: %w", err)
	}

	return &App{
		cfg:     cfg,
		session: ctrl,
		api:     api,
		render:  NewRenderer(out),
		in:      in,
		log:     logger,
	}, nil
}

// Connector adapts a websocket dialer to the session's channel factory.
func Connector(d ws.Dialer) session.Connector {
	return session.ConnectorFunc(func(ctx context.Context, endpoint string) (session.Channel, error) {
		conn, err := d.Connect(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

// NewBackoff returns the reconnect schedule selected by cfg.
func NewBackoff(cfg config.Config) backoff.BackOff {
	if cfg.ReconnectBackoff == config.BackoffExponential {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.ReconnectDelay
		if cfg.ReconnectMaxDelay > 0 {
			b.MaxInterval = cfg.ReconnectMaxDelay
		}
		return b
	}
	return backoff.NewConstantBackOff(cfg.ReconnectDelay)
}

// Run logs in and processes input until /quit, end of input or ctx
// cancellation.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.session.Run(gctx) })

	unsubscribe := a.render.Attach(a.session)
	defer unsubscribe()

	a.log.Info().Str("user", a.cfg.Username).Str("host", a.cfg.Host).Msg("starting wirechat client")
	if err := a.session.Login(gctx, a.cfg.Username, a.cfg.Room()); err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("login: %w", err)
	}
	a.render.Printf("Connecting to %s as %s. Type /help for commands.", a.cfg.Host, a.cfg.Username)

	g.Go(func() error {
		defer cancel()
		return a.readInput(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) readInput(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return a.session.Logout(ctx)
			}
			quit, err := a.handleLine(ctx, line)
			if err != nil {
				a.render.Error(err)
			}
			if quit {
				return a.session.Logout(ctx)
			}
		}
	}
}
