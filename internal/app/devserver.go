package app

import (
	"context"
	"errors"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/devserver"
)

const devShutdownTimeout = 5 * time.Second

// DevServer serves the in-memory backend for local runs.
type DevServer struct {
	server          *stdhttp.Server
	backend         *devserver.Server
	shutdownTimeout time.Duration
	log             *zerolog.Logger
}

// NewDevServer builds a dev backend listening on addr, seeded with rooms.
func NewDevServer(addr string, rooms []string, logger *zerolog.Logger) *DevServer {
	backend := devserver.New(logger)
	for _, name := range rooms {
		backend.AddRoom(name, "public", "system")
	}
	return &DevServer{
		server: &stdhttp.Server{
			Addr:              addr,
			Handler:           backend.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		backend:         backend,
		shutdownTimeout: devShutdownTimeout,
		log:             logger,
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (d *DevServer) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()
	d.log.Info().Str("addr", d.server.Addr).Msg("dev server listening")

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), d.shutdownTimeout)
		defer cancel()

		d.log.Info().Msg("shutting down dev server")
		d.backend.Kick(1001, "server shutting down")
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-serverErr
	}
}
