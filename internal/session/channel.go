package session

import (
	"context"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/transport/rest"
)

// Channel is one live duplex connection. Frames yields inbound payloads in
// arrival order and is closed when the connection ends; Err then reports
// why, or nil after a local Close.
type Channel interface {
	Send(ctx context.Context, data []byte) error
	Frames() <-chan []byte
	Err() error
	Close() error
}

// Connector opens channels. Every call yields a fresh channel.
type Connector interface {
	Connect(ctx context.Context, endpoint string) (Channel, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, endpoint string) (Channel, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(ctx context.Context, endpoint string) (Channel, error) {
	return f(ctx, endpoint)
}

// EndpointFunc derives the channel URL for an identity and initial room.
type EndpointFunc func(identity string, room core.RoomID) string

// HistorySource fetches older message pages.
type HistorySource interface {
	History(ctx context.Context, q rest.HistoryQuery) ([]core.Message, error)
}
