package core

// ConnState is the lifecycle state of the session's connection.
type ConnState int

const (
	// StateLoggedOut means no identity is set.
	StateLoggedOut ConnState = iota
	// StateConnecting means the first dial is in flight.
	StateConnecting
	// StateConnected means frames are flowing.
	StateConnected
	// StateDisconnected means the channel closed and nothing is in flight.
	StateDisconnected
	// StateReconnecting means a reconnect dial is scheduled or in flight.
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
