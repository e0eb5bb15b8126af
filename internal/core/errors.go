package core

import "errors"

// Error codes surfaced to the presentation layer.
const (
	ErrCodeMalformedFrame = "malformed_frame"
	ErrCodeNotConnected   = "not_connected"
	ErrCodeEmptyInput     = "empty_input"
	ErrCodeInvalidName    = "invalid_name"
	ErrCodeChannelClosed  = "channel_closed"
	ErrCodeServer         = "server_error"
)

var (
	// ErrMalformedFrame marks an inbound frame that could not be decoded.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrNotConnected rejects outbound actions without a live channel.
	ErrNotConnected = errors.New("not connected")
	// ErrEmptyInput rejects a message whose trimmed text is empty.
	ErrEmptyInput = errors.New("empty input")
	// ErrInvalidName rejects an empty or oversized room name.
	ErrInvalidName = errors.New("invalid room name")
	// ErrPasswordRequired rejects a protected room without a password.
	ErrPasswordRequired = errors.New("password required")
	// ErrInvalidRoom rejects a room action without a usable room id.
	ErrInvalidRoom = errors.New("invalid room")
	// ErrChannelClosed reports that the live channel terminated.
	ErrChannelClosed = errors.New("channel closed")
	// ErrInvalidUsername rejects an empty identity at login.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrAlreadyLoggedIn rejects a second login on a live session.
	ErrAlreadyLoggedIn = errors.New("already logged in")
	// ErrLoggedOut rejects actions after logout or before login.
	ErrLoggedOut = errors.New("logged out")
)

// ServerError is an error frame reported by the backend, kept verbatim.
type ServerError struct {
	Text   string
	Detail string
}

func (e *ServerError) Error() string {
	if e.Detail == "" {
		return e.Text
	}
	if e.Text == "" {
		return e.Detail
	}
	return e.Text + ": " + e.Detail
}

// Code returns the error code matching err, or an empty string.
func Code(err error) string {
	var serverErr *ServerError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedFrame):
		return ErrCodeMalformedFrame
	case errors.Is(err, ErrNotConnected):
		return ErrCodeNotConnected
	case errors.Is(err, ErrEmptyInput):
		return ErrCodeEmptyInput
	case errors.Is(err, ErrInvalidName), errors.Is(err, ErrPasswordRequired):
		return ErrCodeInvalidName
	case errors.Is(err, ErrChannelClosed):
		return ErrCodeChannelClosed
	case errors.As(err, &serverErr):
		return ErrCodeServer
	default:
		return ""
	}
}
