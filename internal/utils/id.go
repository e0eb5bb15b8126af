package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random identifier, used to tag each connection in logs.
func NewID() string {
	return uuid.NewString()
}

// ShortID trims an id from NewID to its first group for compact display.
func ShortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
