package conversation

import (
	"fmt"
	"strings"
)

// ScopePolicy decides what happens to messages addressed to a room the
// session is not currently displaying.
type ScopePolicy int

const (
	// PolicyBuffer keeps messages for every room so switching rooms shows them.
	PolicyBuffer ScopePolicy = iota
	// PolicyDrop discards messages for rooms other than the current one.
	PolicyDrop
)

func (p ScopePolicy) String() string {
	if p == PolicyDrop {
		return "drop"
	}
	return "buffer"
}

// ParseScopePolicy parses "buffer" or "drop".
func ParseScopePolicy(s string) (ScopePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "buffer", "multi", "multi-room":
		return PolicyBuffer, nil
	case "drop", "single", "single-room":
		return PolicyDrop, nil
	default:
		return PolicyBuffer, fmt.Errorf("unknown scope policy %q", s)
	}
}
