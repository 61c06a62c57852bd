package session

import (
	"fmt"
	"strings"
)

// Mode selects how build calls interact with the serial executor.
type Mode string

const (
	// ModeImmediate blocks the caller until the executor finished the call.
	ModeImmediate Mode = "immediate"
	// ModeDeferred queues the call and returns at once. Failures are only
	// reported as BuildFailed events.
	ModeDeferred Mode = "deferred"
)

// String returns the string representation of the Mode.
func (m Mode) String() string {
	return string(m)
}

// ParseMode parses "immediate" or "deferred" in any case.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeImmediate:
		return ModeImmediate, nil
	case ModeDeferred:
		return ModeDeferred, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}
