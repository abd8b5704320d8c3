package session

import (
	"errors"
	"fmt"
)

// ErrNotActive is returned by Send when the session is not logged on.
var ErrNotActive = errors.New("session not active")

// ErrEngineStopped is returned by operations on a stopped engine.
var ErrEngineStopped = errors.New("engine stopped")

// RejectError converts into an outbound session-level Reject (35=3) at
// the router's error boundary. The offending message still consumes
// its sequence number, except a SequenceReset: a rejected one leaves
// the expected inbound number unchanged.
type RejectError struct {
	RefTagID int
	Reason   int
	Text     string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("session reject (reason %d, tag %d): %s", e.Reason, e.RefTagID, e.Text)
}

// logoutError converts into an outbound Logout followed by an
// ungraceful disconnect. Used for fatal protocol violations.
type logoutError struct {
	text string
}

func (e *logoutError) Error() string {
	return fmt.Sprintf("fatal session error: %s", e.text)
}

// fatalLogout builds a logoutError.
func fatalLogout(format string, args ...any) error {
	return &logoutError{text: fmt.Sprintf(format, args...)}
}
