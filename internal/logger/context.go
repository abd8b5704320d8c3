package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds session-scoped logging context carried through the
// read loop and handlers.
type LogContext struct {
	Session    string    // canonical session identity
	Direction  string    // "in" or "out"
	ClientAddr string    // peer host:port
	StartTime  time.Time // for duration calculation
}

// WithContext binds lc to the context.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for a session and peer.
func NewLogContext(session, clientAddr string) *LogContext {
	return &LogContext{
		Session:    session,
		ClientAddr: clientAddr,
		StartTime:  time.Now(),
	}
}

// DurationMs returns the elapsed milliseconds since StartTime.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
