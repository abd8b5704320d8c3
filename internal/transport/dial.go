package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// Config carries the transport options of a session endpoint.
type Config struct {
	// Host and Port: where to connect (initiator) or bind (acceptor).
	Host string
	Port int

	// TLS enables a TLS-wrapped socket when non-nil.
	TLS *tls.Config

	// DialTimeout bounds the TCP connect plus TLS handshake.
	DialTimeout time.Duration

	// ReadTimeout and WriteTimeout bound individual socket operations.
	// Zero means no per-operation deadline; liveness monitoring detects
	// dead peers instead.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxFrameSize caps a single message (DefaultMaxFrameSize if zero).
	MaxFrameSize int
}

// Addr returns the host:port endpoint string.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// Dial establishes an outbound connection, wrapping it in TLS when
// configured.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}

	nc, err := dialer.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Addr(), err)
	}

	if cfg.TLS != nil {
		tlsConn := tls.Client(nc, cfg.TLS)
		hsCtx := ctx
		if cfg.DialTimeout > 0 {
			var cancel context.CancelFunc
			hsCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
			defer cancel()
		}
		if err := tlsConn.HandshakeContext(hsCtx); err != nil {
			nc.Close()
			return nil, fmt.Errorf("tls handshake with %s: %w", cfg.Addr(), err)
		}
		nc = tlsConn
	}

	return newConn(nc, cfg), nil
}
