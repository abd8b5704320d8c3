package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
)

// Listener accepts inbound FIX connections on a bound address.
type Listener struct {
	nl  net.Listener
	cfg Config
}

// Listen binds the configured address, with TLS termination when
// configured.
func Listen(cfg Config) (*Listener, error) {
	nl, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}
	if cfg.TLS != nil {
		nl = tls.NewListener(nl, cfg.TLS)
	}
	return &Listener{nl: nl, cfg: cfg}, nil
}

// Accept waits for the next inbound connection. It unblocks with an
// error when ctx is cancelled or the listener is closed.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			l.nl.Close()
		case <-done:
		}
	}()

	nc, err := l.nl.Accept()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return newConn(nc, l.cfg), nil
}

// Addr returns the bound address, useful when listening on port 0.
func (l *Listener) Addr() net.Addr {
	return l.nl.Addr()
}

// Close stops accepting connections.
func (l *Listener) Close() error {
	return l.nl.Close()
}
