package transport

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"
)

// Conn is a framed FIX connection over a byte stream. Reads are
// single-owner (the session's read loop); writes are serialized by an
// internal mutex so admin handlers and application senders can share
// the connection.
type Conn struct {
	nc net.Conn
	br *bufio.Reader

	writeMu sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration
	maxFrameSize int

	closeOnce sync.Once
}

// newConn wraps an established net.Conn.
func newConn(nc net.Conn, cfg Config) *Conn {
	maxSize := cfg.MaxFrameSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &Conn{
		nc:           nc,
		br:           bufio.NewReaderSize(nc, 64<<10),
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		maxFrameSize: maxSize,
	}
}

// RecvFrame reads the next complete FIX message. It honors ctx
// cancellation between frames; an in-flight read is bounded by the
// configured read timeout, if any.
func (c *Conn) RecvFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.readTimeout > 0 {
		if err := c.nc.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return nil, err
		}
	} else if deadline, ok := ctx.Deadline(); ok {
		if err := c.nc.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
	}
	return ReadFrame(c.br, c.maxFrameSize)
}

// Send writes one encoded message. Concurrent callers are serialized;
// partial writes never interleave.
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := c.nc.Write(frame)
	return err
}

// Close tears down the underlying connection. Safe to call more than
// once; a blocked RecvFrame returns with an error.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.nc.Close()
	})
	return err
}

// RemoteAddr returns the peer address for logging.
func (c *Conn) RemoteAddr() string {
	if addr := c.nc.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// WrapConn frames an already-established net.Conn. Used by tests to
// drive sessions over net.Pipe and by acceptors embedding their own
// listener.
func WrapConn(nc net.Conn, cfg Config) *Conn {
	return newConn(nc, cfg)
}
