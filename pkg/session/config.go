package session

import (
	"fmt"
	"time"

	"github.com/marmos91/fixgate/internal/transport"
	"github.com/marmos91/fixgate/pkg/fix"
)

// Mode selects which side of the session this engine plays.
type Mode string

const (
	ModeInitiator Mode = "initiator"
	ModeAcceptor  Mode = "acceptor"
)

// Config carries the session parameters. It is immutable after engine
// construction; components hold it by value or pointer but never
// mutate it.
type Config struct {
	Mode Mode

	// SenderCompID is our identity (tag 49 on outbound messages).
	SenderCompID string

	// TargetCompID is the peer identity (tag 56 on outbound messages).
	TargetCompID string

	// BeginString is the FIX version, e.g. "FIX.4.4".
	BeginString string

	// Host/Port: connect endpoint (initiator) or bind address
	// (acceptor).
	Host string
	Port int

	// HeartbeatInterval is our sending cadence and the base of the
	// inactivity thresholds. The peer's interval from Logon is
	// recorded but does not change our cadence.
	HeartbeatInterval time.Duration

	// ResetSeqNumOnLogon makes the initiator send Logon with 141=Y and
	// reset the journal to {1,1} beforehand.
	ResetSeqNumOnLogon bool

	// Initiator reconnect policy. MaxRetries 0 means no retries; a
	// negative value retries forever.
	RetryInterval time.Duration
	MaxRetries    int

	// LogonTimeout bounds how long an acceptor waits in AwaitingLogon
	// and an initiator waits for the Logon response.
	LogonTimeout time.Duration

	// LogoutTimeout bounds the graceful-logout handshake on Stop.
	LogoutTimeout time.Duration

	// TLS options for the socket.
	TLS transport.TLSOptions

	// MaxFrameSize caps one inbound message; zero uses the transport
	// default.
	MaxFrameSize int
}

// SessionID returns the session identity from our perspective.
func (c *Config) SessionID() fix.SessionID {
	return fix.SessionID{
		BeginString:  c.BeginString,
		SenderCompID: c.SenderCompID,
		TargetCompID: c.TargetCompID,
	}
}

// ApplyDefaults fills unset durations with conservative values.
func (c *Config) ApplyDefaults() {
	if c.BeginString == "" {
		c.BeginString = fix.BeginStringFIX44
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 5 * time.Second
	}
	if c.LogonTimeout <= 0 {
		c.LogonTimeout = 10 * time.Second
	}
	if c.LogoutTimeout <= 0 {
		c.LogoutTimeout = 10 * time.Second
	}
}

// Validate checks the parts the engine cannot run without.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeInitiator, ModeAcceptor:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeInitiator, ModeAcceptor, c.Mode)
	}
	if c.SenderCompID == "" {
		return fmt.Errorf("sender comp ID is required")
	}
	if c.TargetCompID == "" {
		return fmt.Errorf("target comp ID is required")
	}
	if c.SenderCompID == c.TargetCompID {
		return fmt.Errorf("sender and target comp IDs must differ")
	}
	if !fix.SupportedBeginString(c.BeginString) {
		return fmt.Errorf("unsupported FIX version %q", c.BeginString)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	// Port 0 binds an ephemeral port, which only makes sense when
	// accepting.
	if c.Port == 0 && c.Mode == ModeInitiator {
		return fmt.Errorf("initiator requires an explicit port")
	}
	return nil
}

// transportConfig builds the socket options for this session.
func (c *Config) transportConfig() (transport.Config, error) {
	tc := transport.Config{
		Host:         c.Host,
		Port:         c.Port,
		DialTimeout:  10 * time.Second,
		MaxFrameSize: c.MaxFrameSize,
	}
	var err error
	if c.Mode == ModeAcceptor {
		tc.TLS, err = c.TLS.ServerTLS()
	} else {
		tc.TLS, err = c.TLS.ClientTLS()
	}
	if err != nil {
		return transport.Config{}, err
	}
	return tc, nil
}
