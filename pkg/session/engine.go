package session

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/fixgate/internal/logger"
	"github.com/marmos91/fixgate/internal/transport"
	"github.com/marmos91/fixgate/pkg/fix"
	"github.com/marmos91/fixgate/pkg/metrics"
	"github.com/marmos91/fixgate/pkg/store"
)

// Options carries the engine's collaborators. Store and Codec are
// required; the rest default sensibly.
type Options struct {
	Store       store.MessageStore
	Codec       fix.Codec
	Application Application
	Clock       Clock
	Metrics     metrics.SessionMetrics
}

// Engine is the composition root of one FIX session: it owns the
// protocol core, drives connection attempts (initiator) or the accept
// loop (acceptor), and exposes the public operations.
//
// The engine does not close the MessageStore; the caller that opened
// it does.
type Engine struct {
	cfg  *Config
	sess *Session

	mu       sync.Mutex
	cancel   context.CancelFunc
	started  bool
	stopping bool
	listener *transport.Listener
	wg       sync.WaitGroup
}

// NewEngine validates the configuration and builds the session core.
func NewEngine(ctx context.Context, cfg Config, opts Options) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("a message store is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("a codec is required")
	}
	if opts.Application == nil {
		opts.Application = NopApplication{}
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}

	sess, err := newSession(ctx, &cfg, opts.Store, opts.Codec, opts.Application, opts.Clock, opts.Metrics)
	if err != nil {
		return nil, err
	}

	return &Engine{cfg: &cfg, sess: sess}, nil
}

// Session exposes the protocol core for status inspection.
func (e *Engine) Session() *Session { return e.sess }

// Start launches the engine's tasks: the liveness monitor plus either
// the initiator connect loop or the acceptor accept loop. It returns
// once the tasks are running; connection progress is observable via
// State.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("engine already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.started = true
	e.stopping = false

	e.sess.app.OnCreate(e.sess.id)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sess.runLiveness(runCtx)
	}()

	switch e.cfg.Mode {
	case ModeAcceptor:
		tc, err := e.cfg.transportConfig()
		if err != nil {
			cancel()
			e.started = false
			return err
		}
		listener, err := transport.Listen(tc)
		if err != nil {
			cancel()
			e.started = false
			return err
		}
		e.listener = listener
		logger.Info("acceptor listening",
			logger.KeySession, e.sess.id.String(),
			logger.KeyLocalAddr, listener.Addr().String())

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runAcceptor(runCtx, listener)
		}()

	case ModeInitiator:
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runInitiator(runCtx)
		}()
	}

	return nil
}

// runInitiator dials, logs on, pumps the read loop, and retries per
// the configured policy until the context dies or the session logs
// out cleanly.
func (e *Engine) runInitiator(ctx context.Context) {
	tc, err := e.cfg.transportConfig()
	if err != nil {
		logger.Error("invalid transport config", logger.KeyError, err)
		return
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if attempt == 0 {
			e.sess.sm.Fire(EventConnectAttempt)
		} else {
			e.sess.sm.Fire(EventReconnectAttempt)
		}

		conn, err := transport.Dial(ctx, tc)
		if err != nil {
			e.sess.log.Warn("connection attempt failed",
				logger.KeyError, err,
				logger.KeyAttempt, attempt)
			e.sess.sm.Fire(EventConnectionFailed)
			if !e.scheduleRetry(ctx, &attempt) {
				return
			}
			continue
		}

		e.sess.sm.Fire(EventConnectionEstablished)
		e.sess.setConn(conn)
		e.sess.log.Info("connected", logger.KeyClientAddr, conn.RemoteAddr())

		if err := e.sendLogon(ctx); err != nil {
			e.sess.log.Error("logon send failed", logger.KeyError, err)
			e.sess.sm.Fire(EventLogonFailed)
			e.sess.disconnect("protocol")
			if !e.scheduleRetry(ctx, &attempt) {
				return
			}
			continue
		}
		e.watchLogonTimeout(ctx, StateLogonInProgress, EventLogonFailed)

		err = e.sess.readLoop(ctx, conn)
		e.sess.disconnect("link")
		e.sess.log.Info("connection closed", logger.KeyError, err)

		if ctx.Err() != nil || e.isStopping() {
			return
		}
		if cause, _ := e.sess.lastDisconnect.Load().(string); cause == "logout" {
			// Clean logout ends the engine's work; a scheduler or
			// operator starts the next session explicitly.
			return
		}
		if !e.scheduleRetry(ctx, &attempt) {
			return
		}
	}
}

// scheduleRetry sleeps the retry interval and enforces MaxRetries.
// MaxRetries 0 disables retries, negative retries forever.
func (e *Engine) scheduleRetry(ctx context.Context, attempt *int) bool {
	*attempt++
	if e.cfg.MaxRetries >= 0 && *attempt > e.cfg.MaxRetries {
		e.sess.log.Error("retries exhausted", logger.KeyAttempt, *attempt-1)
		e.sess.sm.Fire(EventReconnectFailed)
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(e.cfg.RetryInterval):
		return true
	}
}

// runAcceptor accepts one session at a time; extra connections while a
// session is live are refused.
func (e *Engine) runAcceptor(ctx context.Context, listener *transport.Listener) {
	defer listener.Close()

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("accept failed", logger.KeyError, err)
			return
		}

		if e.sess.State() != StateDisconnected {
			logger.Warn("refusing connection while session is live",
				logger.KeyClientAddr, conn.RemoteAddr(),
				logger.KeyState, e.sess.State().String())
			conn.Close()
			continue
		}

		e.sess.sm.Fire(EventClientAccepted)
		e.sess.setConn(conn)
		e.sess.log.Info("client connected", logger.KeyClientAddr, conn.RemoteAddr())
		e.watchLogonTimeout(ctx, StateAwaitingLogon, EventLogonTimeout)

		err = e.sess.readLoop(ctx, conn)
		e.sess.disconnect("link")
		e.sess.log.Info("connection closed", logger.KeyError, err)

		if ctx.Err() != nil || e.isStopping() {
			return
		}
	}
}

// watchLogonTimeout tears the attempt down if the logon handshake
// stalls in pending.
func (e *Engine) watchLogonTimeout(ctx context.Context, pending State, onTimeout Event) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.LogonTimeout):
		}
		if e.sess.State() == pending {
			e.sess.log.Error("logon handshake timed out",
				logger.KeyState, pending.String())
			e.sess.sm.Fire(onTimeout)
			e.sess.disconnect("timeout")
		}
	}()
}

// sendLogon composes and sends the initiator's Logon, resetting the
// journal first when configured.
func (e *Engine) sendLogon(ctx context.Context) error {
	if e.cfg.ResetSeqNumOnLogon {
		if err := e.sess.resetSequenceNumbers(ctx); err != nil {
			return fmt.Errorf("reset before logon: %w", err)
		}
	}

	logon := e.sess.codec.NewMessage(fix.MsgTypeLogon)
	logon.SetInt(fix.TagEncryptMethod, 0)
	logon.SetInt(fix.TagHeartBtInt, int(e.cfg.HeartbeatInterval.Seconds()))
	if e.cfg.ResetSeqNumOnLogon {
		logon.SetBool(fix.TagResetSeqNumFlag, true)
	}
	return e.sess.send(ctx, logon)
}

// Send delivers an application (or custom admin) message to the peer.
// The session must be Active.
func (e *Engine) Send(ctx context.Context, msg *fix.Message) error {
	if e.sess.State() != StateActive {
		return ErrNotActive
	}
	return e.sess.send(ctx, msg)
}

// RequestLogoff starts a graceful logout and waits up to timeout for
// the peer's confirmation, then hard-closes.
func (e *Engine) RequestLogoff(ctx context.Context, timeout time.Duration) error {
	if e.sess.State() != StateActive {
		return ErrNotActive
	}

	e.sess.sm.Fire(EventLogoutInitiated)
	e.sess.sendLogout(ctx, "")

	if e.waitForState(ctx, StateDisconnected, timeout) {
		return nil
	}
	e.sess.log.Warn("logout confirmation timed out; closing")
	e.sess.disconnect("logout")
	return nil
}

// Stop cancels the engine's tasks. When graceful and the session is
// Active, a logout handshake runs first, bounded by timeout.
func (e *Engine) Stop(ctx context.Context, graceful bool, timeout time.Duration) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrEngineStopped
	}
	e.stopping = true
	cancel := e.cancel
	listener := e.listener
	e.mu.Unlock()

	if graceful && e.sess.State() == StateActive {
		if timeout <= 0 {
			timeout = e.cfg.LogoutTimeout
		}
		if err := e.RequestLogoff(ctx, timeout); err != nil && err != ErrNotActive {
			e.sess.log.Warn("graceful logoff failed", logger.KeyError, err)
		}
	}

	cancel()
	if listener != nil {
		listener.Close()
	}
	e.sess.disconnect("link")
	e.wg.Wait()

	e.mu.Lock()
	e.started = false
	e.mu.Unlock()
	return nil
}

// ListenerAddr returns the bound address of a started acceptor, or
// nil. Useful when listening on port 0.
func (e *Engine) ListenerAddr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

func (e *Engine) isStopping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopping
}

// waitForState polls until the session reaches want or the deadline
// passes.
func (e *Engine) waitForState(ctx context.Context, want State, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if e.sess.State() == want {
			return true
		}
		select {
		case <-ctx.Done():
			return e.sess.State() == want
		case <-time.After(10 * time.Millisecond):
		}
	}
	return e.sess.State() == want
}

// ResetSequenceNumbers sets both counters to 1, archiving nothing by
// itself; journaled rows are archived lazily when their numbers are
// reused.
func (e *Engine) ResetSequenceNumbers(ctx context.Context) error {
	return e.sess.resetSequenceNumbers(ctx)
}

// SetInboundSequenceNumber overrides the next expected inbound number.
func (e *Engine) SetInboundSequenceNumber(ctx context.Context, n int) error {
	if n < 1 {
		return fmt.Errorf("sequence number must be >= 1, got %d", n)
	}
	return e.sess.setIncoming(ctx, n)
}

// SetOutboundSequenceNumber overrides the next outbound number.
func (e *Engine) SetOutboundSequenceNumber(ctx context.Context, n int) error {
	if n < 1 {
		return fmt.Errorf("sequence number must be >= 1, got %d", n)
	}
	e.sess.sendMu.Lock()
	e.sess.nextOutgoing = n
	e.sess.sendMu.Unlock()
	return e.sess.store.PersistSeq(ctx, e.sess.id, e.sess.NextIncoming(), n)
}

// Status is a point-in-time snapshot for operators.
type Status struct {
	SessionID    string `json:"session_id"`
	Mode         string `json:"mode"`
	State        string `json:"state"`
	NextIncoming int    `json:"next_incoming"`
	NextOutgoing int    `json:"next_outgoing"`
}

// Status reports the session snapshot.
func (e *Engine) Status() Status {
	return Status{
		SessionID:    e.sess.id.String(),
		Mode:         string(e.cfg.Mode),
		State:        e.sess.State().String(),
		NextIncoming: e.sess.NextIncoming(),
		NextOutgoing: e.sess.NextOutgoing(),
	}
}
