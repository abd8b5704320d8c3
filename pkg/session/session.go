// Package session implements the FIX session layer: the connection
// state machine, the message router with its sequence-number gate, the
// admin-message handlers, the liveness monitor, and the Engine facade
// that composes them over a MessageStore, a Codec and a Transport.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/marmos91/fixgate/internal/logger"
	"github.com/marmos91/fixgate/internal/transport"
	"github.com/marmos91/fixgate/pkg/fix"
	"github.com/marmos91/fixgate/pkg/metrics"
	"github.com/marmos91/fixgate/pkg/store"
)

// Session is the protocol core of one FIX session. It survives
// reconnects: sequence state and identity persist while the connection
// handle is swapped per attempt.
//
// Inbound messages are processed strictly in wire order by the single
// read loop. Outbound sends are serialized by sendMu.
type Session struct {
	cfg   *Config
	id    fix.SessionID
	store store.MessageStore
	codec fix.Codec
	app   Application
	sm    *StateMachine
	clock Clock
	mtr   metrics.SessionMetrics
	log   *slog.Logger

	// sendMu serializes the outbound path; nextOutgoing is only
	// touched inside it.
	sendMu       sync.Mutex
	nextOutgoing int

	// seqMu guards nextIncoming, which the read loop owns in steady
	// state but engine operations may adjust while disconnected.
	seqMu        sync.Mutex
	nextIncoming int

	// conn is the live connection, nil while disconnected.
	connMu sync.Mutex
	conn   *transport.Conn

	// Liveness bookkeeping. Times are clock nanos.
	lastSent     atomic.Int64
	lastReceived atomic.Int64
	wake         chan struct{}

	// pendingTestReq holds the TestReqID of an outstanding liveness
	// probe, empty when none.
	pendingTestReq atomic.Value // string

	// remoteHeartbeat records the peer's HeartBtInt from Logon,
	// seconds. Informational only; our cadence uses cfg.
	remoteHeartbeat atomic.Int64

	// resendPending marks an outstanding ResendRequest so repeated
	// ahead-of-sequence messages do not spam duplicates.
	resendPending atomic.Bool

	// lastDisconnect records the cause of the most recent teardown so
	// the engine can tell clean logouts from link loss.
	lastDisconnect atomic.Value // string

	dispatch map[string]func(context.Context, *fix.Message) error
}

// newSession builds the protocol core and loads persisted counters.
func newSession(ctx context.Context, cfg *Config, st store.MessageStore, codec fix.Codec, app Application, clock Clock, mtr metrics.SessionMetrics) (*Session, error) {
	id := cfg.SessionID()

	seq, err := st.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load sequence state: %w", err)
	}

	s := &Session{
		cfg:          cfg,
		id:           id,
		store:        st,
		codec:        codec,
		app:          app,
		sm:           NewStateMachine(),
		clock:        clock,
		mtr:          mtr,
		log:          logger.With(logger.KeySession, id.String()),
		nextOutgoing: seq.NextOutgoing,
		nextIncoming: seq.NextIncoming,
		wake:         make(chan struct{}, 1),
	}
	s.pendingTestReq.Store("")
	s.sm.Subscribe(func(st State) {
		if s.mtr != nil {
			s.mtr.SetState(st.String())
		}
	})

	// Static dispatch table keyed by MsgType. Logon is routed ahead of
	// the sequence gate and is absent here; unknown admin types are
	// rejected by route; application types bypass the table.
	s.dispatch = map[string]func(context.Context, *fix.Message) error{
		fix.MsgTypeLogout:        s.handleLogout,
		fix.MsgTypeHeartbeat:     s.handleHeartbeat,
		fix.MsgTypeTestRequest:   s.handleTestRequest,
		fix.MsgTypeResendRequest: s.handleResendRequest,
		fix.MsgTypeSequenceReset: s.handleSequenceReset,
		fix.MsgTypeReject:        s.handleReject,
	}

	return s, nil
}

// ID returns the session identity.
func (s *Session) ID() fix.SessionID { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.sm.State() }

// NextIncoming returns the expected inbound sequence number.
func (s *Session) NextIncoming() int {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	return s.nextIncoming
}

// NextOutgoing returns the sequence number the next send will use.
func (s *Session) NextOutgoing() int {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.nextOutgoing
}

// setConn installs the live connection for this attempt.
func (s *Session) setConn(conn *transport.Conn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	now := s.clock.Now().UnixNano()
	s.lastSent.Store(now)
	s.lastReceived.Store(now)
	s.pendingTestReq.Store("")
	s.resendPending.Store(false)
}

func (s *Session) connection() *transport.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

// disconnect force-closes the connection and drives the state machine
// to Disconnected. Safe to call from any goroutine and more than once.
func (s *Session) disconnect(cause string) {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()

	if conn != nil {
		conn.Close()
		s.lastDisconnect.Store(cause)
		if s.mtr != nil {
			s.mtr.RecordDisconnect(cause)
		}
		s.log.Info("session disconnected", logger.KeyReason, cause)
	}

	wasActive := s.sm.State() == StateActive || s.sm.State() == StateLogoutInProgress
	s.sm.Fire(EventDisconnect)
	if wasActive {
		s.app.OnLogout(s.id)
	}
}

// readLoop frames, decodes and routes inbound messages until the
// connection dies or ctx is cancelled.
func (s *Session) readLoop(ctx context.Context, conn *transport.Conn) error {
	for {
		raw, err := conn.RecvFrame(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return err
			}
			var fe *transport.FramingError
			if errors.As(err, &fe) {
				s.log.Error("inbound framing error", logger.KeyError, err)
			}
			return err
		}

		s.touchReceived()

		if err := s.route(ctx, raw); err != nil {
			return err
		}
	}
}

// route runs the router pipeline for one framed message: decode,
// header validation, CompID binding, sequence gate, dispatch. A
// returned error tears the connection down.
func (s *Session) route(ctx context.Context, raw []byte) error {
	msg, err := s.codec.Decode(raw)
	if err != nil {
		// A message that fails checksum or body-length validation is
		// garbled: ignore it without consuming a sequence number. The
		// liveness monitor recovers the session if the stream is
		// truly corrupt.
		s.log.Warn("ignoring garbled message", logger.KeyError, err)
		return nil
	}

	msgType := msg.MsgType()
	if s.mtr != nil {
		s.mtr.RecordMessageReceived(msgType)
	}

	if err := s.validateHeader(ctx, msg); err != nil {
		return s.errorBoundary(ctx, msg, err)
	}

	if err := s.checkCompIDs(ctx, msg); err != nil {
		return err
	}

	// Logon gates its own sequence number (reset semantics differ).
	if msgType == fix.MsgTypeLogon {
		return s.errorBoundary(ctx, msg, s.handleLogon(ctx, msg))
	}

	seq, ok := msg.SeqNum()
	if !ok {
		return s.errorBoundary(ctx, msg, &RejectError{
			RefTagID: fix.TagMsgSeqNum,
			Reason:   fix.RejectReasonValueIncorrect,
			Text:     "MsgSeqNum (34) not a number",
		})
	}

	expected := s.NextIncoming()
	switch {
	case seq == expected:
		return s.processInSequence(ctx, msg)

	case seq > expected:
		// Peer is ahead. A SequenceReset may legitimately carry a high
		// header number; let its handler decide. Everything else
		// triggers gap recovery and is dropped.
		if msgType == fix.MsgTypeSequenceReset {
			if err := s.app.FromAdmin(msg, s.id); err != nil {
				s.log.Warn("FromAdmin callback failed", logger.KeyError, err, logger.KeyMsgType, msgType)
			}
			return s.errorBoundary(ctx, msg, s.handleSequenceReset(ctx, msg))
		}
		return s.requestResend(ctx, expected, seq)

	default: // seq < expected
		if msg.PossDup() {
			s.log.Debug("dropping duplicate",
				logger.KeyMsgType, msgType,
				logger.KeySeqNum, seq,
				logger.KeyExpected, expected)
			return nil
		}
		reason := fmt.Sprintf("MsgSeqNum too low: expected %d, got %d", expected, seq)
		s.log.Error("fatal sequence violation", logger.KeyReason, reason)
		s.sendLogout(ctx, reason)
		s.disconnect("protocol")
		return fmt.Errorf("sequence violation: %s", reason)
	}
}

// processInSequence dispatches an in-order message and advances the
// incoming counter when the handler completes without fatal error.
func (s *Session) processInSequence(ctx context.Context, msg *fix.Message) error {
	msgType := msg.MsgType()

	var handlerErr error
	if handler, ok := s.dispatch[msgType]; ok {
		if err := s.app.FromAdmin(msg, s.id); err != nil {
			s.log.Warn("FromAdmin callback failed", logger.KeyError, err, logger.KeyMsgType, msgType)
		}
		handlerErr = handler(ctx, msg)
	} else if fix.IsAdminMsgType(msgType) {
		handlerErr = &RejectError{
			RefTagID: fix.TagMsgType,
			Reason:   fix.RejectReasonInvalidMsgType,
			Text:     fmt.Sprintf("unsupported admin message type %q", msgType),
		}
	} else {
		s.deliverApp(msg)
	}

	// SequenceReset repositions the counter itself; everything else
	// advances by one on acceptance (including rejected messages,
	// which still consume their number).
	if msgType != fix.MsgTypeSequenceReset {
		var le *logoutError
		if !errors.As(handlerErr, &le) {
			seq, _ := msg.SeqNum()
			if err := s.advanceIncoming(ctx, seq+1); err != nil {
				return err
			}
		}
	}

	return s.errorBoundary(ctx, msg, handlerErr)
}

// deliverApp runs the application pipeline for an inbound business
// message. Callback errors are logged, never fatal.
func (s *Session) deliverApp(msg *fix.Message) {
	if err := s.app.FromApp(msg, s.id); err != nil {
		s.log.Warn("FromApp callback failed",
			logger.KeyError, err,
			logger.KeyMsgType, msg.MsgType())
	}
	s.app.OnMessage(msg, s.id)
}

// errorBoundary is the single choke point converting handler errors
// into protocol-visible messages. RejectError becomes an outbound
// Reject and the session continues; logoutError becomes Logout plus
// ungraceful disconnect.
func (s *Session) errorBoundary(ctx context.Context, msg *fix.Message, err error) error {
	if err == nil {
		return nil
	}

	var re *RejectError
	if errors.As(err, &re) {
		refSeq, _ := msg.SeqNum()
		s.sendReject(ctx, refSeq, msg.MsgType(), re)
		return nil
	}

	var le *logoutError
	if errors.As(err, &le) {
		s.log.Error("fatal protocol error", logger.KeyReason, le.text)
		s.sendLogout(ctx, le.text)
		s.disconnect("protocol")
		return err
	}

	// Internal error: log with context and keep the session up.
	seq, _ := msg.SeqNum()
	s.log.Error("handler error",
		logger.KeyError, err,
		logger.KeyMsgType, msg.MsgType(),
		logger.KeySeqNum, seq)
	return nil
}

// validateHeader requires the fixed header tags. BodyLength and
// CheckSum were already verified (and stripped) by the codec.
func (s *Session) validateHeader(ctx context.Context, msg *fix.Message) error {
	required := []int{
		fix.TagBeginString,
		fix.TagMsgType,
		fix.TagSenderCompID,
		fix.TagTargetCompID,
		fix.TagMsgSeqNum,
		fix.TagSendingTime,
	}
	for _, tag := range required {
		if !msg.Has(tag) {
			return &RejectError{
				RefTagID: tag,
				Reason:   fix.RejectReasonRequiredTagMissing,
				Text:     fmt.Sprintf("required header tag %d missing", tag),
			}
		}
	}

	bs, _ := msg.GetString(fix.TagBeginString)
	if bs != s.cfg.BeginString {
		return &RejectError{
			RefTagID: fix.TagBeginString,
			Reason:   fix.RejectReasonValueIncorrect,
			Text:     fmt.Sprintf("BeginString %q does not match session version %q", bs, s.cfg.BeginString),
		}
	}
	return nil
}

// checkCompIDs enforces the session binding: received 49 must be our
// target, received 56 our sender. A mismatch is fatal.
func (s *Session) checkCompIDs(ctx context.Context, msg *fix.Message) error {
	sender, _ := msg.GetString(fix.TagSenderCompID)
	target, _ := msg.GetString(fix.TagTargetCompID)
	if sender == s.cfg.TargetCompID && target == s.cfg.SenderCompID {
		return nil
	}

	reason := fmt.Sprintf("invalid CompIDs: expected %s->%s, got %s->%s",
		s.cfg.TargetCompID, s.cfg.SenderCompID, sender, target)
	s.log.Error("CompID mismatch", logger.KeyReason, reason)
	s.sendLogout(ctx, reason)
	s.disconnect("protocol")
	return errors.New(reason)
}

// requestResend issues gap recovery for [expected, received-1] and
// drops the out-of-order message. Repeated ahead-of-sequence arrivals
// while a request is outstanding are dropped silently; the peer is
// already obliged to retransmit.
func (s *Session) requestResend(ctx context.Context, expected, received int) error {
	if s.mtr != nil {
		s.mtr.RecordSequenceGap(received - expected)
	}
	if s.resendPending.Load() {
		s.log.Debug("gap while resend outstanding; dropping message",
			logger.KeyExpected, expected,
			logger.KeySeqNum, received)
		return nil
	}

	s.log.Warn("inbound sequence gap",
		logger.KeyExpected, expected,
		logger.KeySeqNum, received)

	req := s.codec.NewMessage(fix.MsgTypeResendRequest)
	req.SetInt(fix.TagBeginSeqNo, expected)
	req.SetInt(fix.TagEndSeqNo, received-1)
	if err := s.send(ctx, req); err != nil {
		return err
	}
	s.resendPending.Store(true)
	if s.mtr != nil {
		s.mtr.RecordResendRequestSent()
	}
	return nil
}

// advanceIncoming durably sets the next expected inbound sequence
// number. A persistence failure is fatal for the session.
func (s *Session) advanceIncoming(ctx context.Context, next int) error {
	s.seqMu.Lock()
	s.nextIncoming = next
	s.seqMu.Unlock()

	if err := s.store.PersistSeq(ctx, s.id, next, s.NextOutgoing()); err != nil {
		s.log.Error("failed to persist incoming sequence", logger.KeyError, err)
		s.disconnect("store")
		return fmt.Errorf("persist incoming sequence: %w", err)
	}

	// The gap is closed once the counter catches up.
	s.resendPending.Store(false)
	return nil
}

// setIncoming adjusts the expected inbound counter (admin operation or
// SequenceReset handler).
func (s *Session) setIncoming(ctx context.Context, next int) error {
	return s.advanceIncoming(ctx, next)
}

// resetSequenceNumbers durably rewinds both counters to 1. Journaled
// messages stay in place; their rows are archived individually when a
// reused sequence number overwrites them.
func (s *Session) resetSequenceNumbers(ctx context.Context) error {
	s.sendMu.Lock()
	s.nextOutgoing = 1
	s.sendMu.Unlock()

	s.seqMu.Lock()
	s.nextIncoming = 1
	s.seqMu.Unlock()

	if err := s.store.Reset(ctx, s.id); err != nil {
		return fmt.Errorf("reset sequence numbers: %w", err)
	}
	s.log.Info("sequence numbers reset")
	return nil
}

// touchReceived refreshes the inactivity clock and nudges the liveness
// monitor.
func (s *Session) touchReceived() {
	s.lastReceived.Store(s.clock.Now().UnixNano())
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// touchSent refreshes the outbound-activity clock.
func (s *Session) touchSent() {
	s.lastSent.Store(s.clock.Now().UnixNano())
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
