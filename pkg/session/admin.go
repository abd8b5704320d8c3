package session

import (
	"context"
	"fmt"

	"github.com/marmos91/fixgate/internal/logger"
	"github.com/marmos91/fixgate/pkg/fix"
)

// handleLogon implements both sides of the logon handshake. It owns
// its sequence gating because ResetSeqNumFlag changes what "expected"
// means mid-validation.
func (s *Session) handleLogon(ctx context.Context, msg *fix.Message) error {
	if err := s.app.FromAdmin(msg, s.id); err != nil {
		s.log.Warn("FromAdmin callback failed", logger.KeyError, err, logger.KeyMsgType, fix.MsgTypeLogon)
	}

	seq, ok := msg.SeqNum()
	if !ok {
		return fatalLogout("Logon with invalid MsgSeqNum (34)")
	}
	heartBt, ok := msg.GetInt(fix.TagHeartBtInt)
	if !ok {
		return fatalLogout("Logon with missing or invalid HeartBtInt (108)")
	}
	resetFlag, _ := msg.GetBool(fix.TagResetSeqNumFlag)

	switch s.cfg.Mode {
	case ModeAcceptor:
		return s.handleLogonAsAcceptor(ctx, msg, seq, heartBt, resetFlag)
	case ModeInitiator:
		return s.handleLogonAsInitiator(ctx, msg, seq, heartBt, resetFlag)
	default:
		return fmt.Errorf("unknown session mode %q", s.cfg.Mode)
	}
}

func (s *Session) handleLogonAsAcceptor(ctx context.Context, msg *fix.Message, seq, heartBt int, resetFlag bool) error {
	if s.sm.State() != StateAwaitingLogon {
		return fatalLogout("Logon received in state %s", s.sm.State())
	}

	s.log.Info("logon received",
		logger.KeySeqNum, seq,
		"heart_bt_int", heartBt,
		"reset_flag", resetFlag)

	if resetFlag {
		if seq != 1 {
			return fatalLogout("Logon has ResetSeqNumFlag=Y but MsgSeqNum=%d (expected 1)", seq)
		}
		if err := s.resetSequenceNumbers(ctx); err != nil {
			return err
		}
	}

	expected := s.NextIncoming()
	if seq < expected {
		return fatalLogout("Logon MsgSeqNum too low: expected %d, got %d", expected, seq)
	}
	if seq > expected {
		// The stricter variant: an unexplained gap on Logon means the
		// counters diverged and the operator must reconcile.
		return fatalLogout("Logon MsgSeqNum too high: expected %d, got %d", expected, seq)
	}

	if err := s.advanceIncoming(ctx, seq+1); err != nil {
		return err
	}
	s.remoteHeartbeat.Store(int64(heartBt))

	resp := s.codec.NewMessage(fix.MsgTypeLogon)
	resp.SetInt(fix.TagEncryptMethod, 0)
	resp.SetInt(fix.TagHeartBtInt, int(s.cfg.HeartbeatInterval.Seconds()))
	if resetFlag {
		resp.SetBool(fix.TagResetSeqNumFlag, true)
	}
	if err := s.send(ctx, resp); err != nil {
		return fmt.Errorf("send Logon response: %w", err)
	}

	s.sm.Fire(EventLogonReceivedValid)
	s.app.OnLogon(s.id)
	s.log.Info("session active", logger.KeyState, s.sm.State().String())
	return nil
}

func (s *Session) handleLogonAsInitiator(ctx context.Context, msg *fix.Message, seq, heartBt int, resetFlag bool) error {
	if s.sm.State() != StateLogonInProgress {
		return fatalLogout("Logon response received in state %s", s.sm.State())
	}

	if s.cfg.ResetSeqNumOnLogon {
		if !resetFlag {
			return fatalLogout("sent ResetSeqNumFlag=Y but Logon response lacks it")
		}
		if seq != 1 {
			return fatalLogout("sent ResetSeqNumFlag=Y, expected MsgSeqNum=1 in response, got %d", seq)
		}
	}

	expected := s.NextIncoming()
	if seq < expected {
		return fatalLogout("Logon response MsgSeqNum too low: expected %d, got %d", expected, seq)
	}
	if seq > expected {
		return fatalLogout("Logon response MsgSeqNum too high: expected %d, got %d", expected, seq)
	}

	if err := s.advanceIncoming(ctx, seq+1); err != nil {
		return err
	}
	s.remoteHeartbeat.Store(int64(heartBt))

	s.sm.Fire(EventLogonSuccessful)
	s.app.OnLogon(s.id)
	s.log.Info("session active", logger.KeyState, s.sm.State().String())
	return nil
}

// handleLogout confirms a peer-initiated logout, or completes one we
// started.
func (s *Session) handleLogout(ctx context.Context, msg *fix.Message) error {
	text, _ := msg.GetString(fix.TagText)
	s.log.Info("logout received", logger.KeyReason, text)

	state := s.sm.State()
	switch state {
	case StateLogoutInProgress:
		// Our Logout is confirmed; the handshake is complete.
		s.sm.Fire(EventLogoutConfirmed)
		s.disconnect("logout")
	case StateDisconnected:
		// Nothing to confirm.
	default:
		s.sm.Fire(EventPeerLogoutReceived)
		s.sendLogout(ctx, "logout acknowledged")
		s.sm.Fire(EventLogoutConfirmed)
		s.disconnect("logout")
	}
	// The handshake already reached Disconnected, so disconnect did not
	// raise OnLogout for a session that was logged on.
	if state == StateActive || state == StateLogoutInProgress {
		s.app.OnLogout(s.id)
	}
	return nil
}

// handleHeartbeat clears a pending liveness probe when the echoed
// TestReqID matches.
func (s *Session) handleHeartbeat(ctx context.Context, msg *fix.Message) error {
	echoed, hasEcho := msg.GetString(fix.TagTestReqID)
	if !hasEcho {
		return nil
	}

	pending, _ := s.pendingTestReq.Load().(string)
	switch {
	case pending == "":
		s.log.Debug("heartbeat echoes TestReqID with no probe outstanding",
			logger.KeyTestReqID, echoed)
	case echoed == pending:
		s.pendingTestReq.Store("")
		s.log.Debug("liveness probe answered", logger.KeyTestReqID, echoed)
	default:
		s.log.Warn("heartbeat echoes unknown TestReqID",
			logger.KeyTestReqID, echoed,
			"pending", pending)
	}
	return nil
}

// handleTestRequest echoes the TestReqID in a Heartbeat.
func (s *Session) handleTestRequest(ctx context.Context, msg *fix.Message) error {
	testReqID, ok := msg.GetString(fix.TagTestReqID)
	if !ok || testReqID == "" {
		return &RejectError{
			RefTagID: fix.TagTestReqID,
			Reason:   fix.RejectReasonRequiredTagMissing,
			Text:     "TestRequest missing TestReqID (112)",
		}
	}

	hb := s.codec.NewMessage(fix.MsgTypeHeartbeat)
	hb.SetString(fix.TagTestReqID, testReqID)
	return s.send(ctx, hb)
}

// handleSequenceReset processes both GapFill and Reset modes.
func (s *Session) handleSequenceReset(ctx context.Context, msg *fix.Message) error {
	newSeqNo, ok := msg.GetInt(fix.TagNewSeqNo)
	if !ok {
		return &RejectError{
			RefTagID: fix.TagNewSeqNo,
			Reason:   fix.RejectReasonValueIncorrect,
			Text:     "SequenceReset missing or invalid NewSeqNo (36)",
		}
	}
	gapFill, _ := msg.GetBool(fix.TagGapFillFlag)
	headerSeq, _ := msg.SeqNum()
	expected := s.NextIncoming()

	if gapFill {
		if newSeqNo <= headerSeq {
			return &RejectError{
				RefTagID: fix.TagNewSeqNo,
				Reason:   fix.RejectReasonValueIncorrect,
				Text:     fmt.Sprintf("GapFill NewSeqNo %d not greater than its own MsgSeqNum %d", newSeqNo, headerSeq),
			}
		}
		if newSeqNo <= expected {
			s.log.Warn("GapFill does not advance the expected sequence",
				logger.KeyNewSeq, newSeqNo,
				logger.KeyExpected, expected)
		}
		s.log.Info("gap fill",
			logger.KeySeqNum, headerSeq,
			logger.KeyNewSeq, newSeqNo)
		return s.setIncoming(ctx, newSeqNo)
	}

	// Reset mode: a unilateral counter rewrite by the peer. Dangerous,
	// so it is logged at error level even on success.
	if newSeqNo <= expected {
		return &RejectError{
			RefTagID: fix.TagNewSeqNo,
			Reason:   fix.RejectReasonValueIncorrect,
			Text:     fmt.Sprintf("SequenceReset-Reset NewSeqNo %d not greater than expected %d", newSeqNo, expected),
		}
	}

	s.log.Error("peer reset sequence numbers",
		logger.KeyNewSeq, newSeqNo,
		logger.KeyExpected, expected)

	s.sendMu.Lock()
	s.nextOutgoing = newSeqNo
	s.sendMu.Unlock()
	if err := s.setIncoming(ctx, newSeqNo); err != nil {
		return err
	}

	// Confirm the new sequence to the peer.
	return s.send(ctx, s.codec.NewMessage(fix.MsgTypeHeartbeat))
}

// handleReject logs all reference fields and leaves the session up;
// only the application can decide a reject is fatal.
func (s *Session) handleReject(ctx context.Context, msg *fix.Message) error {
	refSeq, _ := msg.GetInt(fix.TagRefSeqNum)
	refTag, _ := msg.GetInt(fix.TagRefTagID)
	refMsgType, _ := msg.GetString(fix.TagRefMsgType)
	reason, _ := msg.GetInt(fix.TagSessionRejectReason)
	text, _ := msg.GetString(fix.TagText)

	s.log.Warn("session-level reject received",
		"ref_seq_num", refSeq,
		"ref_tag_id", refTag,
		"ref_msg_type", refMsgType,
		"reject_reason", reason,
		logger.KeyReason, text)
	return nil
}
