package session

import (
	"context"
	"fmt"

	"github.com/marmos91/fixgate/internal/logger"
	"github.com/marmos91/fixgate/pkg/fix"
)

// send runs the outbound path for a new message: assign the sequence
// number, stamp the header, encode, journal, advance the counter, then
// transmit. The journal write and counter advance complete before the
// bytes reach the transport, so a crash or send failure never burns a
// sequence number without recoverable bytes.
func (s *Session) send(ctx context.Context, msg *fix.Message) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	seq := s.nextOutgoing
	msg.SetInt(fix.TagMsgSeqNum, seq)
	s.stampHeader(msg)

	msgType := msg.MsgType()
	if fix.IsAdminMsgType(msgType) {
		s.app.ToAdmin(msg, s.id)
	} else {
		if err := s.app.ToApp(msg, s.id); err != nil {
			// Host vetoed the send; the sequence number is untouched.
			return fmt.Errorf("send vetoed by application: %w", err)
		}
	}

	raw, err := s.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode outbound %s: %w", msgType, err)
	}

	if err := s.store.StoreMessage(ctx, s.id, seq, raw); err != nil {
		s.log.Error("journal write failed; aborting send",
			logger.KeyError, err,
			logger.KeySeqNum, seq)
		s.disconnect("store")
		return fmt.Errorf("journal message %d: %w", seq, err)
	}

	s.nextOutgoing = seq + 1
	if err := s.store.PersistSeq(ctx, s.id, s.NextIncoming(), s.nextOutgoing); err != nil {
		s.log.Error("sequence persist failed; aborting send",
			logger.KeyError, err,
			logger.KeySeqNum, seq)
		s.disconnect("store")
		return fmt.Errorf("persist outgoing sequence: %w", err)
	}

	conn := s.connection()
	if conn == nil {
		// Journaled and advanced: the peer recovers it via
		// ResendRequest after reconnect.
		return fmt.Errorf("no connection; message %d journaled for recovery", seq)
	}
	if err := conn.Send(ctx, raw); err != nil {
		s.log.Warn("transport send failed; message journaled",
			logger.KeyError, err,
			logger.KeySeqNum, seq,
			logger.KeyMsgType, msgType)
		return fmt.Errorf("transmit message %d: %w", seq, err)
	}

	s.touchSent()
	if s.mtr != nil {
		s.mtr.RecordMessageSent(msgType)
	}
	s.log.Debug("message sent",
		logger.KeyDirection, logger.DirectionOutbound,
		logger.KeyMsgType, msgType,
		logger.KeySeqNum, seq)
	return nil
}

// stampHeader fills BeginString, CompIDs and SendingTime. Values the
// caller already set are left alone except SendingTime, which is
// always current.
func (s *Session) stampHeader(msg *fix.Message) {
	if !msg.Has(fix.TagBeginString) {
		msg.SetString(fix.TagBeginString, s.cfg.BeginString)
	}
	if !msg.Has(fix.TagSenderCompID) {
		msg.SetString(fix.TagSenderCompID, s.cfg.SenderCompID)
	}
	if !msg.Has(fix.TagTargetCompID) {
		msg.SetString(fix.TagTargetCompID, s.cfg.TargetCompID)
	}
	msg.SetUTCTimestamp(fix.TagSendingTime, s.clock.Now())
}

// sendReject emits a session-level Reject (35=3) referencing the
// offending message. Best effort: a failure here is logged, not
// escalated.
func (s *Session) sendReject(ctx context.Context, refSeq int, refMsgType string, re *RejectError) {
	reject := s.codec.NewMessage(fix.MsgTypeReject)
	reject.SetInt(fix.TagRefSeqNum, refSeq)
	if re.RefTagID > 0 {
		reject.SetInt(fix.TagRefTagID, re.RefTagID)
	}
	if refMsgType != "" {
		reject.SetString(fix.TagRefMsgType, refMsgType)
	}
	reject.SetInt(fix.TagSessionRejectReason, re.Reason)
	if re.Text != "" {
		reject.SetString(fix.TagText, re.Text)
	}

	if err := s.send(ctx, reject); err != nil {
		s.log.Error("failed to send reject", logger.KeyError, err)
		return
	}
	if s.mtr != nil {
		s.mtr.RecordRejectSent(re.Reason)
	}
	s.log.Warn("session-level reject sent",
		"ref_seq_num", refSeq,
		"reject_reason", re.Reason,
		logger.KeyReason, re.Text)
}

// sendLogout emits a Logout with explanatory text. Best effort.
func (s *Session) sendLogout(ctx context.Context, text string) {
	logout := s.codec.NewMessage(fix.MsgTypeLogout)
	if text != "" {
		logout.SetString(fix.TagText, text)
	}
	if err := s.send(ctx, logout); err != nil {
		s.log.Warn("failed to send logout", logger.KeyError, err)
	}
}

// sendHeartbeat emits a Heartbeat, echoing testReqID when non-empty.
func (s *Session) sendHeartbeat(ctx context.Context, testReqID string) error {
	hb := s.codec.NewMessage(fix.MsgTypeHeartbeat)
	if testReqID != "" {
		hb.SetString(fix.TagTestReqID, testReqID)
	}
	return s.send(ctx, hb)
}
