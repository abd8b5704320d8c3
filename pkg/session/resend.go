package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/fixgate/internal/logger"
	"github.com/marmos91/fixgate/pkg/fix"
	"github.com/marmos91/fixgate/pkg/store"
)

// handleResendRequest replays journaled messages for the requested
// range. Admin messages other than Reject are not retransmitted;
// their slots — and any slots missing from the journal — collapse
// into SequenceReset-GapFill messages, one per contiguous run.
func (s *Session) handleResendRequest(ctx context.Context, msg *fix.Message) error {
	begin, ok := msg.GetInt(fix.TagBeginSeqNo)
	if !ok || begin < 1 {
		return &RejectError{
			RefTagID: fix.TagBeginSeqNo,
			Reason:   fix.RejectReasonValueIncorrect,
			Text:     "ResendRequest with missing or invalid BeginSeqNo (7)",
		}
	}
	end, ok := msg.GetInt(fix.TagEndSeqNo)
	if !ok || end < 0 {
		return &RejectError{
			RefTagID: fix.TagEndSeqNo,
			Reason:   fix.RejectReasonValueIncorrect,
			Text:     "ResendRequest with missing or invalid EndSeqNo (16)",
		}
	}

	// EndSeqNo 0 means "everything you have sent".
	if end == 0 {
		end = s.NextOutgoing() - 1
	}
	if end < begin {
		return &RejectError{
			RefTagID: fix.TagEndSeqNo,
			Reason:   fix.RejectReasonValueIncorrect,
			Text:     fmt.Sprintf("ResendRequest range inverted: [%d,%d]", begin, end),
		}
	}

	if s.mtr != nil {
		s.mtr.RecordResendRequestReceived()
	}
	s.log.Info("resend request received",
		logger.KeyBeginSeq, begin,
		logger.KeyEndSeq, end)

	return s.replayRange(ctx, begin, end)
}

// replayRange walks [begin, end], retransmitting replayable journaled
// messages with PossDupFlag and OrigSendingTime, and gap-filling the
// rest.
func (s *Session) replayRange(ctx context.Context, begin, end int) error {
	gapStart := 0 // first sequence of the open gap run, 0 when none

	flushGap := func(nextSeq int) error {
		if gapStart == 0 {
			return nil
		}
		if err := s.sendGapFill(ctx, gapStart, nextSeq); err != nil {
			return err
		}
		gapStart = 0
		return nil
	}

	for seq := begin; seq <= end; seq++ {
		wire, err := s.store.Fetch(ctx, s.id, seq)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				if gapStart == 0 {
					gapStart = seq
				}
				continue
			}
			return fmt.Errorf("fetch journaled message %d: %w", seq, err)
		}

		original, err := s.codec.Decode(wire)
		if err != nil {
			s.log.Warn("journaled message no longer decodes; gap-filling",
				logger.KeySeqNum, seq,
				logger.KeyError, err)
			if gapStart == 0 {
				gapStart = seq
			}
			continue
		}

		if !replayable(original.MsgType()) {
			if gapStart == 0 {
				gapStart = seq
			}
			continue
		}

		if err := flushGap(seq); err != nil {
			return err
		}
		if err := s.replayMessage(ctx, original); err != nil {
			return err
		}
	}

	return flushGap(end + 1)
}

// replayable reports whether a journaled message type is worth
// retransmitting. Time-sensitive admin traffic is not; a historical
// Reject still documents why a sequence number was consumed.
func replayable(msgType string) bool {
	return !fix.IsAdminMsgType(msgType) || msgType == fix.MsgTypeReject
}

// replayMessage retransmits a journaled message verbatim except for
// the duplicate markers: PossDupFlag=Y, OrigSendingTime from the
// original SendingTime, SendingTime refreshed. MsgSeqNum stays the
// original, so this bypasses the sequence-assigning send path.
func (s *Session) replayMessage(ctx context.Context, original *fix.Message) error {
	replay := original.Clone()
	replay.SetBool(fix.TagPossDupFlag, true)
	if origTime, ok := original.GetTime(fix.TagSendingTime); ok {
		replay.SetUTCTimestamp(fix.TagOrigSendingTime, origTime)
	}
	replay.SetUTCTimestamp(fix.TagSendingTime, s.clock.Now())

	raw, err := s.codec.Encode(replay)
	if err != nil {
		return fmt.Errorf("encode replay: %w", err)
	}

	conn := s.connection()
	if conn == nil {
		return fmt.Errorf("no connection for replay")
	}
	if err := conn.Send(ctx, raw); err != nil {
		return fmt.Errorf("transmit replay: %w", err)
	}

	s.touchSent()
	if s.mtr != nil {
		s.mtr.RecordMessageReplayed()
	}
	seq, _ := replay.SeqNum()
	s.log.Debug("journaled message replayed",
		logger.KeySeqNum, seq,
		logger.KeyMsgType, replay.MsgType())
	return nil
}

// sendGapFill emits a SequenceReset-GapFill covering [gapStart,
// nextSeq-1]. The message carries the first skipped sequence number
// and NewSeqNo pointing past the gap; like a replay it bypasses the
// sequence-assigning send path.
func (s *Session) sendGapFill(ctx context.Context, gapStart, nextSeq int) error {
	gf := s.codec.NewMessage(fix.MsgTypeSequenceReset)
	gf.SetInt(fix.TagMsgSeqNum, gapStart)
	gf.SetBool(fix.TagPossDupFlag, true)
	gf.SetBool(fix.TagGapFillFlag, true)
	gf.SetInt(fix.TagNewSeqNo, nextSeq)
	s.stampHeader(gf)

	raw, err := s.codec.Encode(gf)
	if err != nil {
		return fmt.Errorf("encode gap fill: %w", err)
	}

	conn := s.connection()
	if conn == nil {
		return fmt.Errorf("no connection for gap fill")
	}
	if err := conn.Send(ctx, raw); err != nil {
		return fmt.Errorf("transmit gap fill: %w", err)
	}

	s.touchSent()
	if s.mtr != nil {
		s.mtr.RecordGapFillSent()
	}
	s.log.Info("gap fill sent",
		logger.KeySeqNum, gapStart,
		logger.KeyNewSeq, nextSeq)
	return nil
}
