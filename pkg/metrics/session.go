package metrics

// SessionMetrics provides observability for one FIX session. Pass nil
// to disable collection with zero overhead.
type SessionMetrics interface {
	// RecordMessageSent counts an outbound message by MsgType.
	RecordMessageSent(msgType string)

	// RecordMessageReceived counts an inbound message by MsgType.
	RecordMessageReceived(msgType string)

	// RecordSequenceGap counts a detected inbound gap and its width.
	RecordSequenceGap(size int)

	// RecordResendRequestSent counts ResendRequests we issued.
	RecordResendRequestSent()

	// RecordResendRequestReceived counts ResendRequests the peer issued.
	RecordResendRequestReceived()

	// RecordMessageReplayed counts journaled messages replayed with
	// PossDupFlag.
	RecordMessageReplayed()

	// RecordGapFillSent counts SequenceReset-GapFill messages we
	// emitted during replay.
	RecordGapFillSent()

	// RecordRejectSent counts session-level Rejects by reason code.
	RecordRejectSent(reason int)

	// RecordTestRequestSent counts liveness probes we issued.
	RecordTestRequestSent()

	// RecordDisconnect counts session teardowns by cause
	// ("logout", "link", "liveness", "protocol").
	RecordDisconnect(cause string)

	// SetState records the current session state by name.
	SetState(state string)
}
