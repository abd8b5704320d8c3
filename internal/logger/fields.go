package logger

// Standard field keys for structured logging. Use these consistently
// so session traffic can be queried by session, direction and sequence
// number across the whole engine.
const (
	// Session identity
	KeySession     = "session"      // canonical "version:sender->target" identity
	KeyBeginString = "begin_string" // FIX protocol version (tag 8)
	KeySender      = "sender"       // SenderCompID (tag 49)
	KeyTarget      = "target"       // TargetCompID (tag 56)

	// Message context
	KeyMsgType   = "msg_type"    // MsgType (tag 35)
	KeySeqNum    = "seq_num"     // MsgSeqNum (tag 34)
	KeyExpected  = "expected"    // expected incoming sequence number
	KeyDirection = "direction"   // "in" or "out"
	KeyTestReqID = "test_req_id" // TestReqID (tag 112)
	KeyBeginSeq  = "begin_seq"   // BeginSeqNo (tag 7)
	KeyEndSeq    = "end_seq"     // EndSeqNo (tag 16)
	KeyNewSeq    = "new_seq"     // NewSeqNo (tag 36)
	KeyReason    = "reason"      // reject/logout reason text

	// Connection
	KeyClientAddr = "client_addr" // peer host:port
	KeyLocalAddr  = "local_addr"  // bound host:port
	KeyState      = "state"       // session state name
	KeyEvent      = "event"       // state machine event name

	// Operational
	KeyError      = "error"       // error value
	KeyDurationMs = "duration_ms" // elapsed milliseconds
	KeyStore      = "store"       // message store backend
	KeyAttempt    = "attempt"     // reconnect attempt counter
)

// Direction values for KeyDirection.
const (
	DirectionInbound  = "in"
	DirectionOutbound = "out"
)
