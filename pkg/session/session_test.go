package session

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/fixgate/internal/transport"
	"github.com/marmos91/fixgate/pkg/codec/tagvalue"
	"github.com/marmos91/fixgate/pkg/fix"
	"github.com/marmos91/fixgate/pkg/store"
	"github.com/marmos91/fixgate/pkg/store/memory"
)

// testApp records application callbacks for assertions.
type testApp struct {
	NopApplication

	mu       sync.Mutex
	logons   int
	logouts  int
	messages []*fix.Message
}

func (a *testApp) OnLogon(fix.SessionID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logons++
}

func (a *testApp) OnLogout(fix.SessionID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logouts++
}

func (a *testApp) OnMessage(msg *fix.Message, _ fix.SessionID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, msg.Clone())
}

func (a *testApp) snapshot() (logons, logouts, msgs int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.logons, a.logouts, len(a.messages)
}

func (a *testApp) message(i int) *fix.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.messages[i]
}

// peerConn drives the counterparty side of the pipe with raw frames.
type peerConn struct {
	t      *testing.T
	conn   net.Conn
	br     *bufio.Reader
	codec  *tagvalue.Codec
	seq    int
	sender string
	target string
}

func (p *peerConn) newMsg(msgType string) *fix.Message {
	m := p.codec.NewMessage(msgType)
	m.SetString(fix.TagBeginString, fix.BeginStringFIX44)
	m.SetString(fix.TagSenderCompID, p.sender)
	m.SetString(fix.TagTargetCompID, p.target)
	m.SetUTCTimestamp(fix.TagSendingTime, time.Now())
	return m
}

// sendSeq transmits m with an explicit sequence number, leaving the
// peer's own counter untouched.
func (p *peerConn) sendSeq(m *fix.Message, seq int) {
	p.t.Helper()
	m.SetInt(fix.TagMsgSeqNum, seq)
	raw, err := p.codec.Encode(m)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err = p.conn.Write(raw)
	require.NoError(p.t, err)
}

// send transmits m with the next sequence number.
func (p *peerConn) send(m *fix.Message) {
	p.t.Helper()
	p.sendSeq(m, p.seq)
	p.seq++
}

// recv reads and decodes the next frame the session emits.
func (p *peerConn) recv() *fix.Message {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	raw, err := transport.ReadFrame(p.br, 0)
	require.NoError(p.t, err)
	msg, err := p.codec.Decode(raw)
	require.NoError(p.t, err)
	return msg
}

// recvClosed asserts the session hung up.
func (p *peerConn) recvClosed() {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := transport.ReadFrame(p.br, 0)
	require.Error(p.t, err)
}

type harness struct {
	t    *testing.T
	sess *Session
	app  *testApp
	st   store.MessageStore
	peer *peerConn
	ctx  context.Context
}

type harnessOpts struct {
	store      store.MessageStore
	clock      Clock
	peerSender string
	interval   time.Duration
}

// newAcceptorHarness builds an acceptor-side session wired to a pipe,
// with the read loop running. The peer plays BANZAI against our EXEC.
func newAcceptorHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	if opts.store == nil {
		opts.store = memory.New()
	}
	if opts.clock == nil {
		opts.clock = RealClock()
	}
	if opts.peerSender == "" {
		opts.peerSender = "BANZAI"
	}
	if opts.interval == 0 {
		opts.interval = 30 * time.Second
	}

	cfg := &Config{
		Mode:              ModeAcceptor,
		SenderCompID:      "EXEC",
		TargetCompID:      "BANZAI",
		BeginString:       fix.BeginStringFIX44,
		Port:              9880,
		HeartbeatInterval: opts.interval,
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	app := &testApp{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sess, err := newSession(ctx, cfg, opts.store, tagvalue.New(), app, opts.clock, nil)
	require.NoError(t, err)

	peerEnd, sessEnd := net.Pipe()
	t.Cleanup(func() { peerEnd.Close(); sessEnd.Close() })

	conn := transport.WrapConn(sessEnd, transport.Config{})
	sess.sm.Fire(EventClientAccepted)
	sess.setConn(conn)

	go func() {
		_ = sess.readLoop(ctx, conn)
		sess.disconnect("link")
	}()

	return &harness{
		t:    t,
		sess: sess,
		app:  app,
		st:   opts.store,
		peer: &peerConn{
			t:      t,
			conn:   peerEnd,
			br:     bufio.NewReader(peerEnd),
			codec:  tagvalue.New(),
			seq:    1,
			sender: opts.peerSender,
			target: "EXEC",
		},
		ctx: ctx,
	}
}

// logon runs the acceptor-side handshake and asserts the response.
func (h *harness) logon() *fix.Message {
	h.t.Helper()

	logon := h.peer.newMsg(fix.MsgTypeLogon)
	logon.SetInt(fix.TagEncryptMethod, 0)
	logon.SetInt(fix.TagHeartBtInt, 30)
	h.peer.send(logon)

	resp := h.peer.recv()
	require.Equal(h.t, fix.MsgTypeLogon, resp.MsgType())
	require.Eventually(h.t, func() bool { return h.sess.State() == StateActive },
		time.Second, 5*time.Millisecond)
	return resp
}

func newOrderSingle(p *peerConn, clOrdID string) *fix.Message {
	m := p.newMsg("D")
	m.SetString(11, clOrdID)
	m.SetString(55, "MSFT")
	m.SetString(54, "1")
	m.SetString(38, "100")
	m.SetString(40, "1")
	return m
}

func TestAcceptorCleanSession(t *testing.T) {
	h := newAcceptorHarness(t, harnessOpts{})

	resp := h.logon()
	seq, _ := resp.SeqNum()
	assert.Equal(t, 1, seq)
	hb, _ := resp.GetInt(fix.TagHeartBtInt)
	assert.Equal(t, 30, hb)
	sender, _ := resp.GetString(fix.TagSenderCompID)
	assert.Equal(t, "EXEC", sender)

	h.peer.send(newOrderSingle(h.peer, "ORD1"))
	require.Eventually(t, func() bool {
		_, _, msgs := h.app.snapshot()
		return msgs == 1
	}, time.Second, 5*time.Millisecond)

	got := h.app.message(0)
	clOrdID, _ := got.GetString(11)
	assert.Equal(t, "ORD1", clOrdID)

	h.peer.send(h.peer.newMsg(fix.MsgTypeLogout))
	confirm := h.peer.recv()
	assert.Equal(t, fix.MsgTypeLogout, confirm.MsgType())
	seq, _ = confirm.SeqNum()
	assert.Equal(t, 2, seq)

	require.Eventually(t, func() bool { return h.sess.State() == StateDisconnected },
		time.Second, 5*time.Millisecond)

	logons, logouts, _ := h.app.snapshot()
	assert.Equal(t, 1, logons)
	assert.Equal(t, 1, logouts)

	// Counters persisted: received 1..3, sent 1..2.
	seqState, err := h.st.Load(context.Background(), h.sess.ID())
	require.NoError(t, err)
	assert.Equal(t, 4, seqState.NextIncoming)
	assert.Equal(t, 3, seqState.NextOutgoing)
}

func TestAcceptorRejectsBadCompIDs(t *testing.T) {
	h := newAcceptorHarness(t, harnessOpts{peerSender: "WRONG"})

	logon := h.peer.newMsg(fix.MsgTypeLogon)
	logon.SetInt(fix.TagHeartBtInt, 30)
	h.peer.send(logon)

	logout := h.peer.recv()
	assert.Equal(t, fix.MsgTypeLogout, logout.MsgType())
	text, _ := logout.GetString(fix.TagText)
	assert.Contains(t, text, "invalid CompIDs")

	h.peer.recvClosed()
	require.Eventually(t, func() bool { return h.sess.State() == StateDisconnected },
		time.Second, 5*time.Millisecond)

	logons, _, _ := h.app.snapshot()
	assert.Zero(t, logons)
}

func TestAcceptorResetSeqNumHandshake(t *testing.T) {
	st := memory.New()
	id := fix.SessionID{BeginString: fix.BeginStringFIX44, SenderCompID: "EXEC", TargetCompID: "BANZAI"}
	require.NoError(t, st.PersistSeq(context.Background(), id, 5, 7))

	h := newAcceptorHarness(t, harnessOpts{store: st})

	logon := h.peer.newMsg(fix.MsgTypeLogon)
	logon.SetInt(fix.TagHeartBtInt, 30)
	logon.SetBool(fix.TagResetSeqNumFlag, true)
	h.peer.send(logon) // peer seq 1, legal because of the reset flag

	resp := h.peer.recv()
	assert.Equal(t, fix.MsgTypeLogon, resp.MsgType())
	seq, _ := resp.SeqNum()
	assert.Equal(t, 1, seq)
	reset, ok := resp.GetBool(fix.TagResetSeqNumFlag)
	require.True(t, ok)
	assert.True(t, reset)

	require.Eventually(t, func() bool { return h.sess.State() == StateActive },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, h.sess.NextIncoming())
	assert.Equal(t, 2, h.sess.NextOutgoing())
}

func TestAcceptorLogonSeqTooHighDisconnects(t *testing.T) {
	h := newAcceptorHarness(t, harnessOpts{})

	logon := h.peer.newMsg(fix.MsgTypeLogon)
	logon.SetInt(fix.TagHeartBtInt, 30)
	h.peer.sendSeq(logon, 5)

	logout := h.peer.recv()
	assert.Equal(t, fix.MsgTypeLogout, logout.MsgType())
	h.peer.recvClosed()
}

func TestGapRecovery(t *testing.T) {
	h := newAcceptorHarness(t, harnessOpts{})
	h.logon()

	// Pretend 2..4 were already consumed in an earlier run.
	require.NoError(t, h.sess.setIncoming(h.ctx, 5))

	h.peer.sendSeq(newOrderSingle(h.peer, "AHEAD"), 7)

	rr := h.peer.recv()
	require.Equal(t, fix.MsgTypeResendRequest, rr.MsgType())
	begin, _ := rr.GetInt(fix.TagBeginSeqNo)
	end, _ := rr.GetInt(fix.TagEndSeqNo)
	assert.Equal(t, 5, begin)
	assert.Equal(t, 6, end)
	assert.Equal(t, 5, h.sess.NextIncoming())

	// The out-of-order message was discarded, not delivered.
	_, _, msgs := h.app.snapshot()
	assert.Zero(t, msgs)

	// Gap fill covering 5..7: next real message is 8.
	gf := h.peer.newMsg(fix.MsgTypeSequenceReset)
	gf.SetBool(fix.TagGapFillFlag, true)
	gf.SetInt(fix.TagNewSeqNo, 8)
	h.peer.sendSeq(gf, 5)

	require.Eventually(t, func() bool { return h.sess.NextIncoming() == 8 },
		time.Second, 5*time.Millisecond)

	// A duplicate below expected with PossDupFlag is dropped silently.
	dup := newOrderSingle(h.peer, "DUP")
	dup.SetBool(fix.TagPossDupFlag, true)
	h.peer.sendSeq(dup, 7)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 8, h.sess.NextIncoming())
	assert.Equal(t, StateActive, h.sess.State())
	_, _, msgs = h.app.snapshot()
	assert.Zero(t, msgs)

	// The same sequence without PossDupFlag is fatal.
	h.peer.sendSeq(newOrderSingle(h.peer, "FATAL"), 7)
	logout := h.peer.recv()
	assert.Equal(t, fix.MsgTypeLogout, logout.MsgType())
	h.peer.recvClosed()
	require.Eventually(t, func() bool { return h.sess.State() == StateDisconnected },
		time.Second, 5*time.Millisecond)
}

func TestResendRequestReplaysWithGapFill(t *testing.T) {
	h := newAcceptorHarness(t, harnessOpts{})
	h.logon() // session consumed outbound seq 1 (Logon response)

	// Two application messages out: seqs 2 and 3.
	for _, clOrdID := range []string{"ORD1", "ORD2"} {
		order := h.sess.codec.NewMessage("D")
		order.SetString(11, clOrdID)
		order.SetString(55, "MSFT")

		errCh := make(chan error, 1)
		go func() { errCh <- h.sess.send(h.ctx, order) }()
		out := h.peer.recv()
		require.NoError(t, <-errCh)
		assert.Equal(t, "D", out.MsgType())
	}
	assert.Equal(t, 4, h.sess.NextOutgoing())

	// EndSeqNo 0 means through everything sent so far.
	rr := h.peer.newMsg(fix.MsgTypeResendRequest)
	rr.SetInt(fix.TagBeginSeqNo, 1)
	rr.SetInt(fix.TagEndSeqNo, 0)
	h.peer.send(rr)

	// Seq 1 was the Logon response: not replayable, gap-filled.
	gf := h.peer.recv()
	require.Equal(t, fix.MsgTypeSequenceReset, gf.MsgType())
	seq, _ := gf.SeqNum()
	assert.Equal(t, 1, seq)
	gapFill, _ := gf.GetBool(fix.TagGapFillFlag)
	assert.True(t, gapFill)
	newSeq, _ := gf.GetInt(fix.TagNewSeqNo)
	assert.Equal(t, 2, newSeq)
	assert.True(t, gf.PossDup())

	// Then both orders replayed with duplicate markers and their
	// original sequence numbers.
	for i, wantOrd := range []string{"ORD1", "ORD2"} {
		wantSeq := i + 2
		replay := h.peer.recv()
		require.Equal(t, "D", replay.MsgType())
		seq, _ := replay.SeqNum()
		assert.Equal(t, wantSeq, seq)
		assert.True(t, replay.PossDup())
		assert.True(t, replay.Has(fix.TagOrigSendingTime))
		clOrdID, _ := replay.GetString(11)
		assert.Equal(t, wantOrd, clOrdID)
	}

	// Replays must not advance the outbound counter.
	assert.Equal(t, 4, h.sess.NextOutgoing())
}

func TestTestRequestEcho(t *testing.T) {
	h := newAcceptorHarness(t, harnessOpts{})
	h.logon()

	probe := h.peer.newMsg(fix.MsgTypeTestRequest)
	probe.SetString(fix.TagTestReqID, "ping-1")
	h.peer.send(probe)

	hb := h.peer.recv()
	require.Equal(t, fix.MsgTypeHeartbeat, hb.MsgType())
	echoed, _ := hb.GetString(fix.TagTestReqID)
	assert.Equal(t, "ping-1", echoed)
}

func TestTestRequestWithoutIDIsRejected(t *testing.T) {
	h := newAcceptorHarness(t, harnessOpts{})
	h.logon()

	h.peer.send(h.peer.newMsg(fix.MsgTypeTestRequest))

	reject := h.peer.recv()
	require.Equal(t, fix.MsgTypeReject, reject.MsgType())
	reason, _ := reject.GetInt(fix.TagSessionRejectReason)
	assert.Equal(t, fix.RejectReasonRequiredTagMissing, reason)
	refTag, _ := reject.GetInt(fix.TagRefTagID)
	assert.Equal(t, fix.TagTestReqID, refTag)

	// The rejected message still consumed its sequence number.
	assert.Equal(t, 3, h.sess.NextIncoming())
	assert.Equal(t, StateActive, h.sess.State())
}

func TestSequenceResetResetModeAdjustsBothDirections(t *testing.T) {
	h := newAcceptorHarness(t, harnessOpts{})
	h.logon() // next in 2, next out 2

	reset := h.peer.newMsg(fix.MsgTypeSequenceReset)
	reset.SetInt(fix.TagNewSeqNo, 9)
	h.peer.sendSeq(reset, 2)

	// The confirming Heartbeat goes out under the new numbering.
	hb := h.peer.recv()
	require.Equal(t, fix.MsgTypeHeartbeat, hb.MsgType())
	seq, _ := hb.SeqNum()
	assert.Equal(t, 9, seq)

	assert.Equal(t, 9, h.sess.NextIncoming())
	assert.Equal(t, 10, h.sess.NextOutgoing())
}

func TestSequenceResetResetModeBackwardsIsRejected(t *testing.T) {
	h := newAcceptorHarness(t, harnessOpts{})
	h.logon()

	reset := h.peer.newMsg(fix.MsgTypeSequenceReset)
	reset.SetInt(fix.TagNewSeqNo, 2) // not greater than expected
	h.peer.sendSeq(reset, 2)

	reject := h.peer.recv()
	require.Equal(t, fix.MsgTypeReject, reject.MsgType())
	reason, _ := reject.GetInt(fix.TagSessionRejectReason)
	assert.Equal(t, fix.RejectReasonValueIncorrect, reason)
	assert.Equal(t, StateActive, h.sess.State())
}

func TestCountersSurviveSessionRebuild(t *testing.T) {
	st := memory.New()

	h := newAcceptorHarness(t, harnessOpts{store: st})
	h.logon()
	h.peer.send(newOrderSingle(h.peer, "ORD1"))
	require.Eventually(t, func() bool { return h.sess.NextIncoming() == 3 },
		time.Second, 5*time.Millisecond)

	// A fresh session over the same journal resumes the counters.
	cfg := &Config{
		Mode:         ModeAcceptor,
		SenderCompID: "EXEC",
		TargetCompID: "BANZAI",
		BeginString:  fix.BeginStringFIX44,
		Port:         9880,
	}
	cfg.ApplyDefaults()
	rebuilt, err := newSession(context.Background(), cfg, st, tagvalue.New(), &testApp{}, RealClock(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, rebuilt.NextIncoming())
	assert.Equal(t, 2, rebuilt.NextOutgoing())

	// The journaled Logon response is fetchable by its number.
	wire, err := st.Fetch(context.Background(), rebuilt.ID(), 1)
	require.NoError(t, err)
	decoded, err := tagvalue.New().Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, fix.MsgTypeLogon, decoded.MsgType())
}

func TestGarbledMessageIsIgnored(t *testing.T) {
	h := newAcceptorHarness(t, harnessOpts{})
	h.logon()

	// Valid frame shape, broken checksum: ignored without consuming a
	// sequence number.
	raw := []byte("8=FIX.4.4\x019=5\x0135=0\x0110=999\x01")
	require.NoError(t, h.peer.conn.SetWriteDeadline(time.Now().Add(time.Second)))
	_, err := h.peer.conn.Write(raw)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateActive, h.sess.State())
	assert.Equal(t, 2, h.sess.NextIncoming())

	// The session still works afterwards.
	probe := h.peer.newMsg(fix.MsgTypeTestRequest)
	probe.SetString(fix.TagTestReqID, "still-alive")
	h.peer.send(probe)
	hb := h.peer.recv()
	assert.Equal(t, fix.MsgTypeHeartbeat, hb.MsgType())
}
