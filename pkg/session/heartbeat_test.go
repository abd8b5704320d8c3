package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/fixgate/pkg/fix"
)

// fakeClock drives the liveness monitor deterministically: Now is
// manual, and every ticker shares one channel the test fires.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	tick chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:  time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC),
		tick: make(chan time.Time),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	return &fakeTicker{ch: c.tick}
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fire delivers one tick and returns once the monitor has picked it
// up.
func (c *fakeClock) fire() {
	c.tick <- c.Now()
}

type fakeTicker struct {
	ch chan time.Time
}

func (ft *fakeTicker) C() <-chan time.Time { return ft.ch }
func (ft *fakeTicker) Stop()               {}

// Scenario: interval 2s. Quiet for 2.5s: one Heartbeat out and one
// TestRequest probe. The peer echoes the probe, clearing it. Quiet for
// another 5.1s: forced disconnect.
func TestLivenessProbeEchoAndTimeout(t *testing.T) {
	clock := newFakeClock()
	h := newAcceptorHarness(t, harnessOpts{clock: clock, interval: 2 * time.Second})
	h.logon()

	go h.sess.runLiveness(h.ctx)

	clock.advance(2500 * time.Millisecond)
	clock.fire()

	// Outbound silence past the interval: Heartbeat first.
	hb := h.peer.recv()
	require.Equal(t, fix.MsgTypeHeartbeat, hb.MsgType())
	assert.False(t, hb.Has(fix.TagTestReqID))

	// Inbound silence past 1.2 intervals: TestRequest with a fresh id.
	probe := h.peer.recv()
	require.Equal(t, fix.MsgTypeTestRequest, probe.MsgType())
	testReqID, ok := probe.GetString(fix.TagTestReqID)
	require.True(t, ok)
	require.NotEmpty(t, testReqID)

	// Echo the probe; the pending state clears without a disconnect.
	echo := h.peer.newMsg(fix.MsgTypeHeartbeat)
	echo.SetString(fix.TagTestReqID, testReqID)
	h.peer.send(echo)

	require.Eventually(t, func() bool {
		pending, _ := h.sess.pendingTestReq.Load().(string)
		return pending == ""
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateActive, h.sess.State())

	// Total inbound silence beyond 2.5 intervals forces a disconnect.
	clock.advance(5100 * time.Millisecond)
	clock.fire()

	require.Eventually(t, func() bool { return h.sess.State() == StateDisconnected },
		time.Second, 5*time.Millisecond)
	h.peer.recvClosed()
}

// A second tick while the probe is outstanding must not issue another
// TestRequest.
func TestLivenessSingleOutstandingProbe(t *testing.T) {
	clock := newFakeClock()
	h := newAcceptorHarness(t, harnessOpts{clock: clock, interval: 2 * time.Second})
	h.logon()

	go h.sess.runLiveness(h.ctx)

	clock.advance(2500 * time.Millisecond)
	clock.fire()
	hb := h.peer.recv()
	require.Equal(t, fix.MsgTypeHeartbeat, hb.MsgType())
	probe := h.peer.recv()
	require.Equal(t, fix.MsgTypeTestRequest, probe.MsgType())

	// Another tick inside the timeout window: the outbound Heartbeat
	// repeats (echoing the pending id), but no second probe appears.
	clock.advance(2100 * time.Millisecond)
	clock.fire()

	hb2 := h.peer.recv()
	require.Equal(t, fix.MsgTypeHeartbeat, hb2.MsgType())
	pendingID, _ := probe.GetString(fix.TagTestReqID)
	echoedID, _ := hb2.GetString(fix.TagTestReqID)
	assert.Equal(t, pendingID, echoedID)
}

func TestLivenessIdlesOutsideActive(t *testing.T) {
	clock := newFakeClock()
	h := newAcceptorHarness(t, harnessOpts{clock: clock, interval: 2 * time.Second})
	// No logon: the session sits in AwaitingLogon.

	go h.sess.runLiveness(h.ctx)

	clock.advance(10 * time.Second)
	clock.fire()
	clock.fire() // second tick proves the first was consumed idle

	assert.Equal(t, StateAwaitingLogon, h.sess.State())
}
