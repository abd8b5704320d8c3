package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/fixgate/internal/logger"
	"github.com/marmos91/fixgate/pkg/fix"
)

// Inactivity thresholds as multiples of the heartbeat interval. A
// quiet peer first gets a TestRequest; one that stays quiet gets
// disconnected.
const (
	testRequestFactor = 1.2
	timeoutFactor     = 2.5
)

// livenessPollInterval is how often the monitor re-evaluates the
// thresholds. Bounded by the heartbeat interval for short test
// configurations.
const livenessPollInterval = time.Second

// runLiveness is the session's liveness task. It idles while the
// session is not Active and otherwise enforces three clocks: send a
// Heartbeat every interval of outbound silence, probe with a
// TestRequest after 1.2 intervals of inbound silence, and
// force-disconnect after 2.5 intervals.
//
// The wake channel is pulsed on every send and receive so the monitor
// reacts to traffic without polling aggressively.
func (s *Session) runLiveness(ctx context.Context) {
	poll := livenessPollInterval
	if s.cfg.HeartbeatInterval < 4*poll {
		poll = s.cfg.HeartbeatInterval / 4
		if poll <= 0 {
			poll = 100 * time.Millisecond
		}
	}

	ticker := s.clock.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		case <-s.wake:
			continue
		}

		if s.sm.State() != StateActive {
			continue
		}
		s.checkLiveness(ctx)
	}
}

// checkLiveness evaluates the thresholds once.
func (s *Session) checkLiveness(ctx context.Context) {
	interval := s.cfg.HeartbeatInterval
	now := s.clock.Now()
	sinceSent := now.Sub(time.Unix(0, s.lastSent.Load()))
	sinceReceived := now.Sub(time.Unix(0, s.lastReceived.Load()))

	timeout := time.Duration(float64(interval) * timeoutFactor)
	if sinceReceived > timeout {
		s.log.Error("peer inactive past timeout; forcing disconnect",
			"inactive", sinceReceived.String(),
			"timeout", timeout.String())
		s.disconnect("liveness")
		return
	}

	if sinceSent >= interval {
		pending, _ := s.pendingTestReq.Load().(string)
		if err := s.sendHeartbeat(ctx, pending); err != nil {
			s.log.Warn("heartbeat send failed", logger.KeyError, err)
		}
	}

	probeAfter := time.Duration(float64(interval) * testRequestFactor)
	if pending, _ := s.pendingTestReq.Load().(string); pending == "" && sinceReceived > probeAfter {
		s.issueTestRequest(ctx)
	}
}

// issueTestRequest sends a probe with a fresh TestReqID and records it
// as pending until the peer echoes it in a Heartbeat.
func (s *Session) issueTestRequest(ctx context.Context) {
	testReqID := uuid.NewString()

	req := s.codec.NewMessage(fix.MsgTypeTestRequest)
	req.SetString(fix.TagTestReqID, testReqID)
	// Recorded before the send so an immediate echo finds it pending.
	s.pendingTestReq.Store(testReqID)
	if err := s.send(ctx, req); err != nil {
		s.pendingTestReq.Store("")
		s.log.Warn("test request send failed", logger.KeyError, err)
		return
	}

	if s.mtr != nil {
		s.mtr.RecordTestRequestSent()
	}
	s.log.Warn("peer quiet; test request sent", logger.KeyTestReqID, testReqID)
}
