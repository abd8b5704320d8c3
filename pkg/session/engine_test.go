package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/fixgate/pkg/codec/tagvalue"
	"github.com/marmos91/fixgate/pkg/fix"
	"github.com/marmos91/fixgate/pkg/store/memory"
)

// TestEngineEndToEnd runs a real acceptor/initiator pair over TCP:
// reset-flag logon handshake, one application message, graceful
// logoff.
func TestEngineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	acceptorApp := &testApp{}
	acceptorStore := memory.New()
	acceptor, err := NewEngine(ctx, Config{
		Mode:              ModeAcceptor,
		SenderCompID:      "EXEC",
		TargetCompID:      "BANZAI",
		BeginString:       fix.BeginStringFIX44,
		Host:              "127.0.0.1",
		Port:              0,
		HeartbeatInterval: 30 * time.Second,
	}, Options{
		Store:       acceptorStore,
		Codec:       tagvalue.New(),
		Application: acceptorApp,
	})
	require.NoError(t, err)
	require.NoError(t, acceptor.Start(ctx))
	defer acceptor.Stop(context.Background(), false, 0)

	addr := acceptor.ListenerAddr()
	require.NotNil(t, addr)
	_, portStr, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	port := mustAtoi(t, portStr)

	initiatorApp := &testApp{}
	initiator, err := NewEngine(ctx, Config{
		Mode:               ModeInitiator,
		SenderCompID:       "BANZAI",
		TargetCompID:       "EXEC",
		BeginString:        fix.BeginStringFIX44,
		Host:               "127.0.0.1",
		Port:               port,
		HeartbeatInterval:  30 * time.Second,
		ResetSeqNumOnLogon: true,
		RetryInterval:      50 * time.Millisecond,
		MaxRetries:         5,
	}, Options{
		Store:       memory.New(),
		Codec:       tagvalue.New(),
		Application: initiatorApp,
	})
	require.NoError(t, err)
	require.NoError(t, initiator.Start(ctx))
	defer initiator.Stop(context.Background(), false, 0)

	require.Eventually(t, func() bool {
		return initiator.Session().State() == StateActive &&
			acceptor.Session().State() == StateActive
	}, 5*time.Second, 10*time.Millisecond, "logon handshake did not complete")

	logons, _, _ := initiatorApp.snapshot()
	assert.Equal(t, 1, logons)

	// Outbound seq 1 was the Logon; the order takes seq 2.
	order := fix.NewMessage("D")
	order.SetString(11, "ORD1")
	order.SetString(55, "MSFT")
	order.SetString(54, "1")
	order.SetString(38, "100")
	order.SetString(40, "1")
	require.NoError(t, initiator.Send(ctx, order))

	require.Eventually(t, func() bool {
		_, _, msgs := acceptorApp.snapshot()
		return msgs == 1
	}, 5*time.Second, 10*time.Millisecond, "order not delivered")

	got := acceptorApp.message(0)
	clOrdID, _ := got.GetString(11)
	assert.Equal(t, "ORD1", clOrdID)
	seq, _ := got.SeqNum()
	assert.Equal(t, 2, seq)

	require.NoError(t, initiator.RequestLogoff(ctx, 2*time.Second))

	require.Eventually(t, func() bool {
		return initiator.Session().State() == StateDisconnected &&
			acceptor.Session().State() == StateDisconnected
	}, 5*time.Second, 10*time.Millisecond, "logout handshake did not complete")

	_, logouts, _ := initiatorApp.snapshot()
	assert.Equal(t, 1, logouts)

	// Acceptor's view: received Logon(1), order(2), Logout(3).
	status := acceptor.Status()
	assert.Equal(t, 4, status.NextIncoming)
}

// An initiator with nobody listening must exhaust its retries and
// settle Disconnected.
func TestEngineInitiatorRetriesThenGivesUp(t *testing.T) {
	ctx := context.Background()

	// Grab a port and close it so the dial target refuses.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	engine, err := NewEngine(ctx, Config{
		Mode:              ModeInitiator,
		SenderCompID:      "BANZAI",
		TargetCompID:      "EXEC",
		BeginString:       fix.BeginStringFIX44,
		Host:              "127.0.0.1",
		Port:              port,
		HeartbeatInterval: 30 * time.Second,
		RetryInterval:     10 * time.Millisecond,
		MaxRetries:        2,
	}, Options{
		Store: memory.New(),
		Codec: tagvalue.New(),
	})
	require.NoError(t, err)
	require.NoError(t, engine.Start(ctx))
	defer engine.Stop(context.Background(), false, 0)

	require.Eventually(t, func() bool {
		return engine.Session().State() == StateDisconnected
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEngineSendRequiresActiveSession(t *testing.T) {
	engine, err := NewEngine(context.Background(), Config{
		Mode:              ModeAcceptor,
		SenderCompID:      "EXEC",
		TargetCompID:      "BANZAI",
		BeginString:       fix.BeginStringFIX44,
		Port:              9880,
		HeartbeatInterval: 30 * time.Second,
	}, Options{
		Store: memory.New(),
		Codec: tagvalue.New(),
	})
	require.NoError(t, err)

	err = engine.Send(context.Background(), fix.NewMessage("D"))
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestEngineSequenceOverrides(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	engine, err := NewEngine(ctx, Config{
		Mode:              ModeAcceptor,
		SenderCompID:      "EXEC",
		TargetCompID:      "BANZAI",
		BeginString:       fix.BeginStringFIX44,
		Port:              9880,
		HeartbeatInterval: 30 * time.Second,
	}, Options{Store: st, Codec: tagvalue.New()})
	require.NoError(t, err)

	require.NoError(t, engine.SetInboundSequenceNumber(ctx, 8))
	require.NoError(t, engine.SetOutboundSequenceNumber(ctx, 11))

	status := engine.Status()
	assert.Equal(t, 8, status.NextIncoming)
	assert.Equal(t, 11, status.NextOutgoing)

	seq, err := st.Load(ctx, engine.Session().ID())
	require.NoError(t, err)
	assert.Equal(t, 8, seq.NextIncoming)
	assert.Equal(t, 11, seq.NextOutgoing)

	require.NoError(t, engine.ResetSequenceNumbers(ctx))
	status = engine.Status()
	assert.Equal(t, 1, status.NextIncoming)
	assert.Equal(t, 1, status.NextOutgoing)

	assert.Error(t, engine.SetInboundSequenceNumber(ctx, 0))
	assert.Error(t, engine.SetOutboundSequenceNumber(ctx, 0))
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	var n int
	for _, r := range s {
		require.True(t, r >= '0' && r <= '9')
		n = n*10 + int(r-'0')
	}
	return n
}
