package ble_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chaz8081/g1link/internal/ble"
	"github.com/chaz8081/g1link/internal/ble/bletest"
	"github.com/chaz8081/g1link/internal/ble/protocol"
)

const testAddr = "AA:BB:CC:DD:EE:01"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// quietOptions keeps the heartbeat out of the way by parking it on a fake
// clock that tests never advance.
func quietOptions() ble.SessionOptions {
	opts := ble.DefaultSessionOptions()
	opts.Clock = clockwork.NewFakeClock()
	return opts
}

type statusRecorder struct {
	mu     sync.Mutex
	states []ble.State
}

func (r *statusRecorder) record(_ string, s ble.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *statusRecorder) all() []ble.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ble.State(nil), r.states...)
}

func connectSession(t *testing.T, adapter *bletest.Adapter, opts ble.SessionOptions) *ble.Session {
	t.Helper()
	s := ble.NewSession(adapter, "Even G1_40_L_0001", testAddr, ble.Left, opts)
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Disconnect() })
	return s
}

func textFrame(t *testing.T, seq uint8) protocol.Frame {
	t.Helper()
	f, err := protocol.EncodeTextPacket(protocol.TextPacket{
		Seq:          seq,
		TotalChunks:  1,
		ScreenStatus: protocol.ScreenStatus(protocol.ScreenNewContent, protocol.StatusFinal),
		PageNumber:   1,
		MaxPages:     1,
		Data:         []byte("hi"),
	})
	require.NoError(t, err)
	return f
}

func TestSessionConnectSendsInit(t *testing.T) {
	adapter := bletest.NewAdapter()
	rec := &statusRecorder{}
	opts := quietOptions()
	opts.OnStatus = rec.record

	s := connectSession(t, adapter, opts)

	assert.Equal(t, ble.Connected, s.State())
	assert.True(t, s.IsConnected())
	writes := adapter.Connection(testAddr).TX.Writes()
	require.NotEmpty(t, writes)
	assert.Equal(t, []byte{0x4D, 0x01}, writes[0], "first write must be INIT")
	assert.Equal(t, []ble.State{ble.Connecting, ble.Connected}, rec.all())
}

func TestSessionConnectFailureLeavesDisconnected(t *testing.T) {
	adapter := bletest.NewAdapter()
	adapter.FailConnect(testAddr, 1)
	rec := &statusRecorder{}
	opts := quietOptions()
	opts.OnStatus = rec.record

	s := ble.NewSession(adapter, "G1", testAddr, ble.Right, opts)
	err := s.Connect(context.Background())

	require.ErrorIs(t, err, ble.ErrTransport)
	assert.Equal(t, ble.Disconnected, s.State())
	assert.Equal(t, []ble.State{ble.Connecting, ble.Disconnected}, rec.all())
}

func TestSessionConnectDropBeforeReady(t *testing.T) {
	adapter := bletest.NewAdapter()
	adapter.DropDuringConnect(testAddr)
	rec := &statusRecorder{}
	opts := quietOptions()
	opts.OnStatus = rec.record
	opts.OnLinkLost = func(*ble.Session, error) { t.Error("OnLinkLost called for a link that never came up") }

	s := ble.NewSession(adapter, "G1", testAddr, ble.Left, opts)
	err := s.Connect(context.Background())

	require.ErrorIs(t, err, ble.ErrTransport)
	assert.Equal(t, ble.Disconnected, s.State())
	assert.True(t, adapter.Connection(testAddr).Disconnected())
	assert.Equal(t, []ble.State{ble.Connecting, ble.Disconnected}, rec.all())

	// The next attempt gets a healthy link.
	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, s.IsConnected())
	require.NoError(t, s.Disconnect())
}

func TestSessionConnectIsIdempotent(t *testing.T) {
	adapter := bletest.NewAdapter()
	s := connectSession(t, adapter, quietOptions())

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, 1, adapter.Connects(testAddr))
}

func TestSessionSendNotConnected(t *testing.T) {
	s := ble.NewSession(bletest.NewAdapter(), "G1", testAddr, ble.Left, quietOptions())

	err := s.Send(context.Background(), protocol.EncodeMic(true))
	assert.ErrorIs(t, err, ble.ErrNotConnected)

	err = s.SendAwaitAck(context.Background(), textFrame(t, 0), time.Second)
	assert.ErrorIs(t, err, ble.ErrNotConnected)
}

func TestSessionSendWritesFrame(t *testing.T) {
	adapter := bletest.NewAdapter()
	s := connectSession(t, adapter, quietOptions())

	require.NoError(t, s.Send(context.Background(), protocol.EncodeSilentMode(true)))
	assert.Equal(t, [][]byte{{0x03, 0x0C, 0x00}}, adapter.Connection(testAddr).TX.WritesOf(0x03))
}

func TestSessionPacesWrites(t *testing.T) {
	const interval = 20 * time.Millisecond

	adapter := bletest.NewAdapter()
	opts := quietOptions()
	opts.WriteInterval = interval
	s := connectSession(t, adapter, opts)

	const sends = 5
	start := time.Now()
	for i := 0; i < sends; i++ {
		require.NoError(t, s.Send(context.Background(), protocol.EncodeSilentMode(i%2 == 0)))
	}
	elapsed := time.Since(start)

	// At most one write is banked when the burst starts.
	assert.GreaterOrEqual(t, elapsed, (sends-1)*interval, "writes were not paced")
	assert.Len(t, adapter.Connection(testAddr).TX.WritesOf(0x03), sends)
}

func TestSessionUnpacedByDefault(t *testing.T) {
	adapter := bletest.NewAdapter()
	s := connectSession(t, adapter, quietOptions())

	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, s.Send(context.Background(), protocol.EncodeSilentMode(true)))
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestSessionSendWriteErrorDropsLink(t *testing.T) {
	adapter := bletest.NewAdapter()
	lost := make(chan error, 1)
	opts := quietOptions()
	opts.OnLinkLost = func(_ *ble.Session, cause error) { lost <- cause }
	s := connectSession(t, adapter, opts)

	adapter.Connection(testAddr).TX.FailWrites(true)
	err := s.Send(context.Background(), protocol.EncodeMic(false))
	require.ErrorIs(t, err, ble.ErrTransport)

	select {
	case cause := <-lost:
		assert.ErrorIs(t, cause, ble.ErrTransport)
	case <-time.After(2 * time.Second):
		t.Fatal("OnLinkLost not called after write failure")
	}
	assert.Equal(t, ble.Disconnected, s.State())
}

func TestSendAwaitAckAcknowledged(t *testing.T) {
	adapter := bletest.NewAdapter()
	adapter.Respond(bletest.G1Responder)
	s := connectSession(t, adapter, ble.DefaultSessionOptions())

	err := s.SendAwaitAck(context.Background(), textFrame(t, s.NextSeq()), time.Second)
	require.NoError(t, err)
	assert.False(t, s.AckPending())
}

func TestSendAwaitAckTimeout(t *testing.T) {
	adapter := bletest.NewAdapter()
	s := connectSession(t, adapter, ble.DefaultSessionOptions())

	err := s.SendAwaitAck(context.Background(), textFrame(t, 0), 30*time.Millisecond)
	require.ErrorIs(t, err, ble.ErrAckTimeout)
	assert.False(t, s.AckPending(), "timeout must clear the pending ack")
}

// awaitPending runs SendAwaitAck in the background and returns once the
// ack is armed.
func awaitPending(t *testing.T, s *ble.Session, timeout time.Duration) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.SendAwaitAck(context.Background(), textFrame(t, 0), timeout) }()
	require.Eventually(t, s.AckPending, time.Second, time.Millisecond)
	return done
}

func TestHeartbeatAckDoesNotSatisfyDisplayWait(t *testing.T) {
	adapter := bletest.NewAdapter()
	s := connectSession(t, adapter, ble.DefaultSessionOptions())

	done := awaitPending(t, s, 150*time.Millisecond)
	adapter.Connection(testAddr).RX.Notify(protocol.EncodeHeartbeat(0).Bytes())

	assert.ErrorIs(t, <-done, ble.ErrAckTimeout)
}

func TestDisplayCompleteOrderAcknowledges(t *testing.T) {
	adapter := bletest.NewAdapter()
	s := connectSession(t, adapter, ble.DefaultSessionOptions())

	done := awaitPending(t, s, 2*time.Second)
	adapter.Connection(testAddr).RX.Notify([]byte{0xF5, 0x10})

	require.NoError(t, <-done)
	assert.Equal(t, protocol.OrderDisplayComplete, s.LastDeviceOrder())
}

func TestSendResultFailureDoesNotAcknowledge(t *testing.T) {
	adapter := bletest.NewAdapter()
	s := connectSession(t, adapter, ble.DefaultSessionOptions())

	done := awaitPending(t, s, 150*time.Millisecond)
	adapter.Connection(testAddr).RX.Notify([]byte{0x4E, 0xCA})

	assert.ErrorIs(t, <-done, ble.ErrAckTimeout)
}

func TestAckWaitFailsPromptlyOnLinkDrop(t *testing.T) {
	adapter := bletest.NewAdapter()
	s := connectSession(t, adapter, quietOptions())

	done := awaitPending(t, s, time.Hour)
	adapter.Connection(testAddr).SimulateDisconnect()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ble.ErrNotConnected)
	case <-time.After(2 * time.Second):
		t.Fatal("ack wait did not observe the dropped link")
	}
}

func TestLinkLostCallsHookOnce(t *testing.T) {
	adapter := bletest.NewAdapter()
	var mu sync.Mutex
	calls := 0
	opts := quietOptions()
	opts.OnLinkLost = func(*ble.Session, error) {
		mu.Lock()
		calls++
		mu.Unlock()
	}
	s := connectSession(t, adapter, opts)

	conn := adapter.Connection(testAddr)
	conn.SimulateDisconnect()
	conn.SimulateDisconnect()

	assert.Equal(t, ble.Disconnected, s.State())
	assert.True(t, conn.Disconnected())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestExplicitDisconnectDoesNotReportLinkLost(t *testing.T) {
	adapter := bletest.NewAdapter()
	opts := quietOptions()
	opts.OnLinkLost = func(*ble.Session, error) { t.Error("OnLinkLost called on explicit disconnect") }
	s := connectSession(t, adapter, opts)

	require.NoError(t, s.Disconnect())
	adapter.Connection(testAddr).SimulateDisconnect()

	assert.Equal(t, ble.Disconnected, s.State())
	require.NoError(t, s.Disconnect(), "second disconnect is a no-op")
}

func TestSessionBuffersMicData(t *testing.T) {
	adapter := bletest.NewAdapter()
	s := connectSession(t, adapter, quietOptions())

	rx := adapter.Connection(testAddr).RX
	rx.Notify([]byte{0xF1, 0x00, 1, 2, 3, 4})
	rx.Notify([]byte{0xF1, 0x02, 5, 6})

	require.Eventually(t, func() bool { return s.Mic().Len() == 6 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, s.Mic().Gaps())
}

func TestSessionReceiveObserver(t *testing.T) {
	adapter := bletest.NewAdapter()
	got := make(chan ble.Receive, 4)
	opts := quietOptions()
	opts.OnReceive = func(r ble.Receive) { got <- r }
	connectSession(t, adapter, opts)

	rx := adapter.Connection(testAddr).RX
	rx.Notify(nil)                // malformed, dropped
	rx.Notify([]byte{0x99, 0x01}) // unknown, still observed

	select {
	case r := <-got:
		assert.Equal(t, protocol.Command(0x99), r.Command)
		assert.Equal(t, ble.Left, r.Side)
		assert.Equal(t, []byte{0x01}, r.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("receive observer not called")
	}
}

func TestNextSeqWrapsWithoutReset(t *testing.T) {
	s := ble.NewSession(bletest.NewAdapter(), "G1", testAddr, ble.Left, quietOptions())
	for i := 0; i < 600; i++ {
		if got := s.NextSeq(); got != uint8(i) {
			t.Fatalf("NextSeq() #%d = %d, want %d", i, got, uint8(i))
		}
	}
}

func TestSendHonoursContext(t *testing.T) {
	adapter := bletest.NewAdapter()
	s := connectSession(t, adapter, ble.DefaultSessionOptions())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.SendAwaitAck(ctx, textFrame(t, 0), time.Hour) }()
	require.Eventually(t, s.AckPending, time.Second, time.Millisecond)
	cancel()

	err := <-done
	assert.True(t, errors.Is(err, context.Canceled), "error = %v", err)
	assert.Equal(t, ble.Connected, s.State(), "cancellation must not drop the link")
}
