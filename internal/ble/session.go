package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/chaz8081/g1link/internal/audio"
	"github.com/chaz8081/g1link/internal/ble/protocol"
)

// SessionOptions configures a device session.
type SessionOptions struct {
	HeartbeatInterval   time.Duration // keepalive period (default 2s)
	MaxMissedHeartbeats int           // consecutive missed acks before the link is dropped; 0 never drops
	WriteInterval       time.Duration // minimum spacing between writes; 0 disables pacing
	InboundQueueSize    int           // buffered inbound notifications (default 64)
	Clock               clockwork.Clock

	// OnStatus observes connection state changes.
	OnStatus StatusFunc
	// OnReceive observes every decoded inbound frame after its handler ran.
	OnReceive func(Receive)
	// OnLinkLost is called when the link drops without an explicit
	// Disconnect. The reconnection supervisor hooks in here.
	OnLinkLost func(s *Session, cause error)
}

// DefaultSessionOptions returns sensible defaults.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		HeartbeatInterval:   2 * time.Second,
		MaxMissedHeartbeats: 3,
		InboundQueueSize:    64,
		Clock:               clockwork.NewRealClock(),
	}
}

// Receive is one decoded inbound frame.
type Receive struct {
	Side    Side
	Command protocol.Command
	Payload []byte
}

// Handler reacts to an inbound frame. Handlers run on the session's
// dispatch goroutine and must not block.
type Handler func(Receive)

type ackKind int

const (
	ackHeartbeat ackKind = iota
	ackDisplay
	numAckKinds
)

func (k ackKind) String() string {
	if k == ackHeartbeat {
		return "heartbeat"
	}
	return "display"
}

// link holds everything that lives exactly as long as one connection.
type link struct {
	conn    Connection
	tx      Characteristic
	inbound chan []byte
	down    chan struct{} // closed on teardown
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	dropped atomic.Bool // set by the transport's disconnect callback
}

func (l *link) enqueue(s *Session, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	select {
	case l.inbound <- cp:
	default:
		slog.Warn("[BLE] inbound queue full, dropping notification", "side", s.side, "address", s.address)
	}
}

// Session owns the connection to one lens.
type Session struct {
	name    string
	address string
	side    Side
	adapter Adapter
	opts    SessionOptions
	clock   clockwork.Clock

	mu          sync.Mutex
	state       State
	link        *link
	txSeq       uint8
	hbSeq       uint8
	ackPending  [numAckKinds]bool
	lastAckTime time.Time
	lastOrder   protocol.DeviceOrder

	acks       [numAckKinds]chan struct{}
	writeMu    sync.Mutex
	transferMu sync.Mutex
	limiter    *rate.Limiter
	handlers   map[protocol.Command]Handler
	mic        *audio.Buffer
}

// NewSession creates a disconnected session for one device.
func NewSession(adapter Adapter, name, address string, side Side, opts SessionOptions) *Session {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 2 * time.Second
	}
	if opts.MaxMissedHeartbeats < 0 {
		opts.MaxMissedHeartbeats = 0
	}
	if opts.InboundQueueSize <= 0 {
		opts.InboundQueueSize = 64
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	limit := rate.Inf
	if opts.WriteInterval > 0 {
		limit = rate.Every(opts.WriteInterval)
	}

	s := &Session{
		name:    name,
		address: address,
		side:    side,
		adapter: adapter,
		opts:    opts,
		clock:   opts.Clock,
		limiter: rate.NewLimiter(limit, 1),
		mic:     audio.NewBuffer(),
	}
	for i := range s.acks {
		s.acks[i] = make(chan struct{}, 1)
	}
	s.handlers = s.defaultHandlers()
	return s
}

func (s *Session) Name() string    { return s.name }
func (s *Session) Address() string { return s.address }
func (s *Session) Side() Side      { return s.side }

// Mic returns the accumulator fed by inbound mic data.
func (s *Session) Mic() *audio.Buffer { return s.mic }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the session can send.
func (s *Session) IsConnected() bool { return s.State() == Connected }

// AckPending reports whether a display acknowledgment is outstanding.
func (s *Session) AckPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ackPending[ackDisplay]
}

// LastAckTime returns when the last heartbeat ack arrived.
func (s *Session) LastAckTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAckTime
}

// LastDeviceOrder returns the most recent device order byte received.
func (s *Session) LastDeviceOrder() protocol.DeviceOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOrder
}

// NextSeq returns the sequence number for the next data-bearing frame.
// It wraps at 256 and is never reset for the lifetime of the session.
func (s *Session) NextSeq() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.txSeq
	s.txSeq++
	return seq
}

func (s *Session) nextHeartbeatSeq() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.hbSeq
	s.hbSeq++
	return seq
}

// AcquireTransfer blocks until no other text transfer is in flight on this
// session. The returned func releases it.
func (s *Session) AcquireTransfer() func() {
	s.transferMu.Lock()
	return s.transferMu.Unlock
}

func (s *Session) emit(state State) {
	if s.opts.OnStatus != nil {
		s.opts.OnStatus(s.address, state)
	}
}

// Connect opens the transport, discovers the UART characteristics, sends
// the init command, subscribes to notifications and starts the heartbeat.
// On failure the session is left Disconnected.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Connected:
		s.mu.Unlock()
		return nil
	case Connecting:
		s.mu.Unlock()
		return fmt.Errorf("ble: connect to %s already in progress", s.address)
	}
	s.state = Connecting
	s.mu.Unlock()
	s.emit(Connecting)

	l, err := s.open(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = Disconnected
		s.mu.Unlock()
		s.emit(Disconnected)
		slog.Warn("[BLE] connect failed", "side", s.side, "name", s.name, "address", s.address, "error", err)
		return err
	}

	linkCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	s.mu.Lock()
	// A drop reported before the link is installed finds nothing to detach.
	if l.dropped.Load() {
		s.state = Disconnected
		s.mu.Unlock()
		cancel()
		_ = l.conn.Disconnect()
		s.emit(Disconnected)
		slog.Warn("[BLE] link lost while connecting", "side", s.side, "name", s.name, "address", s.address)
		return fmt.Errorf("%w: %s link lost while connecting", ErrTransport, s.address)
	}
	s.link = l
	s.state = Connected
	s.lastAckTime = s.clock.Now()
	l.wg.Add(2)
	s.mu.Unlock()

	go s.dispatchLoop(linkCtx, l)
	go s.heartbeatLoop(linkCtx, l)

	s.emit(Connected)
	slog.Info("[BLE] connected", "side", s.side, "name", s.name, "address", s.address)
	return nil
}

// open performs the connect sequence up to a live, subscribed link.
func (s *Session) open(ctx context.Context) (*link, error) {
	conn, err := s.adapter.Connect(ctx, s.address)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to %s: %w", ErrTransport, s.address, err)
	}

	tx, err := conn.DiscoverCharacteristic(ServiceUUID, TXCharUUID)
	if err != nil {
		_ = conn.Disconnect()
		return nil, fmt.Errorf("%w: TX characteristic on %s: %w", ErrServiceNotFound, s.address, err)
	}
	rx, err := conn.DiscoverCharacteristic(ServiceUUID, RXCharUUID)
	if err != nil {
		_ = conn.Disconnect()
		return nil, fmt.Errorf("%w: RX characteristic on %s: %w", ErrServiceNotFound, s.address, err)
	}

	l := &link{
		conn:    conn,
		tx:      tx,
		inbound: make(chan []byte, s.opts.InboundQueueSize),
		down:    make(chan struct{}),
	}

	if err := s.write(ctx, l, protocol.EncodeInit()); err != nil {
		_ = conn.Disconnect()
		return nil, err
	}

	conn.OnDisconnect(func() {
		l.dropped.Store(true)
		s.dropLink(l, fmt.Errorf("%w: %s link lost", ErrTransport, s.address))
	})

	if err := rx.Subscribe(func(data []byte) { l.enqueue(s, data) }); err != nil {
		_ = conn.Disconnect()
		return nil, fmt.Errorf("%w: subscribe on %s: %w", ErrTransport, s.address, err)
	}
	return l, nil
}

// detach removes l as the active link and waits for its goroutines.
// It reports false if l was not the active link.
func (s *Session) detach(l *link) bool {
	s.mu.Lock()
	if l == nil || s.link != l {
		s.mu.Unlock()
		return false
	}
	s.link = nil
	s.state = Disconnected
	s.mu.Unlock()

	l.cancel()
	close(l.down)
	l.wg.Wait()
	return true
}

// Disconnect stops the heartbeat, closes the transport and leaves the
// session Disconnected. It does not trigger reconnection.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()

	if !s.detach(l) {
		return nil
	}
	err := l.conn.Disconnect()
	s.emit(Disconnected)
	slog.Info("[BLE] disconnected", "side", s.side, "name", s.name, "address", s.address)
	if err != nil {
		return fmt.Errorf("%w: disconnect %s: %w", ErrTransport, s.address, err)
	}
	return nil
}

// dropLink tears down a failed link and hands off to OnLinkLost.
func (s *Session) dropLink(l *link, cause error) {
	if !s.detach(l) {
		return
	}
	_ = l.conn.Disconnect()
	s.emit(Disconnected)
	slog.Warn("[BLE] link dropped", "side", s.side, "name", s.name, "address", s.address, "cause", cause)
	if s.opts.OnLinkLost != nil {
		s.opts.OnLinkLost(s, cause)
	}
}

func (s *Session) currentLink() *link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// write serializes one frame onto the link's TX characteristic.
func (s *Session) write(ctx context.Context, l *link, f protocol.Frame) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := l.tx.Write(f.Bytes()); err != nil {
		return fmt.Errorf("%w: write %s to %s: %w", ErrTransport, f.Command, s.address, err)
	}
	slog.Debug("[BLE] sent", "side", s.side, "command", f.Command, "bytes", f.Len())
	return nil
}

// failWrite drops the link when err came from the transport.
func (s *Session) failWrite(l *link, err error) {
	if errors.Is(err, ErrTransport) {
		go s.dropLink(l, err)
	}
}

// Send writes a frame without waiting for acknowledgment. A session that
// is not connected logs a warning and returns ErrNotConnected.
func (s *Session) Send(ctx context.Context, f protocol.Frame) error {
	l := s.currentLink()
	if l == nil {
		slog.Warn("[BLE] cannot send, not connected", "side", s.side, "name", s.name, "command", f.Command)
		return fmt.Errorf("%w: %s", ErrNotConnected, s.address)
	}
	if err := s.write(ctx, l, f); err != nil {
		s.failWrite(l, err)
		return err
	}
	return nil
}

// SendAwaitAck writes a frame that the display acknowledges and waits up
// to timeout for the ack.
func (s *Session) SendAwaitAck(ctx context.Context, f protocol.Frame, timeout time.Duration) error {
	l := s.currentLink()
	if l == nil {
		slog.Warn("[BLE] cannot send, not connected", "side", s.side, "name", s.name, "command", f.Command)
		return fmt.Errorf("%w: %s", ErrNotConnected, s.address)
	}
	s.armAck(ackDisplay)
	if err := s.write(ctx, l, f); err != nil {
		s.clearAck(ackDisplay)
		s.failWrite(l, err)
		return err
	}
	return s.waitAck(ctx, l, ackDisplay, timeout)
}

// armAck marks an ack as pending and discards any stale signal.
func (s *Session) armAck(k ackKind) {
	s.mu.Lock()
	s.ackPending[k] = true
	s.mu.Unlock()
	select {
	case <-s.acks[k]:
	default:
	}
}

func (s *Session) clearAck(k ackKind) {
	s.mu.Lock()
	s.ackPending[k] = false
	s.mu.Unlock()
}

// signalAck resolves a pending ack. Acks nobody is waiting for are dropped.
func (s *Session) signalAck(k ackKind) {
	s.mu.Lock()
	pending := s.ackPending[k]
	s.ackPending[k] = false
	if k == ackHeartbeat {
		s.lastAckTime = s.clock.Now()
	}
	s.mu.Unlock()
	if !pending {
		return
	}
	select {
	case s.acks[k] <- struct{}{}:
	default:
	}
}

func (s *Session) waitAck(ctx context.Context, l *link, k ackKind, timeout time.Duration) error {
	timer := s.clock.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.acks[k]:
		return nil
	case <-timer.Chan():
		s.clearAck(k)
		return fmt.Errorf("%w: %s ack from %s side after %s", ErrAckTimeout, k, s.side, timeout)
	case <-l.down:
		s.clearAck(k)
		return fmt.Errorf("%w: %s link dropped while waiting for %s ack", ErrNotConnected, s.address, k)
	case <-ctx.Done():
		s.clearAck(k)
		return ctx.Err()
	}
}

func (s *Session) dispatchLoop(ctx context.Context, l *link) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-l.inbound:
			s.onNotification(data)
		}
	}
}

// onNotification decodes one inbound notification and runs its handler.
func (s *Session) onNotification(data []byte) {
	cmd, payload, err := protocol.DecodeInbound(data)
	if err != nil {
		slog.Warn("[BLE] dropping malformed notification", "side", s.side, "name", s.name, "error", err)
		return
	}
	rcv := Receive{Side: s.side, Command: cmd, Payload: payload}
	slog.Debug("[BLE] received", "side", s.side, "command", cmd, "payload", fmt.Sprintf("%x", payload))

	h, ok := s.handlers[cmd]
	if !ok {
		slog.Warn("[BLE] unknown command", "side", s.side, "name", s.name, "command", cmd, "payload", fmt.Sprintf("%x", payload))
	} else {
		h(rcv)
	}
	if s.opts.OnReceive != nil {
		s.opts.OnReceive(rcv)
	}
}
