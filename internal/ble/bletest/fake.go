// Package bletest provides in-memory fakes of the ble transport interfaces.
package bletest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chaz8081/g1link/internal/ble"
)

// ErrWriteFailed is returned by characteristics configured to fail writes.
var ErrWriteFailed = errors.New("bletest: write failed")

// Responder builds the notifications the peripheral answers a write with.
// Returning nil sends nothing.
type Responder func(written []byte) [][]byte

// Characteristic records writes and delivers notifications to its subscriber.
type Characteristic struct {
	mu          sync.Mutex
	writes      [][]byte
	callback    func([]byte)
	failWrite   bool
	responder   Responder
	peer        *Characteristic // RX characteristic responses are delivered on
	onSubscribe func()
}

func (c *Characteristic) Write(data []byte) error {
	c.mu.Lock()
	if c.failWrite {
		c.mu.Unlock()
		return ErrWriteFailed
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	respond := c.responder
	peer := c.peer
	c.mu.Unlock()

	if respond != nil && peer != nil {
		for _, n := range respond(cp) {
			peer.Notify(n)
		}
	}
	return nil
}

func (c *Characteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	c.callback = cb
	hook := c.onSubscribe
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

// Notify delivers a notification to the subscriber.
func (c *Characteristic) Notify(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// Writes returns a copy of everything written so far.
func (c *Characteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// WritesOf returns the writes whose first byte is cmd.
func (c *Characteristic) WritesOf(cmd byte) [][]byte {
	var out [][]byte
	for _, w := range c.Writes() {
		if len(w) > 0 && w[0] == cmd {
			out = append(out, w)
		}
	}
	return out
}

// Respond replaces the responder answering writes on this characteristic.
func (c *Characteristic) Respond(r Responder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responder = r
}

// FailWrites makes every subsequent write fail.
func (c *Characteristic) FailWrites(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWrite = fail
}

// Connection is a fake link to one peripheral.
type Connection struct {
	TX *Characteristic
	RX *Characteristic

	mu           sync.Mutex
	disconnectCb func()
	disconnected bool
}

func newConnection(respond Responder) *Connection {
	rx := &Characteristic{}
	return &Connection{
		TX: &Characteristic{responder: respond, peer: rx},
		RX: rx,
	}
}

func (c *Connection) DiscoverCharacteristic(_, charUUID string) (ble.Characteristic, error) {
	switch charUUID {
	case ble.TXCharUUID:
		return c.TX, nil
	case ble.RXCharUUID:
		return c.RX, nil
	default:
		return nil, fmt.Errorf("bletest: unknown characteristic UUID %q", charUUID)
	}
}

func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *Connection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// Disconnected reports whether Disconnect was called.
func (c *Connection) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// SimulateDisconnect fires the disconnect callback as if the radio dropped.
func (c *Connection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Adapter is a fake radio. Devices are returned by Scan; connections are
// created fresh on each Connect.
type Adapter struct {
	mu          sync.Mutex
	devices     []ble.Device
	responder   Responder
	failConnect map[string]int // address -> remaining failures; -1 fails forever
	dropEarly   map[string]bool
	connects    map[string]int
	connections map[string]*Connection
	scans       int
}

// NewAdapter creates a fake adapter that discovers devices.
func NewAdapter(devices ...ble.Device) *Adapter {
	return &Adapter{
		devices:     devices,
		failConnect: make(map[string]int),
		dropEarly:   make(map[string]bool),
		connects:    make(map[string]int),
		connections: make(map[string]*Connection),
	}
}

// Respond installs a responder on every connection created afterwards.
func (a *Adapter) Respond(r Responder) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responder = r
}

// FailConnect makes the next n connects to address fail; n < 0 fails forever.
func (a *Adapter) FailConnect(address string, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failConnect[address] = n
}

// DropDuringConnect makes the next connection to address drop as soon as
// notifications are subscribed, before the session has finished connecting.
func (a *Adapter) DropDuringConnect(address string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dropEarly[address] = true
}

func (a *Adapter) Enable() error { return nil }

func (a *Adapter) Scan(_ context.Context) ([]ble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scans++
	return append([]ble.Device(nil), a.devices...), nil
}

func (a *Adapter) Connect(_ context.Context, address string) (ble.Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects[address]++
	if n := a.failConnect[address]; n != 0 {
		if n > 0 {
			a.failConnect[address] = n - 1
		}
		return nil, fmt.Errorf("bletest: connect to %s refused", address)
	}
	conn := newConnection(a.responder)
	if a.dropEarly[address] {
		delete(a.dropEarly, address)
		conn.RX.onSubscribe = conn.SimulateDisconnect
	}
	a.connections[address] = conn
	return conn, nil
}

// Connection returns the most recent connection to address.
func (a *Adapter) Connection(address string) *Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connections[address]
}

// Connects returns how many times Connect was called for address.
func (a *Adapter) Connects(address string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects[address]
}

// Scans returns how many scans ran.
func (a *Adapter) Scans() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans
}

var (
	_ ble.Adapter        = (*Adapter)(nil)
	_ ble.Connection     = (*Connection)(nil)
	_ ble.Characteristic = (*Characteristic)(nil)
)

// HeartbeatOnlyResponder echoes heartbeats and leaves everything else
// unanswered, like a lens that stopped rendering.
func HeartbeatOnlyResponder(written []byte) [][]byte {
	if len(written) > 0 && written[0] == 0x25 {
		return [][]byte{append([]byte(nil), written...)}
	}
	return nil
}

// G1Responder answers like G1 firmware: heartbeats are echoed and text
// packets are acknowledged with a success SEND_RESULT.
func G1Responder(written []byte) [][]byte {
	if len(written) == 0 {
		return nil
	}
	switch written[0] {
	case 0x25:
		return [][]byte{append([]byte(nil), written...)}
	case 0x4E:
		return [][]byte{{0x4E, 0xC9}}
	}
	return nil
}
