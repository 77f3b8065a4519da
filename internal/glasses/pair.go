// Package glasses coordinates the two lens sessions of a pair of G1
// glasses: discovery, connection, reconnection and fanned-out delivery.
package glasses

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/g1link/internal/ble"
	"github.com/chaz8081/g1link/internal/ble/protocol"
	"github.com/chaz8081/g1link/internal/display"
	"github.com/chaz8081/g1link/internal/notify"
)

// Options configures a Pair.
type Options struct {
	Session   ble.SessionOptions
	Reconnect ble.ReconnectOptions
	Text      display.TextOptions

	ScanTimeout       time.Duration // per scan (default 10s)
	ScanAttempts      int           // scans before giving up on discovery (default 5)
	ScanRetryDelay    time.Duration // pause between scans (default 1s)
	CommandDelay      time.Duration // spacing between the two lenses on fan-out (default 100ms)
	NotificationDelay time.Duration // spacing between notification chunks (default 10ms)

	// Known addresses skip discovery. Only the sides given are connected.
	LeftAddress  string
	RightAddress string

	Clock clockwork.Clock
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Session:           ble.DefaultSessionOptions(),
		Reconnect:         ble.DefaultReconnectOptions(),
		Text:              display.DefaultTextOptions(),
		ScanTimeout:       10 * time.Second,
		ScanAttempts:      5,
		ScanRetryDelay:    time.Second,
		CommandDelay:      100 * time.Millisecond,
		NotificationDelay: 10 * time.Millisecond,
		Clock:             clockwork.NewRealClock(),
	}
}

// Pair owns the left and right sessions. Sessions exist only between a
// successful ScanAndConnect and DisconnectAll, or until a lens becomes
// unreachable.
type Pair struct {
	adapter     ble.Adapter
	opts        Options
	clock       clockwork.Clock
	text        *display.Engine
	rsvpText    *display.Engine
	reconnector *ble.Reconnector

	mu       sync.RWMutex
	sessions map[ble.Side]*ble.Session
	ctx      context.Context // lifetime of background reconnection
	cancel   context.CancelFunc
	notifyID uint8

	obsMu     sync.RWMutex
	onStatus  ble.StatusFunc
	onReceive func(ble.Receive)
}

// NewPair creates a pair coordinator on top of adapter.
func NewPair(adapter ble.Adapter, opts Options) *Pair {
	def := DefaultOptions()
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = def.ScanTimeout
	}
	if opts.ScanAttempts <= 0 {
		opts.ScanAttempts = def.ScanAttempts
	}
	if opts.ScanRetryDelay < 0 {
		opts.ScanRetryDelay = 0
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Session.Clock == nil {
		opts.Session.Clock = opts.Clock
	}
	if opts.Reconnect.Clock == nil {
		opts.Reconnect.Clock = opts.Clock
	}

	p := &Pair{
		adapter:  adapter,
		opts:     opts,
		clock:    opts.Clock,
		text:     display.NewEngine(opts.Text, opts.Clock),
		sessions: make(map[ble.Side]*ble.Session),
	}

	// The reader swaps screens faster than a settle pause allows.
	rsvpOpts := opts.Text
	rsvpOpts.SettleDelay = 0
	p.rsvpText = display.NewEngine(rsvpOpts, opts.Clock)

	ropts := opts.Reconnect
	ropts.OnStatus = p.emitStatus
	p.reconnector = ble.NewReconnector(ropts)

	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// OnStatusChanged registers the observer for per-address state changes.
func (p *Pair) OnStatusChanged(fn ble.StatusFunc) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	p.onStatus = fn
}

// OnReceive registers the observer for decoded inbound frames from either lens.
func (p *Pair) OnReceive(fn func(ble.Receive)) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	p.onReceive = fn
}

func (p *Pair) emitStatus(address string, state ble.State) {
	p.obsMu.RLock()
	fn := p.onStatus
	p.obsMu.RUnlock()
	if fn != nil {
		fn(address, state)
	}
}

func (p *Pair) emitReceive(r ble.Receive) {
	p.obsMu.RLock()
	fn := p.onReceive
	p.obsMu.RUnlock()
	if fn != nil {
		fn(r)
	}
}

func (p *Pair) sessionOptions() ble.SessionOptions {
	opts := p.opts.Session
	opts.OnStatus = p.emitStatus
	opts.OnReceive = p.emitReceive
	opts.OnLinkLost = p.handleLinkLost
	return opts
}

// ScanAndConnect discovers the lenses (or uses the configured addresses)
// and connects every required side concurrently. It fails unless all
// required sides connect. Previous sessions are disconnected first.
func (p *Pair) ScanAndConnect(ctx context.Context) error {
	if err := p.adapter.Enable(); err != nil {
		return err
	}
	targets, err := p.discover(ctx)
	if err != nil {
		slog.Error("[G1] discovery failed", "error", err)
		return err
	}

	if len(p.Sessions()) > 0 {
		p.DisconnectAll()
	}

	sessions := make(map[ble.Side]*ble.Session, len(targets))
	for side, t := range targets {
		p.reconnector.Reset(t.address)
		sessions[side] = ble.NewSession(p.adapter, t.name, t.address, side, p.sessionOptions())
	}
	p.mu.Lock()
	p.sessions = sessions
	p.mu.Unlock()

	results := p.connect(ctx, sessions)
	for side, err := range results {
		if errors.Is(err, ble.ErrUnreachableDevice) {
			p.removeSession(sessions[side])
		}
	}
	if err := results.Err(); err != nil {
		slog.Error("[G1] pair connect failed", "error", err)
		return err
	}
	slog.Info("[G1] pair connected", "sides", len(sessions))
	return nil
}

func (p *Pair) connect(ctx context.Context, sessions map[ble.Side]*ble.Session) Results {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		results = make(Results, len(sessions))
	)
	for side, s := range sessions {
		side, s := side, s
		g.Go(func() error {
			err := p.reconnector.Run(ctx, s)
			mu.Lock()
			results[side] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// handleLinkLost hands a dropped session to the reconnection supervisor.
func (p *Pair) handleLinkLost(s *ble.Session, cause error) {
	p.mu.RLock()
	current := p.sessions[s.Side()] == s
	ctx := p.ctx
	p.mu.RUnlock()
	if !current {
		return
	}

	slog.Warn("[G1] link lost, reconnecting", "side", s.Side(), "name", s.Name(), "cause", cause)
	p.reconnector.Start(ctx, s, func(err error) {
		switch {
		case err == nil:
		case errors.Is(err, ble.ErrUnreachableDevice):
			p.removeSession(s)
		default:
			slog.Debug("[G1] reconnection stopped", "side", s.Side(), "error", err)
		}
	})
}

func (p *Pair) removeSession(s *ble.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessions[s.Side()] == s {
		delete(p.sessions, s.Side())
		slog.Warn("[G1] session removed", "side", s.Side(), "address", s.Address())
	}
}

// DisconnectAll stops reconnection and disconnects every session
// concurrently. The pair is empty afterwards.
func (p *Pair) DisconnectAll() Results {
	p.mu.Lock()
	p.cancel()
	sessions := p.sessions
	p.sessions = make(map[ble.Side]*ble.Session)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	p.reconnector.Wait()

	var (
		g       errgroup.Group
		mu      sync.Mutex
		results = make(Results, len(sessions))
	)
	for side, s := range sessions {
		side, s := side, s
		g.Go(func() error {
			err := s.Disconnect()
			mu.Lock()
			results[side] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	slog.Info("[G1] disconnected", "sides", len(sessions))
	return results
}

// Sessions returns the live sessions, left first.
func (p *Pair) Sessions() []*ble.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*ble.Session, 0, 2)
	for _, side := range []ble.Side{ble.Left, ble.Right} {
		if s, ok := p.sessions[side]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Session returns the session for side, or nil.
func (p *Pair) Session(side ble.Side) *ble.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessions[side]
}

// Status returns the connection state of each live session.
func (p *Pair) Status() map[ble.Side]ble.State {
	out := make(map[ble.Side]ble.State)
	for _, s := range p.Sessions() {
		out[s.Side()] = s.State()
	}
	return out
}

// Connected reports whether there is at least one session and all are connected.
func (p *Pair) Connected() bool {
	sessions := p.Sessions()
	for _, s := range sessions {
		if !s.IsConnected() {
			return false
		}
	}
	return len(sessions) > 0
}

// Send writes f to each lens in turn, left first, with CommandDelay between.
func (p *Pair) Send(ctx context.Context, f protocol.Frame) Results {
	sessions := p.Sessions()
	results := make(Results, len(sessions))
	for i, s := range sessions {
		if i > 0 {
			if err := display.Sleep(ctx, p.clock, p.opts.CommandDelay); err != nil {
				results[s.Side()] = err
				continue
			}
		}
		results[s.Side()] = s.Send(ctx, f)
	}
	return results
}

// SendTo writes f to one lens.
func (p *Pair) SendTo(ctx context.Context, side ble.Side, f protocol.Frame) error {
	s := p.Session(side)
	if s == nil {
		return ErrNoSessions
	}
	return s.Send(ctx, f)
}

// SendText shows text on both lenses. The lenses are driven concurrently,
// the right one started CommandDelay after the left. One lens failing does
// not stop the other.
func (p *Pair) SendText(ctx context.Context, text string) Results {
	return p.sendText(ctx, p.text, text)
}

func (p *Pair) sendText(ctx context.Context, engine *display.Engine, text string) Results {
	sessions := p.Sessions()
	var (
		g       errgroup.Group
		mu      sync.Mutex
		results = make(Results, len(sessions))
	)
	for i, s := range sessions {
		s := s
		stagger := time.Duration(i) * p.opts.CommandDelay
		g.Go(func() error {
			err := display.Sleep(ctx, p.clock, stagger)
			if err == nil {
				err = engine.SendText(ctx, s, text)
			}
			if err != nil {
				slog.Warn("[G1] text delivery failed", "side", s.Side(), "error", err)
			}
			mu.Lock()
			results[s.Side()] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// SendRSVP runs the word-by-word reader on both lenses. A group counts as
// delivered only when every lens acknowledged it.
func (p *Pair) SendRSVP(ctx context.Context, text string, cfg display.RSVPConfig) error {
	send := func(ctx context.Context, screen string) error {
		return p.sendText(ctx, p.rsvpText, screen).Err()
	}
	return display.RunRSVP(ctx, send, text, cfg, p.clock)
}

// SendNotification delivers n to both lenses chunk by chunk. Chunks are
// not acknowledged; a lens whose write fails is skipped for the rest.
func (p *Pair) SendNotification(ctx context.Context, n notify.Notification) Results {
	sessions := p.Sessions()
	results := make(Results, len(sessions))

	frames, err := n.Frames(p.nextNotifyID())
	if err != nil {
		for _, s := range sessions {
			results[s.Side()] = err
		}
		return results
	}
	for _, s := range sessions {
		results[s.Side()] = nil
	}

	for i, f := range frames {
		for _, s := range sessions {
			if results[s.Side()] != nil {
				continue
			}
			results[s.Side()] = s.Send(ctx, f)
		}
		if i == len(frames)-1 {
			break
		}
		if err := display.Sleep(ctx, p.clock, p.opts.NotificationDelay); err != nil {
			for _, s := range sessions {
				if results[s.Side()] == nil {
					results[s.Side()] = err
				}
			}
			break
		}
	}
	return results
}

func (p *Pair) nextNotifyID() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.notifyID
	p.notifyID++
	return id
}
