package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ReconnectOptions configures the reconnection supervisor.
type ReconnectOptions struct {
	MaxAttempts int           // attempts before a device is declared unreachable (default 10)
	BaseDelay   time.Duration // delay after the first failure (default 2s)
	MaxDelay    time.Duration // backoff cap (default 60s)
	Clock       clockwork.Clock
	OnStatus    StatusFunc
}

// DefaultReconnectOptions returns sensible defaults.
func DefaultReconnectOptions() ReconnectOptions {
	return ReconnectOptions{
		MaxAttempts: 10,
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
		Clock:       clockwork.NewRealClock(),
	}
}

// ReconnectState is the per-device retry bookkeeping.
type ReconnectState struct {
	Attempts  int
	NextDelay time.Duration
}

// Reconnector retries failed connections with exponential backoff. At most
// one loop runs per device address.
type Reconnector struct {
	opts ReconnectOptions

	mu     sync.Mutex
	active map[string]bool
	states map[string]ReconnectState
	wg     sync.WaitGroup
}

// NewReconnector creates a reconnection supervisor.
func NewReconnector(opts ReconnectOptions) *Reconnector {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 2 * time.Second
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Reconnector{
		opts:   opts,
		active: make(map[string]bool),
		states: make(map[string]ReconnectState),
	}
}

// backoffDelay returns the wait after the given failed attempt (1-based):
// base, 2*base, 4*base, ... capped at maxDelay.
func backoffDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 32 {
		return maxDelay
	}
	delay := base << uint(attempt-1)
	if delay > maxDelay || delay <= 0 {
		return maxDelay
	}
	return delay
}

// State returns the retry bookkeeping for address.
func (r *Reconnector) State(address string) ReconnectState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[address]
}

// Active reports whether a loop is running for address.
func (r *Reconnector) Active(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[address]
}

// Reset clears the attempt count so an unreachable device can be retried.
func (r *Reconnector) Reset(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, address)
}

func (r *Reconnector) claim(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[address] {
		return false
	}
	r.active[address] = true
	return true
}

func (r *Reconnector) release(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, address)
}

func (r *Reconnector) setState(address string, st ReconnectState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[address] = st
}

// Run connects s, retrying with backoff, and blocks until it is connected,
// attempts run out, or ctx is done. It fails fast if a loop for the same
// address is already running.
func (r *Reconnector) Run(ctx context.Context, s *Session) error {
	if !r.claim(s.Address()) {
		return fmt.Errorf("ble: reconnection to %s already running", s.Address())
	}
	defer r.release(s.Address())
	return r.run(ctx, s)
}

// Start runs the loop in the background and calls done with its result.
// It returns false without doing anything if a loop is already running for
// the session's address.
func (r *Reconnector) Start(ctx context.Context, s *Session, done func(error)) bool {
	if !r.claim(s.Address()) {
		slog.Info("[BLE] reconnection already running", "side", s.Side(), "address", s.Address())
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := r.run(ctx, s)
		r.release(s.Address())
		if done != nil {
			done(err)
		}
	}()
	return true
}

// Wait blocks until every background loop has returned.
func (r *Reconnector) Wait() {
	r.wg.Wait()
}

func (r *Reconnector) run(ctx context.Context, s *Session) error {
	addr := s.Address()
	for {
		st := r.State(addr)
		if st.Attempts >= r.opts.MaxAttempts {
			break
		}

		err := s.Connect(ctx)
		if err == nil {
			r.setState(addr, ReconnectState{})
			if st.Attempts > 0 {
				slog.Info("[BLE] reconnected", "side", s.Side(), "address", addr, "attempts", st.Attempts+1)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempts := st.Attempts + 1
		delay := backoffDelay(attempts, r.opts.BaseDelay, r.opts.MaxDelay)
		r.setState(addr, ReconnectState{Attempts: attempts, NextDelay: delay})
		if attempts >= r.opts.MaxAttempts {
			slog.Warn("[BLE] reconnect failed", "side", s.Side(), "address", addr, "attempt", attempts, "error", err)
			break
		}

		slog.Info("[BLE] reconnect backoff", "side", s.Side(), "address", addr, "attempt", attempts, "delay", delay, "error", err)
		timer := r.opts.Clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.Chan():
		}
	}

	slog.Error("[BLE] device unreachable", "side", s.Side(), "name", s.Name(), "address", addr, "attempts", r.opts.MaxAttempts)
	if r.opts.OnStatus != nil {
		r.opts.OnStatus(addr, Unreachable)
	}
	return fmt.Errorf("%w: %s after %d attempts", ErrUnreachableDevice, addr, r.opts.MaxAttempts)
}
