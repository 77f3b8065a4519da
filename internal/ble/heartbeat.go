package ble

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/g1link/internal/ble/protocol"
)

// heartbeatLoop keeps the link alive. One heartbeat goes out per interval;
// MaxMissedHeartbeats consecutive unanswered beats or any write error
// drops the link.
func (s *Session) heartbeatLoop(ctx context.Context, l *link) {
	defer l.wg.Done()

	missed := 0
	for {
		seq := s.nextHeartbeatSeq()
		s.armAck(ackHeartbeat)
		if err := s.write(ctx, l, protocol.EncodeHeartbeat(seq)); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("[BLE] heartbeat write failed", "side", s.side, "name", s.name, "error", err)
			go s.dropLink(l, err)
			return
		}

		acked, ok := s.awaitHeartbeat(ctx, s.opts.HeartbeatInterval)
		if !ok {
			return
		}
		if acked {
			missed = 0
			continue
		}

		s.clearAck(ackHeartbeat)
		missed++
		slog.Warn("[BLE] heartbeat not acknowledged", "side", s.side, "name", s.name, "seq", seq, "missed", missed)
		if s.opts.MaxMissedHeartbeats > 0 && missed >= s.opts.MaxMissedHeartbeats {
			go s.dropLink(l, fmt.Errorf("%w: %d consecutive acks missed", ErrHeartbeatLost, missed))
			return
		}
	}
}

// awaitHeartbeat waits out one interval and reports whether the ack came
// in. ok is false once ctx is done.
func (s *Session) awaitHeartbeat(ctx context.Context, interval time.Duration) (acked, ok bool) {
	timer := s.clock.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return acked, false
		case <-s.acks[ackHeartbeat]:
			acked = true
		case <-timer.Chan():
			return acked, true
		}
	}
}
