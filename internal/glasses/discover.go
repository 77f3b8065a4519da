package glasses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chaz8081/g1link/internal/ble"
	"github.com/chaz8081/g1link/internal/display"
)

var (
	// ErrNoDevices means discovery found no G1 lens at all.
	ErrNoDevices = errors.New("glasses: no G1 devices found")
	// ErrIncompletePair means discovery found only one lens.
	ErrIncompletePair = errors.New("glasses: incomplete pair")
)

// ProductPrefix starts the advertised name of every G1 lens.
const ProductPrefix = "Even G1_"

// ClassifyDevice maps an advertised name to a side. Names carry "_L_" or
// "_R_"; a bare product name without a marker is taken as the right lens.
func ClassifyDevice(name string) (ble.Side, bool) {
	switch {
	case strings.Contains(name, "_L_"):
		return ble.Left, true
	case strings.Contains(name, "_R_"):
		return ble.Right, true
	case strings.HasPrefix(name, ProductPrefix):
		return ble.Right, true
	}
	return "", false
}

type target struct {
	name    string
	address string
}

// knownTargets returns the configured addresses, skipping discovery.
func (p *Pair) knownTargets() map[ble.Side]target {
	known := make(map[ble.Side]target)
	if p.opts.LeftAddress != "" {
		known[ble.Left] = target{name: "G1 " + ble.Left.Label(), address: p.opts.LeftAddress}
	}
	if p.opts.RightAddress != "" {
		known[ble.Right] = target{name: "G1 " + ble.Right.Label(), address: p.opts.RightAddress}
	}
	return known
}

// discover scans until both lenses are seen or attempts run out.
func (p *Pair) discover(ctx context.Context) (map[ble.Side]target, error) {
	if known := p.knownTargets(); len(known) > 0 {
		slog.Info("[G1] using configured addresses", "sides", len(known))
		return known, nil
	}

	found := make(map[ble.Side]target)
	for attempt := 1; attempt <= p.opts.ScanAttempts; attempt++ {
		scanCtx, cancel := context.WithTimeout(ctx, p.opts.ScanTimeout)
		devices, err := p.adapter.Scan(scanCtx)
		cancel()
		if err != nil {
			slog.Warn("[G1] scan failed", "attempt", attempt, "error", err)
		}
		for _, d := range devices {
			side, ok := ClassifyDevice(d.Name)
			if !ok {
				continue
			}
			if _, seen := found[side]; !seen {
				found[side] = target{name: d.Name, address: d.Address}
				slog.Info("[G1] found lens", "side", side, "name", d.Name, "address", d.Address, "rssi", d.RSSI)
			}
		}
		if len(found) == 2 {
			return found, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < p.opts.ScanAttempts {
			slog.Info("[G1] pair incomplete, rescanning", "attempt", attempt, "found", len(found))
			if err := display.Sleep(ctx, p.clock, p.opts.ScanRetryDelay); err != nil {
				return nil, err
			}
		}
	}

	switch len(found) {
	case 0:
		return nil, ErrNoDevices
	default:
		missing := ble.Left
		if _, ok := found[ble.Left]; ok {
			missing = ble.Right
		}
		return nil, fmt.Errorf("%w: %s lens not found", ErrIncompletePair, missing)
	}
}
