package display

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chaz8081/g1link/internal/ble/protocol"
)

// ErrTextTooLong means the text needs more pages than the frame can number.
var ErrTextTooLong = errors.New("display: text exceeds 255 pages")

// Device is the per-lens sink the engine delivers pages to.
type Device interface {
	Name() string
	NextSeq() uint8
	SendAwaitAck(ctx context.Context, f protocol.Frame, timeout time.Duration) error
	// AcquireTransfer serializes text transfers on one device.
	AcquireTransfer() (release func())
}

// TextOptions tunes text delivery.
type TextOptions struct {
	LineWidth    int           // runes per line (default 40)
	LinesPerPage int           // lines per page (default 5)
	PageDelay    time.Duration // pause after each non-final page of multi-page text (default 5s)
	SettleDelay  time.Duration // pause between the NORMAL and FINAL send of short text (default 1s)
	AckTimeout   time.Duration // per-chunk acknowledgment timeout (default 3s)
	ChunkDelay   time.Duration // pause after each acknowledged chunk (default 100ms)
}

// DefaultTextOptions returns the pacing the G1 firmware expects.
func DefaultTextOptions() TextOptions {
	return TextOptions{
		LineWidth:    DefaultLineWidth,
		LinesPerPage: DefaultLinesPerPage,
		PageDelay:    5 * time.Second,
		SettleDelay:  time.Second,
		AckTimeout:   3 * time.Second,
		ChunkDelay:   100 * time.Millisecond,
	}
}

// Page is one screenful ready to send.
type Page struct {
	Text   string
	Number uint8 // 1-based
	Total  uint8
	Status protocol.AIStatus
	Pause  time.Duration // wait after the page is delivered
}

// Layout formats text into the page sequence the display expects:
//   - one screenful: the page is sent twice, NORMAL then FINAL, padded with
//     two leading newlines up to 3 lines and one at 4 lines
//   - more: pages of LinesPerPage, NORMAL except the last which is FINAL
func Layout(text string, opts TextOptions) ([]Page, error) {
	lines := FormatLines(text, opts.LineWidth)
	perPage := opts.LinesPerPage
	if perPage <= 0 {
		perPage = DefaultLinesPerPage
	}

	if len(lines) <= perPage {
		var pad string
		switch {
		case len(lines) <= 3:
			pad = "\n\n"
		case len(lines) == 4:
			pad = "\n"
		}
		body := pad + strings.Join(lines, "\n")
		return []Page{
			{Text: body, Number: 1, Total: 1, Status: protocol.StatusNormal, Pause: opts.SettleDelay},
			{Text: body, Number: 1, Total: 1, Status: protocol.StatusFinal},
		}, nil
	}

	chunks := Paginate(lines, perPage)
	if len(chunks) > 255 {
		return nil, fmt.Errorf("%w: %d pages", ErrTextTooLong, len(chunks))
	}
	pages := make([]Page, len(chunks))
	for i, c := range chunks {
		p := Page{
			Text:   strings.Join(c, "\n"),
			Number: uint8(i + 1),
			Total:  uint8(len(chunks)),
			Status: protocol.StatusNormal,
			Pause:  opts.PageDelay,
		}
		if i == len(chunks)-1 {
			p.Status = protocol.StatusFinal
			p.Pause = 0
		}
		pages[i] = p
	}
	return pages, nil
}

// Engine delivers text to one device at a time with per-chunk acks.
type Engine struct {
	opts  TextOptions
	clock clockwork.Clock
}

// NewEngine creates a text engine. A nil clock uses wall time.
func NewEngine(opts TextOptions, clock clockwork.Clock) *Engine {
	def := DefaultTextOptions()
	if opts.LineWidth <= 0 {
		opts.LineWidth = def.LineWidth
	}
	if opts.LinesPerPage <= 0 {
		opts.LinesPerPage = def.LinesPerPage
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = def.AckTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{opts: opts, clock: clock}
}

// Options returns the engine's effective options.
func (e *Engine) Options() TextOptions { return e.opts }

// SendText lays out text and delivers every page to dev. The first chunk
// that fails its ack aborts the transfer.
func (e *Engine) SendText(ctx context.Context, dev Device, text string) error {
	pages, err := Layout(text, e.opts)
	if err != nil {
		return err
	}

	release := dev.AcquireTransfer()
	defer release()

	for _, p := range pages {
		if err := e.sendPage(ctx, dev, p); err != nil {
			return fmt.Errorf("display: page %d/%d (%s) to %s: %w", p.Number, p.Total, p.Status, dev.Name(), err)
		}
		if err := Sleep(ctx, e.clock, p.Pause); err != nil {
			return err
		}
	}
	slog.Debug("[Display] text delivered", "device", dev.Name(), "pages", len(pages))
	return nil
}

func (e *Engine) sendPage(ctx context.Context, dev Device, p Page) error {
	chunks := protocol.ChunkBytes([]byte(p.Text), protocol.MaxChunkBytes)
	if len(chunks) == 0 {
		chunks = [][]byte{nil}
	}
	if len(chunks) > 255 {
		return fmt.Errorf("%w: %d chunks", protocol.ErrPayloadTooLarge, len(chunks))
	}
	status := protocol.ScreenStatus(protocol.ScreenNewContent, p.Status)

	for i, c := range chunks {
		f, err := protocol.EncodeTextPacket(protocol.TextPacket{
			Seq:          dev.NextSeq(),
			TotalChunks:  uint8(len(chunks)),
			ChunkIndex:   uint8(i),
			ScreenStatus: status,
			PageNumber:   p.Number,
			MaxPages:     p.Total,
			Data:         c,
		})
		if err != nil {
			return err
		}
		if err := dev.SendAwaitAck(ctx, f, e.opts.AckTimeout); err != nil {
			return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if err := Sleep(ctx, e.clock, e.opts.ChunkDelay); err != nil {
			return err
		}
	}
	return nil
}

// Sleep waits for d on clock or until ctx is done.
func Sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Chan():
		return nil
	}
}
