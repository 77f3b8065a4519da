package glasses

import (
	"context"

	"github.com/chaz8081/g1link/internal/audio"
	"github.com/chaz8081/g1link/internal/ble"
	"github.com/chaz8081/g1link/internal/ble/protocol"
)

// micSide is the lens that carries the microphone.
const micSide = ble.Right

// SetBrightness sets the display brightness (0..41) and auto mode.
func (p *Pair) SetBrightness(ctx context.Context, level int, auto bool) (Results, error) {
	f, err := protocol.EncodeBrightness(level, auto)
	if err != nil {
		return nil, err
	}
	return p.Send(ctx, f), nil
}

// SetSilentMode toggles silent mode.
func (p *Pair) SetSilentMode(ctx context.Context, on bool) Results {
	return p.Send(ctx, protocol.EncodeSilentMode(on))
}

// SetHeadUpAngle sets the head-up activation angle in degrees (0..60).
func (p *Pair) SetHeadUpAngle(ctx context.Context, angle int) (Results, error) {
	f, err := protocol.EncodeHeadUpAngle(angle)
	if err != nil {
		return nil, err
	}
	return p.Send(ctx, f), nil
}

// SetDashboard shows or hides the dashboard at a vertical position (0..8).
func (p *Pair) SetDashboard(ctx context.Context, show bool, position int) (Results, error) {
	f, err := protocol.EncodeDashboard(show, position)
	if err != nil {
		return nil, err
	}
	return p.Send(ctx, f), nil
}

// AddNote stores a quick note in slot n (1..4).
func (p *Pair) AddNote(ctx context.Context, n int, name, text string) (Results, error) {
	f, err := protocol.EncodeNoteAdd(n, name, text)
	if err != nil {
		return nil, err
	}
	return p.Send(ctx, f), nil
}

// DeleteNote clears note slot n (1..4).
func (p *Pair) DeleteNote(ctx context.Context, n int) (Results, error) {
	f, err := protocol.EncodeNoteDelete(n)
	if err != nil {
		return nil, err
	}
	return p.Send(ctx, f), nil
}

// ClearScreen blanks both displays.
func (p *Pair) ClearScreen(ctx context.Context) Results {
	return p.Send(ctx, protocol.EncodeClearScreen())
}

// SetMicrophone turns the microphone on the right lens on or off.
func (p *Pair) SetMicrophone(ctx context.Context, enable bool) error {
	return p.SendTo(ctx, micSide, protocol.EncodeMic(enable))
}

// MicAudio returns the buffer collecting microphone audio, or nil when the
// mic lens is not part of the pair.
func (p *Pair) MicAudio() *audio.Buffer {
	s := p.Session(micSide)
	if s == nil {
		return nil
	}
	return s.Mic()
}

// SendAI sends a START_AI sub-command, such as starting or stopping an AI
// session or exiting to the dashboard.
func (p *Pair) SendAI(ctx context.Context, sub protocol.SubCommand) Results {
	return p.Send(ctx, protocol.EncodeStartAI(sub, nil))
}
