package protocol

import (
	"errors"
	"fmt"
)

// MaxChunkBytes is the largest text slice carried by one SEND_RESULT write.
// It is derived from the negotiated write size minus the 9 header bytes.
const MaxChunkBytes = 191

// NotificationChunkBytes is the payload carried by one NOTIFICATION write.
const NotificationChunkBytes = 176

// heartbeatLength is the total heartbeat frame length encoded in its header.
const heartbeatLength = 6

var (
	// ErrMalformedFrame is returned when inbound data cannot be decoded.
	ErrMalformedFrame = errors.New("protocol: malformed frame")
	// ErrPayloadTooLarge is returned when a chunk exceeds the write limit.
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
	// ErrOutOfRange is returned when a command argument is outside the
	// range the firmware accepts.
	ErrOutOfRange = errors.New("protocol: argument out of range")
)

// Frame is one self-contained protocol message.
type Frame struct {
	Command Command
	Payload []byte
}

// Bytes returns the wire form [command, ...payload].
func (f Frame) Bytes() []byte {
	buf := make([]byte, 0, 1+len(f.Payload))
	buf = append(buf, byte(f.Command))
	return append(buf, f.Payload...)
}

// Len returns the wire length of the frame.
func (f Frame) Len() int { return 1 + len(f.Payload) }

// EncodeInit builds the two-byte initialization command.
func EncodeInit() Frame {
	return Frame{Command: CmdInit, Payload: []byte{0x01}}
}

// EncodeHeartbeat builds a keepalive frame.
//
//	[0x25, len_lo, len_hi, seq, 0x04, seq]
func EncodeHeartbeat(seq uint8) Frame {
	return Frame{
		Command: CmdHeartbeat,
		Payload: []byte{
			heartbeatLength & 0xFF,
			(heartbeatLength >> 8) & 0xFF,
			seq,
			0x04,
			seq,
		},
	}
}

// TextPacket is one chunk of a text transfer.
type TextPacket struct {
	Seq          uint8
	TotalChunks  uint8
	ChunkIndex   uint8
	ScreenStatus byte
	NewCharPosHi byte
	NewCharPosLo byte
	PageNumber   uint8
	MaxPages     uint8
	Data         []byte
}

// EncodeTextPacket builds a SEND_RESULT frame.
//
//	[0x4E, seq, total, idx, status, posHi, posLo, page, maxPages, ...data]
func EncodeTextPacket(p TextPacket) (Frame, error) {
	if len(p.Data) > MaxChunkBytes {
		return Frame{}, fmt.Errorf("%w: text chunk is %d bytes, max %d", ErrPayloadTooLarge, len(p.Data), MaxChunkBytes)
	}
	payload := make([]byte, 0, 8+len(p.Data))
	payload = append(payload,
		p.Seq,
		p.TotalChunks,
		p.ChunkIndex,
		p.ScreenStatus,
		p.NewCharPosHi,
		p.NewCharPosLo,
		p.PageNumber,
		p.MaxPages,
	)
	payload = append(payload, p.Data...)
	return Frame{Command: CmdSendResult, Payload: payload}, nil
}

// DecodeTextPacket parses the payload of a SEND_RESULT frame. Used for
// logging and by tests.
func DecodeTextPacket(payload []byte) (TextPacket, error) {
	if len(payload) < 8 {
		return TextPacket{}, fmt.Errorf("%w: text packet needs 8 header bytes, got %d", ErrMalformedFrame, len(payload))
	}
	return TextPacket{
		Seq:          payload[0],
		TotalChunks:  payload[1],
		ChunkIndex:   payload[2],
		ScreenStatus: payload[3],
		NewCharPosHi: payload[4],
		NewCharPosLo: payload[5],
		PageNumber:   payload[6],
		MaxPages:     payload[7],
		Data:         payload[8:],
	}, nil
}

// EncodeNotificationChunk builds one NOTIFICATION frame.
//
//	[0x4B, notifyID, total, idx, ...chunk]
func EncodeNotificationChunk(notifyID, totalChunks, chunkIndex uint8, chunk []byte) (Frame, error) {
	if len(chunk) > NotificationChunkBytes {
		return Frame{}, fmt.Errorf("%w: notification chunk is %d bytes, max %d", ErrPayloadTooLarge, len(chunk), NotificationChunkBytes)
	}
	payload := make([]byte, 0, 3+len(chunk))
	payload = append(payload, notifyID, totalChunks, chunkIndex)
	payload = append(payload, chunk...)
	return Frame{Command: CmdNotification, Payload: payload}, nil
}

// DecodeInbound splits raw notification bytes into command and payload.
func DecodeInbound(data []byte) (Command, []byte, error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("%w: empty notification", ErrMalformedFrame)
	}
	payload := make([]byte, len(data)-1)
	copy(payload, data[1:])
	return Command(data[0]), payload, nil
}

// EncodeStartAI builds a START_AI frame with an optional parameter tail.
func EncodeStartAI(sub SubCommand, param []byte) Frame {
	payload := append([]byte{byte(sub)}, param...)
	return Frame{Command: CmdStartAI, Payload: payload}
}

// EncodeClearScreen stops the AI display, which blanks the screen.
func EncodeClearScreen() Frame {
	return EncodeStartAI(SubCmdStop, []byte{0x00, 0x00, 0x00})
}

// EncodeMic enables or disables the right-side microphone.
func EncodeMic(enable bool) Frame {
	return Frame{Command: CmdOpenMic, Payload: []byte{boolByte(enable)}}
}

const (
	silentModeOn  = 0x0C
	silentModeOff = 0x0A
)

// EncodeSilentMode toggles silent mode.
func EncodeSilentMode(on bool) Frame {
	status := byte(silentModeOff)
	if on {
		status = silentModeOn
	}
	return Frame{Command: CmdSilentMode, Payload: []byte{status, 0x00}}
}

// MaxBrightness is the highest manual brightness level.
const MaxBrightness = 0x29

// EncodeBrightness sets the display brightness. level must be 0..0x29.
func EncodeBrightness(level int, auto bool) (Frame, error) {
	if level < 0 || level > MaxBrightness {
		return Frame{}, fmt.Errorf("%w: brightness must be between 0 and %d, got %d", ErrOutOfRange, MaxBrightness, level)
	}
	return Frame{Command: CmdBrightness, Payload: []byte{byte(level), boolByte(auto)}}, nil
}

// EncodeHeadUpAngle sets the head-up activation angle in degrees (0..60).
func EncodeHeadUpAngle(angle int) (Frame, error) {
	if angle < 0 || angle > 60 {
		return Frame{}, fmt.Errorf("%w: angle must be between 0 and 60, got %d", ErrOutOfRange, angle)
	}
	return Frame{Command: CmdHeadUpAngle, Payload: []byte{byte(angle), 0x01}}, nil
}

// MaxDashboardPosition is the lowest vertical dashboard position.
const MaxDashboardPosition = 8

// EncodeDashboard shows or hides the dashboard at a vertical position.
func EncodeDashboard(show bool, position int) (Frame, error) {
	if position < 0 || position > MaxDashboardPosition {
		return Frame{}, fmt.Errorf("%w: dashboard position must be between 0 and %d, got %d", ErrOutOfRange, MaxDashboardPosition, position)
	}
	return Frame{
		Command: CmdDashboardPosition,
		Payload: []byte{0x07, 0x00, 0x01, 0x02, boolByte(show), byte(position)},
	}, nil
}

func validNote(n int) error {
	if n < 1 || n > 4 {
		return fmt.Errorf("%w: note number must be between 1 and 4, got %d", ErrOutOfRange, n)
	}
	return nil
}

// EncodeNoteAdd adds or replaces quick note n (1..4).
func EncodeNoteAdd(n int, name, text string) (Frame, error) {
	if err := validNote(n); err != nil {
		return Frame{}, err
	}
	payload := []byte{0x16, 0x00, 0x70, 0x03, 0x01, 0x00, 0x01, 0x00, byte(n), 0x01, 0x04}
	payload = append(payload, name...)
	payload = append(payload, 0x04, 0x00)
	payload = append(payload, text...)
	payload = append(payload, 0x00, 0x00)
	return Frame{Command: CmdNote, Payload: payload}, nil
}

// EncodeNoteDelete removes quick note n (1..4).
func EncodeNoteDelete(n int) (Frame, error) {
	if err := validNote(n); err != nil {
		return Frame{}, err
	}
	return Frame{
		Command: CmdNote,
		Payload: []byte{0x10, 0x00, 0xE0, 0x03, 0x01, 0x00, 0x01, 0x00, byte(n), 0x00, 0x01, 0x00, 0x01, 0x00, 0x00},
	}, nil
}

func boolByte(b bool) byte {
	if b {
		return 0x01
	}
	return 0x00
}
