// Package audio accumulates microphone packets streamed by the glasses and
// exports them as WAV.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Mic stream format: 16 kHz mono signed 16-bit little endian.
const (
	SampleRate = 16000
	BitDepth   = 16
	Channels   = 1
)

// wavFormatPCM is the WAV audio format tag for integer PCM.
const wavFormatPCM = 1

// Buffer collects mic data packets. Safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	buf     []byte
	packets int
	lastSeq int // -1 before the first packet
	gaps    int
}

// NewBuffer creates an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{lastSeq: -1}
}

// Append adds one packet. seq is the packet sequence byte; a jump other
// than +1 (mod 256) is counted as a gap.
func (b *Buffer) Append(seq byte, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastSeq >= 0 && byte(b.lastSeq+1) != seq {
		b.gaps++
	}
	b.lastSeq = int(seq)
	b.packets++
	b.buf = append(b.buf, data...)
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Gaps returns how many sequence discontinuities were seen.
func (b *Buffer) Gaps() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gaps
}

// Take returns the buffered bytes and resets the buffer.
func (b *Buffer) Take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.buf
	b.buf = nil
	b.packets = 0
	b.gaps = 0
	b.lastSeq = -1
	return out
}

// WriteWAV drains the buffer into w as a WAV file.
func (b *Buffer) WriteWAV(w io.WriteSeeker) error {
	pcm := b.Take()
	if len(pcm) == 0 {
		return fmt.Errorf("audio: no data to write")
	}
	return EncodeWAV(w, pcm)
}

// EncodeWAV writes little-endian 16-bit PCM samples as a mono WAV file.
// A trailing odd byte is dropped.
func EncodeWAV(w io.WriteSeeker, pcm []byte) error {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	enc := wav.NewEncoder(w, SampleRate, BitDepth, Channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: Channels, SampleRate: SampleRate},
		Data:           samples,
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finalize wav: %w", err)
	}
	return nil
}
