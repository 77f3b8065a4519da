// internal/ble/protocol/chunk_test.go
package protocol

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

func TestChunkBytesFitsInOne(t *testing.T) {
	chunks := ChunkBytes([]byte("hello world"), MaxChunkBytes)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if string(chunks[0]) != "hello world" {
		t.Errorf("chunk[0] = %q, want %q", chunks[0], "hello world")
	}
}

func TestChunkBytesEmpty(t *testing.T) {
	if chunks := ChunkBytes(nil, MaxChunkBytes); len(chunks) != 0 {
		t.Errorf("got %d chunks for empty input, want 0", len(chunks))
	}
}

func TestChunkBytesExactFit(t *testing.T) {
	data := bytes.Repeat([]byte("a"), MaxChunkBytes)
	chunks := ChunkBytes(data, MaxChunkBytes)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if !bytes.Equal(chunks[0], data) {
		t.Error("chunk[0] differs from input")
	}
}

func TestChunkBytesOneByteOver(t *testing.T) {
	data := bytes.Repeat([]byte("a"), MaxChunkBytes+1)
	chunks := ChunkBytes(data, MaxChunkBytes)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if len(chunks[0]) != MaxChunkBytes {
		t.Errorf("chunk[0] len = %d, want %d", len(chunks[0]), MaxChunkBytes)
	}
	if len(chunks[1]) != 1 {
		t.Errorf("chunk[1] len = %d, want 1", len(chunks[1]))
	}
}

func TestChunkBytesZeroMax(t *testing.T) {
	if chunks := ChunkBytes([]byte("hello"), 0); chunks != nil {
		t.Errorf("ChunkBytes with maxBytes=0 should return nil, got %v", chunks)
	}
}

func TestChunkBytesAppendDoesNotClobber(t *testing.T) {
	data := []byte("abcdef")
	chunks := ChunkBytes(data, 3)
	_ = append(chunks[0], 'X')
	if string(chunks[1]) != "def" {
		t.Errorf("appending to chunk[0] modified chunk[1]: %q", chunks[1])
	}
}

func TestChunkCount(t *testing.T) {
	tests := []struct {
		n, max, want int
	}{
		{0, 191, 1},
		{1, 191, 1},
		{191, 191, 1},
		{192, 191, 2},
		{382, 191, 2},
		{383, 191, 3},
	}
	for _, tt := range tests {
		if got := ChunkCount(tt.n, tt.max); got != tt.want {
			t.Errorf("ChunkCount(%d, %d) = %d, want %d", tt.n, tt.max, got, tt.want)
		}
	}
}

func TestChunkBytesProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 1, 1000).Draw(t, "data")
		max := rapid.IntRange(1, 300).Draw(t, "max")

		chunks := ChunkBytes(data, max)
		if len(chunks) != ChunkCount(len(data), max) {
			t.Fatalf("got %d chunks, ChunkCount says %d", len(chunks), ChunkCount(len(data), max))
		}
		for i, c := range chunks {
			if len(c) > max {
				t.Fatalf("chunk[%d] len=%d exceeds max=%d", i, len(c), max)
			}
			if i < len(chunks)-1 && len(c) != max {
				t.Fatalf("non-final chunk[%d] len=%d, want %d", i, len(c), max)
			}
		}
		if got := bytes.Join(chunks, nil); !bytes.Equal(got, data) {
			t.Fatalf("reassembled bytes differ from input")
		}
	})
}
