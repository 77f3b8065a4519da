// internal/ble/protocol/chunk.go
package protocol

// ChunkBytes splits data into consecutive slices of at most maxBytes.
// The firmware reassembles chunks by index, so the split is byte exact and
// may fall inside a multi-byte rune. Returns nil for empty data or a
// non-positive limit.
func ChunkBytes(data []byte, maxBytes int) [][]byte {
	if len(data) == 0 || maxBytes <= 0 {
		return nil
	}

	chunks := make([][]byte, 0, (len(data)+maxBytes-1)/maxBytes)
	for len(data) > 0 {
		n := maxBytes
		if len(data) < n {
			n = len(data)
		}
		chunks = append(chunks, data[:n:n])
		data = data[n:]
	}
	return chunks
}

// ChunkCount returns how many chunks ChunkBytes would produce for n bytes.
// An empty payload still occupies one (empty) packet on the wire.
func ChunkCount(n, maxBytes int) int {
	if n <= 0 || maxBytes <= 0 {
		return 1
	}
	return (n + maxBytes - 1) / maxBytes
}
