package transcode

// SeekableBuffer is a growable in-memory byte buffer with a movable
// position, used to assemble encapsulated pixel-data elements before the
// total length is known. Not safe for concurrent use; each transcode
// invocation owns one.

import (
	"fmt"
	"io"
)

type SeekableBuffer struct {
	data []byte
	pos  int
}

// NewSeekableBuffer returns an empty buffer.
func NewSeekableBuffer() *SeekableBuffer {
	return &SeekableBuffer{}
}

// Write appends or overwrites at the current position, growing the buffer
// as needed.
func (b *SeekableBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.data) {
		if end > cap(b.data) {
			grown := make([]byte, end, 2*end)
			copy(grown, b.data)
			b.data = grown
		} else {
			b.data = b.data[:end]
		}
	}
	copy(b.data[b.pos:end], p)
	b.pos = end
	return len(p), nil
}

// Seek moves the position, per io.Seeker semantics.
func (b *SeekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(b.pos) + offset
	case io.SeekEnd:
		next = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative position %d", next)
	}
	if next > int64(len(b.data)) {
		// Growing seek: pad with zeros.
		grown := make([]byte, next)
		copy(grown, b.data)
		b.data = grown
	}
	b.pos = int(next)
	return next, nil
}

// Truncate shortens the buffer to n bytes.
func (b *SeekableBuffer) Truncate(n int) error {
	if n < 0 || n > len(b.data) {
		return fmt.Errorf("truncate length %d out of range", n)
	}
	b.data = b.data[:n]
	if b.pos > n {
		b.pos = n
	}
	return nil
}

// Len returns the buffer length.
func (b *SeekableBuffer) Len() int { return len(b.data) }

// Bytes returns the underlying bytes.
func (b *SeekableBuffer) Bytes() []byte { return b.data }

// Close releases the storage.
func (b *SeekableBuffer) Close() error {
	b.data = nil
	b.pos = 0
	return nil
}
