package session

import (
	"errors"
	"fmt"
)

// ErrLimitExceeded marks a rejected append that would overflow the
// buffer's chunk or byte caps.
var ErrLimitExceeded = errors.New("audio buffer limit exceeded")

// AudioBuffer accumulates decoded audio fragments for one session.
// It is owned by the session's handler goroutine and is not safe for
// concurrent use.
type AudioBuffer struct {
	maxChunks int
	maxBytes  int
	chunks    [][]byte
	total     int
}

func NewAudioBuffer(maxChunks, maxBytes int) *AudioBuffer {
	return &AudioBuffer{maxChunks: maxChunks, maxBytes: maxBytes}
}

// Append adds one chunk. The append is atomic: if either cap would be
// exceeded the buffer is left untouched.
func (b *AudioBuffer) Append(chunk []byte) error {
	if len(b.chunks)+1 > b.maxChunks {
		return fmt.Errorf("%w: chunk count cap %d reached", ErrLimitExceeded, b.maxChunks)
	}
	if b.total+len(chunk) > b.maxBytes {
		return fmt.Errorf("%w: byte cap %d reached", ErrLimitExceeded, b.maxBytes)
	}
	b.chunks = append(b.chunks, chunk)
	b.total += len(chunk)
	return nil
}

// Len returns the number of buffered chunks.
func (b *AudioBuffer) Len() int { return len(b.chunks) }

// Bytes returns the total buffered byte count.
func (b *AudioBuffer) Bytes() int { return b.total }

// Concat returns the buffered audio as one contiguous byte slice.
func (b *AudioBuffer) Concat() []byte {
	out := make([]byte, 0, b.total)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// Clear drops all buffered audio.
func (b *AudioBuffer) Clear() {
	b.chunks = nil
	b.total = 0
}
