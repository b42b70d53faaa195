package audio

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// positionReader is the PCM source handed to a voice. The device reads it
// from its own goroutine, so every access goes through the mutex and the
// read position is published atomically.
type positionReader struct {
	mu       sync.Mutex
	reader   *bytes.Reader
	size     int64
	position atomic.Int64
}

func newPositionReader(pcm []byte) *positionReader {
	return &positionReader{
		reader: bytes.NewReader(pcm),
		size:   int64(len(pcm)),
	}
}

func (r *positionReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.reader.Read(p)
	if n > 0 {
		r.position.Add(int64(n))
	}
	return n, err
}

func (r *positionReader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, err := r.reader.Seek(offset, whence)
	if err == nil {
		r.position.Store(pos)
	}
	return pos, err
}

// Position returns how many bytes the voice has pulled.
func (r *positionReader) Position() int64 {
	return r.position.Load()
}

// Remaining returns how many bytes are left to read.
func (r *positionReader) Remaining() int64 {
	return max(r.size-r.position.Load(), 0)
}

// Size returns the length of the PCM stream.
func (r *positionReader) Size() int64 {
	return r.size
}
