package prefetch

import (
	"bytes"
	"io"
	"sync"
)

// Payload is the result of fetching the leading bytes of a segment.
type Payload struct {
	Data     []byte
	Complete bool  // Data holds the whole resource
	Total    int64 // full resource length, -1 if unknown
}

// Handle is a revocable reference to a cached payload. Once the cache
// evicts or clears the entry, the handle is released and its bytes are no
// longer available.
type Handle struct {
	url      string
	complete bool
	total    int64
	size     int

	mu       sync.RWMutex
	data     []byte
	released bool
}

func newHandle(url string, p Payload) *Handle {
	return &Handle{
		url:      url,
		complete: p.Complete,
		total:    p.Total,
		size:     len(p.Data),
		data:     p.Data,
	}
}

// URL returns the source the payload was fetched from.
func (h *Handle) URL() string { return h.url }

// Size returns the payload size in bytes.
func (h *Handle) Size() int { return h.size }

// Complete reports whether the payload covers the entire resource.
func (h *Handle) Complete() bool { return h.complete }

// Total returns the length of the full resource, or -1 if unknown.
func (h *Handle) Total() int64 { return h.total }

// Bytes returns the payload. Callers must not modify it.
func (h *Handle) Bytes() ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.released {
		return nil, ErrHandleReleased
	}
	return h.data, nil
}

// Reader returns a reader over the payload.
func (h *Handle) Reader() (io.ReadSeeker, error) {
	b, err := h.Bytes()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

// Released reports whether the cache has revoked this handle.
func (h *Handle) Released() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.released
}

func (h *Handle) release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.released = true
	h.data = nil
}
