package prefetch

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch marks any failure to retrieve a segment: network errors,
	// non-success status codes, timeouts and aborts.
	ErrFetch = errors.New("segment fetch failed")

	// ErrHandleReleased is returned when reading a handle after it was
	// evicted or cleared.
	ErrHandleReleased = errors.New("segment handle released")

	// ErrTooLarge is returned for payloads above the cache's low-water mark.
	ErrTooLarge = errors.New("segment exceeds cache capacity")

	// ErrClosed is returned once the cache or store has been closed.
	ErrClosed = errors.New("prefetch cache closed")
)

// FetchError describes a failed fetch of one URL.
type FetchError struct {
	URL    string
	Status int // HTTP status, 0 if no response was received
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFetch}
	}
	return []error{ErrFetch, e.Err}
}
