package playback

import (
	"errors"
	"fmt"

	"github.com/tilawa/recite/internal/verse"
)

var (
	// ErrTransport marks a load, seek or play the media transport rejected.
	ErrTransport = errors.New("media transport rejected operation")

	// ErrStaleState marks a delayed callback that outlived its verse.
	ErrStaleState = errors.New("stale playback state")

	// ErrNoVerse is returned by operations that need an active verse.
	ErrNoVerse = errors.New("no active verse")

	// ErrInvalidTransition is returned when an operation is not allowed in
	// the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// TransportError records which operation failed on which verse.
type TransportError struct {
	Op    string // "load", "seek", "play" or "pause"
	Verse verse.Key
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Verse, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// StaleStateError describes a discarded delayed replay.
type StaleStateError struct {
	Scheduled verse.Key
	Current   verse.Key
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("replay scheduled for %s fired while on %s", e.Scheduled, e.Current)
}

func (e *StaleStateError) Unwrap() error {
	return ErrStaleState
}
