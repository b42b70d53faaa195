package playback

import (
	"time"

	"github.com/tilawa/recite/internal/prefetch"
	"github.com/tilawa/recite/internal/verse"
)

// Source is what the transport is asked to load. Handle is set when the
// segment's leading bytes are already cached.
type Source struct {
	Verse  verse.Key
	URL    string
	Handle *prefetch.Handle
}

// Transport is the control surface of the media primitive the router
// drives. Implementations report the end of a segment out of band; the
// owner turns that signal into a call to Router.OnSegmentEnded.
type Transport interface {
	Load(src Source) error
	Seek(pos time.Duration) error
	Play() error
	Pause() error
}

// Listing answers navigation questions about the verses on screen.
type Listing interface {
	Next(k verse.Key) (verse.Key, bool)
	IsLastInChapter(k verse.Key) bool
}

// Timer is a pending scheduled call.
type Timer interface {
	// Stop prevents the call from running. It reports whether the call
	// was still pending.
	Stop() bool
}

// Scheduler runs fn after d. The call must happen on the goroutine that
// owns the router, never inline inside Schedule.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) Timer
}

// Lookup finds cached segment handles without fetching.
type Lookup interface {
	GetCached(url string) *prefetch.Handle
}

// URLFunc maps a verse to the address of its audio.
type URLFunc func(verse.Key) string

// RestartFunc is invoked when a chapter repeat reaches the last verse of
// the chapter. It owns the decision of how the chapter starts over.
type RestartFunc func(last verse.Key) error
