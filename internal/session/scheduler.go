package session

import (
	"time"

	"github.com/tilawa/recite/internal/playback"
)

// loopScheduler runs scheduled callbacks on the session loop. Even a zero
// delay goes through a timer goroutine and back onto the loop, so a
// callback never runs inside the handler that scheduled it.
type loopScheduler struct {
	s *Session
}

func (l loopScheduler) Schedule(d time.Duration, fn func()) playback.Timer {
	return time.AfterFunc(d, func() {
		l.s.post(fn)
	})
}
