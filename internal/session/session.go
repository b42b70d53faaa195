// Package session owns one reading surface's playback: a completion
// router, its repeat tracker and a prefetch cache, driven by a single
// event loop.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/tilawa/recite/internal/audio"
	"github.com/tilawa/recite/internal/metrics"
	"github.com/tilawa/recite/internal/playback"
	"github.com/tilawa/recite/internal/prefetch"
	"github.com/tilawa/recite/internal/repeat"
	"github.com/tilawa/recite/internal/verse"
)

// ErrClosed is returned by commands issued after Close.
var ErrClosed = errors.New("session closed")

// Media is the transport a session drives together with its event stream.
type Media interface {
	playback.Transport
	Events() <-chan audio.Event
}

// Listing is the verse navigation a session needs.
type Listing interface {
	playback.Listing
	Previous(k verse.Key) (verse.Key, bool)
}

// progress is implemented by transports that can report playback position.
type progress interface {
	Position() time.Duration
	Duration() time.Duration
}

// Options configures a Session.
type Options struct {
	Media   Media
	Listing Listing
	URLFor  playback.URLFunc
	Fetcher prefetch.Fetcher
	Cache   prefetch.Options
	Repeat  repeat.Config

	// PrefetchPrevious also warms the verse before the current one.
	PrefetchPrevious bool

	// Restart overrides how a chapter repeat starts over.
	Restart playback.RestartFunc

	OnStateChange func(playback.State)
	OnVerseChange func(verse.Key)
	OnError       func(error)

	Logger  *log.Logger
	Metrics *metrics.Metrics
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID        string         `json:"id"`
	State     playback.State `json:"state"`
	Verse     string         `json:"verse,omitempty"`
	Mode      repeat.Mode    `json:"mode"`
	Runtime   repeat.State   `json:"runtime"`
	Cache     prefetch.Stats `json:"cache"`
	Position  time.Duration  `json:"position"`
	Duration  time.Duration  `json:"duration"`
	LastError string         `json:"last_error,omitempty"`
}

// Session is the owner of a router, tracker and cache triple. All router
// work happens on the session's loop goroutine; the exported methods are
// safe for concurrent use.
type Session struct {
	id      string
	opts    Options
	router  *playback.Router
	tracker *repeat.Tracker
	cache   *prefetch.Cache
	log     *log.Logger

	cmds      chan func()
	done      chan struct{}
	loopWg    chan struct{}
	closeOnce sync.Once

	// owned by the loop goroutine
	companions map[string]bool
}

// New creates a session and starts its loop.
func New(opts Options) (*Session, error) {
	if opts.Media == nil || opts.Listing == nil || opts.URLFor == nil || opts.Fetcher == nil {
		return nil, errors.New("session requires media, a listing, a URL function and a fetcher")
	}
	if err := opts.Repeat.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	id := uuid.NewString()
	logger := opts.Logger.With("session", id[:8])

	cacheOpts := opts.Cache
	cacheOpts.Logger = logger
	cacheOpts.Metrics = opts.Metrics

	s := &Session{
		id:         id,
		opts:       opts,
		tracker:    repeat.NewTracker(),
		cache:      prefetch.New(opts.Fetcher, cacheOpts),
		log:        logger.WithPrefix("session"),
		cmds:       make(chan func()),
		done:       make(chan struct{}),
		loopWg:     make(chan struct{}),
		companions: make(map[string]bool),
	}

	restart := opts.Restart
	if restart == nil {
		restart = s.restartChapter
	}

	router, err := playback.NewRouter(playback.Options{
		Transport: opts.Media,
		Listing:   opts.Listing,
		Scheduler: loopScheduler{s},
		URLFor:    opts.URLFor,
		Tracker:   s.tracker,
		Cache:     s.cache,
		Restart:   restart,
		Logger:    logger,
		Metrics:   opts.Metrics,
	})
	if err != nil {
		s.cache.Close()
		return nil, err
	}
	if err := router.SetConfig(opts.Repeat); err != nil {
		s.cache.Close()
		return nil, err
	}

	router.OnStateChange(func(st playback.State) {
		s.log.Debug("state changed", "state", st)
		if opts.OnStateChange != nil {
			opts.OnStateChange(st)
		}
	})
	router.OnVerseChange(func(k verse.Key) {
		s.warmCompanions(k)
		if opts.OnVerseChange != nil {
			opts.OnVerseChange(k)
		}
	})
	router.OnError(func(err error) {
		if opts.OnError != nil {
			opts.OnError(err)
		}
	})
	s.router = router

	go s.loop()
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// loop serializes media events, scheduled callbacks and commands.
func (s *Session) loop() {
	defer close(s.loopWg)

	events := s.opts.Media.Events()
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.cmds:
			fn()
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleMediaEvent(e)
		}
	}
}

func (s *Session) handleMediaEvent(e audio.Event) {
	current, _ := s.router.Current()
	if e.Verse != current {
		s.log.Debug("ignoring event for inactive verse", "type", e.Type, "verse", e.Verse, "current", current)
		return
	}

	switch e.Type {
	case audio.EventEnded:
		if err := s.router.OnSegmentEnded(); err != nil {
			s.log.Warn("completion failed", "verse", e.Verse, "err", err)
		}
	case audio.EventError:
		s.router.TransportFailed(e.Err)
	}
}

// post queues fn on the loop without waiting for it. It reports false once
// the session is closed.
func (s *Session) post(fn func()) bool {
	select {
	case s.cmds <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the loop and waits for its result.
func (s *Session) call(fn func() error) error {
	result := make(chan error, 1)
	if !s.post(func() { result <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// Play starts reciting k.
func (s *Session) Play(k verse.Key) error {
	return s.call(func() error { return s.router.Play(k) })
}

// Pause pauses the current segment without changing repeat state.
func (s *Session) Pause() error {
	return s.call(func() error { return s.opts.Media.Pause() })
}

// Resume resumes a paused segment.
func (s *Session) Resume() error {
	return s.call(func() error { return s.opts.Media.Play() })
}

// Stop halts playback.
func (s *Session) Stop() error {
	return s.call(s.router.Stop)
}

// Retry reloads the current verse after a transport failure.
func (s *Session) Retry() error {
	return s.call(s.router.Retry)
}

// OnSegmentEnded delivers a segment-ended signal from an external media
// primitive.
func (s *Session) OnSegmentEnded() error {
	return s.call(s.router.OnSegmentEnded)
}

// SetRepeatConfiguration validates and installs cfg. Invalid settings are
// rejected here and never reach the router.
func (s *Session) SetRepeatConfiguration(cfg repeat.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.call(func() error {
		if err := s.router.SetConfig(cfg); err != nil {
			return err
		}
		if k, ok := s.router.Current(); ok {
			s.warmCompanions(k)
		}
		return nil
	})
}

// RuntimeState returns the remaining repeat counters.
func (s *Session) RuntimeState() repeat.State {
	return s.tracker.State()
}

// Prefetch warms url and returns its handle, or nil on failure.
func (s *Session) Prefetch(ctx context.Context, url string) *prefetch.Handle {
	return s.cache.Prefetch(ctx, url)
}

// GetCached returns the cached handle for url, if any.
func (s *Session) GetCached(url string) *prefetch.Handle {
	return s.cache.GetCached(url)
}

// ClearCache releases every cached segment.
func (s *Session) ClearCache() {
	s.cache.Clear()
}

// CacheStats returns cache statistics.
func (s *Session) CacheStats() prefetch.Stats {
	return s.cache.Stats()
}

// Snapshot returns the current state of the session.
func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.call(func() error {
		snap = Snapshot{
			ID:      s.id,
			State:   s.router.State(),
			Mode:    s.router.Config().Mode,
			Runtime: s.tracker.State(),
			Cache:   s.cache.Stats(),
		}
		if k, ok := s.router.Current(); ok {
			snap.Verse = k.String()
		}
		if err := s.router.LastError(); err != nil {
			snap.LastError = err.Error()
		}
		if p, ok := s.opts.Media.(progress); ok {
			snap.Position = p.Position()
			snap.Duration = p.Duration()
		}
		return nil
	})
	return snap, err
}

// Close tears the session down: the pending replay is cancelled first,
// then in-flight prefetches are aborted and the cache is cleared. Media is
// owned by the caller and left open.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		_ = s.call(func() error {
			s.router.Close()
			return nil
		})
		s.cache.Close()
		close(s.done)
		<-s.loopWg
	})
	return nil
}

// warmCompanions prefetches what will play after k, and optionally what
// played before it, whenever that identity changes.
func (s *Session) warmCompanions(k verse.Key) {
	want := make(map[string]bool, 2)
	if next, ok := s.upcoming(k); ok {
		want[s.opts.URLFor(next)] = true
	}
	if s.opts.PrefetchPrevious {
		if prev, ok := s.opts.Listing.Previous(k); ok {
			want[s.opts.URLFor(prev)] = true
		}
	}

	for url := range want {
		if !s.companions[url] {
			s.log.Debug("warming companion", "url", url)
			s.cache.PrefetchAsync(url)
		}
	}
	s.companions = want
}

// upcoming returns the verse expected to follow k under the active repeat
// configuration. Nothing follows the end of the final pass.
func (s *Session) upcoming(k verse.Key) (verse.Key, bool) {
	cfg := s.router.Config()
	lastPass := !cfg.Infinite() && s.tracker.State().PlaysLeft <= 1
	switch {
	case cfg.Mode == repeat.ModeRange && k.Verse == cfg.RangeEnd && cfg.RangeStart != cfg.RangeEnd:
		if lastPass {
			return verse.Key{}, false
		}
		return k.WithVerse(cfg.RangeStart), true
	case cfg.Mode == repeat.ModeSurah && s.opts.Listing.IsLastInChapter(k):
		if lastPass {
			return verse.Key{}, false
		}
		return k.WithVerse(1), true
	}
	return s.opts.Listing.Next(k)
}

// restartChapter starts a chapter over while passes remain.
func (s *Session) restartChapter(last verse.Key) error {
	if plays := s.tracker.DecrementPlay(); plays == 0 {
		s.log.Info("chapter repeat finished", "chapter", last.Chapter)
		return s.router.Stop()
	}
	return s.router.Jump(last.WithVerse(1))
}
